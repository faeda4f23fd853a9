// Package journal is a durable, append-only record log. Each record lives in
// its own file, written atomically and sealed with an HMAC-SHA256 checksum.
// Records that fail verification are skipped with a warning. Only an index
// stays in memory; Replay reads payloads back from disk.
package journal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	keySize = 32
	keyFile = ".hmac_key"
	ext     = ".rec"

	// MaxPayload bounds a single record.
	MaxPayload = 16 << 20
)

var (
	// ErrUnknownKind is returned when appending a kind the journal was not
	// opened with.
	ErrUnknownKind = errors.New("journal: unknown record kind")
	// ErrTooLarge is returned for payloads above MaxPayload.
	ErrTooLarge = errors.New("journal: record too large")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("journal: closed")
)

// Record is one journal entry.
type Record struct {
	Seq      uint64
	Kind     string
	At       time.Time
	Payload  []byte // JSON
	Checksum []byte
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// Journal is safe for concurrent use.
type Journal struct {
	dir    string
	kinds  map[string]bool
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	key     []byte
	index   []indexEntry
	nextSeq uint64
	closed  bool
}

type indexEntry struct {
	seq  uint64
	kind string
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// Open loads or creates the journal in dir. Only the listed kinds may be
// appended or loaded.
func Open(dir string, kinds []string, opts ...Option) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal: directory is required")
	}
	if len(kinds) == 0 {
		return nil, errors.New("journal: at least one record kind is required")
	}
	abs, err := cleanDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	j := &Journal{
		dir:     abs,
		kinds:   make(map[string]bool, len(kinds)),
		logger:  zap.NewNop(),
		now:     time.Now,
		nextSeq: 1,
	}
	for _, k := range kinds {
		j.kinds[k] = true
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := j.initKey(); err != nil {
		return nil, fmt.Errorf("journal: init key: %w", err)
	}
	if err := j.load(); err != nil {
		return nil, fmt.Errorf("journal: load: %w", err)
	}

	j.logger.Info("journal opened",
		zap.String("dir", abs),
		zap.Int("records", len(j.index)))
	return j, nil
}

func cleanDir(dir string) (string, error) {
	if strings.Contains(filepath.ToSlash(dir), "../") || strings.HasSuffix(dir, "..") {
		return "", fmt.Errorf("journal: path contains directory traversal: %s", dir)
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", fmt.Errorf("journal: resolve path: %w", err)
	}
	return abs, nil
}

// Dir returns the absolute journal directory.
func (j *Journal) Dir() string { return j.dir }

// Append encodes payload as JSON and durably writes it as the next record.
func (j *Journal) Append(kind string, payload any) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("journal: encode %s payload: %w", kind, err)
	}
	if len(data) > MaxPayload {
		return Record{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), MaxPayload)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return Record{}, ErrClosed
	}
	if !j.kinds[kind] {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	rec := Record{Seq: j.nextSeq, Kind: kind, At: j.now().UTC(), Payload: data}
	rec.Checksum = j.sum(rec)
	if err := j.write(rec); err != nil {
		return Record{}, err
	}
	j.nextSeq++
	j.index = append(j.index, indexEntry{seq: rec.Seq, kind: kind})
	return rec, nil
}

// Replay calls fn for every record in sequence order, reading each from
// disk. A record that no longer verifies is skipped. Replay stops at the
// first error fn returns.
func (j *Journal) Replay(fn func(Record) error) error {
	j.mu.Lock()
	idx := make([]indexEntry, len(j.index))
	copy(idx, j.index)
	j.mu.Unlock()

	for _, e := range idx {
		r, ok := j.readVerified(j.path(e.seq))
		if !ok {
			continue
		}
		if err := fn(r); err != nil {
			return fmt.Errorf("journal: replay record %d (%s): %w", r.Seq, r.Kind, err)
		}
	}
	return nil
}

// Len returns the number of loaded records.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.index)
}

// Truncate removes every record with Seq below seq.
func (j *Journal) Truncate(seq uint64) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.index[:0]
	removed := 0
	for i, e := range j.index {
		if e.seq >= seq {
			kept = append(kept, e)
			continue
		}
		if err := os.Remove(j.path(e.seq)); err != nil && !os.IsNotExist(err) {
			j.index = append(kept, j.index[i:]...)
			return removed, fmt.Errorf("journal: remove record %d: %w", e.seq, err)
		}
		removed++
	}
	j.index = kept
	if removed > 0 {
		j.logger.Info("journal truncated", zap.Uint64("before", seq), zap.Int("removed", removed))
	}
	return removed, nil
}

// Close stops further appends.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

func (j *Journal) path(seq uint64) string {
	return filepath.Join(j.dir, fmt.Sprintf("%020d%s", seq, ext))
}

func (j *Journal) sum(r Record) []byte {
	h := hmac.New(sha256.New, j.key)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], r.Seq)
	h.Write(seq[:])
	h.Write([]byte(r.Kind))
	h.Write([]byte(r.At.Format(time.RFC3339Nano)))
	h.Write(r.Payload)
	return h.Sum(nil)
}

func (j *Journal) verify(r Record) bool {
	return subtle.ConstantTimeCompare(r.Checksum, j.sum(r)) == 1
}

// write must be called with mu held.
func (j *Journal) write(r Record) error {
	final := j.path(r.Seq)
	tmp := final + ".tmp." + randomSuffix()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("journal: create record: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("journal: encode record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("journal: sync record: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: finalize record: %w", err)
	}
	return nil
}

func (j *Journal) load() error {
	files, err := filepath.Glob(filepath.Join(j.dir, "*"+ext))
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		r, ok := j.readVerified(file)
		if !ok {
			continue
		}
		j.index = append(j.index, indexEntry{seq: r.Seq, kind: r.Kind})
		if r.Seq >= j.nextSeq {
			j.nextSeq = r.Seq + 1
		}
	}
	return nil
}

// readVerified reads one record file, logging and rejecting anything that
// fails to decode, verify or match a known kind.
func (j *Journal) readVerified(file string) (Record, bool) {
	r, err := readRecord(file)
	if err != nil {
		j.logger.Warn("skipping unreadable journal record", zap.String("file", file), zap.Error(err))
		return Record{}, false
	}
	if !j.verify(r) {
		j.logger.Warn("skipping journal record with invalid checksum", zap.String("file", file))
		return Record{}, false
	}
	if !j.kinds[r.Kind] {
		j.logger.Warn("skipping journal record of unknown kind",
			zap.String("file", file), zap.String("kind", r.Kind))
		return Record{}, false
	}
	return r, true
}

func readRecord(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()
	var r Record
	if err := gob.NewDecoder(f).Decode(&r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func (j *Journal) initKey() error {
	keyPath := filepath.Join(j.dir, keyFile)
	if data, err := os.ReadFile(keyPath); err == nil {
		if len(data) != keySize {
			return fmt.Errorf("invalid key size: expected %d, got %d", keySize, len(data))
		}
		if info, err := os.Stat(keyPath); err == nil && info.Mode().Perm() != 0600 {
			j.logger.Warn("journal key file has insecure permissions",
				zap.String("path", keyPath),
				zap.String("mode", fmt.Sprintf("%04o", info.Mode().Perm())))
		}
		j.key = data
		return nil
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	tmp := keyPath + ".tmp." + randomSuffix()
	if err := os.WriteFile(tmp, key, 0600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.Rename(tmp, keyPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize key: %w", err)
	}
	j.key = key
	j.logger.Info("journal key generated", zap.String("path", keyPath))
	return nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
