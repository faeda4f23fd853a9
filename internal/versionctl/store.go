package versionctl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/journal"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/govcore/internal/versionctl"

	// DefaultMaxArtifactSize bounds a single commit.
	DefaultMaxArtifactSize = 4 << 20
)

// Config configures a Store.
type Config struct {
	// MaxArtifactSize rejects larger commits with ErrStorageFull.
	MaxArtifactSize int
}

type entry struct {
	Version
}

// Store holds the version lineage. Commit, Rollback, Tag and GC serialize
// behind one writer lock; reads take a consistent snapshot under the read
// lock.
type Store struct {
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	journal *journal.Journal
	blobs   artifacts

	commitCounter   metric.Int64Counter
	rollbackCounter metric.Int64Counter
	gcCounter       metric.Int64Counter

	mu       sync.RWMutex
	versions map[ID]*entry
	next     ID
	head     ID
	tags     map[string]ID
	bytes    int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithJournal persists every mutation to j and replays it on construction.
// Artifacts are then kept as files in the artifacts directory beside the
// journal records, and gc deletes them.
func WithJournal(j *journal.Journal) Option {
	return func(s *Store) { s.journal = j }
}

// NewStore creates a store, replaying the journal when one is configured.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if cfg.MaxArtifactSize <= 0 {
		cfg.MaxArtifactSize = DefaultMaxArtifactSize
	}
	s := &Store{
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		versions: make(map[ID]*entry),
		next:     Root,
		tags:     make(map[string]ID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()

	if s.journal == nil {
		s.blobs = memArtifacts{}
		s.logger.Warn("version store has no durable storage, lineage will not survive a restart")
		return s, nil
	}
	dir, err := openDirArtifacts(filepath.Join(s.journal.Dir(), "artifacts"))
	if err != nil {
		return nil, err
	}
	s.blobs = dir
	if err := s.journal.Replay(s.apply); err != nil {
		return nil, fmt.Errorf("replaying version journal: %w", err)
	}
	if err := s.checkHead(); err != nil {
		return nil, err
	}
	if err := s.verifyArtifacts(); err != nil {
		return nil, err
	}
	swept, err := dir.sweep(func(id ID) bool {
		e, ok := s.versions[id]
		return ok && !e.Collected
	})
	if err != nil {
		return nil, fmt.Errorf("sweeping artifacts: %w", err)
	}
	if len(swept) > 0 {
		s.logger.Info("removed artifacts of collected or uncommitted versions", zap.Int("count", len(swept)))
	}
	s.logger.Info("version store restored",
		zap.Int("versions", len(s.versions)),
		zap.Uint64("head", uint64(s.head)))
	return s, nil
}

func (s *Store) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	s.commitCounter, err = meter.Int64Counter(
		"govcore.versions.commits_total",
		metric.WithDescription("Total number of committed adapter versions"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		s.logger.Warn("failed to create commit counter", zap.Error(err))
	}
	s.rollbackCounter, err = meter.Int64Counter(
		"govcore.versions.rollbacks_total",
		metric.WithDescription("Total number of rollbacks, by outcome"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		s.logger.Warn("failed to create rollback counter", zap.Error(err))
	}
	s.gcCounter, err = meter.Int64Counter(
		"govcore.versions.collected_total",
		metric.WithDescription("Total number of versions removed by gc"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		s.logger.Warn("failed to create gc counter", zap.Error(err))
	}
}

// Hash returns the content hash recorded for data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Commit stores data as the new HEAD whose parent is the previous HEAD.
func (s *Store) Commit(ctx context.Context, data []byte, md Metadata) (Version, error) {
	if len(data) > s.cfg.MaxArtifactSize {
		return Version{}, fmt.Errorf("%w: %d > %d bytes", ErrStorageFull, len(data), s.cfg.MaxArtifactSize)
	}
	blob := make([]byte, len(data))
	copy(blob, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	v := Version{
		ID:        s.next,
		Parent:    s.head,
		Hash:      Hash(blob),
		Size:      len(blob),
		Metadata:  md,
		CreatedAt: s.now().UTC(),
	}
	if err := s.blobs.put(v.ID, blob); err != nil {
		return Version{}, err
	}
	if err := s.record(kindCommit, commitRecord{Version: v}); err != nil {
		_ = s.blobs.drop(v.ID)
		return Version{}, err
	}
	s.applyCommit(v)

	if s.commitCounter != nil {
		s.commitCounter.Add(ctx, 1)
	}
	s.logger.Info("adapter version committed",
		zap.Uint64("version", uint64(v.ID)),
		zap.Uint64("parent", uint64(v.Parent)),
		zap.String("hash", v.Hash),
		zap.Float64("accuracy", md.Accuracy))
	return v, nil
}

// Rollback moves HEAD to id and returns its artifact. HEAD is untouched on
// error.
func (s *Store) Rollback(ctx context.Context, id ID) ([]byte, Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.versions[id]
	if !ok || e.Collected {
		s.countRollback(ctx, "not_found")
		return nil, Version{}, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}
	blob, err := s.blobs.get(id)
	if err != nil {
		return nil, Version{}, fmt.Errorf("reading artifact %d: %w", id, err)
	}
	if err := s.record(kindRollback, rollbackRecord{To: id}); err != nil {
		return nil, Version{}, err
	}
	from := s.head
	s.head = id
	s.countRollback(ctx, "ok")
	s.logger.Info("adapter version rolled back",
		zap.Uint64("from", uint64(from)),
		zap.Uint64("to", uint64(id)))

	return blob, s.snapshot(e), nil
}

func (s *Store) countRollback(ctx context.Context, outcome string) {
	if s.rollbackCounter != nil {
		s.rollbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// Head returns the current version.
func (s *Store) Head() (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.head == 0 {
		return Version{}, ErrEmpty
	}
	return s.snapshot(s.versions[s.head]), nil
}

// Get returns a version's description, including collected ones.
func (s *Store) Get(id ID) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.versions[id]
	if !ok {
		return Version{}, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}
	return s.snapshot(e), nil
}

// Artifact returns a live version's bytes without moving HEAD.
func (s *Store) Artifact(id ID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.versions[id]
	if !ok || e.Collected {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}
	return s.blobs.get(id)
}

// History returns the lineage from the root to HEAD.
func (s *Store) History() []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lineage(s.head)
}

// List returns every version ever committed, oldest first.
func (s *Store) List() []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Version, 0, len(s.versions))
	for id := Root; id < s.next; id++ {
		if e, ok := s.versions[id]; ok {
			out = append(out, s.snapshot(e))
		}
	}
	return out
}

// Diff compares the metadata of two versions. Collected versions can be
// compared since their metadata is kept.
func (s *Store) Diff(a, b ID) (Delta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ea, ok := s.versions[a]
	if !ok {
		return Delta{}, fmt.Errorf("%w: %d", ErrVersionNotFound, a)
	}
	eb, ok := s.versions[b]
	if !ok {
		return Delta{}, fmt.Errorf("%w: %d", ErrVersionNotFound, b)
	}

	d := Delta{
		From:        a,
		To:          b,
		Accuracy:    eb.Metadata.Accuracy - ea.Metadata.Accuracy,
		Loss:        eb.Metadata.Loss - ea.Metadata.Loss,
		Size:        eb.Size - ea.Size,
		Examples:    eb.Metadata.Examples - ea.Metadata.Examples,
		Duration:    eb.Metadata.Duration - ea.Metadata.Duration,
		SameContent: ea.Hash == eb.Hash,
	}
	ancestorsOfB := s.ancestors(b)
	d.Ancestor = ancestorsOfB[a]
	for id := a; id != 0; id = s.versions[id].Parent {
		if ancestorsOfB[id] {
			d.CommonAncestor = id
			break
		}
	}
	return d, nil
}

// Tag labels a live version, protecting it and its ancestors from gc.
func (s *Store) Tag(ctx context.Context, id ID, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return ErrInvalidTag
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.versions[id]
	if !ok || e.Collected {
		return fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}
	if owner, ok := s.tags[label]; ok {
		if owner == id {
			return nil
		}
		return fmt.Errorf("%w: %q is on version %d", ErrTagExists, label, owner)
	}
	if err := s.record(kindTag, tagRecord{ID: id, Label: label}); err != nil {
		return err
	}
	s.applyTag(id, label)
	s.logger.Info("adapter version tagged", zap.Uint64("version", uint64(id)), zap.String("tag", label))
	return nil
}

// Untag removes a label.
func (s *Store) Untag(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tags[label]; !ok {
		return fmt.Errorf("%w: %q", ErrTagNotFound, label)
	}
	if err := s.record(kindUntag, tagRecord{Label: label}); err != nil {
		return err
	}
	s.applyUntag(label)
	return nil
}

// Stats summarizes the store.
type Stats struct {
	Versions int `json:"versions"`
	Live     int `json:"live"`
	Bytes    int `json:"bytes"`
	Head     ID  `json:"head"`
	Tags     int `json:"tags"`
}

// Stats returns counts for metrics and status.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Versions: len(s.versions), Bytes: s.bytes, Head: s.head, Tags: len(s.tags)}
	for _, e := range s.versions {
		if !e.Collected {
			st.Live++
		}
	}
	return st
}

// verifyArtifacts checks every live version's bytes against its recorded
// hash. It must be called with mu held or before the store is shared.
func (s *Store) verifyArtifacts() error {
	for id, e := range s.versions {
		if e.Collected {
			continue
		}
		b, err := s.blobs.get(id)
		if err != nil {
			return fmt.Errorf("version %d artifact: %w", id, err)
		}
		if Hash(b) != e.Hash {
			return fmt.Errorf("version %d content hash mismatch", id)
		}
	}
	return nil
}

// CheckInvariant reports an error when HEAD does not name a live version.
func (s *Store) CheckInvariant() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkHead()
}

// checkHead must be called with mu held.
func (s *Store) checkHead() error {
	if s.head == 0 {
		if len(s.versions) > 0 {
			return fmt.Errorf("HEAD is unset with %d versions committed", len(s.versions))
		}
		return nil
	}
	e, ok := s.versions[s.head]
	if !ok {
		return fmt.Errorf("HEAD points at unknown version %d", s.head)
	}
	if e.Collected {
		return fmt.Errorf("HEAD points at collected version %d", s.head)
	}
	return nil
}

// lineage must be called with mu held.
func (s *Store) lineage(from ID) []Version {
	var rev []Version
	seen := make(map[ID]bool)
	for id := from; id != 0 && !seen[id]; {
		seen[id] = true
		e, ok := s.versions[id]
		if !ok {
			break
		}
		rev = append(rev, s.snapshot(e))
		id = e.Parent
	}
	out := make([]Version, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// ancestors returns id and every version reachable through parent links.
func (s *Store) ancestors(id ID) map[ID]bool {
	out := make(map[ID]bool)
	for id != 0 && !out[id] {
		e, ok := s.versions[id]
		if !ok {
			break
		}
		out[id] = true
		id = e.Parent
	}
	return out
}

func (s *Store) snapshot(e *entry) Version {
	v := e.Version
	if len(e.Tags) > 0 {
		v.Tags = append([]string(nil), e.Tags...)
	}
	return v
}
