package versionctl

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const artifactExt = ".bin"

// artifacts holds the bytes of live versions. The lineage itself lives in
// the store and its journal.
type artifacts interface {
	put(id ID, data []byte) error
	get(id ID) ([]byte, error)
	drop(id ID) error
}

type memArtifacts map[ID][]byte

func (m memArtifacts) put(id ID, data []byte) error {
	m[id] = data
	return nil
}

func (m memArtifacts) get(id ID) ([]byte, error) {
	b, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m memArtifacts) drop(id ID) error {
	delete(m, id)
	return nil
}

// dirArtifacts keeps one file per version. Nothing is cached in memory.
type dirArtifacts struct {
	dir string
}

func openDirArtifacts(dir string) (*dirArtifacts, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &dirArtifacts{dir: dir}, nil
}

func (d *dirArtifacts) path(id ID) string {
	return filepath.Join(d.dir, fmt.Sprintf("%020d%s", id, artifactExt))
}

func (d *dirArtifacts) put(id ID, data []byte) error {
	final := d.path(id)
	suffix := make([]byte, 8)
	_, _ = rand.Read(suffix)
	tmp := fmt.Sprintf("%s.tmp.%x", final, suffix)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("writing artifact %d: %w", id, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing artifact %d: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing artifact %d: %w", id, err)
	}
	f.Close()
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing artifact %d: %w", id, err)
	}
	return nil
}

func (d *dirArtifacts) get(id ID) ([]byte, error) {
	b, err := os.ReadFile(d.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
	}
	return b, err
}

func (d *dirArtifacts) drop(id ID) error {
	if err := os.Remove(d.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing artifact %d: %w", id, err)
	}
	return nil
}

// sweep removes files whose version is not live: leftovers of a commit
// whose record never landed, or of a gc interrupted before its deletes.
func (d *dirArtifacts) sweep(live func(ID) bool) ([]ID, error) {
	files, err := filepath.Glob(filepath.Join(d.dir, "*"+artifactExt))
	if err != nil {
		return nil, err
	}
	var removed []ID
	for _, f := range files {
		n, err := strconv.ParseUint(strings.TrimSuffix(filepath.Base(f), artifactExt), 10, 64)
		if err != nil || live(ID(n)) {
			continue
		}
		if err := d.drop(ID(n)); err != nil {
			return removed, err
		}
		removed = append(removed, ID(n))
	}
	return removed, nil
}
