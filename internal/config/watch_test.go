package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Runtime(t *testing.T) {
	cfg := Default()
	cfg.Cycle.QueryMode = true
	cfg.Deployment.AutoRollback = false

	assert.Equal(t, Runtime{QueryMode: true, AutoAdvance: true, AutoRollback: false}, cfg.Runtime())
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "cycle:\n  query_mode: false\n", 0600)

	w, err := NewWatcher(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	defer w.Close()
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(c *Config) { changes <- c }, func(err error) { errs <- err })
	}()

	require.NoError(t, os.WriteFile(path, []byte("cycle:\n  query_mode: true\n"), 0600))

	// A truncate and the write can land in separate reloads.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case cfg := <-changes:
			reloaded = cfg.Runtime().QueryMode
		case err := <-errs:
			t.Fatalf("unexpected reload error: %v", err)
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_InvalidConfigReportsError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "cycle:\n  query_mode: false\n", 0600)

	w, err := NewWatcher(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	defer w.Close()
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	go func() { _ = w.Run(ctx, func(c *Config) { changes <- c }, func(err error) { errs <- err }) }()

	require.NoError(t, os.WriteFile(path, []byte("drift:\n  baseline: 2\n"), 0600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-errs:
			assert.Contains(t, err.Error(), "drift.baseline")
			return
		case cfg := <-changes:
			assert.Equal(t, 0.95, cfg.Drift.Baseline, "only the truncated file may load")
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "cycle:\n  query_mode: false\n", 0600)

	w, err := NewWatcher(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	defer w.Close()
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	go func() { _ = w.Run(ctx, func(c *Config) { changes <- c }, nil) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	select {
	case <-changes:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}
