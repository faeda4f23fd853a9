package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Runtime holds the settings that can change while the daemon runs. Every
// other field needs a restart.
type Runtime struct {
	QueryMode    bool
	AutoAdvance  bool
	AutoRollback bool
}

// Runtime returns the hot-reloadable subset of c.
func (c *Config) Runtime() Runtime {
	return Runtime{
		QueryMode:    c.Cycle.QueryMode,
		AutoAdvance:  c.Deployment.AutoAdvance,
		AutoRollback: c.Deployment.AutoRollback,
	}
}

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
//
// The parent directory is watched rather than the file, so editors that
// replace the file through a rename are seen too.
type Watcher struct {
	path     string
	opts     []LoadOption
	debounce time.Duration
	w        *fsnotify.Watcher
}

// NewWatcher watches the file Load(path, opts...) would read.
func NewWatcher(path string, opts ...LoadOption) (*Watcher, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(resolvePath(path, dir))
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, opts: opts, debounce: defaultDebounce, w: w}, nil
}

// Run blocks until ctx is done. Each burst of changes to the file triggers
// one reload; a valid config goes to onChange, a failed load to onError and
// the previous config stays in effect.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config), onError func(error)) error {
	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			trigger = timer.C
		case <-trigger:
			trigger = nil
			cfg, err := Load(w.path, w.opts...)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(cfg)
		case err, ok := <-w.w.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			if onError != nil {
				onError(fmt.Errorf("watching config: %w", err))
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.w.Close()
}
