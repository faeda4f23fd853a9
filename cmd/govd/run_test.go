package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/govcore/internal/config"
	"github.com/fyrsmithlabs/govcore/internal/logging"
)

func TestCoreConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Drift.Warning = 0.04
	cfg.Versions.KeepLast = 3

	got := coreConfig(cfg)

	assert.Equal(t, 500*time.Millisecond, got.Interval)
	assert.Equal(t, 700, got.Orchestrator.SafetyThreshold)
	assert.Equal(t, 10*time.Millisecond, got.Orchestrator.CycleBudget)
	assert.Equal(t, 0.04, got.Drift.Thresholds.Warning)
	assert.Equal(t, 0.15, got.Drift.Thresholds.Critical)
	assert.Equal(t, 900, got.Deployment.HardLimitConfidence)
	assert.Equal(t, 3, got.KeepVersions)
	assert.Equal(t, 4<<20, got.Versions.MaxArtifactSize)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_ServesHealthUntilCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	port := freePort(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GOVCORE_SERVER_PORT", strconv.Itoa(port))
	t.Setenv("GOVCORE_DATA_DIR", t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, "") }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("govd did not shut down in time")
	}
}

type fakeRuntime struct {
	queryMode []bool
	auto      [][2]bool
}

func (f *fakeRuntime) SetQueryMode(_ context.Context, on bool) { f.queryMode = append(f.queryMode, on) }

func (f *fakeRuntime) SetAutoTransitions(_ context.Context, advance, rollback bool) {
	f.auto = append(f.auto, [2]bool{advance, rollback})
}

func TestApplyRuntime(t *testing.T) {
	base := config.Runtime{AutoAdvance: true, AutoRollback: true}
	tests := []struct {
		name      string
		next      config.Runtime
		queryMode []bool
		auto      [][2]bool
	}{
		{name: "unchanged", next: base},
		{name: "query mode on", next: config.Runtime{QueryMode: true, AutoAdvance: true, AutoRollback: true},
			queryMode: []bool{true}},
		{name: "auto advance off", next: config.Runtime{AutoRollback: true},
			auto: [][2]bool{{false, true}}},
		{name: "everything", next: config.Runtime{QueryMode: true},
			queryMode: []bool{true}, auto: [][2]bool{{false, false}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRuntime{}
			logger := logging.NewTestLogger()

			got := applyRuntime(context.Background(), f, base, tt.next, logger.Logger)

			assert.Equal(t, tt.next, got)
			assert.Equal(t, tt.queryMode, f.queryMode)
			assert.Equal(t, tt.auto, f.auto)
			if tt.next != base {
				logger.AssertLogged(t, zapcore.InfoLevel, "config reloaded")
			}
		})
	}
}

func TestWatchConfig_MissingDirectoryDisablesReload(t *testing.T) {
	logger := logging.NewTestLogger()
	path := filepath.Join(t.TempDir(), "absent", "config.yaml")

	err := watchConfig(context.Background(), path, config.Runtime{}, &fakeRuntime{}, logger.Logger)

	require.NoError(t, err)
	logger.AssertLogged(t, zapcore.WarnLevel, "config reload disabled")
}

func TestNewScrubber_DefaultsAndOverrides(t *testing.T) {
	s, err := newScrubber(config.Default())
	require.NoError(t, err)
	out, n := s.Redact("password=hunter2hunter2")
	assert.Equal(t, 1, n)
	assert.Equal(t, "[REDACTED]", out)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("GOVCORE_SECRETS_ENABLED", "false")
	cfg, err := config.Load("")
	require.NoError(t, err)
	s, err = newScrubber(cfg)
	require.NoError(t, err)
	assert.False(t, s.Enabled())
}
