package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

func driveCritical(t *testing.T, f *fixture) drift.Request {
	t.Helper()
	ctx := context.Background()
	var st drift.State
	for i := 0; i < 10; i++ {
		st = f.core.Observe(ctx, false)
	}
	require.Equal(t, drift.Critical, st.Level)
	select {
	case req := <-f.core.detector.Requests():
		return req
	default:
		t.Fatal("no retrain request after entering critical")
		return drift.Request{}
	}
}

func incidentKinds(c *Core) []string {
	var kinds []string
	for _, inc := range c.Incidents(SeverityError) {
		kinds = append(kinds, inc.Kind)
	}
	return kinds
}

func TestCore_Observe_CriticalDriftInAKeepsPhase(t *testing.T) {
	f := newFixture(t, testConfig())
	driveCritical(t, f)

	assert.Equal(t, deployment.PhaseA, f.core.Status().Phase.Phase)
	assert.Equal(t, 1, f.core.Status().Phase.CriticalDrift)
	kinds := incidentKinds(f.core)
	assert.Contains(t, kinds, IncidentCriticalDrift)
	assert.NotContains(t, kinds, IncidentRollback)
	assert.GreaterOrEqual(t, f.pub.topics()[TopicDrift], 1)
}

func TestCore_Observe_CriticalDriftRollsBackPhase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	_, err := f.core.SetPhase(ctx, deployment.PhaseB, "validated offline")
	require.NoError(t, err)

	driveCritical(t, f)

	assert.Equal(t, deployment.PhaseA, f.core.Status().Phase.Phase)
	assert.Contains(t, incidentKinds(f.core), IncidentRollback)
}

func TestCore_Observe_FlappingIsOneEpisode(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Drift = drift.Config{Window: 100, Baseline: 1}
	f := newFixture(t, cfg)
	_, err := f.core.SetPhase(ctx, deployment.PhaseC, "operator promotion")
	require.NoError(t, err)

	// 85 of 100 correct with the misses interleaved: exactly critical, and
	// every later sample crosses the threshold one way or the other.
	for i := 0; i < 15; i++ {
		f.core.Observe(ctx, false)
		f.core.Observe(ctx, true)
	}
	for i := 0; i < 70; i++ {
		f.core.Observe(ctx, true)
	}
	require.Equal(t, drift.Critical, f.core.Drift().Level)
	require.Equal(t, deployment.PhaseB, f.core.Status().Phase.Phase)

	for i := 0; i < 20; i++ {
		f.core.Observe(ctx, i%2 == 0)
		require.Equal(t, deployment.PhaseB, f.core.Status().Phase.Phase, "flip %d", i)
	}

	assert.Len(t, f.core.deploy.History(), 2, "manual promotion and one rollback")
	assert.Equal(t, uint64(1), f.core.detector.Counters().RetrainRequests)
	critical := 0
	for _, k := range incidentKinds(f.core) {
		if k == IncidentCriticalDrift {
			critical++
		}
	}
	assert.Equal(t, 1, critical)
	assert.Equal(t, 21, f.pub.topics()[TopicDrift], "level changes are still published")
}

func TestCore_HandleRetrain_Success(t *testing.T) {
	var got drift.Request
	retrainer := RetrainerFunc(func(_ context.Context, req drift.Request) (RetrainResult, error) {
		got = req
		return RetrainResult{
			Artifact: []byte("adapter-weights"),
			Metadata: versionctl.Metadata{Examples: 512, Accuracy: 0.93},
		}, nil
	})
	f := newFixture(t, testConfig(), WithRetrainer(retrainer))
	req := driveCritical(t, f)

	v, err := f.core.HandleRetrain(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.Seq, got.Seq)
	assert.Equal(t, versionctl.ID(1), v.ID)
	head, err := f.core.Head()
	require.NoError(t, err)
	assert.Equal(t, v.ID, head.ID)

	st := f.core.Drift()
	assert.Equal(t, drift.Normal, st.Level)
	assert.InDelta(t, 0.93, st.Baseline, 1e-9)
	assert.False(t, f.core.Health().RetrainFailed)
}

func TestCore_HandleRetrain_CollectsOldVersions(t *testing.T) {
	retrainer := RetrainerFunc(func(context.Context, drift.Request) (RetrainResult, error) {
		return RetrainResult{Artifact: []byte("v4"), Metadata: versionctl.Metadata{Accuracy: 0.92}}, nil
	})
	cfg := testConfig()
	cfg.KeepVersions = 1
	f := newFixture(t, cfg, WithRetrainer(retrainer))
	ctx := context.Background()
	for _, a := range []string{"v1", "v2", "v3"} {
		_, err := f.core.CommitVersion(ctx, []byte(a), versionctl.Metadata{Accuracy: 0.9})
		require.NoError(t, err)
	}

	v, err := f.core.HandleRetrain(ctx, driveCritical(t, f))
	require.NoError(t, err)
	assert.Equal(t, versionctl.ID(4), v.ID)

	v2, err := f.core.Version(2)
	require.NoError(t, err)
	assert.True(t, v2.Collected)
	root, err := f.core.Version(1)
	require.NoError(t, err)
	assert.False(t, root.Collected, "the root version is protected")
}

func TestCore_HandleRetrain_FailureRaisesHealthFlag(t *testing.T) {
	calls := 0
	retrainer := RetrainerFunc(func(context.Context, drift.Request) (RetrainResult, error) {
		calls++
		if calls == 1 {
			return RetrainResult{}, errors.New("trainer offline")
		}
		return RetrainResult{Artifact: []byte("ok"), Metadata: versionctl.Metadata{Accuracy: 0.92}}, nil
	})
	f := newFixture(t, testConfig(), WithRetrainer(retrainer))
	req := driveCritical(t, f)
	ctx := context.Background()

	_, err := f.core.HandleRetrain(ctx, req)
	require.ErrorIs(t, err, ErrRetrainFailed)

	h := f.core.Health()
	assert.True(t, h.RetrainFailed)
	assert.Contains(t, h.LastRetrainError, "trainer offline")
	assert.False(t, f.core.Status().Healthy)
	assert.Equal(t, drift.Critical, f.core.Drift().Level, "drift stays critical")
	_, err = f.core.Head()
	assert.ErrorIs(t, err, versionctl.ErrEmpty)

	require.True(t, f.core.RetryRetrain(ctx))
	retry := <-f.core.detector.Requests()
	_, err = f.core.HandleRetrain(ctx, retry)
	require.NoError(t, err)
	assert.False(t, f.core.Health().RetrainFailed)
}

func TestCore_HandleRetrain_NoRetrainer(t *testing.T) {
	f := newFixture(t, testConfig())
	req := driveCritical(t, f)

	_, err := f.core.HandleRetrain(context.Background(), req)
	assert.ErrorIs(t, err, ErrRetrainFailed)
	assert.True(t, f.core.Health().RetrainFailed)
}

func TestCore_Run_ConsumesRetrainRequests(t *testing.T) {
	done := make(chan struct{})
	retrainer := RetrainerFunc(func(context.Context, drift.Request) (RetrainResult, error) {
		defer close(done)
		return RetrainResult{Artifact: []byte("w"), Metadata: versionctl.Metadata{Accuracy: 0.95}}, nil
	})
	cfg := testConfig()
	cfg.Interval = time.Hour
	f := newFixture(t, cfg, WithRetrainer(retrainer))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.core.Run(ctx, nil) }()

	for i := 0; i < 10; i++ {
		f.core.Observe(ctx, false)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retrain request was not consumed")
	}
	cancel()
	require.NoError(t, <-errc)
	assert.Eventually(t, func() bool {
		_, err := f.core.Head()
		return err == nil
	}, time.Second, 10*time.Millisecond)
}
