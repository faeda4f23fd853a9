package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

func TestCore_Restore_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := OpenStorage(dir, 0, nil)
	require.NoError(t, err)
	f := newFixture(t, testConfig(), WithStorage(st))

	f.postAll(t, agent.Of(agent.ContinueNormal), 800)
	_, err = f.core.Tick(ctx, nil)
	require.NoError(t, err)
	_, err = f.core.SetPhase(ctx, deployment.PhaseB, "operator sign-off")
	require.NoError(t, err)
	_, err = f.core.CommitVersion(ctx, []byte("weights-v1"), versionctl.Metadata{Accuracy: 0.91})
	require.NoError(t, err)

	wantAudit, _ := f.core.Audit(0)
	require.Len(t, wantAudit, 1)
	require.NoError(t, st.Close())

	st2, err := OpenStorage(dir, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st2.Close() })
	g := newFixture(t, testConfig(), WithStorage(st2))

	gotAudit, _ := g.core.Audit(0)
	assert.Equal(t, len(wantAudit), len(gotAudit))
	assert.Equal(t, wantAudit[0].Seq, gotAudit[0].Seq)
	assert.Equal(t, wantAudit[0].Kind, gotAudit[0].Kind)

	status := g.core.Status()
	assert.Equal(t, deployment.PhaseB, status.Phase.Phase)
	assert.Equal(t, uint64(1), status.LastCycle)
	assert.True(t, status.Health.Durable)
	head, err := g.core.Head()
	require.NoError(t, err)
	assert.Equal(t, versionctl.ID(1), head.ID)
	assert.InDelta(t, 0.91, g.core.Drift().Baseline, 1e-9)

	rec, err := g.core.Tick(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.CycleID, "cycle ids continue after restart")
}

func TestStorage_TruncatesAuditJournal(t *testing.T) {
	st, err := OpenStorage(t.TempDir(), 3, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := newFixture(t, testConfig(), WithStorage(st))

	for i := 0; i < 10; i++ {
		_, err := f.core.Tick(context.Background(), nil)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, st.Audit.Len(), 6)
}
