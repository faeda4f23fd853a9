package governance

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/logging"
	"github.com/fyrsmithlabs/govcore/internal/secrets"
)

// escalate posts two opposing recommendations whose effective priorities
// (62 and 58) are too close for a priority win.
func escalate(t *testing.T, f *fixture) CycleRecord {
	t.Helper()
	f.post(t, agent.CrashPredictor, agent.Of(agent.IncreasePriority), 620)
	f.post(t, agent.StateInference, agent.Of(agent.DecreasePriority), 725)
	rec, err := f.core.Tick(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, rec.Decision.Escalated)
	return rec
}

func TestCore_Tick_EscalationQueuesApproval(t *testing.T) {
	f := newFixture(t, testConfig())
	before := len(f.core.Approvals(ApprovalPending))

	rec := escalate(t, f)

	pending := f.core.Approvals(ApprovalPending)
	require.Len(t, pending, before+1)
	assert.Equal(t, rec.ApprovalID, pending[0].ID)
	require.NotNil(t, pending[0].Candidate)
	assert.Equal(t, agent.CrashPredictor, pending[0].Candidate.Agent, "highest effective priority")
	assert.Empty(t, f.exec.commands(), "nothing runs before a human decides")
	assert.Equal(t, 1, f.core.Status().PendingApprovals)
	assert.Equal(t, 1, f.pub.topics()[TopicApproval])
}

func TestCore_Approve_ExecutesTopCandidate(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := escalate(t, f)
	ctx := context.Background()

	a, err := f.core.Approve(ctx, rec.ApprovalID, "verified by on-call")
	require.NoError(t, err)

	assert.Equal(t, ApprovalApproved, a.State)
	require.NotNil(t, a.Verdict)
	assert.True(t, a.Verdict.Authorized, a.Verdict.Reason)
	assert.True(t, a.Executed)

	cmds := f.exec.commands()
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].Manual)
	assert.Equal(t, rec.ApprovalID, cmds[0].ApprovalID)
	assert.Equal(t, agent.IncreasePriority, cmds[0].Action.Kind)
	assert.Equal(t, uint64(1), f.core.Transparency().ManualActions)
	assert.Zero(t, f.core.Status().PendingApprovals)

	_, err = f.core.Approve(ctx, rec.ApprovalID, "again")
	assert.ErrorIs(t, err, ErrApprovalResolved)
	_, err = f.core.Reject(ctx, rec.ApprovalID, "")
	assert.ErrorIs(t, err, ErrApprovalResolved)
}

func TestCore_Approve_PhaseDDeniesNonStop(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := escalate(t, f)
	ctx := context.Background()
	_, err := f.core.SetPhase(ctx, deployment.PhaseD, "drill")
	require.NoError(t, err)

	a, err := f.core.Approve(ctx, rec.ApprovalID, "")
	require.NoError(t, err, "a gate denial still resolves the approval")

	assert.Equal(t, ApprovalApproved, a.State)
	require.NotNil(t, a.Verdict)
	assert.False(t, a.Verdict.Authorized)
	assert.Contains(t, a.Verdict.Reason, "only stop actions")
	assert.False(t, a.Executed)
	assert.Empty(t, f.exec.commands())
}

func TestCore_Reject(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := escalate(t, f)

	a, err := f.core.Reject(context.Background(), rec.ApprovalID, "not now")
	require.NoError(t, err)

	assert.Equal(t, ApprovalRejected, a.State)
	assert.Equal(t, "not now", a.Note)
	assert.Empty(t, f.exec.commands())
	got, err := f.core.Approval(rec.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalRejected, got.State)
}

func TestCore_Approve_Unknown(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.core.Approve(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestApprovalQueue_ExpiresOldestWhenFull(t *testing.T) {
	q := newApprovalQueue(2)
	first := &Approval{ID: "a", State: ApprovalPending}
	q.add(first)
	q.add(&Approval{ID: "b", State: ApprovalPending})
	q.add(&Approval{ID: "c", State: ApprovalPending})

	assert.Equal(t, ApprovalExpired, first.State)
	assert.Len(t, q.list(""), 2)
	assert.Equal(t, 2, q.pendingCount())
	_, ok := q.byID["a"]
	assert.False(t, ok)
}

func TestCore_RedactsFreeText(t *testing.T) {
	scrubber, err := secrets.New(nil)
	require.NoError(t, err)
	logger := logging.NewTestLogger()
	f := newFixture(t, testConfig(), WithRedactor(scrubber), WithLogger(logger.Logger))
	ctx := context.Background()
	const leaked = "password=hunter2hunter2"

	rec := escalate(t, f)
	a, err := f.core.Approve(ctx, rec.ApprovalID, "checked with "+leaked)
	require.NoError(t, err)
	assert.Equal(t, "checked with [REDACTED]", a.Note)
	for _, cmd := range f.exec.commands() {
		assert.NotContains(t, cmd.Reason, "hunter2")
	}

	tr, err := f.core.SetPhase(ctx, deployment.PhaseB, "approved via "+leaked)
	require.NoError(t, err)
	assert.Equal(t, "approved via [REDACTED]", tr.Reason)

	require.NoError(t, f.core.PostRecommendation(ctx, agent.Recommendation{
		Agent: agent.Metrics, Action: agent.Of(agent.PreventiveCompaction), Confidence: 400,
		Explanation: "pressure high, " + leaked,
	}))
	next, err := f.core.Tick(ctx, nil)
	require.NoError(t, err)
	assert.NotContains(t, next.Decision.Explanation, "hunter2")

	logger.AssertLogged(t, zapcore.WarnLevel, "credentials redacted")
	for _, e := range logger.All() {
		assert.NotContains(t, e.Message, "hunter2")
		for k, v := range e.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "hunter2", "field %s", k)
		}
	}
}
