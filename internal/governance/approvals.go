package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/logging"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
)

// DefaultApprovalCapacity bounds the approval queue.
const DefaultApprovalCapacity = 64

// ApprovalState is where an approval is in its lifecycle.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	// ApprovalExpired marks a pending entry pushed out of a full queue.
	ApprovalExpired ApprovalState = "expired"
)

// Approval is an escalated decision waiting for a human.
type Approval struct {
	ID         string                `json:"id"`
	CreatedAt  time.Time             `json:"created_at"`
	State      ApprovalState         `json:"state"`
	Decision   orchestrator.Decision `json:"decision"`
	Candidate  *agent.Recommendation `json:"candidate,omitempty"`
	ResolvedAt time.Time             `json:"resolved_at,omitempty"`
	Note       string                `json:"note,omitempty"`
	Verdict    *orchestrator.Verdict `json:"verdict,omitempty"`
	Executed   bool                  `json:"executed"`
	ExecError  string                `json:"exec_error,omitempty"`
}

// approvalQueue must be used with Core.mu held.
type approvalQueue struct {
	cap     int
	entries []*Approval
	byID    map[string]*Approval
}

func newApprovalQueue(capacity int) *approvalQueue {
	if capacity <= 0 {
		capacity = DefaultApprovalCapacity
	}
	return &approvalQueue{cap: capacity, byID: make(map[string]*Approval)}
}

func (q *approvalQueue) add(a *Approval) {
	if len(q.entries) == q.cap {
		old := q.entries[0]
		if old.State == ApprovalPending {
			old.State = ApprovalExpired
		}
		delete(q.byID, old.ID)
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, a)
	q.byID[a.ID] = a
}

func (q *approvalQueue) pendingCount() int {
	n := 0
	for _, a := range q.entries {
		if a.State == ApprovalPending {
			n++
		}
	}
	return n
}

func (q *approvalQueue) list(state ApprovalState) []Approval {
	out := make([]Approval, 0, len(q.entries))
	for _, a := range q.entries {
		if state == "" || a.State == state {
			out = append(out, *a)
		}
	}
	return out
}

// topCandidate is the non-noop input with the highest effective priority.
func topCandidate(d orchestrator.Decision) *agent.Recommendation {
	var best *agent.Recommendation
	for i := range d.Inputs {
		r := d.Inputs[i]
		if r.Action.IsNoop() {
			continue
		}
		if best == nil || r.EffectivePriority() > best.EffectivePriority() {
			best = &r
		}
	}
	return best
}

func (c *Core) enqueueApproval(ctx context.Context, d orchestrator.Decision) Approval {
	a := &Approval{
		ID:        uuid.NewString(),
		CreatedAt: c.now(),
		State:     ApprovalPending,
		Decision:  d,
		Candidate: topCandidate(d),
	}
	c.mu.Lock()
	c.approvals.add(a)
	out := *a
	c.mu.Unlock()
	c.publish(ctx, TopicApproval, out)
	return out
}

// Approvals lists the queue, oldest first. An empty state lists everything.
func (c *Core) Approvals(state ApprovalState) []Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approvals.list(state)
}

// Approval returns one entry of the queue.
func (c *Core) Approval(id string) (Approval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.approvals.byID[id]
	if !ok {
		return Approval{}, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	return *a, nil
}

// Approve resolves a pending approval and executes its top candidate
// through the phase gate as a manual action. A denial by the gate still
// resolves the approval; the verdict says why nothing ran.
func (c *Core) Approve(ctx context.Context, id, note string) (Approval, error) {
	note = c.redact(ctx, "note", note)
	a, err := c.claim(id, ApprovalApproved, note)
	if err != nil {
		return Approval{}, err
	}
	ctx = logging.WithCycleID(ctx, a.Decision.CycleID)

	if a.Candidate == nil {
		c.logger.Info(ctx, "approval resolved with nothing to execute", zap.String("approval.id", id))
		return c.finishApproval(ctx, a), nil
	}

	action := a.Candidate.Action
	v := c.deploy.AuthorizeApproved(ctx, a.Decision, action)
	a.Verdict = &v
	c.metrics.RecordAuthorization(v.Phase, v.Authorized)
	if v.Authorized {
		rec := CycleRecord{CycleID: a.Decision.CycleID}
		c.execute(ctx, Command{
			CycleID:     a.Decision.CycleID,
			DecisionSeq: a.Decision.Seq,
			Kind:        a.Decision.Kind,
			Action:      action,
			Confidence:  a.Candidate.Confidence,
			Manual:      true,
			ApprovalID:  id,
			Reason:      fmt.Sprintf("operator approved %s: %s", a.Candidate, note),
		}, &rec)
		a.Executed = rec.Executed
		a.ExecError = rec.ExecError
	}
	c.logger.Info(ctx, "approval granted",
		zap.String("approval.id", id),
		zap.Stringer("action", action),
		zap.Bool("authorized", v.Authorized),
		zap.String("reason", v.Reason))
	return c.finishApproval(ctx, a), nil
}

// Reject resolves a pending approval without acting.
func (c *Core) Reject(ctx context.Context, id, note string) (Approval, error) {
	note = c.redact(ctx, "note", note)
	a, err := c.claim(id, ApprovalRejected, note)
	if err != nil {
		return Approval{}, err
	}
	c.logger.Info(logging.WithCycleID(ctx, a.Decision.CycleID), "approval rejected",
		zap.String("approval.id", id), zap.String("note", note))
	return c.finishApproval(ctx, a), nil
}

// claim moves a pending approval to state and returns a working copy.
func (c *Core) claim(id string, state ApprovalState, note string) (*Approval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.approvals.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	if a.State != ApprovalPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrApprovalResolved, id, a.State)
	}
	a.State = state
	a.ResolvedAt = c.now()
	a.Note = note
	cp := *a
	return &cp, nil
}

func (c *Core) finishApproval(ctx context.Context, a *Approval) Approval {
	c.mu.Lock()
	if stored, ok := c.approvals.byID[a.ID]; ok {
		*stored = *a
	}
	c.mu.Unlock()
	c.publish(ctx, TopicApproval, *a)
	c.refreshGauges()
	return *a
}
