package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/govcore/internal/agent"
)

// CycleResult bundles everything that happened in one cycle.
type CycleResult struct {
	CycleID  uint64           `json:"cycle_id"`
	Poll     agent.PollResult `json:"poll"`
	Decision Decision         `json:"decision"`
	Verdict  Verdict          `json:"verdict"`
}

// Cycle polls agents, decides, and asks the gate for authorization.
type Cycle struct {
	poller *agent.Poller
	orch   *Orchestrator
	gate   Gate
	now    func() time.Time
	seq    atomic.Uint64
}

// NewCycle wires a cycle driver. A nil gate authorizes everything actionable.
func NewCycle(p *agent.Poller, o *Orchestrator, g Gate) *Cycle {
	if g == nil {
		g = AllowAll
	}
	return &Cycle{poller: p, orch: o, gate: g, now: o.now}
}

// Resume makes the next cycle id follow last.
func (c *Cycle) Resume(last uint64) {
	c.seq.Store(last)
}

// LastID returns the id of the most recent cycle.
func (c *Cycle) LastID() uint64 {
	return c.seq.Load()
}

// Run executes one cycle against the given metrics snapshot.
func (c *Cycle) Run(ctx context.Context, metrics map[string]float64) (CycleResult, error) {
	id := c.seq.Add(1)
	snap := agent.Snapshot{CycleID: id, Taken: c.now(), Metrics: metrics}

	poll, err := c.poller.Poll(ctx, snap)
	if err != nil {
		return CycleResult{CycleID: id, Poll: poll}, fmt.Errorf("polling agents: %w", err)
	}

	d := c.orch.Decide(ctx, id, poll.Recommendations)
	v := c.gate.Authorize(ctx, d)
	return CycleResult{CycleID: id, Poll: poll, Decision: d, Verdict: v}, nil
}
