package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/logging"
)

// DefaultBudget is the per-agent time budget for a single Propose call.
const DefaultBudget = 2 * time.Millisecond

// ErrTimeout marks an adapter that failed to answer within its budget.
var ErrTimeout = errors.New("agent timeout")

// Abstention records an agent that produced no usable recommendation.
type Abstention struct {
	Agent   ID            `json:"agent"`
	Reason  string        `json:"reason"`
	Timeout bool          `json:"timeout"`
	Elapsed time.Duration `json:"elapsed"`
}

// PollResult is the outcome of polling every adapter once.
type PollResult struct {
	Recommendations []Recommendation `json:"recommendations"`
	Abstentions     []Abstention     `json:"abstentions,omitempty"`
}

// Timeouts returns the number of abstentions caused by an overrun or error.
func (r PollResult) Timeouts() int {
	n := 0
	for _, a := range r.Abstentions {
		if a.Timeout {
			n++
		}
	}
	return n
}

// Poller collects recommendations from a fixed set of adapters.
type Poller struct {
	adapters []Adapter
	budget   time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithBudget sets the per-agent budget.
func WithBudget(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.budget = d
		}
	}
}

// WithLogger sets the poller logger.
func WithLogger(l *logging.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithNow overrides the clock used for budget measurement.
func WithNow(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller creates a poller over adapters. Adapters are polled in
// descending base-priority order; duplicates by ID are rejected.
func NewPoller(adapters []Adapter, opts ...PollerOption) (*Poller, error) {
	seen := make(map[ID]bool, len(adapters))
	sorted := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("nil adapter")
		}
		if !a.ID().Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownAgent, uint8(a.ID()))
		}
		if seen[a.ID()] {
			return nil, fmt.Errorf("duplicate adapter for %s", a.ID())
		}
		seen[a.ID()] = true
		sorted = append(sorted, a)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID().BasePriority() > sorted[j].ID().BasePriority()
	})

	p := &Poller{
		adapters: sorted,
		budget:   DefaultBudget,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Adapters returns the registered adapters in poll order.
func (p *Poller) Adapters() []Adapter {
	out := make([]Adapter, len(p.adapters))
	copy(out, p.adapters)
	return out
}

// Poll asks every adapter for a recommendation. Errors, invalid output and
// answers that arrive after the budget become abstentions; Poll itself
// only fails if ctx is already done.
func (p *Poller) Poll(ctx context.Context, snap Snapshot) (PollResult, error) {
	var res PollResult
	for _, a := range p.adapters {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		start := p.now()
		actx, cancel := context.WithTimeout(ctx, p.budget)
		rec, err := a.Propose(actx, snap)
		cancel()
		elapsed := p.now().Sub(start)

		switch {
		case errors.Is(err, ErrAbstain):
			res.Abstentions = append(res.Abstentions, Abstention{Agent: a.ID(), Reason: "abstained", Elapsed: elapsed})
			continue
		case err != nil:
			p.logger.Warn(ctx, "agent failed to propose",
				zap.Stringer("agent", a.ID()), zap.Error(err), zap.Duration("elapsed", elapsed))
			res.Abstentions = append(res.Abstentions, Abstention{
				Agent: a.ID(), Reason: fmt.Errorf("%w: %v", ErrTimeout, err).Error(), Timeout: true, Elapsed: elapsed,
			})
			continue
		case elapsed > p.budget:
			p.logger.Warn(ctx, "agent exceeded budget",
				zap.Stringer("agent", a.ID()), zap.Duration("elapsed", elapsed), zap.Duration("budget", p.budget))
			res.Abstentions = append(res.Abstentions, Abstention{
				Agent: a.ID(), Reason: ErrTimeout.Error(), Timeout: true, Elapsed: elapsed,
			})
			continue
		}

		// Adapters may not speak for other agents.
		rec.Agent = a.ID()
		if rec.Timestamp.IsZero() {
			rec.Timestamp = snap.Taken
		}
		if err := rec.Validate(); err != nil {
			p.logger.Warn(ctx, "discarding invalid recommendation",
				zap.Stringer("agent", a.ID()), zap.Error(err))
			res.Abstentions = append(res.Abstentions, Abstention{Agent: a.ID(), Reason: err.Error(), Elapsed: elapsed})
			continue
		}
		res.Recommendations = append(res.Recommendations, rec)
	}
	return res, nil
}
