package agent

import (
	"context"
	"sync"
	"time"
)

// Mailbox is an Adapter fed asynchronously. Producers Post recommendations
// from any goroutine; each poll consumes the latest one.
type Mailbox struct {
	id     ID
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	latest  *Recommendation
	dropped uint64
}

// NewMailbox creates a mailbox for id. Recommendations older than maxAge at
// poll time are discarded; zero disables the age check.
func NewMailbox(id ID, maxAge time.Duration) *Mailbox {
	return &Mailbox{id: id, maxAge: maxAge, now: time.Now}
}

func (m *Mailbox) ID() ID        { return m.id }
func (m *Mailbox) Priority() int { return m.id.BasePriority() }

// Post stores rec as the latest recommendation, replacing any unconsumed one.
func (m *Mailbox) Post(rec Recommendation) error {
	rec.Agent = m.id
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.latest != nil {
		m.dropped++
	}
	m.latest = &rec
	m.mu.Unlock()
	return nil
}

// Dropped returns how many posts were overwritten before being consumed.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Propose returns and consumes the latest recommendation.
func (m *Mailbox) Propose(ctx context.Context, _ Snapshot) (Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return Recommendation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return Recommendation{}, ErrAbstain
	}
	rec := *m.latest
	m.latest = nil
	if m.maxAge > 0 && m.now().Sub(rec.Timestamp) > m.maxAge {
		return Recommendation{}, ErrAbstain
	}
	return rec, nil
}

// Static is an Adapter that always proposes the same action.
type Static struct {
	Agent       ID
	Action      Action
	Confidence  int
	Explanation string
}

func (s Static) ID() ID        { return s.Agent }
func (s Static) Priority() int { return s.Agent.BasePriority() }

// Propose returns the configured recommendation stamped with the snapshot time.
func (s Static) Propose(_ context.Context, snap Snapshot) (Recommendation, error) {
	return Recommendation{
		Agent:       s.Agent,
		Action:      s.Action,
		Confidence:  s.Confidence,
		Timestamp:   snap.Taken,
		Explanation: s.Explanation,
	}, nil
}

// Func adapts a function to the Adapter interface.
type Func struct {
	Agent ID
	Fn    func(ctx context.Context, snap Snapshot) (Recommendation, error)
}

func (f Func) ID() ID        { return f.Agent }
func (f Func) Priority() int { return f.Agent.BasePriority() }

func (f Func) Propose(ctx context.Context, snap Snapshot) (Recommendation, error) {
	return f.Fn(ctx, snap)
}
