package deployment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/govcore/internal/deployment"

	// DefaultHardLimitConfidence is the SafetyOverride confidence that
	// forces Phase D.
	DefaultHardLimitConfidence = 900

	// RollbackWindows is how many consecutive low windows trigger a rollback.
	RollbackWindows = 3

	authLogCapacity = 1000
)

// Config controls the automatic behaviour of the manager.
type Config struct {
	AutoAdvance         bool
	AutoRollback        bool
	HardLimitConfidence int
}

// DefaultConfig enables both automatic directions.
func DefaultConfig() Config {
	return Config{AutoAdvance: true, AutoRollback: true, HardLimitConfidence: DefaultHardLimitConfidence}
}

// Authorization is one logged authorization attempt.
type Authorization struct {
	At          time.Time         `json:"at"`
	CycleID     uint64            `json:"cycle_id"`
	DecisionSeq uint64            `json:"decision_seq"`
	Kind        orchestrator.Kind `json:"kind"`
	Action      agent.Action      `json:"action"`
	Phase       Phase             `json:"phase"`
	Risk        int               `json:"risk"`
	Authorized  bool              `json:"authorized"`
	Reason      string            `json:"reason"`
}

// Status is a point-in-time view of the manager.
type Status struct {
	Phase           Phase         `json:"phase"`
	PhaseName       string        `json:"phase_name"`
	EnteredAt       time.Time     `json:"entered_at"`
	Uptime          time.Duration `json:"uptime"`
	Decisions       int           `json:"decisions"`
	SuccessRate     float64       `json:"success_rate"`
	LowWindows      int           `json:"low_windows"`
	CriticalDrift   int           `json:"critical_drift"`
	TokensRemaining float64       `json:"tokens_remaining"`
	Constraints     Constraints   `json:"constraints"`
	AutoAdvance     bool          `json:"auto_advance"`
	AutoRollback    bool          `json:"auto_rollback"`
}

// Counters are cumulative denial and transition counts.
type Counters struct {
	Authorized    uint64 `json:"authorized"`
	DeniedPhase   uint64 `json:"denied_phase"`
	DeniedRisk    uint64 `json:"denied_risk"`
	RateLimitHits uint64 `json:"rate_limit_hits"`
	HardLimits    uint64 `json:"hard_limit_violations"`
	Transitions   uint64 `json:"transitions"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTransitionHook registers a callback run after every transition,
// outside the manager lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.hooks = append(m.hooks, fn)
		}
	}
}

// Manager is the phase state machine and authorization gate.
type Manager struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
	hooks  []func(Transition)

	transitionCounter metric.Int64Counter
	denialCounter     metric.Int64Counter

	mu        sync.Mutex
	phase     Phase
	enteredAt time.Time
	limiter   *rate.Limiter
	history   []Transition
	authLog   []Authorization
	authPos   int
	counters  Counters

	outcomes      int
	successes     int
	winOutcomes   int
	winSuccesses  int
	lowWindows    int
	criticalDrift int
}

// NewManager starts in Phase A.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.HardLimitConfidence <= 0 {
		cfg.HardLimitConfidence = DefaultHardLimitConfidence
	}
	m := &Manager{
		cfg:     cfg,
		now:     time.Now,
		logger:  zap.NewNop(),
		phase:   PhaseA,
		authLog: make([]Authorization, 0, authLogCapacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.enteredAt = m.now()
	m.limiter = newLimiter(PhaseA)
	m.initMetrics()
	return m
}

func (m *Manager) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	m.transitionCounter, err = meter.Int64Counter(
		"govcore.deployment.transitions_total",
		metric.WithDescription("Total number of phase transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.logger.Warn("failed to create transition counter", zap.Error(err))
	}
	m.denialCounter, err = meter.Int64Counter(
		"govcore.deployment.denials_total",
		metric.WithDescription("Total number of denied authorizations"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		m.logger.Warn("failed to create denial counter", zap.Error(err))
	}
}

func newLimiter(p Phase) *rate.Limiter {
	n := ConstraintsFor(p).MaxActionsPerHour
	if n <= 0 {
		return rate.NewLimiter(0, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(n)/3600.0), n)
}

// ImpliedRisk is the action's base risk plus a penalty for low confidence.
func ImpliedRisk(d orchestrator.Decision) int {
	r := d.Action.Risk() + (agent.MaxConfidence-d.Confidence)/50
	if r > 100 {
		r = 100
	}
	return r
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Authorize decides whether d may execute in the current phase. A
// hard-limit SafetyOverride additionally rolls back to Phase D after the
// verdict is recorded.
func (m *Manager) Authorize(ctx context.Context, d orchestrator.Decision) orchestrator.Verdict {
	m.mu.Lock()
	now := m.now()
	v := m.authorize(d, now)
	m.logAuthorization(Authorization{
		At: now, CycleID: d.CycleID, DecisionSeq: d.Seq, Kind: d.Kind, Action: d.Action,
		Phase: m.phase, Risk: v.Risk, Authorized: v.Authorized, Reason: v.Reason,
	})

	var tr *Transition
	if d.Kind == orchestrator.SafetyOverride && d.Confidence >= m.cfg.HardLimitConfidence {
		m.counters.HardLimits++
		if m.cfg.AutoRollback && m.phase != PhaseD {
			t := m.transition(PhaseD, AutoRollback,
				fmt.Sprintf("hard-limit safety override: %s at confidence %d", d.Action, d.Confidence), now)
			tr = &t
		}
	}
	m.mu.Unlock()

	if !v.Authorized && m.denialCounter != nil {
		m.denialCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", v.Phase)))
	}
	m.notify(ctx, tr)
	return v
}

func (m *Manager) authorize(d orchestrator.Decision, now time.Time) orchestrator.Verdict {
	c := ConstraintsFor(m.phase)
	v := orchestrator.Verdict{Phase: m.phase.String()}

	if d.Kind == orchestrator.NoConsensus {
		v.Reason = "no consensus: " + d.Explanation
		return v
	}
	if d.Action.IsNoop() {
		v.Reason = fmt.Sprintf("%s requires no execution", d.Action)
		return v
	}
	v.Risk = ImpliedRisk(d)
	if m.phase == PhaseD {
		m.counters.DeniedPhase++
		v.Reason = "phase D (emergency): autonomous actions are disabled until a manual transition"
		return v
	}
	if v.Risk > c.MaxRisk {
		m.counters.DeniedRisk++
		v.Reason = fmt.Sprintf("implied risk %d of %s exceeds phase %s limit %d", v.Risk, d.Action, m.phase, c.MaxRisk)
		return v
	}
	if !m.limiter.AllowN(now, 1) {
		m.counters.RateLimitHits++
		v.Reason = fmt.Sprintf("hourly action budget of %d exhausted in phase %s", c.MaxActionsPerHour, m.phase)
		return v
	}
	m.counters.Authorized++
	v.Authorized = true
	v.Reason = fmt.Sprintf("within phase %s limits (risk %d/%d)", m.phase, v.Risk, c.MaxRisk)
	return v
}

// AuthorizeApproved gates an operator-approved action taken from an
// escalated decision. The consensus and risk checks are the operator's call;
// Phase D still denies everything but stop actions, and the action spends a
// token like any other.
func (m *Manager) AuthorizeApproved(ctx context.Context, d orchestrator.Decision, action agent.Action) orchestrator.Verdict {
	m.mu.Lock()
	now := m.now()
	c := ConstraintsFor(m.phase)
	v := orchestrator.Verdict{Phase: m.phase.String(), Risk: action.Risk()}
	switch {
	case action.IsNoop():
		v.Reason = fmt.Sprintf("%s requires no execution", action)
	case m.phase == PhaseD && !action.IsStop():
		m.counters.DeniedPhase++
		v.Reason = "phase D (emergency): only stop actions may be approved"
	case m.phase != PhaseD && !m.limiter.AllowN(now, 1):
		m.counters.RateLimitHits++
		v.Reason = fmt.Sprintf("hourly action budget of %d exhausted in phase %s", c.MaxActionsPerHour, m.phase)
	default:
		m.counters.Authorized++
		v.Authorized = true
		v.Reason = fmt.Sprintf("approved by operator in phase %s", m.phase)
	}
	m.logAuthorization(Authorization{
		At: now, CycleID: d.CycleID, DecisionSeq: d.Seq, Kind: d.Kind, Action: action,
		Phase: m.phase, Risk: v.Risk, Authorized: v.Authorized, Reason: v.Reason,
	})
	m.mu.Unlock()

	if !v.Authorized && m.denialCounter != nil {
		m.denialCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", v.Phase)))
	}
	return v
}

func (m *Manager) logAuthorization(a Authorization) {
	if len(m.authLog) < authLogCapacity {
		m.authLog = append(m.authLog, a)
		return
	}
	m.authLog[m.authPos] = a
	m.authPos = (m.authPos + 1) % authLogCapacity
}

// RecordOutcome feeds the result of an executed action into the success rate.
func (m *Manager) RecordOutcome(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes++
	m.winOutcomes++
	if success {
		m.successes++
		m.winSuccesses++
	}
}

// RecordCriticalDrift notes the start of a Critical drift episode and, if
// enabled, rolls back one phase. Phase A has nothing below it short of
// Emergency, so drift there is counted and the phase kept.
func (m *Manager) RecordCriticalDrift(ctx context.Context, detail string) *Transition {
	m.mu.Lock()
	m.criticalDrift++
	var tr *Transition
	if prev, ok := m.phase.Previous(); ok && m.cfg.AutoRollback {
		t := m.transition(prev, AutoRollback, "critical drift: "+detail, m.now())
		tr = &t
	}
	m.mu.Unlock()
	m.notify(ctx, tr)
	return tr
}

// Evaluate closes the current evaluation window and applies the rollback
// and advance rules. It returns the transition taken, if any.
func (m *Manager) Evaluate(ctx context.Context) *Transition {
	m.mu.Lock()
	now := m.now()
	c := ConstraintsFor(m.phase)

	if m.winOutcomes > 0 {
		windowRate := float64(m.winSuccesses) / float64(m.winOutcomes)
		if windowRate < c.MinSuccessRate {
			m.lowWindows++
		} else {
			m.lowWindows = 0
		}
	}
	m.winOutcomes, m.winSuccesses = 0, 0

	var tr *Transition
	switch {
	case m.cfg.AutoRollback && m.phase != PhaseD && m.lowWindows >= RollbackWindows:
		t := m.transition(m.phase.rollbackTarget(), AutoRollback, fmt.Sprintf(
			"success rate below %.0f%% for %d consecutive windows", c.MinSuccessRate*100, m.lowWindows), now)
		tr = &t
	case m.cfg.AutoAdvance:
		if next, reason, ok := m.advanceReady(now); ok {
			t := m.transition(next, AutoAdvance, reason, now)
			tr = &t
		}
	}
	m.mu.Unlock()

	m.notify(ctx, tr)
	return tr
}

func (m *Manager) advanceReady(now time.Time) (Phase, string, bool) {
	rule, ok := advanceRules[m.phase]
	if !ok {
		return 0, "", false
	}
	next, ok := m.phase.Next()
	if !ok {
		return 0, "", false
	}
	if m.outcomes < rule.MinDecisions {
		return 0, "", false
	}
	success := m.successRate()
	if success < rule.MinSuccessRate {
		return 0, "", false
	}
	uptime := now.Sub(m.enteredAt)
	if uptime < rule.MinUptime {
		return 0, "", false
	}
	if rule.MaxCriticalDrift >= 0 && m.criticalDrift > rule.MaxCriticalDrift {
		return 0, "", false
	}
	return next, fmt.Sprintf("%d decisions at %.1f%% success over %s", m.outcomes, success*100, uptime.Round(time.Minute)), true
}

func (m *Manager) successRate() float64 {
	if m.outcomes == 0 {
		return 0
	}
	return float64(m.successes) / float64(m.outcomes)
}

// SetPhase performs a manual transition to any phase. Manual transitions
// are the only way to leave D.
func (m *Manager) SetPhase(ctx context.Context, to Phase, reason string) (Transition, error) {
	if !to.Valid() {
		return Transition{}, fmt.Errorf("%w: %d", ErrInvalidPhase, uint8(to))
	}
	m.mu.Lock()
	if to == m.phase {
		m.mu.Unlock()
		return Transition{}, fmt.Errorf("%w: %s", ErrSamePhase, to)
	}
	if reason == "" {
		reason = "manual transition"
	}
	t := m.transition(to, Manual, reason, m.now())
	m.mu.Unlock()

	m.notify(ctx, &t)
	return t, nil
}

// ForceEmergency moves to Phase D unconditionally. It returns nil when
// already in D.
func (m *Manager) ForceEmergency(ctx context.Context, reason string) *Transition {
	m.mu.Lock()
	if m.phase == PhaseD {
		m.mu.Unlock()
		return nil
	}
	t := m.transition(PhaseD, AutoRollback, reason, m.now())
	m.mu.Unlock()

	m.notify(ctx, &t)
	return &t
}

// CheckInvariant verifies the current phase is one of the known phases.
func (m *Manager) CheckInvariant() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.phase.Valid() {
		return fmt.Errorf("%w: current phase %d", ErrInvalidPhase, uint8(m.phase))
	}
	return nil
}

// transition must be called with mu held.
func (m *Manager) transition(to Phase, trigger Trigger, reason string, now time.Time) Transition {
	t := Transition{
		From:        m.phase,
		To:          to,
		Trigger:     trigger,
		Reason:      reason,
		At:          now,
		Decisions:   m.outcomes,
		SuccessRate: m.successRate(),
		Uptime:      now.Sub(m.enteredAt),
	}
	m.history = append(m.history, t)
	m.counters.Transitions++

	m.phase = to
	m.enteredAt = now
	m.limiter = newLimiter(to)
	m.outcomes, m.successes = 0, 0
	m.winOutcomes, m.winSuccesses = 0, 0
	m.lowWindows = 0
	m.criticalDrift = 0

	m.logger.Info("phase transition",
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.Stringer("trigger", t.Trigger),
		zap.String("reason", t.Reason))
	return t
}

func (m *Manager) notify(ctx context.Context, t *Transition) {
	if t == nil {
		return
	}
	if m.transitionCounter != nil {
		m.transitionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", t.Trigger.String()),
			attribute.String("to", t.To.String()),
		))
	}
	for _, fn := range m.hooks {
		fn(*t)
	}
}

// Restore replays persisted transitions. The manager resumes in the phase
// of the last transition, entered at its timestamp.
func (m *Manager) Restore(history []Transition) error {
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	if !last.To.Valid() {
		return fmt.Errorf("%w: restored phase %d", ErrInvalidPhase, uint8(last.To))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]Transition(nil), history...)
	m.phase = last.To
	m.enteredAt = last.At
	m.limiter = newLimiter(last.To)
	return nil
}

// History returns every transition, oldest first.
func (m *Manager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Authorizations returns up to n most recent authorization attempts,
// oldest first. n <= 0 returns all retained entries.
func (m *Manager) Authorizations(n int) []Authorization {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := len(m.authLog)
	ordered := make([]Authorization, 0, size)
	start := 0
	if size == authLogCapacity {
		start = m.authPos
	}
	for i := 0; i < size; i++ {
		ordered = append(ordered, m.authLog[(start+i)%size])
	}
	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Counters returns cumulative counters.
func (m *Manager) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Status returns the current phase and its evidence.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	return Status{
		Phase:           m.phase,
		PhaseName:       m.phase.Name(),
		EnteredAt:       m.enteredAt,
		Uptime:          now.Sub(m.enteredAt),
		Decisions:       m.outcomes,
		SuccessRate:     m.successRate(),
		LowWindows:      m.lowWindows,
		CriticalDrift:   m.criticalDrift,
		TokensRemaining: m.limiter.TokensAt(now),
		Constraints:     ConstraintsFor(m.phase),
		AutoAdvance:     m.cfg.AutoAdvance,
		AutoRollback:    m.cfg.AutoRollback,
	}
}

// SetAuto toggles automatic advance and rollback.
func (m *Manager) SetAuto(advance, rollback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.AutoAdvance = advance
	m.cfg.AutoRollback = rollback
}
