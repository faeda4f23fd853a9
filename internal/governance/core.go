// Package governance owns the governance components and drives them: one
// synchronous decision cycle per tick, asynchronous drift observations, the
// retrain path, the human approval queue and the compliance views. It is the
// surface the RPC layer calls.
package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/conflict"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/logging"
	"github.com/fyrsmithlabs/govcore/internal/metrics"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

const instrumentationName = "github.com/fyrsmithlabs/govcore/internal/governance"

const (
	// DefaultInterval is the decision cycle cadence.
	DefaultInterval = 500 * time.Millisecond
	// DefaultEvaluateEvery is the number of cycles per evaluation window.
	DefaultEvaluateEvery = 120
	// DefaultPreviewCapacity bounds the cycle record ring.
	DefaultPreviewCapacity = 256
)

// Config configures a Core and the components it owns.
type Config struct {
	Interval          time.Duration
	EvaluateEvery     int
	QueryMode         bool
	PollBudget        time.Duration
	RecommendationTTL time.Duration
	IncidentCapacity  int
	ApprovalCapacity  int
	PreviewCapacity   int
	// KeepVersions, when positive, collects all but the newest
	// KeepVersions unprotected versions after each successful retrain.
	KeepVersions int

	Conflict     conflict.Config
	Orchestrator orchestrator.Config
	Deployment   deployment.Config
	Drift        drift.Config
	Versions     versionctl.Config
}

// Health holds the cross-cycle flags consulted by operators.
type Health struct {
	RetrainFailed       bool      `json:"retrain_failed"`
	LastRetrainError    string    `json:"last_retrain_error,omitempty"`
	LastRetrainAt       time.Time `json:"last_retrain_at,omitempty"`
	InvariantViolations uint64    `json:"invariant_violations"`
	LastInvariantError  string    `json:"last_invariant_error,omitempty"`
	Durable             bool      `json:"durable"`
}

// Healthy reports whether no flag is raised.
func (h Health) Healthy() bool {
	return !h.RetrainFailed && h.LastInvariantError == ""
}

// CycleRecord is what one tick did, kept for Preview.
type CycleRecord struct {
	CycleID     uint64                `json:"cycle_id"`
	At          time.Time             `json:"at"`
	Decision    orchestrator.Decision `json:"decision"`
	Verdict     orchestrator.Verdict  `json:"verdict"`
	Abstentions []agent.Abstention    `json:"abstentions,omitempty"`
	Executed    bool                  `json:"executed"`
	DryRun      bool                  `json:"dry_run,omitempty"`
	ExecError   string                `json:"exec_error,omitempty"`
	ApprovalID  string                `json:"approval_id,omitempty"`
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now for every owned component.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAdapters replaces the default per-agent mailboxes.
func WithAdapters(adapters ...agent.Adapter) Option {
	return func(c *Core) { c.adapters = adapters }
}

// WithExecutor sets where authorized actions go.
func WithExecutor(e Executor) Option {
	return func(c *Core) {
		if e != nil {
			c.executor = e
		}
	}
}

// WithRetrainer sets the fine-tuning collaborator.
func WithRetrainer(r Retrainer) Option {
	return func(c *Core) { c.retrainer = r }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(c *Core) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithStorage persists the audit log, phase history and version lineage.
func WithStorage(s *Storage) Option {
	return func(c *Core) { c.storage = s }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// WithRedactor scrubs operator notes, phase reasons and agent explanations
// before they are stored or logged.
func WithRedactor(r Redactor) Option {
	return func(c *Core) {
		if r != nil {
			c.redactor = r
		}
	}
}

// Core is the governance core.
type Core struct {
	cfg       Config
	logger    *logging.Logger
	now       func() time.Time
	tracer    trace.Tracer
	adapters  []agent.Adapter
	mailboxes map[agent.ID]*agent.Mailbox
	executor  Executor
	retrainer Retrainer
	publisher Publisher
	redactor  Redactor
	storage   *Storage
	metrics   *metrics.Metrics

	orch     *orchestrator.Orchestrator
	deploy   *deployment.Manager
	detector *drift.Detector
	versions *versionctl.Store
	cycle    *orchestrator.Cycle
	started  time.Time

	// tickMu serializes cycles.
	tickMu sync.Mutex

	mu             sync.Mutex
	queryMode      bool
	health         Health
	incidents      *incidentLog
	approvals      *approvalQueue
	records        []CycleRecord
	recordPos      int
	cycles         uint64
	autonomous     uint64
	manual         uint64
	seenHardLimits uint64
	seenRateLimits uint64
	seenOverruns   uint64
	phaseRollbacks int
}

// New builds the components from cfg and restores persisted state when
// storage is configured.
func New(cfg Config, opts ...Option) (*Core, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.EvaluateEvery <= 0 {
		cfg.EvaluateEvery = DefaultEvaluateEvery
	}
	if cfg.PreviewCapacity <= 0 {
		cfg.PreviewCapacity = DefaultPreviewCapacity
	}
	if cfg.RecommendationTTL <= 0 {
		cfg.RecommendationTTL = 2 * cfg.Interval
	}

	c := &Core{
		cfg:       cfg,
		logger:    logging.NewNop(),
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
		executor:  ExecutorFunc(func(context.Context, Command) error { return nil }),
		publisher: nopPublisher{},
		redactor:  nopRedactor{},
		queryMode: cfg.QueryMode,
		incidents: newIncidentLog(cfg.IncidentCapacity),
		approvals: newApprovalQueue(cfg.ApprovalCapacity),
		records:   make([]CycleRecord, 0, cfg.PreviewCapacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	zl := c.logger.Underlying()

	if c.adapters == nil {
		c.mailboxes = make(map[agent.ID]*agent.Mailbox)
		for _, id := range agent.AllIDs() {
			mb := agent.NewMailbox(id, cfg.RecommendationTTL)
			c.mailboxes[id] = mb
			c.adapters = append(c.adapters, mb)
		}
	}
	poller, err := agent.NewPoller(c.adapters,
		agent.WithBudget(cfg.PollBudget),
		agent.WithLogger(c.logger.Named("agents")),
		agent.WithNow(c.now))
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	c.orch = orchestrator.New(cfg.Orchestrator,
		orchestrator.WithLogger(zl.Named("orchestrator")),
		orchestrator.WithResolver(conflict.NewResolver(cfg.Conflict)),
		orchestrator.WithClock(c.now))
	c.deploy = deployment.NewManager(cfg.Deployment,
		deployment.WithLogger(zl.Named("deployment")),
		deployment.WithClock(c.now),
		deployment.WithTransitionHook(c.onTransition))
	c.detector, err = drift.NewDetector(cfg.Drift,
		drift.WithLogger(zl.Named("drift")),
		drift.WithClock(c.now))
	if err != nil {
		return nil, fmt.Errorf("creating drift detector: %w", err)
	}

	versionOpts := []versionctl.Option{
		versionctl.WithLogger(zl.Named("versions")),
		versionctl.WithClock(c.now),
	}
	if c.storage != nil {
		versionOpts = append(versionOpts, versionctl.WithJournal(c.storage.Versions))
	}
	c.versions, err = versionctl.NewStore(cfg.Versions, versionOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating version store: %w", err)
	}
	c.cycle = orchestrator.NewCycle(poller, c.orch, c.deploy)

	if err := c.restore(); err != nil {
		return nil, err
	}
	c.refreshGauges()
	return c, nil
}

func (c *Core) restore() error {
	ctx := context.Background()
	if c.storage == nil {
		c.logger.Warn(ctx, "no durable storage configured: cold boot starts in phase A with empty history, and nothing will survive a restart")
		return nil
	}
	c.health.Durable = true

	decisions, err := c.storage.loadDecisions()
	if err != nil {
		return fmt.Errorf("restoring audit log: %w", err)
	}
	c.orch.Audit().Restore(decisions)
	if n := len(decisions); n > 0 {
		c.cycle.Resume(decisions[n-1].CycleID)
	}

	transitions, err := c.storage.loadTransitions()
	if err != nil {
		return fmt.Errorf("restoring phase history: %w", err)
	}
	if err := c.deploy.Restore(transitions); err != nil {
		return fmt.Errorf("restoring phase history: %w", err)
	}
	for _, t := range transitions {
		if t.Trigger == deployment.AutoRollback {
			c.phaseRollbacks++
		}
	}

	if head, err := c.versions.Head(); err == nil && head.Metadata.Accuracy > 0 {
		if err := c.detector.Rebaseline(head.Metadata.Accuracy); err != nil {
			c.logger.Warn(ctx, "head accuracy not usable as drift baseline", zap.Error(err))
		}
	}

	c.logger.Info(ctx, "governance state restored",
		zap.Int("decisions", len(decisions)),
		zap.Int("transitions", len(transitions)),
		zap.Stringer("phase", c.deploy.Phase()),
		zap.Int("versions", c.versions.Stats().Versions))
	return nil
}

// Tick runs one decision cycle: poll, decide, authorize, then execute when
// authorized and not in query mode. The only error that aborts a cycle is an
// invariant violation, which also forces Phase D.
func (c *Core) Tick(ctx context.Context, snapshot map[string]float64) (CycleRecord, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	ctx, span := c.tracer.Start(ctx, "governance.tick")
	defer span.End()

	if err := c.checkInvariants(ctx); err != nil {
		span.RecordError(err)
		return CycleRecord{}, err
	}

	res, err := c.cycle.Run(ctx, snapshot)
	ctx = logging.WithCycleID(ctx, res.CycleID)
	span.SetAttributes(attribute.Int64("cycle.id", int64(res.CycleID)))
	if err != nil {
		c.logger.Warn(ctx, "cycle aborted", zap.Error(err))
		return CycleRecord{CycleID: res.CycleID, At: c.now()}, err
	}

	d, v := res.Decision, res.Verdict
	rec := CycleRecord{
		CycleID:     res.CycleID,
		At:          c.now(),
		Decision:    d,
		Verdict:     v,
		Abstentions: res.Poll.Abstentions,
	}
	span.SetAttributes(
		attribute.String("decision.kind", d.Kind.String()),
		attribute.String("decision.action", d.Action.String()),
		attribute.Bool("verdict.authorized", v.Authorized))

	for _, ab := range res.Poll.Abstentions {
		c.metrics.RecordAbstention(ab.Agent.String(), ab.Timeout)
		if ab.Timeout {
			c.logger.Debug(logging.WithAgent(ctx, ab.Agent.String()), "agent abstained",
				zap.Error(ErrAgentTimeout), zap.String("reason", ab.Reason))
		}
	}
	c.metrics.RecordDecision(d.Kind.String(), d.Latency, d.Kind == orchestrator.SafetyOverride)
	c.metrics.RecordAuthorization(v.Phase, v.Authorized)

	if d.Escalated {
		ap := c.enqueueApproval(ctx, d)
		rec.ApprovalID = ap.ID
		c.logger.Warn(ctx, "decision escalated for human review",
			zap.Error(ErrConflictUnresolved),
			zap.String("approval.id", ap.ID),
			zap.String("explanation", d.Explanation))
	}

	if v.Authorized {
		cmd := Command{
			CycleID: d.CycleID, DecisionSeq: d.Seq, Kind: d.Kind, Action: d.Action,
			Confidence: d.Confidence, Reason: d.Explanation,
		}
		c.execute(ctx, cmd, &rec)
	}

	c.noteCounters(ctx)
	c.persistDecision(ctx, d)
	c.publish(ctx, TopicDecision, rec)

	c.mu.Lock()
	c.cycles++
	evaluate := c.cycles%uint64(c.cfg.EvaluateEvery) == 0
	c.pushRecord(rec)
	c.mu.Unlock()

	if evaluate {
		c.deploy.Evaluate(ctx)
	}
	c.refreshGauges()
	return rec, nil
}

// execute must not be called with mu held.
func (c *Core) execute(ctx context.Context, cmd Command, rec *CycleRecord) {
	if c.QueryMode() {
		rec.DryRun = true
		c.logger.Info(ctx, "query mode: authorized action not executed", zap.Stringer("action", cmd.Action))
		return
	}
	err := c.executor.Execute(ctx, cmd)
	c.deploy.RecordOutcome(err == nil)
	if err != nil {
		rec.ExecError = err.Error()
		c.logger.Error(ctx, "action execution failed", zap.Stringer("action", cmd.Action), zap.Error(err))
		c.recordIncident(ctx, SeverityError, IncidentExecutionFailed,
			fmt.Sprintf("%s failed: %v", cmd.Action, err))
		return
	}
	rec.Executed = true
	c.mu.Lock()
	if cmd.Manual {
		c.manual++
	} else {
		c.autonomous++
	}
	c.mu.Unlock()
	c.logger.Info(ctx, "action executed",
		zap.Stringer("action", cmd.Action),
		zap.Stringer("kind", cmd.Kind),
		zap.Bool("manual", cmd.Manual))
}

// noteCounters turns new hard-limit, rate-limit and watchdog counts into
// incidents.
func (c *Core) noteCounters(ctx context.Context) {
	dc := c.deploy.Counters()
	overruns := c.orch.Stats().BudgetOverruns

	c.mu.Lock()
	hard := dc.HardLimits - c.seenHardLimits
	rl := dc.RateLimitHits - c.seenRateLimits
	wd := overruns - c.seenOverruns
	c.seenHardLimits, c.seenRateLimits, c.seenOverruns = dc.HardLimits, dc.RateLimitHits, overruns
	c.mu.Unlock()

	if hard > 0 {
		c.recordIncident(ctx, SeverityCritical, IncidentHardLimit, "safety override at hard-limit confidence, phase forced to D")
	}
	if rl > 0 {
		c.recordIncident(ctx, SeverityWarning, IncidentRateLimit, "hourly action budget exhausted")
	}
	if wd > 0 {
		c.recordIncident(ctx, SeverityError, IncidentWatchdog, "decision cycle exceeded its latency budget")
	}
}

func (c *Core) pushRecord(r CycleRecord) {
	if len(c.records) < c.cfg.PreviewCapacity {
		c.records = append(c.records, r)
		return
	}
	c.records[c.recordPos] = r
	c.recordPos = (c.recordPos + 1) % c.cfg.PreviewCapacity
}

// Preview returns the last n cycle records, oldest first. n <= 0 returns
// all retained records.
func (c *Core) Preview(n int) []CycleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := len(c.records)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]CycleRecord, 0, n)
	start := c.recordPos
	if size < c.cfg.PreviewCapacity {
		start = 0
	}
	for i := size - n; i < size; i++ {
		out = append(out, c.records[(start+i)%size])
	}
	return out
}

// Run drives Tick on the configured interval until ctx is done, and
// consumes retrain requests in the background.
func (c *Core) Run(ctx context.Context, source SnapshotSource) error {
	if source == nil {
		source = func(context.Context) map[string]float64 { return nil }
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consumeRetrainRequests(ctx)
	}()
	defer wg.Wait()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	c.logger.Info(ctx, "governance loop started", zap.Duration("interval", c.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, "governance loop stopped")
			return nil
		case <-ticker.C:
			if _, err := c.Tick(ctx, source(ctx)); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn(ctx, "tick failed", zap.Error(err))
			}
		}
	}
}

// checkInvariants forces Phase D when governance state is corrupt.
func (c *Core) checkInvariants(ctx context.Context) error {
	err := errors.Join(c.deploy.CheckInvariant(), c.versions.CheckInvariant())
	if err == nil {
		return nil
	}
	return c.invariantViolated(ctx, err)
}

func (c *Core) invariantViolated(ctx context.Context, cause error) error {
	err := fmt.Errorf("%w: %v", ErrInvariantViolation, cause)
	c.mu.Lock()
	c.health.InvariantViolations++
	c.health.LastInvariantError = cause.Error()
	c.mu.Unlock()

	c.logger.Error(ctx, "invariant violation, forcing phase D", zap.Error(err))
	c.deploy.ForceEmergency(ctx, "invariant violation: "+cause.Error())
	c.recordIncident(ctx, SeverityCritical, IncidentInvariantViolation, cause.Error())
	return err
}

func (c *Core) onTransition(t deployment.Transition) {
	ctx := context.Background()
	if c.storage != nil {
		if err := c.storage.appendTransition(t); err != nil {
			c.logger.Error(ctx, "failed to persist phase transition", zap.Error(err))
		}
	}
	if t.Trigger == deployment.AutoRollback {
		c.mu.Lock()
		c.phaseRollbacks++
		c.mu.Unlock()
		c.recordIncident(ctx, SeverityError, IncidentRollback,
			fmt.Sprintf("phase %s rolled back to %s: %s", t.From, t.To, t.Reason))
	}
	c.metrics.SetPhase(int(t.To))
	c.publish(ctx, TopicPhase, t)
}

func (c *Core) persistDecision(ctx context.Context, d orchestrator.Decision) {
	if c.storage == nil {
		return
	}
	if err := c.storage.appendDecision(d); err != nil {
		c.logger.Error(ctx, "failed to persist decision", zap.Uint64("seq", d.Seq), zap.Error(err))
	}
}

func (c *Core) publish(ctx context.Context, topic string, payload any) {
	if err := c.publisher.Publish(ctx, topic, payload); err != nil {
		c.logger.Warn(ctx, "event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Core) recordIncident(ctx context.Context, sev Severity, kind, detail string) Incident {
	c.mu.Lock()
	inc := c.incidents.add(c.now(), sev, kind, detail)
	c.mu.Unlock()
	c.logger.Warn(ctx, "incident recorded",
		zap.Uint64("incident.id", inc.ID),
		zap.Stringer("severity", sev),
		zap.String("kind", kind),
		zap.String("detail", detail))
	c.publish(ctx, TopicIncident, inc)
	return inc
}

func (c *Core) refreshGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetPhase(int(c.deploy.Phase()))
	st := c.detector.Status()
	c.metrics.SetDrift(int(st.Level), st.Rolling)
	vs := c.versions.Stats()
	c.metrics.SetVersions(vs.Live, vs.Versions)
	c.metrics.SetSafetyScore(SafetyScore(c.safetyInputs()))
	c.mu.Lock()
	pending := c.approvals.pendingCount()
	c.mu.Unlock()
	c.metrics.SetPendingApprovals(pending)
}

// QueryMode reports whether authorized actions are withheld.
func (c *Core) QueryMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryMode
}

// SetQueryMode turns dry-run on or off.
func (c *Core) SetQueryMode(ctx context.Context, on bool) {
	c.mu.Lock()
	c.queryMode = on
	c.mu.Unlock()
	c.logger.Info(ctx, "query mode changed", zap.Bool("enabled", on))
}

// Health returns the health flags.
func (c *Core) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Interval returns the configured cycle cadence.
func (c *Core) Interval() time.Duration { return c.cfg.Interval }

// redact runs free text through the redactor and logs how much was removed.
func (c *Core) redact(ctx context.Context, field, text string) string {
	out, n := c.redactor.Redact(text)
	if n > 0 {
		c.logger.Warn(ctx, "credentials redacted from free text", zap.String("field", field), zap.Int("findings", n))
	}
	return out
}
