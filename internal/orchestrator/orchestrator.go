package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/conflict"
)

const instrumentationName = "github.com/fyrsmithlabs/govcore/internal/orchestrator"

const (
	// DefaultSafetyThreshold is the CrashPredictor confidence that forces a stop.
	DefaultSafetyThreshold = 700
	// DefaultCycleBudget is the target decision latency.
	DefaultCycleBudget = 10 * time.Millisecond

	latencySamples = 1024
)

// Config holds orchestrator settings.
type Config struct {
	SafetyThreshold int
	CycleBudget     time.Duration
	AuditCapacity   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithResolver sets the conflict resolver.
func WithResolver(r *conflict.Resolver) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator turns one cycle of recommendations into one decision.
type Orchestrator struct {
	cfg      Config
	resolver *conflict.Resolver
	audit    *AuditLog
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu          sync.Mutex
	counts      map[Kind]uint64
	escalations uint64
	duplicates  uint64
	overruns    uint64
	latencySum  time.Duration
	overrideSum time.Duration
	latencies   []float64
	latencyPos  int
}

// New creates an orchestrator.
func New(cfg Config, opts ...Option) *Orchestrator {
	if cfg.SafetyThreshold <= 0 {
		cfg.SafetyThreshold = DefaultSafetyThreshold
	}
	if cfg.CycleBudget <= 0 {
		cfg.CycleBudget = DefaultCycleBudget
	}
	o := &Orchestrator{
		cfg:       cfg,
		resolver:  conflict.NewResolver(conflict.Config{}),
		audit:     NewAuditLog(cfg.AuditCapacity),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
		counts:    make(map[Kind]uint64),
		latencies: make([]float64, 0, latencySamples),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Audit returns the decision log.
func (o *Orchestrator) Audit() *AuditLog { return o.audit }

// Resolver returns the conflict resolver.
func (o *Orchestrator) Resolver() *conflict.Resolver { return o.resolver }

// Decide produces the coordinated decision for a cycle and appends it to
// the audit log. It never fails; problems are reflected in the decision.
func (o *Orchestrator) Decide(ctx context.Context, cycleID uint64, recs []agent.Recommendation) Decision {
	start := o.now()
	_, span := o.tracer.Start(ctx, "orchestrator.decide", trace.WithAttributes(
		attribute.Int64("cycle.id", int64(cycleID)),
		attribute.Int("recommendations", len(recs)),
	))
	defer span.End()

	inputs, dups := o.dedupe(recs)
	d := o.decide(inputs)
	d.CycleID = cycleID
	d.Inputs = inputs
	d.At = start
	d.Latency = o.now().Sub(start)
	d.OverBudget = d.Latency > o.cfg.CycleBudget
	d = o.audit.Append(d)

	o.record(d, dups)

	span.SetAttributes(
		attribute.String("decision.kind", d.Kind.String()),
		attribute.String("decision.action", d.Action.String()),
		attribute.Bool("decision.escalated", d.Escalated),
	)
	if d.OverBudget {
		o.logger.Warn("decision exceeded cycle budget",
			zap.Uint64("cycle_id", cycleID),
			zap.Duration("latency", d.Latency),
			zap.Duration("budget", o.cfg.CycleBudget))
	}
	o.logger.Debug("decision",
		zap.Uint64("seq", d.Seq),
		zap.Stringer("kind", d.Kind),
		zap.Stringer("action", d.Action),
		zap.Int("confidence", d.Confidence))
	return d
}

// dedupe keeps one recommendation per agent (the later one wins) and
// orders the result by descending base priority.
func (o *Orchestrator) dedupe(recs []agent.Recommendation) ([]agent.Recommendation, int) {
	index := make(map[agent.ID]int, len(recs))
	out := make([]agent.Recommendation, 0, len(recs))
	dups := 0
	for _, r := range recs {
		if i, ok := index[r.Agent]; ok {
			o.logger.Warn("duplicate recommendation, keeping the later one",
				zap.Stringer("agent", r.Agent),
				zap.Stringer("dropped", out[i].Action),
				zap.Stringer("kept", r.Action))
			out[i] = r
			dups++
			continue
		}
		index[r.Agent] = len(out)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Agent.BasePriority() > out[j].Agent.BasePriority()
	})
	return out, dups
}

func (o *Orchestrator) decide(inputs []agent.Recommendation) Decision {
	if len(inputs) == 0 {
		return Decision{
			Kind:        NoConsensus,
			Action:      agent.Of(agent.NoAction),
			Explanation: "no recommendations this cycle",
		}
	}

	if d, ok := o.safetyOverride(inputs); ok {
		return d
	}

	var voters []agent.Recommendation
	for _, r := range inputs {
		if r.Action.Kind != agent.NoAction {
			voters = append(voters, r)
		}
	}
	if len(voters) == 0 {
		return Decision{
			Kind:         Unanimous,
			Action:       agent.Of(agent.NoAction),
			Confidence:   meanConfidence(inputs),
			Contributing: agentIDs(inputs),
			Explanation:  fmt.Sprintf("all %d agents recommend no action", len(inputs)),
		}
	}

	resolutions := o.resolver.ResolveAll(o.resolver.FindConflicts(voters))
	classes := groupClasses(voters, resolutions)

	if len(classes) == 1 {
		c := classes[0]
		if reason := blockedWithin(c, resolutions); reason != "" {
			return noConsensus(voters, resolutions, true, reason)
		}
		return Decision{
			Kind:         Unanimous,
			Action:       c.action,
			Confidence:   meanConfidence(c.members),
			Contributing: agentIDs(c.members),
			Resolutions:  resolutions,
			Explanation:  fmt.Sprintf("all %d voting agents agree on %s", len(c.members), c.action),
		}
	}

	var total float64
	for _, c := range classes {
		total += c.weight
	}
	sort.SliceStable(classes, func(i, j int) bool { return classes[i].weight > classes[j].weight })
	top := classes[0]

	if top.weight*2 <= total {
		return noConsensus(voters, resolutions, hasBlocking(resolutions), fmt.Sprintf(
			"no action holds a priority-weighted majority: leading %s has %.1f of %.1f",
			top.action, top.weight, total))
	}
	if reason := contested(top, resolutions); reason != "" {
		return noConsensus(voters, resolutions, true, reason)
	}

	conf := 0
	if total > 0 {
		conf = int(math.Round(float64(meanConfidence(top.members)) * top.weight / total))
	}
	var losers []agent.Recommendation
	for _, v := range voters {
		if !top.has(v.Agent) {
			losers = append(losers, v)
		}
	}
	return Decision{
		Kind:         Majority,
		Action:       top.action,
		Confidence:   conf,
		Contributing: agentIDs(top.members),
		Overridden:   losers,
		Resolutions:  resolutions,
		Explanation: fmt.Sprintf("%s backed by %s with %.1f of %.1f weighted priority",
			top.action, joinIDs(top.members), top.weight, total),
	}
}

func (o *Orchestrator) safetyOverride(inputs []agent.Recommendation) (Decision, bool) {
	for _, r := range inputs {
		if r.Agent != agent.CrashPredictor || !r.Action.IsStop() || r.Confidence < o.cfg.SafetyThreshold {
			continue
		}
		var others []agent.Recommendation
		for _, x := range inputs {
			if x.Agent != r.Agent {
				others = append(others, x)
			}
		}
		return Decision{
			Kind:         SafetyOverride,
			Action:       r.Action,
			Confidence:   r.Confidence,
			Contributing: []agent.ID{r.Agent},
			Overridden:   others,
			Explanation: fmt.Sprintf("%s recommends %s at confidence %d (threshold %d); arbitration skipped",
				r.Agent, r.Action, r.Confidence, o.cfg.SafetyThreshold),
		}, true
	}
	return Decision{}, false
}

func (o *Orchestrator) record(d Decision, dups int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.counts[d.Kind]++
	if d.Escalated {
		o.escalations++
	}
	o.duplicates += uint64(dups)
	if d.OverBudget {
		o.overruns++
	}
	o.latencySum += d.Latency
	if d.Kind == SafetyOverride {
		o.overrideSum += d.Latency
	}

	sample := float64(d.Latency)
	if len(o.latencies) < latencySamples {
		o.latencies = append(o.latencies, sample)
	} else {
		o.latencies[o.latencyPos] = sample
		o.latencyPos = (o.latencyPos + 1) % latencySamples
	}
}

// Stats returns cumulative counters and latency figures.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	var total uint64
	for _, n := range o.counts {
		total += n
	}
	s := Stats{
		Total:           total,
		Unanimous:       o.counts[Unanimous],
		Majority:        o.counts[Majority],
		SafetyOverrides: o.counts[SafetyOverride],
		NoConsensus:     o.counts[NoConsensus],
		Escalations:     o.escalations,
		Duplicates:      o.duplicates,
		BudgetOverruns:  o.overruns,
		AuditEvicted:    o.audit.Evicted(),
	}
	if total > 0 {
		s.MeanLatency = o.latencySum / time.Duration(total)
	}
	if n := o.counts[SafetyOverride]; n > 0 {
		s.OverrideLatency = o.overrideSum / time.Duration(n)
	}
	if len(o.latencies) > 0 {
		if p, err := stats.Percentile(stats.Float64Data(o.latencies), 99); err == nil {
			s.P99Latency = time.Duration(p)
		}
	}
	return s
}

// class is a set of recommendations whose actions collapse into one.
type class struct {
	members []agent.Recommendation
	action  agent.Action
	weight  float64
}

func (c *class) has(id agent.ID) bool {
	for _, m := range c.members {
		if m.Agent == id {
			return true
		}
	}
	return false
}

func groupClasses(voters []agent.Recommendation, resolutions []conflict.Resolution) []*class {
	var classes []*class
	for _, v := range voters {
		var target *class
		for _, c := range classes {
			fits := true
			for _, m := range c.members {
				if !conflict.Mergeable(m.Action, v.Action) {
					fits = false
					break
				}
			}
			if fits {
				target = c
				break
			}
		}
		if target == nil {
			target = &class{}
			classes = append(classes, target)
		}
		target.members = append(target.members, v)
		target.weight += v.EffectivePriority()
	}
	for _, c := range classes {
		c.action = classAction(c, resolutions)
	}
	return classes
}

// classAction honours an internal PriorityWin if one exists, otherwise
// folds the members into the most conservative merge.
func classAction(c *class, resolutions []conflict.Resolution) agent.Action {
	best := -1.0
	var won agent.Action
	for _, r := range resolutions {
		if r.Strategy != conflict.PriorityWin || !c.has(r.Conflict.A.Agent) || !c.has(r.Conflict.B.Agent) {
			continue
		}
		p := math.Max(r.Conflict.A.EffectivePriority(), r.Conflict.B.EffectivePriority())
		if p > best {
			best, won = p, r.Action
		}
	}
	if best >= 0 {
		return won
	}
	action := c.members[0].Action
	for _, m := range c.members[1:] {
		if merged, _, ok := conflict.Merge(action, m.Action); ok {
			action = merged
		}
	}
	return action
}

func blockedWithin(c *class, resolutions []conflict.Resolution) string {
	for _, r := range resolutions {
		if r.Blocking() && c.has(r.Conflict.A.Agent) && c.has(r.Conflict.B.Agent) {
			return "agreeing agents escalated: " + r.Explanation
		}
	}
	return ""
}

func contested(top *class, resolutions []conflict.Resolution) string {
	for _, r := range resolutions {
		inA, inB := top.has(r.Conflict.A.Agent), top.has(r.Conflict.B.Agent)
		if !inA && !inB {
			continue
		}
		if r.Blocking() {
			return "majority blocked by escalated conflict: " + r.Explanation
		}
	}
	return ""
}

func hasBlocking(resolutions []conflict.Resolution) bool {
	for _, r := range resolutions {
		if r.Blocking() {
			return true
		}
	}
	return false
}

func noConsensus(voters []agent.Recommendation, resolutions []conflict.Resolution, escalated bool, reason string) Decision {
	return Decision{
		Kind:        NoConsensus,
		Action:      agent.Of(agent.NoAction),
		Overridden:  voters,
		Resolutions: resolutions,
		Escalated:   escalated,
		Explanation: reason,
	}
}

func meanConfidence(recs []agent.Recommendation) int {
	if len(recs) == 0 {
		return 0
	}
	sum := 0
	for _, r := range recs {
		sum += r.Confidence
	}
	return int(math.Round(float64(sum) / float64(len(recs))))
}

func agentIDs(recs []agent.Recommendation) []agent.ID {
	out := make([]agent.ID, len(recs))
	for i, r := range recs {
		out[i] = r.Agent
	}
	return out
}

func joinIDs(recs []agent.Recommendation) string {
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Agent.String()
	}
	return strings.Join(names, ", ")
}
