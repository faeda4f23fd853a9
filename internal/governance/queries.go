package governance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// Status is the one-shot view served to operators.
type Status struct {
	Phase            deployment.Status  `json:"phase"`
	Drift            drift.State        `json:"drift"`
	Versions         versionctl.Stats   `json:"versions"`
	Orchestrator     orchestrator.Stats `json:"orchestrator"`
	Health           Health             `json:"health"`
	Healthy          bool               `json:"healthy"`
	QueryMode        bool               `json:"query_mode"`
	PendingApprovals int                `json:"pending_approvals"`
	SafetyScore      int                `json:"safety_score"`
	LastCycle        uint64             `json:"last_cycle"`
	Agents           []string           `json:"agents"`
}

// Status returns the current governance state.
func (c *Core) Status() Status {
	st := Status{
		Phase:        c.deploy.Status(),
		Drift:        c.detector.Status(),
		Versions:     c.versions.Stats(),
		Orchestrator: c.orch.Stats(),
		SafetyScore:  SafetyScore(c.safetyInputs()),
		LastCycle:    c.cycle.LastID(),
	}
	for _, a := range c.adapters {
		st.Agents = append(st.Agents, a.ID().String())
	}
	c.mu.Lock()
	st.Health = c.health
	st.QueryMode = c.queryMode
	st.PendingApprovals = c.approvals.pendingCount()
	c.mu.Unlock()
	st.Healthy = st.Health.Healthy()
	return st
}

func (c *Core) safetyInputs() SafetyInputs {
	dc := c.deploy.Counters()
	in := SafetyInputs{
		HardLimitViolations: dc.HardLimits,
		RateLimitHits:       dc.RateLimitHits,
		WatchdogTriggers:    c.orch.Stats().BudgetOverruns,
	}
	c.mu.Lock()
	in.CriticalIncidents = c.incidents.critical()
	c.mu.Unlock()
	return in
}

// Transparency reports autonomous operation since start.
func (c *Core) Transparency() Transparency {
	now := c.now()
	stats := c.orch.Stats()
	in := c.safetyInputs()
	r := Transparency{
		From:           c.started,
		To:             now,
		Uptime:         now.Sub(c.started),
		Phase:          c.deploy.Phase(),
		TotalDecisions: stats.Total,
		DecisionsByKind: map[string]uint64{
			orchestrator.Unanimous.String():      stats.Unanimous,
			orchestrator.Majority.String():       stats.Majority,
			orchestrator.SafetyOverride.String(): stats.SafetyOverrides,
			orchestrator.NoConsensus.String():    stats.NoConsensus,
		},
		Escalations:       stats.Escalations,
		SafetyScore:       SafetyScore(in),
		Safety:            in,
		Drift:             c.detector.Status(),
		VersionsCommitted: c.versions.Stats().Versions,
		MeanCycleLatency:  stats.MeanLatency,
		P99CycleLatency:   stats.P99Latency,
	}
	c.mu.Lock()
	r.AutonomousActions = c.autonomous
	r.ManualActions = c.manual
	if total := c.autonomous + c.manual; total > 0 {
		r.AutonomousPercent = int(c.autonomous * 100 / total)
	}
	r.IncidentsResolved = c.incidents.resolved()
	r.IncidentsOpen = len(c.incidents.entries) - r.IncidentsResolved
	r.PhaseRollbacks = c.phaseRollbacks
	r.RetrainFailed = c.health.RetrainFailed
	c.mu.Unlock()
	return r
}

// Checklist evaluates the pre-deployment safety checks against live state.
func (c *Core) Checklist() Checklist {
	ps := c.deploy.Status()
	stats := c.orch.Stats()
	ds := c.detector.Status()
	vs := c.versions.Stats()
	hardLimit := c.cfg.Deployment.HardLimitConfidence
	if hardLimit <= 0 {
		hardLimit = deployment.DefaultHardLimitConfidence
	}
	invariants := c.deploy.CheckInvariant() == nil && c.versions.CheckInvariant() == nil

	c.mu.Lock()
	health := c.health
	openCritical := 0
	for _, inc := range c.incidents.list(SeverityCritical) {
		if !inc.Resolved {
			openCritical++
		}
	}
	_, silent := c.publisher.(nopPublisher)
	c.mu.Unlock()

	items := []ChecklistItem{
		{
			Name: "hard_limits", Critical: true,
			Passed: hardLimit > 0 && hardLimit <= agent.MaxConfidence,
			Detail: fmt.Sprintf("safety overrides at confidence >= %d force phase D", hardLimit),
		},
		{
			Name: "watchdog", Critical: true, Passed: true,
			Detail: fmt.Sprintf("%d cycles over budget, p99 latency %s", stats.BudgetOverruns, stats.P99Latency),
		},
		{
			Name: "rate_limiters", Critical: true,
			Passed: ps.Phase == deployment.PhaseD || ps.Constraints.MaxActionsPerHour > 0,
			Detail: fmt.Sprintf("%d actions per hour in phase %s", ps.Constraints.MaxActionsPerHour, ps.Phase),
		},
		{
			Name: "audit_log_integrity", Critical: true, Passed: health.Durable,
			Detail: durabilityDetail(health.Durable),
		},
		{
			Name: "state_invariants", Critical: true, Passed: invariants && health.LastInvariantError == "",
			Detail: fmt.Sprintf("%d violations recorded", health.InvariantViolations),
		},
		{
			Name: "no_open_critical_incidents", Critical: true, Passed: openCritical == 0,
			Detail: fmt.Sprintf("%d unresolved critical incidents", openCritical),
		},
		{
			Name: "drift_detection", Passed: ds.WindowFull(),
			Detail: fmt.Sprintf("%d of %d samples, level %s", ds.Samples, ds.WindowSize, ds.Level),
		},
		{
			Name: "retrain_path", Passed: c.retrainer != nil && !health.RetrainFailed,
			Detail: retrainDetail(c.retrainer != nil, health),
		},
		{
			Name: "rollback_capability", Passed: vs.Live > 0,
			Detail: fmt.Sprintf("%d live versions, HEAD %d", vs.Live, vs.Head),
		},
		{
			Name: "incremental_autonomy", Passed: ps.AutoAdvance && ps.AutoRollback,
			Detail: fmt.Sprintf("auto advance %t, auto rollback %t", ps.AutoAdvance, ps.AutoRollback),
		},
		{
			Name: "alerting", Passed: !silent,
			Detail: "governance events published to observers",
		},
	}
	if silent {
		items[len(items)-1].Detail = "no event publisher configured"
	}
	return newChecklist(items)
}

func durabilityDetail(durable bool) string {
	if durable {
		return "audit log, phase history and lineage are journaled with HMAC checksums"
	}
	return "memory only, state is lost on restart"
}

func retrainDetail(configured bool, h Health) string {
	switch {
	case !configured:
		return "no retrainer configured"
	case h.RetrainFailed:
		return "last retrain failed: " + h.LastRetrainError
	default:
		return "retrainer configured"
	}
}

// Incidents lists incidents, oldest first. Zero severity lists all.
func (c *Core) Incidents(sev Severity) []Incident {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incidents.list(sev)
}

// ResolveIncident marks an incident resolved.
func (c *Core) ResolveIncident(ctx context.Context, id uint64) error {
	c.mu.Lock()
	ok := c.incidents.resolve(id, c.now())
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrIncidentNotFound, id)
	}
	c.logger.Info(ctx, "incident resolved", zap.Uint64("incident.id", id))
	c.refreshGauges()
	return nil
}

// Audit returns retained decisions with Seq >= since, and how many in that
// range were evicted.
func (c *Core) Audit(since uint64) ([]orchestrator.Decision, uint64) {
	return c.orch.Audit().Since(since)
}

// Authorizations returns the most recent gate verdicts.
func (c *Core) Authorizations(n int) []deployment.Authorization {
	return c.deploy.Authorizations(n)
}

// PhaseHistory returns every phase transition, oldest first.
func (c *Core) PhaseHistory() []deployment.Transition { return c.deploy.History() }

// SetPhase moves to a phase by operator request.
func (c *Core) SetPhase(ctx context.Context, to deployment.Phase, reason string) (deployment.Transition, error) {
	return c.deploy.SetPhase(ctx, to, c.redact(ctx, "reason", reason))
}

// SetAutoTransitions toggles automatic advance and rollback.
func (c *Core) SetAutoTransitions(ctx context.Context, advance, rollback bool) {
	c.deploy.SetAuto(advance, rollback)
	c.logger.Info(ctx, "automatic transitions changed", zap.Bool("advance", advance), zap.Bool("rollback", rollback))
}

// PostRecommendation delivers a recommendation to its agent's mailbox for
// the next cycle.
func (c *Core) PostRecommendation(ctx context.Context, rec agent.Recommendation) error {
	mb, ok := c.mailboxes[rec.Agent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoMailbox, rec.Agent)
	}
	rec.Explanation = c.redact(ctx, "explanation", rec.Explanation)
	if err := mb.Post(rec); err != nil {
		return err
	}
	c.logger.Debug(ctx, "recommendation posted", zap.Stringer("recommendation", rec))
	return nil
}
