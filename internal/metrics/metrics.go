// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "govcore"

// Metrics holds the governance collectors. A nil *Metrics is valid and
// records nothing.
//
// Metrics:
//   - govcore_decisions_total{kind} - coordinated decisions by kind
//   - govcore_safety_overrides_total - crash predictor overrides
//   - govcore_cycle_duration_seconds - decision latency per cycle
//   - govcore_agent_abstentions_total{agent,reason} - abstentions and timeouts
//   - govcore_authorizations_total{phase,outcome} - gate results
//   - govcore_phase - current phase, 1=A .. 4=D
//   - govcore_drift_level - 0 normal, 1 warning, 2 critical
//   - govcore_rolling_accuracy - drift window accuracy
//   - govcore_versions{state} - adapter versions, live or collected
//   - govcore_safety_score - 0 to 100
//   - govcore_pending_approvals - escalations awaiting a human
type Metrics struct {
	DecisionsTotal      *prometheus.CounterVec
	OverridesTotal      prometheus.Counter
	CycleDuration       prometheus.Histogram
	AbstentionsTotal    *prometheus.CounterVec
	AuthorizationsTotal *prometheus.CounterVec

	Phase            prometheus.Gauge
	DriftLevel       prometheus.Gauge
	RollingAccuracy  prometheus.Gauge
	Versions         *prometheus.GaugeVec
	SafetyScore      prometheus.Gauge
	PendingApprovals prometheus.Gauge
}

// New registers the collectors with reg. Use a fresh prometheus.Registry in
// tests; prometheus.DefaultRegisterer in the daemon.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total coordinated decisions by kind",
			},
			[]string{"kind"},
		),
		OverridesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safety_overrides_total",
				Help:      "Total safety overrides issued by the crash predictor",
			},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Decision latency per cycle in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
			},
		),
		AbstentionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_abstentions_total",
				Help:      "Total agent abstentions by agent and reason",
			},
			[]string{"agent", "reason"},
		),
		AuthorizationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorizations_total",
				Help:      "Total authorization results by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "Current deployment phase, 1=A 2=B 3=C 4=D",
		}),
		DriftLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift_level",
			Help:      "Drift level, 0=normal 1=warning 2=critical",
		}),
		RollingAccuracy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rolling_accuracy",
			Help:      "Rolling prediction accuracy over the drift window",
		}),
		Versions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "versions",
			Help:      "Adapter versions by state",
		}, []string{"state"}),
		SafetyScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "safety_score",
			Help:      "Safety score from 0 to 100",
		}),
		PendingApprovals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_approvals",
			Help:      "Escalations waiting for a human decision",
		}),
	}
}

// RecordDecision records one cycle's decision.
func (m *Metrics) RecordDecision(kind string, latency time.Duration, override bool) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(kind).Inc()
	m.CycleDuration.Observe(latency.Seconds())
	if override {
		m.OverridesTotal.Inc()
	}
}

// RecordAbstention records an agent that did not answer usefully.
func (m *Metrics) RecordAbstention(agent string, timeout bool) {
	if m == nil {
		return
	}
	reason := "abstain"
	if timeout {
		reason = "timeout"
	}
	m.AbstentionsTotal.WithLabelValues(agent, reason).Inc()
}

// RecordAuthorization records a gate verdict.
func (m *Metrics) RecordAuthorization(phase string, authorized bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if authorized {
		outcome = "authorized"
	}
	m.AuthorizationsTotal.WithLabelValues(phase, outcome).Inc()
}

// SetPhase sets the phase gauge.
func (m *Metrics) SetPhase(p int) {
	if m == nil {
		return
	}
	m.Phase.Set(float64(p))
}

// SetDrift sets the drift gauges.
func (m *Metrics) SetDrift(level int, rolling float64) {
	if m == nil {
		return
	}
	m.DriftLevel.Set(float64(level))
	m.RollingAccuracy.Set(rolling)
}

// SetVersions sets the version gauges.
func (m *Metrics) SetVersions(live, total int) {
	if m == nil {
		return
	}
	m.Versions.WithLabelValues("live").Set(float64(live))
	m.Versions.WithLabelValues("collected").Set(float64(total - live))
}

// SetSafetyScore sets the safety score gauge.
func (m *Metrics) SetSafetyScore(score int) {
	if m == nil {
		return
	}
	m.SafetyScore.Set(float64(score))
}

// SetPendingApprovals sets the approval queue gauge.
func (m *Metrics) SetPendingApprovals(n int) {
	if m == nil {
		return
	}
	m.PendingApprovals.Set(float64(n))
}
