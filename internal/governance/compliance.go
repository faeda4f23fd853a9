package governance

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
)

// Severity ranks incidents.
type Severity uint8

const (
	// SeverityCritical: autonomy caused or nearly caused harm.
	SeverityCritical Severity = iota + 1
	// SeverityError: a safety mechanism fired but the system is stable.
	SeverityError
	// SeverityWarning: degraded operation, such as rate limiting.
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	for c := SeverityCritical; c <= SeverityWarning; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// Incident categories.
const (
	IncidentWatchdog           = "watchdog"
	IncidentRateLimit          = "rate_limit"
	IncidentHardLimit          = "hard_limit"
	IncidentRetrainFailed      = "retrain_failed"
	IncidentInvariantViolation = "invariant_violation"
	IncidentExecutionFailed    = "execution_failed"
	IncidentCriticalDrift      = "critical_drift"
	IncidentRollback           = "phase_rollback"
)

// Incident is one entry of the incident log.
type Incident struct {
	ID         uint64    `json:"id"`
	At         time.Time `json:"at"`
	Severity   Severity  `json:"severity"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// DefaultIncidentCapacity bounds the incident log.
const DefaultIncidentCapacity = 100

// incidentLog must be used with Core.mu held. Counts survive eviction.
type incidentLog struct {
	cap     int
	entries []Incident
	next    uint64
	counts  map[Severity]uint64
	byKind  map[string]uint64
}

func newIncidentLog(capacity int) *incidentLog {
	if capacity <= 0 {
		capacity = DefaultIncidentCapacity
	}
	return &incidentLog{
		cap:    capacity,
		next:   1,
		counts: make(map[Severity]uint64),
		byKind: make(map[string]uint64),
	}
}

func (l *incidentLog) add(at time.Time, sev Severity, kind, detail string) Incident {
	inc := Incident{ID: l.next, At: at, Severity: sev, Kind: kind, Detail: detail}
	l.next++
	l.counts[sev]++
	l.byKind[kind]++
	if len(l.entries) == l.cap {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.cap-1]
	}
	l.entries = append(l.entries, inc)
	return inc
}

func (l *incidentLog) resolve(id uint64, at time.Time) bool {
	for i := range l.entries {
		if l.entries[i].ID == id {
			if !l.entries[i].Resolved {
				l.entries[i].Resolved = true
				l.entries[i].ResolvedAt = at
			}
			return true
		}
	}
	return false
}

func (l *incidentLog) list(sev Severity) []Incident {
	out := make([]Incident, 0, len(l.entries))
	for _, inc := range l.entries {
		if sev == 0 || inc.Severity == sev {
			out = append(out, inc)
		}
	}
	return out
}

// critical counts Critical incidents other than hard-limit violations,
// which the safety score weighs on their own.
func (l *incidentLog) critical() uint64 {
	return l.counts[SeverityCritical] - l.byKind[IncidentHardLimit]
}

func (l *incidentLog) resolved() int {
	n := 0
	for _, inc := range l.entries {
		if inc.Resolved {
			n++
		}
	}
	return n
}

// SafetyInputs are the counters behind the safety score.
type SafetyInputs struct {
	HardLimitViolations uint64 `json:"hard_limit_violations"`
	CriticalIncidents   uint64 `json:"critical_incidents"`
	WatchdogTriggers    uint64 `json:"watchdog_triggers"`
	RateLimitHits       uint64 `json:"rate_limit_hits"`
}

// SafetyScore is 100 minus 50 per hard-limit violation, 30 per critical
// incident, 5 per watchdog trigger (at most 50) and 1 per rate-limit hit (at
// most 20), clamped to [0, 100].
func SafetyScore(in SafetyInputs) int {
	score := 100
	score -= 50 * clampCount(in.HardLimitViolations, 3)
	score -= 30 * clampCount(in.CriticalIncidents, 4)
	score -= min(50, 5*clampCount(in.WatchdogTriggers, 10))
	score -= min(20, clampCount(in.RateLimitHits, 20))
	return max(0, min(100, score))
}

func clampCount(n uint64, limit int) int {
	if n > uint64(limit) {
		return limit
	}
	return int(n)
}

// ChecklistItem is one pre-deployment safety check. Critical items gate
// production readiness.
type ChecklistItem struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
}

// Checklist is the safety checklist evaluated against live state.
type Checklist struct {
	Items           []ChecklistItem `json:"items"`
	Completion      int             `json:"completion_percent"`
	ProductionReady bool            `json:"production_ready"`
}

func newChecklist(items []ChecklistItem) Checklist {
	c := Checklist{Items: items, ProductionReady: true}
	passed := 0
	for _, it := range items {
		if it.Passed {
			passed++
		} else if it.Critical {
			c.ProductionReady = false
		}
	}
	if len(items) > 0 {
		c.Completion = passed * 100 / len(items)
	}
	return c
}

// Transparency is the periodic report of autonomous operation.
type Transparency struct {
	From              time.Time         `json:"from"`
	To                time.Time         `json:"to"`
	Uptime            time.Duration     `json:"uptime"`
	Phase             deployment.Phase  `json:"phase"`
	TotalDecisions    uint64            `json:"total_decisions"`
	DecisionsByKind   map[string]uint64 `json:"decisions_by_kind"`
	AutonomousActions uint64            `json:"autonomous_actions"`
	ManualActions     uint64            `json:"manual_actions"`
	AutonomousPercent int               `json:"autonomous_percent"`
	Escalations       uint64            `json:"escalations"`
	SafetyScore       int               `json:"safety_score"`
	Safety            SafetyInputs      `json:"safety"`
	IncidentsOpen     int               `json:"incidents_open"`
	IncidentsResolved int               `json:"incidents_resolved"`
	Drift             drift.State       `json:"drift"`
	VersionsCommitted int               `json:"versions_committed"`
	PhaseRollbacks    int               `json:"phase_rollbacks"`
	RetrainFailed     bool              `json:"retrain_failed"`
	MeanCycleLatency  time.Duration     `json:"mean_cycle_latency"`
	P99CycleLatency   time.Duration     `json:"p99_cycle_latency"`
}
