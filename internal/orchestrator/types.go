package orchestrator

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/conflict"
)

// Kind is how a coordinated decision was reached.
type Kind uint8

const (
	Unanimous Kind = iota + 1
	Majority
	SafetyOverride
	NoConsensus
)

func (k Kind) String() string {
	switch k {
	case Unanimous:
		return "unanimous"
	case Majority:
		return "majority"
	case SafetyOverride:
		return "safety_override"
	case NoConsensus:
		return "no_consensus"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, c := range []Kind{Unanimous, Majority, SafetyOverride, NoConsensus} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown decision kind %q", text)
}

// Decision is the single coordinated outcome of one cycle.
//
// Overridden holds every recommendation that did not shape Action, so
// losing and overruled inputs stay visible in the audit log.
type Decision struct {
	Seq          uint64                 `json:"seq"`
	CycleID      uint64                 `json:"cycle_id"`
	Kind         Kind                   `json:"kind"`
	Action       agent.Action           `json:"action"`
	Confidence   int                    `json:"confidence"`
	Contributing []agent.ID             `json:"contributing,omitempty"`
	Overridden   []agent.Recommendation `json:"overridden,omitempty"`
	Inputs       []agent.Recommendation `json:"inputs,omitempty"`
	Resolutions  []conflict.Resolution  `json:"resolutions,omitempty"`
	Escalated    bool                   `json:"escalated"`
	Explanation  string                 `json:"explanation"`
	Latency      time.Duration          `json:"latency"`
	OverBudget   bool                   `json:"over_budget,omitempty"`
	At           time.Time              `json:"at"`
}

// Actionable reports whether the decision proposes a real mutation.
func (d Decision) Actionable() bool {
	return d.Kind != NoConsensus && !d.Action.IsNoop()
}

// Escalations returns the resolutions that need a human.
func (d Decision) Escalations() []conflict.Resolution {
	var out []conflict.Resolution
	for _, r := range d.Resolutions {
		if r.Blocking() {
			out = append(out, r)
		}
	}
	return out
}

// Stats are cumulative orchestrator counters.
type Stats struct {
	Total           uint64        `json:"total"`
	Unanimous       uint64        `json:"unanimous"`
	Majority        uint64        `json:"majority"`
	SafetyOverrides uint64        `json:"safety_overrides"`
	NoConsensus     uint64        `json:"no_consensus"`
	Escalations     uint64        `json:"escalations"`
	Duplicates      uint64        `json:"duplicates"`
	BudgetOverruns  uint64        `json:"budget_overruns"`
	MeanLatency     time.Duration `json:"mean_latency"`
	OverrideLatency time.Duration `json:"override_latency"`
	P99Latency      time.Duration `json:"p99_latency"`
	AuditEvicted    uint64        `json:"audit_evicted"`
}
