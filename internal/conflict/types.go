// Package conflict detects incompatible agent recommendations and resolves
// each conflict into exactly one strategy.
package conflict

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/govcore/internal/agent"
)

// Kind classifies a conflict between two recommendations.
type Kind uint8

const (
	// DirectOpposition: same resource, opposite directions.
	DirectOpposition Kind = iota + 1
	// ResourceContention: both need exclusive use of the same resource.
	ResourceContention
	// ConfidenceDisparity: same mutation, confidences beyond the margin.
	ConfidenceDisparity
)

func (k Kind) String() string {
	switch k {
	case DirectOpposition:
		return "direct_opposition"
	case ResourceContention:
		return "resource_contention"
	case ConfidenceDisparity:
		return "confidence_disparity"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for c := DirectOpposition; c <= ConfidenceDisparity; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown conflict kind %q", text)
}

// Strategy is how a conflict was resolved.
type Strategy uint8

const (
	PriorityWin Strategy = iota + 1
	Synthesis
	HumanEscalation
)

func (s Strategy) String() string {
	switch s {
	case PriorityWin:
		return "priority_win"
	case Synthesis:
		return "synthesis"
	case HumanEscalation:
		return "human_escalation"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	for c := PriorityWin; c <= HumanEscalation; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown strategy %q", text)
}

// Conflict is a pair of recommendations that cannot both be applied as-is.
type Conflict struct {
	Kind     Kind                 `json:"kind"`
	A        agent.Recommendation `json:"a"`
	B        agent.Recommendation `json:"b"`
	Resource agent.Resource       `json:"-"`
}

// Involves reports whether id is one of the two participants.
func (c Conflict) Involves(id agent.ID) bool {
	return c.A.Agent == id || c.B.Agent == id
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s on %s between %s and %s", c.Kind, c.Resource, c.A, c.B)
}

// MarshalJSON adds the resource name.
func (c Conflict) MarshalJSON() ([]byte, error) {
	type alias Conflict
	return json.Marshal(struct {
		alias
		Resource string `json:"resource"`
	}{alias: alias(c), Resource: c.Resource.String()})
}

// UnmarshalJSON decodes a conflict encoded by MarshalJSON.
func (c *Conflict) UnmarshalJSON(data []byte) error {
	type alias Conflict
	var raw struct {
		alias
		Resource string `json:"resource"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	res, err := agent.ParseResource(raw.Resource)
	if err != nil {
		return err
	}
	*c = Conflict(raw.alias)
	c.Resource = res
	return nil
}

// Resolution is the outcome of resolving one conflict. Winner is zero unless
// Strategy is PriorityWin; Action is NoAction for HumanEscalation.
type Resolution struct {
	Conflict    Conflict     `json:"conflict"`
	Strategy    Strategy     `json:"strategy"`
	Action      agent.Action `json:"action"`
	Winner      agent.ID     `json:"winner,omitempty"`
	Explanation string       `json:"explanation"`
}

// Blocking reports whether the resolution needs a human before acting.
func (r Resolution) Blocking() bool {
	return r.Strategy == HumanEscalation
}

// Stats summarizes resolver activity.
type Stats struct {
	Conflicts      uint64            `json:"conflicts"`
	ByKind         map[string]uint64 `json:"by_kind"`
	ByStrategy     map[string]uint64 `json:"by_strategy"`
	EscalationRate float64           `json:"escalation_rate"`
}
