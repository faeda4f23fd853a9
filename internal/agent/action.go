package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionKind enumerates the mutations an agent may recommend.
type ActionKind uint8

const (
	NoAction ActionKind = iota
	ContinueNormal
	CompactMemory
	PreventiveCompaction
	IncreasePriority
	DecreasePriority
	ScaleSchedulingWeight
	TriggerRetraining
	Stop
	Halt
)

var kindNames = []string{
	NoAction:              "no_action",
	ContinueNormal:        "continue_normal",
	CompactMemory:         "compact_memory",
	PreventiveCompaction:  "preventive_compaction",
	IncreasePriority:      "increase_priority",
	DecreasePriority:      "decrease_priority",
	ScaleSchedulingWeight: "scale_scheduling_weight",
	TriggerRetraining:     "trigger_retraining",
	Stop:                  "stop",
	Halt:                  "halt",
}

func (k ActionKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// ParseActionKind parses a kind name such as "compact_memory".
func ParseActionKind(s string) (ActionKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == norm {
			return ActionKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Resource is a bounded system resource an action mutates.
type Resource uint8

const (
	ResourceNone Resource = iota
	ResourceMemory
	ResourceCPU
	ResourceModel
	ResourceSystem
)

func (r Resource) String() string {
	switch r {
	case ResourceMemory:
		return "memory"
	case ResourceCPU:
		return "cpu"
	case ResourceModel:
		return "model"
	case ResourceSystem:
		return "system"
	default:
		return "none"
	}
}

// ParseResource parses a resource name; the empty string is ResourceNone.
func ParseResource(s string) (Resource, error) {
	for r := ResourceNone; r <= ResourceSystem; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	if s == "" {
		return ResourceNone, nil
	}
	return ResourceNone, fmt.Errorf("unknown resource %q", s)
}

// Effect describes how an action touches one resource.
type Effect struct {
	Resource  Resource
	Direction int
	Exclusive bool
}

var kindEffects = map[ActionKind][]Effect{
	ContinueNormal:        {{Resource: ResourceSystem, Direction: +1}},
	CompactMemory:         {{Resource: ResourceMemory, Direction: -1, Exclusive: true}, {Resource: ResourceCPU, Direction: -1}},
	PreventiveCompaction:  {{Resource: ResourceMemory, Direction: -1, Exclusive: true}},
	IncreasePriority:      {{Resource: ResourceCPU, Direction: +1}, {Resource: ResourceSystem, Direction: +1}},
	DecreasePriority:      {{Resource: ResourceCPU, Direction: -1}},
	ScaleSchedulingWeight: {{Resource: ResourceCPU}},
	TriggerRetraining:     {{Resource: ResourceModel, Direction: +1, Exclusive: true}},
	Stop:                  {{Resource: ResourceSystem, Direction: -1, Exclusive: true}},
	Halt:                  {{Resource: ResourceSystem, Direction: -1, Exclusive: true}},
}

// Base risk on a 0-100 scale before the confidence penalty.
var kindRisk = map[ActionKind]int{
	NoAction:              0,
	ContinueNormal:        0,
	CompactMemory:         20,
	PreventiveCompaction:  10,
	IncreasePriority:      25,
	DecreasePriority:      15,
	ScaleSchedulingWeight: 15,
	TriggerRetraining:     35,
	Stop:                  5,
	Halt:                  10,
}

// Action is a recommended mutation. Param is only meaningful for
// ScaleSchedulingWeight, where it is the new weight in percent of current
// (100 = unchanged).
type Action struct {
	Kind  ActionKind `json:"kind"`
	Param int        `json:"param,omitempty"`
}

// Scale returns a ScaleSchedulingWeight action.
func Scale(percent int) Action {
	return Action{Kind: ScaleSchedulingWeight, Param: percent}
}

// Of returns a parameterless action.
func Of(kind ActionKind) Action {
	return Action{Kind: kind}
}

// Effects returns the per-resource effects of the action.
func (a Action) Effects() []Effect {
	effects := kindEffects[a.Kind]
	if a.Kind != ScaleSchedulingWeight {
		return effects
	}
	dir := 0
	switch {
	case a.Param > 100:
		dir = +1
	case a.Param < 100:
		dir = -1
	}
	return []Effect{{Resource: ResourceCPU, Direction: dir}}
}

// IsNoop reports whether executing the action changes nothing.
func (a Action) IsNoop() bool {
	return a.Kind == NoAction || a.Kind == ContinueNormal ||
		(a.Kind == ScaleSchedulingWeight && a.Param == 100)
}

// IsStop reports whether the action stops autonomous operation.
func (a Action) IsStop() bool {
	return a.Kind == Stop || a.Kind == Halt
}

// Risk returns the base risk score of the action on a 0-100 scale.
func (a Action) Risk() int {
	r := kindRisk[a.Kind]
	if a.Kind == ScaleSchedulingWeight {
		delta := a.Param - 100
		if delta < 0 {
			delta = -delta
		}
		r += delta / 2
	}
	if r > 100 {
		r = 100
	}
	return r
}

// Equal reports whether two actions are the same mutation.
func (a Action) Equal(b Action) bool {
	if a.Kind != b.Kind {
		return false
	}
	return a.Kind != ScaleSchedulingWeight || a.Param == b.Param
}

func (a Action) String() string {
	if a.Kind == ScaleSchedulingWeight {
		return fmt.Sprintf("%s(%d%%)", a.Kind, a.Param)
	}
	return a.Kind.String()
}

// MarshalJSON encodes the kind by name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string `json:"kind"`
		Param int    `json:"param,omitempty"`
	}{Kind: a.Kind.String(), Param: a.Param})
}

// UnmarshalJSON decodes an action encoded by MarshalJSON.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind  string `json:"kind"`
		Param int    `json:"param"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := ParseActionKind(raw.Kind)
	if err != nil {
		return err
	}
	a.Kind = kind
	a.Param = raw.Param
	if kind == ScaleSchedulingWeight && a.Param == 0 {
		a.Param = 100
	}
	return nil
}
