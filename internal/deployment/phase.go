// Package deployment gates autonomous actions through staged phases and
// moves between phases on evidence.
package deployment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Phase is a deployment stage. Autonomy grows from A to C; D is the
// emergency stop.
type Phase uint8

const (
	PhaseA Phase = iota + 1
	PhaseB
	PhaseC
	PhaseD
)

var (
	// ErrInvalidPhase is returned for a phase outside {A, B, C, D}.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrSamePhase is returned by a manual transition to the current phase.
	ErrSamePhase = errors.New("already in requested phase")
)

// Valid reports whether p is one of the four phases.
func (p Phase) Valid() bool {
	return p >= PhaseA && p <= PhaseD
}

func (p Phase) String() string {
	switch p {
	case PhaseA:
		return "A"
	case PhaseB:
		return "B"
	case PhaseC:
		return "C"
	case PhaseD:
		return "D"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Name returns the descriptive phase name.
func (p Phase) Name() string {
	switch p {
	case PhaseA:
		return "learning"
	case PhaseB:
		return "validation"
	case PhaseC:
		return "production"
	case PhaseD:
		return "emergency"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPhase, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase accepts "A".."D" or the descriptive names.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "learning":
		return PhaseA, nil
	case "b", "validation":
		return PhaseB, nil
	case "c", "production":
		return PhaseC, nil
	case "d", "emergency":
		return PhaseD, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPhase, s)
}

// Next returns the phase auto-advance may move to. C and D have none.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseA:
		return PhaseB, true
	case PhaseB:
		return PhaseC, true
	}
	return 0, false
}

// Previous returns the phase below p. A and D have none.
func (p Phase) Previous() (Phase, bool) {
	switch p {
	case PhaseB:
		return PhaseA, true
	case PhaseC:
		return PhaseB, true
	}
	return 0, false
}

// rollbackTarget is where a low-success rollback from p lands. Phase A
// falls to Emergency.
func (p Phase) rollbackTarget() Phase {
	if prev, ok := p.Previous(); ok {
		return prev
	}
	return PhaseD
}

// Constraints bound autonomous behaviour within a phase.
type Constraints struct {
	MaxActionsPerHour int           `json:"max_actions_per_hour"`
	MinSuccessRate    float64       `json:"min_success_rate"`
	MinUptime         time.Duration `json:"min_uptime"`
	MaxRisk           int           `json:"max_risk"`
}

var phaseConstraints = map[Phase]Constraints{
	PhaseA: {MaxActionsPerHour: 5, MinSuccessRate: 0.90, MinUptime: 48 * time.Hour, MaxRisk: 30},
	PhaseB: {MaxActionsPerHour: 20, MinSuccessRate: 0.92, MinUptime: 168 * time.Hour, MaxRisk: 60},
	PhaseC: {MaxActionsPerHour: 100, MinSuccessRate: 0.92, MaxRisk: 40},
	PhaseD: {MaxActionsPerHour: 0, MaxRisk: 10},
}

// ConstraintsFor returns the immutable constraints of p.
func ConstraintsFor(p Phase) Constraints {
	return phaseConstraints[p]
}

// advanceCriteria lists what must hold to leave a phase upward.
// MaxCriticalDrift < 0 means drift is not considered.
type advanceCriteria struct {
	MinDecisions     int
	MinSuccessRate   float64
	MinUptime        time.Duration
	MaxCriticalDrift int
}

var advanceRules = map[Phase]advanceCriteria{
	PhaseA: {MinDecisions: 1, MinSuccessRate: 0.90, MinUptime: 48 * time.Hour, MaxCriticalDrift: -1},
	PhaseB: {MinDecisions: 1, MinSuccessRate: 0.92, MinUptime: 168 * time.Hour, MaxCriticalDrift: 0},
}

// Trigger says why a transition happened.
type Trigger uint8

const (
	AutoAdvance Trigger = iota + 1
	AutoRollback
	Manual
)

func (t Trigger) String() string {
	switch t {
	case AutoAdvance:
		return "auto_advance"
	case AutoRollback:
		return "auto_rollback"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Trigger) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Trigger) UnmarshalText(text []byte) error {
	for _, c := range []Trigger{AutoAdvance, AutoRollback, Manual} {
		if c.String() == string(text) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown trigger %q", text)
}

// Transition records one phase change with the evidence at the time.
type Transition struct {
	From        Phase         `json:"from"`
	To          Phase         `json:"to"`
	Trigger     Trigger       `json:"trigger"`
	Reason      string        `json:"reason"`
	At          time.Time     `json:"at"`
	Decisions   int           `json:"decisions"`
	SuccessRate float64       `json:"success_rate"`
	Uptime      time.Duration `json:"uptime"`
}
