// Package agent defines the agents that feed the governance core, the
// actions they may recommend, and the adapters used to collect their
// recommendations once per decision cycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ID identifies one of the fixed set of recommending agents.
type ID uint8

const (
	// CrashPredictor watches for imminent failures. Highest priority.
	CrashPredictor ID = iota + 1
	// StateInference models overall system state.
	StateInference
	// TransformerScheduler tunes scheduling weights.
	TransformerScheduler
	// FineTuner proposes model retraining.
	FineTuner
	// Metrics reports aggregate health.
	Metrics
)

// MaxConfidence is the upper bound of the confidence scale.
const MaxConfidence = 1000

var (
	// ErrAbstain is returned by an adapter that has nothing to recommend this cycle.
	ErrAbstain = errors.New("agent abstained")

	// ErrUnknownAgent is returned for an ID outside the closed set.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidConfidence is returned when a confidence is outside [0, 1000].
	ErrInvalidConfidence = errors.New("confidence out of range")
)

var basePriorities = map[ID]int{
	CrashPredictor:       100,
	StateInference:       80,
	TransformerScheduler: 60,
	FineTuner:            40,
	Metrics:              20,
}

var idNames = map[ID]string{
	CrashPredictor:       "crash_predictor",
	StateInference:       "state_inference",
	TransformerScheduler: "transformer_scheduler",
	FineTuner:            "fine_tuner",
	Metrics:              "metrics",
}

// AllIDs returns every agent ordered by descending base priority.
func AllIDs() []ID {
	return []ID{CrashPredictor, StateInference, TransformerScheduler, FineTuner, Metrics}
}

// BasePriority returns the fixed priority of the agent, or 0 if unknown.
func (id ID) BasePriority() int {
	return basePriorities[id]
}

// Valid reports whether id is one of the known agents.
func (id ID) Valid() bool {
	_, ok := basePriorities[id]
	return ok
}

func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return fmt.Sprintf("agent(%d)", uint8(id))
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAgent, uint8(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses an agent name such as "crash_predictor".
func ParseID(s string) (ID, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for id, name := range idNames {
		if name == norm {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAgent, s)
}

// Snapshot is the read-only system state handed to every adapter in a cycle.
type Snapshot struct {
	CycleID uint64             `json:"cycle_id"`
	Taken   time.Time          `json:"taken"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Adapter produces recommendations for one agent.
//
// Propose must return promptly; the poller treats a late answer as an
// abstention. Returning ErrAbstain means the agent has no opinion.
type Adapter interface {
	ID() ID
	Priority() int
	Propose(ctx context.Context, snap Snapshot) (Recommendation, error)
}
