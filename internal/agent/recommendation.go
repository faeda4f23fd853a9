package agent

import (
	"fmt"
	"time"
)

// Recommendation is one agent's proposal for the current cycle.
type Recommendation struct {
	Agent       ID        `json:"agent"`
	Action      Action    `json:"action"`
	Confidence  int       `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	Explanation string    `json:"explanation,omitempty"`
}

// Validate checks the agent and the confidence range.
func (r Recommendation) Validate() error {
	if !r.Agent.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, uint8(r.Agent))
	}
	if r.Confidence < 0 || r.Confidence > MaxConfidence {
		return fmt.Errorf("%w: %d", ErrInvalidConfidence, r.Confidence)
	}
	return nil
}

// EffectivePriority is base priority scaled by confidence, in priority points.
func (r Recommendation) EffectivePriority() float64 {
	return float64(r.Agent.BasePriority()) * float64(r.Confidence) / MaxConfidence
}

// ConfidenceFraction returns the confidence as a value in [0, 1].
func (r Recommendation) ConfidenceFraction() float64 {
	return float64(r.Confidence) / MaxConfidence
}

func (r Recommendation) String() string {
	return fmt.Sprintf("%s:%s@%d", r.Agent, r.Action, r.Confidence)
}
