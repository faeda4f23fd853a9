package governance

import (
	"context"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// Command is an authorized action handed to the executor.
type Command struct {
	CycleID     uint64            `json:"cycle_id"`
	DecisionSeq uint64            `json:"decision_seq"`
	Kind        orchestrator.Kind `json:"kind"`
	Action      agent.Action      `json:"action"`
	Confidence  int               `json:"confidence"`
	Manual      bool              `json:"manual"`
	ApprovalID  string            `json:"approval_id,omitempty"`
	Reason      string            `json:"reason"`
}

// Executor applies authorized actions on the kernel side.
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// RetrainResult is a freshly trained artifact with its measured metadata.
type RetrainResult struct {
	Artifact []byte              `json:"artifact"`
	Metadata versionctl.Metadata `json:"metadata"`
}

// Retrainer is the fine-tuning collaborator invoked on Critical drift.
type Retrainer interface {
	Retrain(ctx context.Context, req drift.Request) (RetrainResult, error)
}

// RetrainerFunc adapts a function to Retrainer.
type RetrainerFunc func(ctx context.Context, req drift.Request) (RetrainResult, error)

// Retrain calls f.
func (f RetrainerFunc) Retrain(ctx context.Context, req drift.Request) (RetrainResult, error) {
	return f(ctx, req)
}

// Event topics.
const (
	TopicDecision = "decision"
	TopicPhase    = "phase"
	TopicDrift    = "drift"
	TopicVersion  = "version"
	TopicIncident = "incident"
	TopicApproval = "approval"
)

// Publisher fans governance events out to observers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// Redactor strips credentials from free text and reports how many it
// removed.
type Redactor interface {
	Redact(text string) (string, int)
}

type nopRedactor struct{}

func (nopRedactor) Redact(text string) (string, int) { return text, 0 }

// SnapshotSource supplies the metrics snapshot for each timer-driven cycle.
type SnapshotSource func(ctx context.Context) map[string]float64
