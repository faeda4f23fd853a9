package http

import (
	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/governance"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
	"github.com/fyrsmithlabs/govcore/internal/telemetry"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Health    governance.Health `json:"health"`
	Telemetry *telemetry.Health `json:"telemetry,omitempty"`
}

// AuditResponse is the body of GET /api/v1/audit.
type AuditResponse struct {
	Decisions []orchestrator.Decision `json:"decisions"`
	// Evicted counts decisions in the requested range that fell out of the
	// retention window.
	Evicted uint64 `json:"evicted"`
}

// NoteRequest carries an operator note for approvals.
type NoteRequest struct {
	Note string `json:"note"`
}

// PhaseRequest is the body of POST /api/v1/phase.
type PhaseRequest struct {
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
}

// AutoRequest is the body of POST /api/v1/phase/auto.
type AutoRequest struct {
	Advance  bool `json:"advance"`
	Rollback bool `json:"rollback"`
}

// QueryModeRequest is the body of POST /api/v1/query-mode.
type QueryModeRequest struct {
	Enabled bool `json:"enabled"`
}

// CycleRequest is the body of POST /api/v1/cycle.
type CycleRequest struct {
	Metrics map[string]float64 `json:"metrics"`
}

// RecommendationRequest is the body of POST /api/v1/recommendations.
type RecommendationRequest struct {
	Agent       agent.ID     `json:"agent"`
	Action      agent.Action `json:"action"`
	Confidence  int          `json:"confidence"`
	Explanation string       `json:"explanation,omitempty"`
}

// ObservationRequest is the body of POST /api/v1/observations. Outcomes
// are applied in order.
type ObservationRequest struct {
	Outcomes []bool `json:"outcomes"`
}

// ObservationResponse reports drift after the last outcome.
type ObservationResponse struct {
	Applied int         `json:"applied"`
	Drift   drift.State `json:"drift"`
}

// RetrainResponse is the body of POST /api/v1/retrain.
type RetrainResponse struct {
	Issued bool `json:"issued"`
}

// CommitRequest is the body of POST /api/v1/versions. Artifact is base64 in
// JSON.
type CommitRequest struct {
	Artifact []byte              `json:"artifact"`
	Metadata versionctl.Metadata `json:"metadata"`
}

// TagRequest is the body of POST /api/v1/versions/tag.
type TagRequest struct {
	ID    versionctl.ID `json:"id"`
	Label string        `json:"label"`
}

// RollbackRequest is the body of POST /api/v1/versions/rollback.
type RollbackRequest struct {
	ID versionctl.ID `json:"id"`
}

// GCRequest is the body of POST /api/v1/versions/gc. Before, when set,
// collects below a watermark instead of keeping the newest KeepLast.
type GCRequest struct {
	KeepLast int           `json:"keep_last"`
	Before   versionctl.ID `json:"before,omitempty"`
}

// TransitionResponse wraps a phase transition.
type TransitionResponse struct {
	Transition deployment.Transition `json:"transition"`
}
