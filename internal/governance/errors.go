package governance

import (
	"errors"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// Error taxonomy. Only ErrInvariantViolation is fatal to a cycle; it forces
// Phase D. Authorization denials are verdicts, not errors.
var (
	// ErrAgentTimeout marks an agent that missed its poll budget. It is
	// recorded as an abstention.
	ErrAgentTimeout = agent.ErrTimeout

	// ErrConflictUnresolved marks a decision escalated to a human.
	ErrConflictUnresolved = errors.New("conflict unresolved, escalated to human review")

	// ErrRetrainFailed is raised when the retrainer returns an error. Drift
	// stays Critical and the health flag is set until a retrain succeeds.
	ErrRetrainFailed = errors.New("retrain failed")

	// ErrVersionNotFound is returned for rollback targets that are missing
	// or garbage collected. HEAD is unaffected.
	ErrVersionNotFound = versionctl.ErrVersionNotFound

	// ErrStorageFull is returned for commits above the artifact bound.
	ErrStorageFull = versionctl.ErrStorageFull

	// ErrInvariantViolation is returned when governance state is corrupt.
	ErrInvariantViolation = errors.New("governance invariant violated")

	// ErrApprovalNotFound is returned for unknown approval ids.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrApprovalResolved is returned when approving or rejecting twice.
	ErrApprovalResolved = errors.New("approval already resolved")

	// ErrIncidentNotFound is returned for unknown or evicted incident ids.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrNoMailbox is returned when posting to an agent driven by a custom
	// adapter.
	ErrNoMailbox = errors.New("agent has no mailbox")
)
