package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/governance"
)

// Default request timeouts.
const (
	DefaultRetrainTimeout = 10 * time.Minute
	DefaultExecuteTimeout = 2 * time.Second
)

// RetrainReply is what a fine-tuning worker answers on govcore.retrain.
type RetrainReply struct {
	governance.RetrainResult
	Error string `json:"error,omitempty"`
}

// Retrainer calls a remote fine-tuning worker over request/reply.
type Retrainer struct {
	bus     *Bus
	timeout time.Duration
}

// NewRetrainer returns a Retrainer. A zero timeout uses DefaultRetrainTimeout.
func NewRetrainer(bus *Bus, timeout time.Duration) *Retrainer {
	if timeout <= 0 {
		timeout = DefaultRetrainTimeout
	}
	return &Retrainer{bus: bus, timeout: timeout}
}

// Retrain implements governance.Retrainer.
func (r *Retrainer) Retrain(ctx context.Context, req drift.Request) (governance.RetrainResult, error) {
	var reply RetrainReply
	if err := r.bus.request(ctx, "retrain", r.timeout, req, &reply); err != nil {
		return governance.RetrainResult{}, err
	}
	if reply.Error != "" {
		return governance.RetrainResult{}, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
	}
	if len(reply.Artifact) == 0 {
		return governance.RetrainResult{}, errors.New("retrain reply carried no artifact")
	}
	return reply.RetrainResult, nil
}

// Executor hands authorized commands to the kernel side and waits for its
// acknowledgement.
type Executor struct {
	bus     *Bus
	timeout time.Duration
}

// NewExecutor returns an Executor. A zero timeout uses DefaultExecuteTimeout.
func NewExecutor(bus *Bus, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	return &Executor{bus: bus, timeout: timeout}
}

// Execute implements governance.Executor.
func (e *Executor) Execute(ctx context.Context, cmd governance.Command) error {
	var ack Ack
	if err := e.bus.request(ctx, "execute", e.timeout, cmd, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrRemote, ack.Error)
	}
	return nil
}
