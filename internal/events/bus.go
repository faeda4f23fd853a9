// Package events carries governance traffic over NATS: outbound event
// fan-out, inbound recommendations and drift observations, and the
// request/reply calls to the retrainer and the kernel-side executor.
//
// Subjects are rooted at a configurable prefix (default "govcore"):
//
//	govcore.<topic>              governance events (decision, phase, drift, ...)
//	govcore.recommend.<agent>    recommendations for an agent mailbox
//	govcore.observe              drift observations
//	govcore.snapshot             system metrics for the next cycle
//	govcore.retrain              retrain requests (request/reply)
//	govcore.execute              authorized commands (request/reply)
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/govcore/internal/events"

// DefaultPrefix roots every subject.
const DefaultPrefix = "govcore"

// Header names set on outbound messages.
const (
	HeaderCycleID = "Govcore-Cycle-Id"
	HeaderTopic   = "Govcore-Topic"
)

var (
	// ErrNotConnected is returned when the connection is closed.
	ErrNotConnected = errors.New("events: not connected")
	// ErrRemote wraps an error reported by the responder of a request.
	ErrRemote = errors.New("events: remote error")
)

// Bus publishes governance events on NATS. It implements the governance
// Publisher port.
type Bus struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithPrefix overrides the subject prefix.
func WithPrefix(p string) Option {
	return func(b *Bus) {
		if p != "" {
			b.prefix = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus wraps an established connection.
func NewBus(nc *nats.Conn, opts ...Option) *Bus {
	b := &Bus{nc: nc, prefix: DefaultPrefix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subject returns the full subject for a relative one.
func (b *Bus) Subject(rel string) string { return b.prefix + "." + rel }

// Conn returns the underlying connection.
func (b *Bus) Conn() *nats.Conn { return b.nc }

// Publish encodes payload as JSON and publishes it on <prefix>.<topic>.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	msg, err := b.newMsg(ctx, b.Subject(topic), payload)
	if err != nil {
		return err
	}
	msg.Header.Set(HeaderTopic, topic)
	if err := b.nc.PublishMsg(msg); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return fmt.Errorf("publishing %s: %w", msg.Subject, err)
	}
	return nil
}

// Flush blocks until the server has processed everything published so far.
func (b *Bus) Flush(timeout time.Duration) error {
	return b.nc.FlushTimeout(timeout)
}

func (b *Bus) newMsg(ctx context.Context, subject string, payload any) (*nats.Msg, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id, ok := logging.CycleIDFromContext(ctx); ok {
		msg.Header.Set(HeaderCycleID, strconv.FormatUint(id, 10))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
	return msg, nil
}

// request sends a JSON request and decodes the JSON reply into out.
func (b *Bus) request(ctx context.Context, rel string, timeout time.Duration, in, out any) error {
	subject := b.Subject(rel)
	msg, err := b.newMsg(ctx, subject, in)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	reply, err := b.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", subject, err)
	}
	if err := json.Unmarshal(reply.Data, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", subject, err)
	}
	return nil
}

// extract rebuilds a context from inbound message headers.
func extract(parent context.Context, msg *nats.Msg) context.Context {
	if msg.Header == nil {
		return parent
	}
	ctx := otel.GetTextMapPropagator().Extract(parent, propagation.HeaderCarrier(http.Header(msg.Header)))
	if v := msg.Header.Get(HeaderCycleID); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			ctx = logging.WithCycleID(ctx, id)
		}
	}
	return ctx
}
