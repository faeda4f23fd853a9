package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	cycleKey   struct{}
	agentKey   struct{}
	requestKey struct{}
)

// maxRequestID bounds client-supplied request ids.
const maxRequestID = 64

// WithCycleID tags ctx with a decision cycle. Zero is ignored since cycles
// are numbered from one.
func WithCycleID(ctx context.Context, id uint64) context.Context {
	if id == 0 {
		return ctx
	}
	return context.WithValue(ctx, cycleKey{}, id)
}

// CycleIDFromContext returns the cycle set by WithCycleID.
func CycleIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(cycleKey{}).(uint64)
	return id, ok
}

// WithAgent tags ctx with the agent a log line is about.
func WithAgent(ctx context.Context, agent string) context.Context {
	if agent == "" {
		return ctx
	}
	return context.WithValue(ctx, agentKey{}, agent)
}

// AgentFromContext returns the agent set by WithAgent, or "".
func AgentFromContext(ctx context.Context) string {
	a, _ := ctx.Value(agentKey{}).(string)
	return a
}

// WithRequestID tags ctx with an HTTP request id. Ids that are empty, too
// long or contain anything but [A-Za-z0-9_-] are dropped since they may come
// straight from a client header.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validRequestID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	r, _ := ctx.Value(requestKey{}).(string)
	return r
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestID {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// ContextFields returns the correlation fields carried by ctx: trace and
// span ids from OpenTelemetry, then cycle, agent and request.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := CycleIDFromContext(ctx); ok {
		fields = append(fields, zap.Uint64("cycle.id", id))
	}
	if a := AgentFromContext(ctx); a != "" {
		fields = append(fields, zap.String("agent", a))
	}
	if r := RequestIDFromContext(ctx); r != "" {
		fields = append(fields, zap.String("request.id", r))
	}
	return fields
}
