package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWithCycleID(t *testing.T) {
	ctx := context.Background()

	_, ok := CycleIDFromContext(WithCycleID(ctx, 0))
	assert.False(t, ok, "cycle zero is not tagged")

	id, ok := CycleIDFromContext(WithCycleID(ctx, 7))
	assert.True(t, ok)
	assert.Equal(t, uint64(7), id)
}

func TestWithAgent(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, AgentFromContext(WithAgent(ctx, "")))
	assert.Equal(t, "safety", AgentFromContext(WithAgent(ctx, "safety")))
}

func TestWithRequestID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"uuid", "3f1c9d2e-77aa-4d41-9d0b-0c5f1f0c9a11", "3f1c9d2e-77aa-4d41-9d0b-0c5f1f0c9a11"},
		{"underscore", "req_1", "req_1"},
		{"empty", "", ""},
		{"newline injection", "abc\n{\"level\":\"error\"}", ""},
		{"space", "a b", ""},
		{"too long", strings.Repeat("a", maxRequestID+1), ""},
		{"max length", strings.Repeat("a", maxRequestID), strings.Repeat("a", maxRequestID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithRequestID(context.Background(), tt.id)
			assert.Equal(t, tt.want, RequestIDFromContext(ctx))
		})
	}
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := WithRequestID(WithAgent(WithCycleID(context.Background(), 3), "metrics"), "r-1")
	assert.Equal(t, []zap.Field{
		zap.Uint64("cycle.id", 3),
		zap.String("agent", "metrics"),
		zap.String("request.id", "r-1"),
	}, ContextFields(ctx))
}
