package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newBufferLogger writes JSON to a buffer with sampling off unless mutate
// turns it back on.
func newBufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Level = "debug"
	cfg.Sampling.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	l, err := NewLogger(cfg, nil, WithWriter(&buf))
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

func TestNewLogger_WritesJSONWithConstantFields(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Fields["node"] = "gov-1" })

	l.Info(context.Background(), "phase advanced", zap.String("to", "B"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "phase advanced", lines[0]["msg"])
	assert.Equal(t, "govcore", lines[0]["service"])
	assert.Equal(t, "gov-1", lines[0]["node"])
	assert.Equal(t, "B", lines[0]["to"])
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
}

func TestNewLogger_LevelFilters(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Level = "warn" })
	ctx := context.Background()

	l.Debug(ctx, "agent abstained")
	l.Info(ctx, "decision executed")
	l.Warn(ctx, "approval expired")
	l.Error(ctx, "journal append failed")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "approval expired", lines[0]["msg"])
	assert.Equal(t, "journal append failed", lines[1]["msg"])
	assert.False(t, l.Enabled(zapcore.InfoLevel))
	assert.True(t, l.Enabled(zapcore.WarnLevel))
}

func TestNewLogger_CorrelationFields(t *testing.T) {
	l, buf := newBufferLogger(t, nil)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithCycleID(ctx, 42)
	ctx = WithAgent(ctx, "crash_predictor")

	l.Info(ctx, "vote recorded")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, sc.TraceID().String(), lines[0]["trace_id"])
	assert.Equal(t, sc.SpanID().String(), lines[0]["span_id"])
	assert.Equal(t, float64(42), lines[0]["cycle.id"])
	assert.Equal(t, "crash_predictor", lines[0]["agent"])
}

func TestNewLogger_SamplingSparesErrors(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) {
		c.Sampling.Enabled = true
		c.Sampling.Initial = 2
		c.Sampling.Thereafter = 0
	})
	ctx := context.Background()

	for range 10 {
		l.Info(ctx, "tick")
		l.Error(ctx, "safety violation")
	}

	var info, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "tick":
			info++
		case "safety violation":
			errs++
		}
	}
	assert.Equal(t, 2, info)
	assert.Equal(t, 10, errs)
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Format = "console"; c.Caller = false })

	l.Warn(context.Background(), "drift warning")

	assert.Contains(t, buf.String(), "drift warning")
	assert.NotContains(t, buf.String(), "{\"level\"")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "yaml", Output: Output{Stdout: true}}, nil)
	assert.ErrorContains(t, err, "invalid logging config")

	otelOnly := NewDefaultConfig()
	otelOnly.Output = Output{OTEL: true}
	_, err = NewLogger(otelOnly, nil)
	assert.ErrorContains(t, err, "no log output available")
}

func TestLogger_WithAndNamed(t *testing.T) {
	l, buf := newBufferLogger(t, nil)

	child := l.Named("orchestrator").With(zap.String("mode", "query"))
	child.Info(context.Background(), "cycle complete")
	l.Info(context.Background(), "parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "orchestrator", lines[0]["logger"])
	assert.Equal(t, "query", lines[0]["mode"])
	assert.NotContains(t, lines[1], "logger")
	assert.NotContains(t, lines[1], "mode")
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error(context.Background(), "dropped")
	assert.False(t, l.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, l.Sync())
	assert.NotNil(t, l.Underlying())
}

func TestFromZap(t *testing.T) {
	assert.False(t, FromZap(nil).Enabled(zapcore.ErrorLevel))

	tl := NewTestLogger()
	FromZap(tl.Underlying()).Warn(context.Background(), "wrapped")
	tl.AssertLogged(t, zapcore.WarnLevel, "wrapped")
}
