package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger_Records(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithCycleID(context.Background(), 9)

	tl.Debug(ctx, "agent abstained", zap.String("agent", "anomaly"))
	tl.Info(ctx, "decision executed",
		zap.String("action", "throttle"),
		zap.Int("votes", 3),
		zap.Duration("latency", 2*time.Millisecond),
	)

	assert.Equal(t, []string{"agent abstained", "decision executed"}, tl.Messages())
	assert.Len(t, tl.All(), 2)
	tl.AssertLogged(t, zapcore.DebugLevel, "abstained")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "decision")
	tl.AssertField(t, "decision executed", "action", "throttle")
	tl.AssertField(t, "decision executed", "votes", int64(3))
	tl.AssertField(t, "decision executed", "latency", 2*time.Millisecond)
	tl.AssertField(t, "decision executed", "cycle.id", uint64(9))
}

func TestTestLogger_AssertionsFail(t *testing.T) {
	tl := NewTestLogger()
	tl.Warn(context.Background(), "approval expired", zap.String("id", "a-1"))

	probe := &failProbe{TB: t}
	tl.AssertLogged(probe, zapcore.ErrorLevel, "approval expired")
	assert.True(t, probe.failed, "wrong level")

	probe = &failProbe{TB: t}
	tl.AssertNotLogged(probe, zapcore.WarnLevel, "expired")
	assert.True(t, probe.failed)

	probe = &failProbe{TB: t}
	tl.AssertField(probe, "approval expired", "id", "a-2")
	assert.True(t, probe.failed)
}

// failProbe records Errorf instead of failing the enclosing test.
type failProbe struct {
	testing.TB
	failed bool
}

func (p *failProbe) Helper()               {}
func (p *failProbe) Errorf(string, ...any) { p.failed = true }
