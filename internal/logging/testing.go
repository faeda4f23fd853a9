package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry at debug and above for assertions.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns an unsampled, unredacted recording logger.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(zapcore.DebugLevel)
	return &TestLogger{Logger: &Logger{z: zap.New(core)}, logs: logs}
}

// All returns the recorded entries in order.
func (t *TestLogger) All() []observer.LoggedEntry { return t.logs.All() }

// Messages returns the recorded messages in order.
func (t *TestLogger) Messages() []string {
	entries := t.logs.All()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func (t *TestLogger) find(level zapcore.Level, substr string) (observer.LoggedEntry, bool) {
	for _, e := range t.logs.All() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return observer.LoggedEntry{}, false
}

// AssertLogged fails tb unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if _, ok := t.find(level, substr); !ok {
		tb.Errorf("no %s entry containing %q; got %q", level, substr, t.Messages())
	}
}

// AssertNotLogged fails tb if an entry at level contains substr.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if e, ok := t.find(level, substr); ok {
		tb.Errorf("unexpected %s entry %q", level, e.Message)
	}
}

// AssertField fails tb unless an entry with message msg carries key=want.
// want is compared against the field's decoded value, so an int field
// matches int64(…) and a Uint64 field matches uint64(…).
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.logs.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}
