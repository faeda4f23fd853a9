package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// instrumentationName scopes records sent to the OTel logger provider.
const instrumentationName = "github.com/fyrsmithlabs/govcore"

// Logger is safe for concurrent use. With and Named return independent
// children.
type Logger struct {
	z *zap.Logger
}

// Option adjusts NewLogger.
type Option func(*options)

type options struct {
	stdout io.Writer
}

// WithWriter replaces os.Stdout as the stdout sink.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// NewLogger builds a logger from cfg. provider may be nil, in which case
// the OTel output is skipped even when enabled.
func NewLogger(cfg *Config, provider log.LoggerProvider, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	o := options{stdout: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	lvl, _ := cfg.level()

	var sinks []zapcore.Core
	if cfg.Output.Stdout {
		enc, err := newRedactingEncoder(encoderFor(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.NewCore(enc, zapcore.AddSync(o.stdout), lvl))
	}
	if cfg.Output.OTEL && provider != nil {
		sinks = append(sinks, &levelBand{
			Core: otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(provider)),
			min:  lvl,
			max:  zapcore.FatalLevel,
		})
	}
	if len(sinks) == 0 {
		return nil, errors.New("no log output available")
	}

	core := sample(zapcore.NewTee(sinks...), cfg.Sampling)
	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		// Info/Warn/... and write sit between the caller and zap.
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	z := zap.New(core, zopts...)

	if len(cfg.Fields) > 0 {
		keys := make([]string, 0, len(cfg.Fields))
		for k := range cfg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]zap.Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, zap.String(k, cfg.Fields[k]))
		}
		z = z.With(fields...)
	}
	return &Logger{z: z}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

// FromZap wraps z. nil yields NewNop.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNop()
	}
	return &Logger{z: z}
}

func encoderFor(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.ErrorLevel, msg, fields)
}

// write skips building context fields when the level is off.
func (l *Logger) write(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	ce := l.z.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(append(ContextFields(ctx), fields...)...)
}

// With returns a child carrying fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger { return &Logger{z: l.z.With(fields...)} }

// Named returns a child whose logger name gains a dot-separated segment.
func (l *Logger) Named(name string) *Logger { return &Logger{z: l.z.Named(name)} }

// Enabled reports whether lvl would be written.
func (l *Logger) Enabled(lvl zapcore.Level) bool { return l.z.Core().Enabled(lvl) }

// Underlying exposes the zap logger for libraries that want one.
func (l *Logger) Underlying() *zap.Logger { return l.z }

// Sync flushes buffered entries. EINVAL and ENOTTY from syncing a terminal
// or pipe are ignored.
func (l *Logger) Sync() error {
	err := l.z.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

// sample applies cfg below error level only.
func sample(core zapcore.Core, cfg Sampling) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	low := zapcore.NewSamplerWithOptions(
		&levelBand{Core: core, min: zapcore.DebugLevel, max: zapcore.WarnLevel},
		cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter,
	)
	high := &levelBand{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	return zapcore.NewTee(low, high)
}

// levelBand passes entries with min <= level <= max.
type levelBand struct {
	zapcore.Core
	min, max zapcore.Level
}

func (b *levelBand) Enabled(lvl zapcore.Level) bool {
	return lvl >= b.min && lvl <= b.max && b.Core.Enabled(lvl)
}

func (b *levelBand) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !b.Enabled(e.Level) {
		return ce
	}
	return b.Core.Check(e, ce)
}

func (b *levelBand) With(fields []zapcore.Field) zapcore.Core {
	return &levelBand{Core: b.Core.With(fields), min: b.min, max: b.max}
}
