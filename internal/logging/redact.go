package logging

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/govcore/internal/config"
	"github.com/fyrsmithlabs/govcore/internal/secrets"
)

const redacted = "[REDACTED]"

// Secret logs that a secret is set and how long it is, never its value.
func Secret(key string, s config.Secret) zap.Field {
	n := len(s.Value())
	if n == 0 {
		return zap.String(key, "")
	}
	return zap.String(key, "[REDACTED:"+strconv.Itoa(n)+"]")
}

// redactingEncoder masks values before the wrapped encoder sees them.
type redactingEncoder struct {
	zapcore.Encoder
	keys  map[string]struct{}
	scrub *secrets.Scrubber
}

func newRedactingEncoder(base zapcore.Encoder, cfg Redaction) (zapcore.Encoder, error) {
	if len(cfg.Keys) == 0 && !cfg.Values {
		return base, nil
	}
	e := &redactingEncoder{Encoder: base, keys: make(map[string]struct{}, len(cfg.Keys))}
	for _, k := range cfg.Keys {
		e.keys[strings.ToLower(k)] = struct{}{}
	}
	if cfg.Values {
		s, err := secrets.New(nil)
		if err != nil {
			return nil, fmt.Errorf("building log scrubber: %w", err)
		}
		e.scrub = s
	}
	return e, nil
}

func (e *redactingEncoder) sensitive(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

func (e *redactingEncoder) AddString(key, val string) {
	switch {
	case e.sensitive(key):
		val = redacted
	case e.scrub != nil:
		val, _ = e.scrub.Redact(val)
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val any) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, scrub: e.scrub}
}

// EncodeEntry masks the message and the per-entry fields. Fields bound with
// Logger.With reach the Add* methods above instead.
func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.scrub != nil {
		ent.Message, _ = e.scrub.Redact(ent.Message)
	}
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case e.sensitive(f.Key):
			f = zap.String(f.Key, redacted)
		case e.scrub != nil && f.Type == zapcore.StringType:
			f.String, _ = e.scrub.Redact(f.String)
		}
		masked[i] = f
	}
	return e.Encoder.EncodeEntry(ent, masked)
}
