package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as "250ms" or "1h30m" in files and
// GOVCORE_* variables. Negative values are rejected at decode time.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("duration %q is negative", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Secret holds a credential read from configuration: the server operator
// token or the NATS token. Every formatting and encoding path prints a
// mask; only Value returns the credential. JSON encodes through MarshalText.
type Secret string

const mask = "[REDACTED]"

func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return mask
}

// Value returns the credential itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string   { return s.masked() }
func (s Secret) GoString() string { return "config.Secret(" + s.masked() + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.masked()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
