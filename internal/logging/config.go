package logging

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/govcore/internal/config"
)

// Config is the "logging" section of the govd configuration.
type Config struct {
	Level     string            `koanf:"level"`
	Format    string            `koanf:"format"`
	Output    Output            `koanf:"output"`
	Sampling  Sampling          `koanf:"sampling"`
	Caller    bool              `koanf:"caller"`
	Fields    map[string]string `koanf:"fields"`
	Redaction Redaction         `koanf:"redaction"`
}

// Output selects the sinks. At least one must be on.
type Output struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

// Sampling keeps the first Initial entries with identical level and message
// per Tick, then every Thereafter-th. Thereafter 0 drops the rest.
type Sampling struct {
	Enabled    bool            `koanf:"enabled"`
	Tick       config.Duration `koanf:"tick"`
	Initial    int             `koanf:"initial"`
	Thereafter int             `koanf:"thereafter"`
}

// Redaction controls encode-time masking.
type Redaction struct {
	// Keys are field names, matched case-insensitively, whose values are
	// never written.
	Keys []string `koanf:"keys"`
	// Values runs string fields through the secrets scrubber.
	Values bool `koanf:"values"`
}

// NewDefaultConfig returns the production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: Output{Stdout: true},
		Sampling: Sampling{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{"service": "govcore"},
		Redaction: Redaction{
			Keys:   []string{"token", "password", "secret", "authorization", "nkey", "seed"},
			Values: true,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return errors.New("no log output enabled")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			return errors.New("sampling tick must be positive")
		}
		if c.Sampling.Initial < 1 || c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling initial must be >= 1 and thereafter >= 0, got %d/%d",
				c.Sampling.Initial, c.Sampling.Thereafter)
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q=%q must have a key and a value", k, v)
		}
	}
	return nil
}

func (c *Config) level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("level: %w", err)
	}
	return lvl, nil
}
