// Package config loads the governor configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML or
// TOML file, and GOVCORE_* environment variables. The logging, telemetry and
// secrets sections are left to their owning packages, which decode them with
// Config.Unmarshal. A Watcher reloads the file while the daemon runs.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the daemon configuration.
type Config struct {
	// DataDir holds the audit, phase and version journals. Empty runs
	// memory-only.
	DataDir    string           `koanf:"data_dir"`
	Cycle      CycleConfig      `koanf:"cycle"`
	Conflict   ConflictConfig   `koanf:"conflict"`
	Drift      DriftConfig      `koanf:"drift"`
	Versions   VersionsConfig   `koanf:"versions"`
	Deployment DeploymentConfig `koanf:"deployment"`
	Server     ServerConfig     `koanf:"server"`
	NATS       NATSConfig       `koanf:"nats"`

	k *koanf.Koanf
}

// CycleConfig drives the decision loop and the orchestrator.
type CycleConfig struct {
	Interval          Duration `koanf:"interval"`
	Budget            Duration `koanf:"budget"`
	PollBudget        Duration `koanf:"poll_budget"`
	RecommendationTTL Duration `koanf:"recommendation_ttl"`
	EvaluateEvery     int      `koanf:"evaluate_every"`
	SafetyThreshold   int      `koanf:"safety_threshold"`
	AuditCapacity     int      `koanf:"audit_capacity"`
	PreviewCapacity   int      `koanf:"preview_capacity"`
	IncidentCapacity  int      `koanf:"incident_capacity"`
	ApprovalCapacity  int      `koanf:"approval_capacity"`
	QueryMode         bool     `koanf:"query_mode"`
}

// ConflictConfig tunes conflict resolution.
type ConflictConfig struct {
	PriorityMargin  float64 `koanf:"priority_margin"`
	DisparityMargin int     `koanf:"disparity_margin"`
}

// DriftConfig tunes the drift detector. Thresholds are accuracy drops
// relative to the baseline.
type DriftConfig struct {
	Window   int     `koanf:"window"`
	Baseline float64 `koanf:"baseline"`
	Warning  float64 `koanf:"warning"`
	Critical float64 `koanf:"critical"`
}

// VersionsConfig bounds the adapter version store.
type VersionsConfig struct {
	MaxArtifactSize int `koanf:"max_artifact_size"`
	KeepLast        int `koanf:"keep_last"`
}

// DeploymentConfig controls phase transitions.
type DeploymentConfig struct {
	AutoAdvance         bool `koanf:"auto_advance"`
	AutoRollback        bool `koanf:"auto_rollback"`
	HardLimitConfidence int  `koanf:"hard_limit_confidence"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// Token, when set, is required as a bearer token on mutating routes.
	Token Secret `koanf:"token"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// NATSConfig holds the event bus settings.
type NATSConfig struct {
	Enabled        bool     `koanf:"enabled"`
	URL            string   `koanf:"url"`
	Prefix         string   `koanf:"prefix"`
	Token          Secret   `koanf:"token"`
	MaxReconnects  int      `koanf:"max_reconnects"`
	ReconnectWait  Duration `koanf:"reconnect_wait"`
	RetrainTimeout Duration `koanf:"retrain_timeout"`
	ExecuteTimeout Duration `koanf:"execute_timeout"`
	// Remote routes retraining and execution over NATS request/reply.
	Remote bool `koanf:"remote"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Cycle: CycleConfig{
			Interval:          Duration(500 * time.Millisecond),
			Budget:            Duration(10 * time.Millisecond),
			PollBudget:        Duration(2 * time.Millisecond),
			RecommendationTTL: Duration(time.Second),
			EvaluateEvery:     120,
			SafetyThreshold:   700,
			AuditCapacity:     1000,
			PreviewCapacity:   256,
			IncidentCapacity:  100,
			ApprovalCapacity:  64,
		},
		Conflict: ConflictConfig{PriorityMargin: 20, DisparityMargin: 300},
		Drift:    DriftConfig{Window: 1000, Baseline: 0.95, Warning: 0.05, Critical: 0.15},
		Versions: VersionsConfig{MaxArtifactSize: 4 << 20, KeepLast: 10},
		Deployment: DeploymentConfig{
			AutoAdvance:         true,
			AutoRollback:        true,
			HardLimitConfidence: 900,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9470,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Prefix:         "govcore",
			MaxReconnects:  5,
			ReconnectWait:  Duration(time.Second),
			RetrainTimeout: Duration(10 * time.Minute),
			ExecuteTimeout: Duration(2 * time.Second),
		},
	}
}

// Validate rejects values the governor cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Cycle.Interval <= 0 {
		errs = append(errs, errors.New("cycle.interval must be positive"))
	}
	if c.Cycle.Budget <= 0 {
		errs = append(errs, errors.New("cycle.budget must be positive"))
	}
	if c.Cycle.EvaluateEvery <= 0 {
		errs = append(errs, errors.New("cycle.evaluate_every must be positive"))
	}
	if !confidence(c.Cycle.SafetyThreshold) {
		errs = append(errs, fmt.Errorf("cycle.safety_threshold must be in [0, 1000], got %d", c.Cycle.SafetyThreshold))
	}
	if !confidence(c.Deployment.HardLimitConfidence) {
		errs = append(errs, fmt.Errorf("deployment.hard_limit_confidence must be in [0, 1000], got %d", c.Deployment.HardLimitConfidence))
	}
	if c.Conflict.PriorityMargin < 0 || c.Conflict.DisparityMargin < 0 {
		errs = append(errs, errors.New("conflict margins must not be negative"))
	}
	if c.Drift.Window <= 0 {
		errs = append(errs, errors.New("drift.window must be positive"))
	}
	if c.Drift.Baseline <= 0 || c.Drift.Baseline > 1 {
		errs = append(errs, fmt.Errorf("drift.baseline must be in (0, 1], got %g", c.Drift.Baseline))
	}
	if c.Drift.Warning <= 0 || c.Drift.Warning >= c.Drift.Critical || c.Drift.Critical >= 1 {
		errs = append(errs, fmt.Errorf("drift thresholds need 0 < warning < critical < 1, got %g and %g", c.Drift.Warning, c.Drift.Critical))
	}
	if c.Versions.MaxArtifactSize <= 0 {
		errs = append(errs, errors.New("versions.max_artifact_size must be positive"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.NATS.Remote && !c.NATS.Enabled {
		errs = append(errs, errors.New("nats.remote requires nats.enabled"))
	}
	return errors.Join(errs...)
}

func confidence(v int) bool { return v >= 0 && v <= 1000 }

// Unmarshal decodes the section at path into out. Keys absent from every
// source leave out's existing values, so callers pass pre-filled defaults.
func (c *Config) Unmarshal(path string, out any) error {
	if c.k == nil {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("decoding %s config: %w", path, err)
	}
	return nil
}
