package telemetry

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/govcore/internal/config"
)

// Export protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config is the "telemetry" section of the govd configuration.
type Config struct {
	Enabled       bool   `koanf:"enabled"`
	Endpoint      string `koanf:"endpoint"`
	Protocol      string `koanf:"protocol"`
	Insecure      bool   `koanf:"insecure"`
	TLSSkipVerify bool   `koanf:"tls_skip_verify"`

	Service Service `koanf:"service"`
	// Attributes are added to the resource, e.g. deployment.environment.
	Attributes map[string]string `koanf:"attributes"`

	// TraceRatio is the fraction of root decision cycles traced.
	TraceRatio float64 `koanf:"trace_ratio"`
	// MetricInterval is the OTLP metric push period. Zero disables metric
	// export; Prometheus scraping is unaffected.
	MetricInterval  config.Duration `koanf:"metric_interval"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

// Service identifies this governor in the backend.
type Service struct {
	Name     string `koanf:"name"`
	Version  string `koanf:"version"`
	Instance string `koanf:"instance"`
}

// NewDefaultConfig returns a disabled exporter aimed at a local collector.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		Insecure:        true,
		Service:         Service{Name: "govcore", Version: "0.1.0"},
		TraceRatio:      1,
		MetricInterval:  config.Duration(15 * time.Second),
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// Validate checks the settings that matter once export is enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if c.Service.Name == "" || c.Service.Version == "" {
		return errors.New("service.name and service.version are required when telemetry is enabled")
	}
	if c.Protocol != "" && c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("protocol %q is not %s or %s", c.Protocol, ProtocolGRPC, ProtocolHTTP)
	}
	if c.Insecure && !loopback(c.Endpoint) {
		return fmt.Errorf("plaintext export to %s refused; only loopback endpoints may be insecure", c.Endpoint)
	}
	if c.TraceRatio < 0 || c.TraceRatio > 1 {
		return fmt.Errorf("trace_ratio must be within [0, 1], got %g", c.TraceRatio)
	}
	if c.MetricInterval.Duration() < 0 {
		return errors.New("metric_interval must not be negative")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

// hostPort drops any scheme from endpoint. The OTLP exporters want bare
// host:port.
func hostPort(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

func loopback(endpoint string) bool {
	host := hostPort(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
