package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, Service{Name: "govcore", Version: "0.1.0"}, cfg.Service)
	assert.Equal(t, 1.0, cfg.TraceRatio)
	assert.Equal(t, 15*time.Second, cfg.MetricInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mut func(*Config)) *Config {
		c := NewDefaultConfig()
		c.Enabled = true
		mut(c)
		return c
	}
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{"disabled skips checks", &Config{}, ""},
		{"enabled defaults", enabled(func(*Config) {}), ""},
		{"http", enabled(func(c *Config) { c.Protocol = ProtocolHTTP; c.Endpoint = "http://127.0.0.1:4318" }), ""},
		{"tls remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }), ""},
		{"metrics off", enabled(func(c *Config) { c.MetricInterval = 0 }), ""},
		{"no endpoint", enabled(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"no service name", enabled(func(c *Config) { c.Service.Name = "" }), "service.name"},
		{"no service version", enabled(func(c *Config) { c.Service.Version = "" }), "service.version"},
		{"unknown protocol", enabled(func(c *Config) { c.Protocol = "zipkin" }), `protocol "zipkin"`},
		{"plaintext remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317" }), "plaintext export"},
		{"negative ratio", enabled(func(c *Config) { c.TraceRatio = -0.1 }), "trace_ratio"},
		{"ratio above one", enabled(func(c *Config) { c.TraceRatio = 1.5 }), "trace_ratio"},
		{"negative interval", enabled(func(c *Config) { c.MetricInterval = -1 }), "metric_interval"},
		{"zero shutdown", enabled(func(c *Config) { c.ShutdownTimeout = 0 }), "shutdown_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoopback(t *testing.T) {
	tests := map[string]bool{
		"localhost:4317":        true,
		"LOCALHOST":             true,
		"127.0.0.1:4317":        true,
		"127.0.0.2":             true,
		"[::1]:4317":            true,
		"::1":                   true,
		"http://localhost:4318": true,
		"otel.internal:4317":    false,
		"10.0.0.5:4317":         false,
		"https://10.0.0.5:4318": false,
	}
	for endpoint, want := range tests {
		t.Run(endpoint, func(t *testing.T) {
			assert.Equal(t, want, loopback(endpoint))
		})
	}
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "collector:4318", hostPort("https://collector:4318"))
	assert.Equal(t, "collector:4317", hostPort("collector:4317"))
	assert.Equal(t, "127.0.0.1:4317", hostPort("127.0.0.1:4317"))
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Service.Instance = "gov-7"
	cfg.Attributes = map[string]string{"deployment.environment": "staging"}

	res := newResource(cfg)

	attrs := res.Set()
	for _, want := range []attribute.KeyValue{
		semconv.ServiceName("govcore"),
		semconv.ServiceVersion("0.1.0"),
		semconv.ServiceInstanceID("gov-7"),
		attribute.String("deployment.environment", "staging"),
	} {
		got, ok := attrs.Value(want.Key)
		require.True(t, ok, want.Key)
		assert.Equal(t, want.Value, got)
	}
}

func TestNewCollector(t *testing.T) {
	cfg := NewDefaultConfig()
	c := newCollector(cfg)
	assert.Equal(t, collector{addr: "localhost:4317", insecure: true}, c)

	cfg.Protocol = ProtocolHTTP
	cfg.Endpoint = "https://otel.example.com:4318"
	cfg.Insecure = false
	cfg.TLSSkipVerify = true
	c = newCollector(cfg)
	assert.True(t, c.http)
	assert.Equal(t, "otel.example.com:4318", c.addr)
	require.NotNil(t, c.tls)
	assert.True(t, c.tls.InsecureSkipVerify)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
	assert.Contains(t, sampler(0.25).Description(), "ParentBased")
}
