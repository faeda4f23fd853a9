package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"zero", 0, "0.0%"},
		{"baseline", 0.95, "95.0%"},
		{"full", 1, "100.0%"},
		{"fraction", 0.8765, "87.7%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
		})
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		name     string
		latency  time.Duration
		expected string
	}{
		{"zero", 0, "0µs"},
		{"microseconds", 420 * time.Microsecond, "420µs"},
		{"milliseconds", 2500 * time.Microsecond, "2.5ms"},
		{"budget", 10 * time.Millisecond, "10.0ms"},
		{"seconds", 1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatLatency(tt.latency))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int
		expected string
	}{
		{"bytes", 512, "512 B"},
		{"kilobytes", 2048, "2.0 KB"},
		{"megabytes", 5 * 1024 * 1024, "5.0 MB"},
		{"gigabytes", 3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatBytes(tt.bytes))
		})
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{"zero", 0, "0m"},
		{"minutes", 42 * time.Minute, "42m"},
		{"hours", 3*time.Hour + 5*time.Minute, "3h 5m"},
		{"days", 50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUptime(tt.d))
		})
	}
}
