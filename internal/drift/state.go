// Package drift tracks rolling model accuracy against a baseline and asks
// for retraining when it degrades past the critical threshold.
package drift

import (
	"fmt"
	"math"
	"time"
)

// Level is the drift classification.
type Level uint8

const (
	Normal Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	for c := Normal; c <= Critical; c++ {
		if c.String() == string(text) {
			*l = c
			return nil
		}
	}
	return fmt.Errorf("unknown drift level %q", text)
}

// Trend is the direction of accuracy relative to the baseline.
type Trend uint8

const (
	Stable Trend = iota
	Improving
	Degrading
)

func (t Trend) String() string {
	switch t {
	case Improving:
		return "improving"
	case Degrading:
		return "degrading"
	default:
		return "stable"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Trend) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Trend) UnmarshalText(text []byte) error {
	for c := Stable; c <= Degrading; c++ {
		if c.String() == string(text) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown trend %q", text)
}

// Thresholds are absolute accuracy drops from the baseline.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds: Normal below 5%, Warning below 15%, Critical from 15%.
var DefaultThresholds = Thresholds{Warning: 0.05, Critical: 0.15}

// ppm is the fixed precision levels are decided at. An exact 15 point drop
// must classify as Critical, which float subtraction does not guarantee.
const ppm = 1_000_000

func toPPM(f float64) int64 { return int64(math.Round(f * ppm)) }

// Classify maps a baseline and rolling accuracy to a level.
func (t Thresholds) Classify(baseline, rolling float64) Level {
	return t.level(toPPM(baseline)-toPPM(rolling), 1)
}

// ClassifyCounts classifies correct out of total outcomes against baseline
// without forming the rolling accuracy as a float.
func (t Thresholds) ClassifyCounts(baseline float64, correct, total int) Level {
	if total <= 0 {
		return Normal
	}
	n := int64(total)
	return t.level(toPPM(baseline)*n-int64(correct)*ppm, n)
}

// level classifies a drop of drop/n parts per million.
func (t Thresholds) level(drop, n int64) Level {
	switch {
	case drop >= toPPM(t.Critical)*n:
		return Critical
	case drop >= toPPM(t.Warning)*n:
		return Warning
	default:
		return Normal
	}
}

// State is a snapshot of the detector.
type State struct {
	Level                Level     `json:"level"`
	Baseline             float64   `json:"baseline"`
	Rolling              float64   `json:"rolling"`
	Degradation          float64   `json:"degradation"`
	Samples              int       `json:"samples"`
	WindowSize           int       `json:"window_size"`
	SamplesSinceBaseline uint64    `json:"samples_since_baseline"`
	Trend                Trend     `json:"trend"`
	Confidence           float64   `json:"confidence"`
	RetrainPending       bool      `json:"retrain_pending"`
	BaselineAt           time.Time `json:"baseline_at"`

	// Set only on the state returned by Observe. LevelChanged: this
	// observation moved the level. CriticalEntry: it opened a Critical
	// episode, the same edge that issues the retrain request. A later
	// episode needs a Rebaseline first.
	LevelChanged  bool `json:"-"`
	CriticalEntry bool `json:"-"`
}

// WindowFull reports whether enough samples exist to classify drift.
func (s State) WindowFull() bool {
	return s.Samples >= s.WindowSize
}

// sampleConfidence grows with the number of samples behind the estimate.
func sampleConfidence(n int) float64 {
	switch {
	case n >= 500:
		return 0.95
	case n >= 100:
		return 0.85
	case n >= 50:
		return 0.70
	default:
		return 0.50
	}
}
