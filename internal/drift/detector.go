package drift

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultWindow is the number of recent predictions considered.
	DefaultWindow = 1000
	// DefaultBaseline is the accuracy assumed before the first rebaseline.
	DefaultBaseline = 0.95

	improvingMargin = 0.02
)

// ErrInvalidAccuracy is returned for a baseline outside [0, 1].
var ErrInvalidAccuracy = errors.New("accuracy must be within [0, 1]")

// Config configures a Detector.
type Config struct {
	Window     int
	Baseline   float64
	Thresholds Thresholds
}

// Request asks for a retrain after entering Critical. Window holds the
// outcomes that led there, oldest first.
type Request struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	State  State     `json:"state"`
	Window []bool    `json:"-"`
}

// Counters are cumulative detector counts.
type Counters struct {
	Checks          uint64 `json:"checks"`
	CriticalEntries uint64 `json:"critical_entries"`
	RetrainRequests uint64 `json:"retrain_requests"`
	DroppedRequests uint64 `json:"dropped_requests"`
}

// Detector classifies rolling accuracy. Observe may be called from any
// goroutine; each call is one atomic update.
type Detector struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	requests chan Request

	mu            sync.Mutex
	window        []bool
	head          int
	count         int
	correct       int
	baseline      float64
	baselineAt    time.Time
	sinceBaseline uint64
	level         Level
	latched       bool
	seq           uint64
	counters      Counters
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector creates a detector; zero config values take the defaults.
func NewDetector(cfg Config, opts ...Option) (*Detector, error) {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Baseline == 0 {
		cfg.Baseline = DefaultBaseline
	}
	if cfg.Baseline < 0 || cfg.Baseline > 1 {
		return nil, fmt.Errorf("%w: baseline %v", ErrInvalidAccuracy, cfg.Baseline)
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	if cfg.Thresholds.Warning <= 0 || cfg.Thresholds.Critical <= cfg.Thresholds.Warning {
		return nil, fmt.Errorf("thresholds must satisfy 0 < warning < critical, got %v/%v",
			cfg.Thresholds.Warning, cfg.Thresholds.Critical)
	}

	d := &Detector{
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		requests: make(chan Request, 1),
		window:   make([]bool, cfg.Window),
		baseline: cfg.Baseline,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.baselineAt = d.now()
	return d, nil
}

// Requests delivers retrain requests, at most one per Critical entry.
func (d *Detector) Requests() <-chan Request {
	return d.requests
}

// Observe records whether a prediction was correct and returns the new state
// with the edges this observation caused.
func (d *Detector) Observe(correct bool) State {
	d.mu.Lock()
	size := len(d.window)
	if d.count == size {
		if d.window[d.head] {
			d.correct--
		}
	} else {
		d.count++
	}
	d.window[d.head] = correct
	d.head = (d.head + 1) % size
	if correct {
		d.correct++
	}
	d.sinceBaseline++
	d.counters.Checks++

	prev := d.level
	if d.count == size {
		d.level = d.cfg.Thresholds.ClassifyCounts(d.baseline, d.correct, d.count)
	} else {
		d.level = Normal
	}

	var req *Request
	if d.level == Critical && !d.latched {
		d.latched = true
		d.counters.CriticalEntries++
		r := d.newRequest()
		req = &r
	}
	st := d.state()
	st.LevelChanged = st.Level != prev
	st.CriticalEntry = req != nil
	d.mu.Unlock()

	if st.LevelChanged {
		d.logger.Info("drift level changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", st.Level),
			zap.Float64("baseline", st.Baseline),
			zap.Float64("rolling", st.Rolling))
	}
	if req != nil {
		d.emit(*req)
	}
	return st
}

// Retry re-issues a retrain request while still Critical, for use after a
// failed retrain. It reports whether a request was issued.
func (d *Detector) Retry() bool {
	d.mu.Lock()
	if d.level != Critical {
		d.mu.Unlock()
		return false
	}
	r := d.newRequest()
	d.mu.Unlock()
	d.emit(r)
	return true
}

// Rebaseline installs a new baseline and clears the window and latch.
func (d *Detector) Rebaseline(accuracy float64) error {
	if accuracy < 0 || accuracy > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidAccuracy, accuracy)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = accuracy
	d.baselineAt = d.now()
	for i := range d.window {
		d.window[i] = false
	}
	d.head, d.count, d.correct = 0, 0, 0
	d.sinceBaseline = 0
	d.level = Normal
	d.latched = false
	d.logger.Info("drift baseline reset", zap.Float64("baseline", accuracy))
	return nil
}

// Status returns the current state.
func (d *Detector) Status() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state()
}

// Counters returns cumulative counts.
func (d *Detector) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

// newRequest must be called with mu held.
func (d *Detector) newRequest() Request {
	d.seq++
	d.counters.RetrainRequests++
	window := make([]bool, 0, d.count)
	start := (d.head - d.count + len(d.window)) % len(d.window)
	for i := 0; i < d.count; i++ {
		window = append(window, d.window[(start+i)%len(d.window)])
	}
	return Request{Seq: d.seq, At: d.now(), State: d.state(), Window: window}
}

func (d *Detector) emit(r Request) {
	select {
	case d.requests <- r:
		d.logger.Warn("retrain requested",
			zap.Uint64("seq", r.Seq),
			zap.Float64("rolling", r.State.Rolling),
			zap.Float64("baseline", r.State.Baseline))
	default:
		d.mu.Lock()
		d.counters.DroppedRequests++
		d.mu.Unlock()
		d.logger.Warn("retrain request dropped, previous request still pending", zap.Uint64("seq", r.Seq))
	}
}

func (d *Detector) rolling() float64 {
	if d.count == 0 {
		return d.baseline
	}
	return float64(d.correct) / float64(d.count)
}

// state must be called with mu held.
func (d *Detector) state() State {
	rolling := d.rolling()
	deg := d.baseline - rolling
	trend := Stable
	switch {
	case deg < -improvingMargin:
		trend = Improving
	case deg > d.cfg.Thresholds.Warning:
		trend = Degrading
	}
	return State{
		Level:                d.level,
		Baseline:             d.baseline,
		Rolling:              rolling,
		Degradation:          deg,
		Samples:              d.count,
		WindowSize:           len(d.window),
		SamplesSinceBaseline: d.sinceBaseline,
		Trend:                trend,
		Confidence:           sampleConfidence(d.count),
		RetrainPending:       d.latched,
		BaselineAt:           d.baselineAt,
	}
}
