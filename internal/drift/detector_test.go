package drift

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(d *Detector, correct, wrong int) State {
	var st State
	for i := 0; i < correct; i++ {
		st = d.Observe(true)
	}
	for i := 0; i < wrong; i++ {
		st = d.Observe(false)
	}
	return st
}

func pending(d *Detector) int {
	return len(d.Requests())
}

func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds
	assert.Equal(t, Normal, th.Classify(0.95, 0.95))
	assert.Equal(t, Normal, th.Classify(0.95, 0.91))
	assert.Equal(t, Warning, th.Classify(0.95, 0.89))
	assert.Equal(t, Critical, th.Classify(0.95, 0.70))
	assert.Equal(t, Normal, th.Classify(0.80, 0.99), "improvement is never drift")

	// 0.95-0.80 and 0.95-0.90 fall just short of the thresholds in float64.
	assert.Equal(t, Critical, th.Classify(0.95, 0.80))
	assert.Equal(t, Warning, th.Classify(0.95, 0.90))
	assert.Equal(t, Warning, th.Classify(0.95, 0.801))
}

func TestThresholds_ClassifyCounts(t *testing.T) {
	th := DefaultThresholds
	tests := []struct {
		correct, total int
		want           Level
	}{
		{800, 1000, Critical},
		{801, 1000, Warning},
		{900, 1000, Warning},
		{901, 1000, Normal},
		{80, 100, Critical},
		{4, 5, Critical},
		{0, 0, Normal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.ClassifyCounts(0.95, tt.correct, tt.total), "%d/%d", tt.correct, tt.total)
	}
}

func TestDetector_CriticalIffDegradationAtThreshold(t *testing.T) {
	for correct := 1000; correct >= 0; correct-- {
		d, err := NewDetector(Config{Baseline: 0.95})
		require.NoError(t, err)

		st := feed(d, correct, 1000-correct)

		// Drop in per-mille of a 1000-sample window against 950.
		drop := 950 - correct
		want := Normal
		switch {
		case drop >= 150:
			want = Critical
		case drop >= 50:
			want = Warning
		}
		require.Equal(t, want, st.Level, "correct=%d", correct)
	}
}

// edgeWindow fills a 100-sample window to exactly 85 correct with the
// misses spread out, so each later sample can flip the level across the
// critical threshold. It returns how many observations opened an episode.
func edgeWindow(d *Detector) int {
	entries := 0
	observe := func(ok bool) {
		if d.Observe(ok).CriticalEntry {
			entries++
		}
	}
	for i := 0; i < 15; i++ {
		observe(false)
		observe(true)
	}
	for i := 0; i < 70; i++ {
		observe(true)
	}
	return entries
}

func TestDetector_Observe_CriticalEntryOncePerEpisode(t *testing.T) {
	d, err := NewDetector(Config{Window: 100, Baseline: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, edgeWindow(d))
	assert.Equal(t, Critical, d.Status().Level)

	changes := 0
	for i := 0; i < 20; i++ {
		st := d.Observe(i%2 == 0)
		assert.False(t, st.CriticalEntry, "flip %d", i)
		if st.LevelChanged {
			changes++
		}
	}
	assert.Equal(t, 20, changes, "every sample crosses the threshold")
	assert.Equal(t, uint64(1), d.Counters().CriticalEntries)
	assert.Equal(t, uint64(1), d.Counters().RetrainRequests)
	assert.False(t, d.Status().CriticalEntry, "Status carries no edges")

	require.NoError(t, d.Rebaseline(1))
	assert.Equal(t, 1, edgeWindow(d), "a new baseline opens a new episode")
}

func TestDetector_Observe_ConcurrentCriticalEntry(t *testing.T) {
	d, err := NewDetector(Config{Window: 200, Baseline: 1})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if d.Observe((i+g)%3 == 0).CriticalEntry {
					mu.Lock()
					entries++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 1, entries)
	assert.Equal(t, uint64(1), d.Counters().CriticalEntries)
}

func TestDetector_DropToCriticalRequestsOnce(t *testing.T) {
	d, err := NewDetector(Config{Baseline: 0.95})
	require.NoError(t, err)

	st := feed(d, 780, 220)
	assert.Equal(t, Critical, st.Level)
	assert.InDelta(t, 0.78, st.Rolling, 1e-9)
	assert.True(t, st.RetrainPending)
	assert.Equal(t, Degrading, st.Trend)
	require.Equal(t, 1, pending(d))

	req := <-d.Requests()
	assert.Equal(t, uint64(1), req.Seq)
	assert.Len(t, req.Window, 1000)
	assert.Equal(t, Critical, req.State.Level)

	// Staying Critical, or bouncing in and out, does not re-request.
	feed(d, 200, 300)
	feed(d, 1000, 0)
	feed(d, 0, 400)
	assert.Equal(t, 0, pending(d))
	assert.Equal(t, uint64(1), d.Counters().RetrainRequests)

	require.NoError(t, d.Rebaseline(0.90))
	st = d.Status()
	assert.Equal(t, Normal, st.Level)
	assert.False(t, st.RetrainPending)
	assert.Equal(t, uint64(0), st.SamplesSinceBaseline)

	feed(d, 700, 300)
	assert.Equal(t, 1, pending(d), "a new baseline re-arms the request")
}

func TestDetector_ColdStartIsNormal(t *testing.T) {
	d, err := NewDetector(Config{Window: 100})
	require.NoError(t, err)

	st := feed(d, 0, 99)
	assert.Equal(t, Normal, st.Level)
	assert.False(t, st.WindowFull())
	assert.Equal(t, 0.0, st.Rolling)
	assert.Equal(t, 0.70, st.Confidence)

	st = d.Observe(false)
	assert.True(t, st.WindowFull())
	assert.Equal(t, Critical, st.Level)
}

func TestDetector_Retry(t *testing.T) {
	d, err := NewDetector(Config{Window: 10, Baseline: 1})
	require.NoError(t, err)
	assert.False(t, d.Retry(), "not critical")

	feed(d, 0, 10)
	<-d.Requests()

	assert.True(t, d.Retry())
	req := <-d.Requests()
	assert.Equal(t, uint64(2), req.Seq)
}

func TestDetector_DroppedWhenUnconsumed(t *testing.T) {
	d, err := NewDetector(Config{Window: 10, Baseline: 1})
	require.NoError(t, err)
	feed(d, 0, 10)
	require.True(t, d.Retry())
	assert.Equal(t, uint64(1), d.Counters().DroppedRequests)
	assert.Equal(t, 1, pending(d))
}

func TestDetector_Trend(t *testing.T) {
	d, err := NewDetector(Config{Window: 100, Baseline: 0.80})
	require.NoError(t, err)
	assert.Equal(t, Improving, feed(d, 90, 10).Trend)

	require.NoError(t, d.Rebaseline(0.80))
	assert.Equal(t, Stable, feed(d, 79, 21).Trend)
}

func TestDetector_ConcurrentObserve(t *testing.T) {
	d, err := NewDetector(Config{Window: 500})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				d.Observe(true)
			}
		}()
	}
	wg.Wait()

	st := d.Status()
	assert.Equal(t, 500, st.Samples)
	assert.Equal(t, uint64(2000), st.SamplesSinceBaseline)
	assert.Equal(t, 1.0, st.Rolling)
}

func TestNewDetector_Validation(t *testing.T) {
	_, err := NewDetector(Config{Baseline: 1.5})
	assert.ErrorIs(t, err, ErrInvalidAccuracy)

	_, err = NewDetector(Config{Thresholds: Thresholds{Warning: 0.2, Critical: 0.1}})
	assert.Error(t, err)

	d, err := NewDetector(Config{})
	require.NoError(t, err)
	assert.ErrorIs(t, d.Rebaseline(-0.1), ErrInvalidAccuracy)
}
