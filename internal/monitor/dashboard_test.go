package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/governance"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

const testURL = "http://127.0.0.1:9470"

func sampleStatus() governance.Status {
	return governance.Status{
		Phase: deployment.Status{
			Phase:           deployment.PhaseB,
			PhaseName:       "validation",
			Uptime:          3 * time.Hour,
			Decisions:       12,
			SuccessRate:     0.95,
			TokensRemaining: 10,
			Constraints:     deployment.Constraints{MaxActionsPerHour: 20},
		},
		Drift: drift.State{
			Level:      drift.Warning,
			Baseline:   0.95,
			Rolling:    0.88,
			Samples:    500,
			WindowSize: 1000,
			Trend:      drift.Degrading,
		},
		Versions: versionctl.Stats{Versions: 4, Live: 3, Bytes: 2048, Head: 4, Tags: 1},
		Orchestrator: orchestrator.Stats{
			Total:      40,
			Unanimous:  30,
			Majority:   8,
			P99Latency: 2 * time.Millisecond,
		},
		Healthy:          true,
		PendingApprovals: 2,
		SafetyScore:      85,
		LastCycle:        41,
		Agents:           []string{"crash_predictor", "metrics"},
	}
}

func TestNewModel(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	assert.Equal(t, testURL, model.serverURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.NotNil(t, model.client)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(tickMsg(time.Now()))

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_StatusMsg(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	model.err = errors.New("earlier failure")

	updated, cmd := model.Update(statusMsg(sampleStatus()))

	m := updated.(Model)
	assert.Nil(t, cmd)
	assert.NoError(t, m.Err())
	assert.Equal(t, 85, m.Status().SafetyScore)
	assert.False(t, m.lastUpdate.IsZero())
	require.Len(t, m.history.Accuracy, 1)
	assert.InDelta(t, 88, m.history.Accuracy[0], 1e-9)
	assert.Equal(t, []float64{85}, m.history.Safety)
	assert.Equal(t, []float64{2}, m.history.P99Latency)
}

func TestModel_Update_StatusMsg_SkipsEmptyDriftWindow(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	st := sampleStatus()
	st.Drift.Samples = 0

	updated, _ := model.Update(statusMsg(st))

	m := updated.(Model)
	assert.Empty(t, m.history.Accuracy)
	assert.Len(t, m.history.Safety, 1)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)

	updated, cmd := model.Update(errMsg(errors.New("connection refused")))

	m := updated.(Model)
	assert.Nil(t, cmd)
	assert.EqualError(t, m.Err(), "connection refused")
	view := m.View()
	assert.Contains(t, view, "Cannot reach govd")
	assert.Contains(t, view, testURL)
	assert.Contains(t, view, "connection refused")
}

func TestModel_View_Sections(t *testing.T) {
	model := NewModel(testURL, 5*time.Second)
	updated, _ := model.Update(statusMsg(sampleStatus()))

	view := updated.(Model).View()

	for _, want := range []string{
		"govcore Monitor",
		"ATTENTION",
		"Deployment",
		"B (validation)",
		"10/20 per hour",
		"Drift",
		"88.0%",
		"degrading",
		"500/1000",
		"Safety",
		"Pending approvals",
		"Decisions",
		"2.0ms",
		"Versions",
		"v4",
		"3/4",
		"2.0 KB",
	} {
		assert.Contains(t, view, want)
	}
}

func TestHealthBadge(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*governance.Status)
		want   string
	}{
		{"healthy", func(s *governance.Status) { s.Drift.Level = drift.Normal; s.PendingApprovals = 0 }, "HEALTHY"},
		{"pending approvals", func(s *governance.Status) { s.Drift.Level = drift.Normal }, "ATTENTION"},
		{"warning drift", func(s *governance.Status) { s.PendingApprovals = 0 }, "ATTENTION"},
		{"critical drift", func(s *governance.Status) { s.Drift.Level = drift.Critical }, "CRITICAL DRIFT"},
		{"degraded", func(s *governance.Status) { s.Healthy = false }, "DEGRADED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := sampleStatus()
			tt.mutate(&st)
			assert.Contains(t, healthBadge(st), tt.want)
		})
	}
}

func TestAppendToHistory_CapsAtHistorySize(t *testing.T) {
	var h []float64
	for i := range historySize + 5 {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
	assert.Equal(t, float64(historySize+4), h[len(h)-1])
}

func TestCreateSparkline_NoData(t *testing.T) {
	assert.Contains(t, createSparkline(nil), "no data")
	assert.NotContains(t, createSparkline([]float64{1, 2, 3}), "no data")
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 0.5, clamp01(0.5))
	assert.Equal(t, 1.0, clamp01(3))
}

func TestTitleStyle_FollowsPhase(t *testing.T) {
	assert.Equal(t, lipgloss.Color("160"), titleStyle(deployment.PhaseD).GetBackground())
	assert.Equal(t, lipgloss.Color("42"), titleStyle(deployment.PhaseC).GetBackground())
	assert.Equal(t, styles.title.GetBackground(), titleStyle(deployment.Phase(0)).GetBackground())
}
