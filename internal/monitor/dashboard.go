package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/governance"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the bubbletea dashboard for a running govd.
type Model struct {
	serverURL  string
	client     *StatusClient
	interval   time.Duration
	lastUpdate time.Time
	status     governance.Status
	history    History
	err        error
	quitting   bool

	tokenProgress  progress.Model
	safetyProgress progress.Model
}

// History holds the last historySize samples for the sparklines.
type History struct {
	Accuracy   []float64
	Safety     []float64
	P99Latency []float64
}

type theme struct {
	title, section, label, value, dim lipgloss.Style
	ok, warn, bad                     lipgloss.Style
	frame, footer, key, spark         lipgloss.Style
}

func newTheme(accent lipgloss.Color) theme {
	plain := lipgloss.NewStyle()
	return theme{
		title:   plain.Foreground(lipgloss.Color("16")).Background(accent).Bold(true).Padding(0, 1),
		section: plain.Foreground(accent).Bold(true).MarginTop(1),
		label:   plain.Foreground(lipgloss.Color("110")),
		value:   plain.Foreground(lipgloss.Color("255")).Bold(true),
		dim:     plain.Foreground(lipgloss.Color("244")),
		ok:      plain.Foreground(lipgloss.Color("42")).Bold(true),
		warn:    plain.Foreground(lipgloss.Color("214")).Bold(true),
		bad:     plain.Foreground(lipgloss.Color("160")).Bold(true),
		frame:   plain.Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(1, 2),
		footer:  plain.Foreground(lipgloss.Color("244")).MarginTop(1),
		key:     plain.Foreground(accent).Bold(true),
		spark:   plain.Foreground(accent),
	}
}

var styles = newTheme(lipgloss.Color("39"))

// phaseAccent colours the title bar by deployment phase.
var phaseAccent = map[deployment.Phase]lipgloss.Color{
	deployment.PhaseA: "39",
	deployment.PhaseB: "214",
	deployment.PhaseC: "42",
	deployment.PhaseD: "160",
}

func titleStyle(p deployment.Phase) lipgloss.Style {
	if c, ok := phaseAccent[p]; ok {
		return styles.title.Background(c)
	}
	return styles.title
}

// NewModel creates a dashboard polling serverURL every interval.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		client:    NewStatusClient(serverURL),
		interval:  interval,
		tokenProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		safetyProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		history: History{
			Accuracy:   make([]float64, 0, historySize),
			Safety:     make([]float64, 0, historySize),
			P99Latency: make([]float64, 0, historySize),
		},
	}
}

// Status returns the last fetched status.
func (m Model) Status() governance.Status { return m.status }

// Err returns the last fetch error, nil after a successful fetch.
func (m Model) Err() error { return m.err }

// healthBadge summarizes the overall state for the header line.
func healthBadge(st governance.Status) string {
	switch {
	case !st.Healthy:
		return styles.bad.Render("✗ DEGRADED")
	case st.Drift.Level == drift.Critical:
		return styles.bad.Render("✗ CRITICAL DRIFT")
	case st.Drift.Level == drift.Warning || st.PendingApprovals > 0:
		return styles.warn.Render("⚠ ATTENTION")
	default:
		return styles.ok.Render("✓ HEALTHY")
	}
}

func driftBadge(level drift.Level) string {
	switch level {
	case drift.Normal:
		return styles.ok.Render("[✓]")
	case drift.Warning:
		return styles.warn.Render("[⚠]")
	default:
		return styles.bad.Render("[✗]")
	}
}

func safetyBadge(score int) string {
	switch {
	case score >= 90:
		return styles.ok.Render("[✓]")
	case score >= 70:
		return styles.warn.Render("[⚠]")
	default:
		return styles.bad.Render("[✗]")
	}
}

// appendToHistory keeps the newest historySize samples.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline draws data, or a placeholder before the first sample.
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return styles.dim.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return styles.spark.Render(spark.View())
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

type tickMsg time.Time
type statusMsg governance.Status
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatus(client *StatusClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		st, err := client.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(st)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.client),
		)

	case statusMsg:
		st := governance.Status(msg)
		if st.Drift.Samples > 0 {
			m.history.Accuracy = appendToHistory(m.history.Accuracy, st.Drift.Rolling*100)
		}
		m.history.Safety = appendToHistory(m.history.Safety, float64(st.SafetyScore))
		m.history.P99Latency = appendToHistory(m.history.P99Latency,
			float64(st.Orchestrator.P99Latency)/float64(time.Millisecond))
		m.status = st
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View shows the error screen while the last fetch failed.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := styles.title.Render("govcore Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(styles.bad.Render("⚠ Cannot reach govd") + "\n\n")
	b.WriteString(styles.dim.Render("URL: ") + styles.value.Render(m.serverURL) + "\n")
	b.WriteString(styles.dim.Render("Error: ") + styles.bad.Render(m.err.Error()) + "\n\n")
	b.WriteString(styles.dim.Render("Start the daemon with: govd -config config.yaml") + "\n\n")
	b.WriteString(styles.footer.Render("[q] quit  [r] retry") + "\n")

	return styles.frame.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	st := m.status
	var b strings.Builder

	lastUpdate := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(titleStyle(st.Phase.Phase).Render(" govcore Monitor ") + "\n")
	fmt.Fprintf(&b, "%s   %s %s   %s %s   %s\n",
		healthBadge(st),
		styles.dim.Render("Cycle:"), styles.value.Render(fmt.Sprintf("%d", st.LastCycle)),
		styles.dim.Render("Agents:"), styles.value.Render(fmt.Sprintf("%d", len(st.Agents))),
		styles.dim.Render(lastUpdate))

	// Deployment phase
	b.WriteString("\n" + styles.section.Render("┃ Deployment") + "\n")
	mode := ""
	if st.QueryMode {
		mode = "  " + styles.warn.Render("[query mode]")
	}
	b.WriteString(styles.label.Render("  Phase: ") +
		styles.value.Render(fmt.Sprintf("%s (%s)", st.Phase.Phase, st.Phase.PhaseName)) +
		styles.dim.Render("  in phase "+FormatUptime(st.Phase.Uptime)) + mode + "\n")
	b.WriteString(styles.label.Render("  Decisions: ") +
		styles.value.Render(fmt.Sprintf("%d", st.Phase.Decisions)) +
		styles.label.Render("  Success: ") +
		styles.value.Render(FormatPercentage(st.Phase.SuccessRate)) + "\n")
	budget := float64(st.Phase.Constraints.MaxActionsPerHour)
	tokenPercent := 0.0
	if budget > 0 {
		tokenPercent = clamp01(st.Phase.TokensRemaining / budget)
	}
	b.WriteString(styles.label.Render("  Actions left: ") +
		m.tokenProgress.ViewAs(tokenPercent) +
		" " + styles.dim.Render(fmt.Sprintf("%.0f/%.0f per hour", st.Phase.TokensRemaining, budget)) + "\n")

	// Drift
	b.WriteString("\n" + styles.section.Render("┃ Drift") + "\n")
	b.WriteString(styles.label.Render("  Accuracy: ") +
		styles.value.Render(FormatPercentage(st.Drift.Rolling)) +
		styles.dim.Render(" / "+FormatPercentage(st.Drift.Baseline)) +
		" " + driftBadge(st.Drift.Level) +
		"   " + createSparkline(m.history.Accuracy) + "\n")
	retrain := ""
	if st.Drift.RetrainPending {
		retrain = "  " + styles.warn.Render("[retrain pending]")
	}
	b.WriteString(styles.label.Render("  Level: ") + styles.value.Render(st.Drift.Level.String()) +
		styles.label.Render("  Trend: ") + styles.value.Render(st.Drift.Trend.String()) +
		styles.label.Render("  Window: ") +
		styles.value.Render(fmt.Sprintf("%d/%d", st.Drift.Samples, st.Drift.WindowSize)) + retrain + "\n")

	// Safety
	b.WriteString("\n" + styles.section.Render("┃ Safety") + "\n")
	b.WriteString(styles.label.Render("  Score: ") +
		m.safetyProgress.ViewAs(clamp01(float64(st.SafetyScore)/100)) +
		" " + styles.value.Render(fmt.Sprintf("%d", st.SafetyScore)) +
		" " + safetyBadge(st.SafetyScore) +
		"   " + createSparkline(m.history.Safety) + "\n")
	b.WriteString(styles.label.Render("  Pending approvals: ") +
		styles.value.Render(fmt.Sprintf("%d", st.PendingApprovals)) +
		styles.label.Render("  Invariant violations: ") +
		styles.value.Render(fmt.Sprintf("%d", st.Health.InvariantViolations)) + "\n")
	if st.Health.LastRetrainError != "" {
		b.WriteString(styles.label.Render("  Last retrain error: ") +
			styles.bad.Render(st.Health.LastRetrainError) + "\n")
	}

	// Orchestrator
	o := st.Orchestrator
	b.WriteString("\n" + styles.section.Render("┃ Decisions") + "\n")
	b.WriteString(styles.label.Render("  Total: ") + styles.value.Render(fmt.Sprintf("%d", o.Total)) +
		styles.label.Render("  Unanimous: ") + styles.value.Render(fmt.Sprintf("%d", o.Unanimous)) +
		styles.label.Render("  Majority: ") + styles.value.Render(fmt.Sprintf("%d", o.Majority)) +
		styles.label.Render("  Overrides: ") + styles.value.Render(fmt.Sprintf("%d", o.SafetyOverrides)) + "\n")
	b.WriteString(styles.label.Render("  No consensus: ") + styles.value.Render(fmt.Sprintf("%d", o.NoConsensus)) +
		styles.label.Render("  Escalations: ") + styles.value.Render(fmt.Sprintf("%d", o.Escalations)) +
		styles.label.Render("  Over budget: ") + styles.value.Render(fmt.Sprintf("%d", o.BudgetOverruns)) + "\n")
	b.WriteString(styles.label.Render("  Latency (p99): ") +
		styles.value.Render(FormatLatency(o.P99Latency)) +
		styles.dim.Render("  mean "+FormatLatency(o.MeanLatency)) +
		"   " + createSparkline(m.history.P99Latency) + "\n")

	// Versions
	v := st.Versions
	b.WriteString("\n" + styles.section.Render("┃ Versions") + "\n")
	durable := styles.dim.Render("in-memory")
	if st.Health.Durable {
		durable = styles.ok.Render("durable")
	}
	b.WriteString(styles.label.Render("  Head: ") + styles.value.Render(fmt.Sprintf("v%d", v.Head)) +
		styles.label.Render("  Live: ") + styles.value.Render(fmt.Sprintf("%d/%d", v.Live, v.Versions)) +
		styles.label.Render("  Tags: ") + styles.value.Render(fmt.Sprintf("%d", v.Tags)) +
		styles.label.Render("  Size: ") + styles.value.Render(FormatBytes(v.Bytes)) +
		"  " + durable + "\n")

	footer := styles.key.Render("[q]") + styles.footer.Render(" quit  ") +
		styles.key.Render("[r]") + styles.footer.Render(" refresh  ") +
		styles.footer.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return styles.frame.Render(b.String())
}
