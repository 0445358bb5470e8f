package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// fetchTimeout bounds one poll of the ops endpoint.
const fetchTimeout = 5 * time.Second

// Model is the BubbleTea model behind `rclctl top`.
type Model struct {
	client     *Client
	addr       string
	interval   time.Duration
	lastUpdate time.Time
	snap       Snapshot
	accessRate float64
	err        error
	quitting   bool

	// Ring buffers feeding the sparklines.
	cachedHistory  []float64
	backlogHistory []float64
	rateHistory    []float64
	memoryHistory  []float64

	// Peak backlog seen, floor 1 so the load bar never divides by zero.
	backlogPeak float64

	hitProgress     progress.Model
	backlogProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme).
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates the dashboard model polling addr every interval.
func NewModel(addr string, interval time.Duration) Model {
	hitProg := progress.New(
		progress.WithGradient("#00ff00", "#ffff00"),
		progress.WithWidth(40),
	)
	backlogProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)

	return Model{
		client:          NewClient(addr),
		addr:            addr,
		interval:        interval,
		cachedHistory:   make([]float64, 0, historySize),
		backlogHistory:  make([]float64, 0, historySize),
		rateHistory:     make([]float64, 0, historySize),
		memoryHistory:   make([]float64, 0, historySize),
		backlogPeak:     1.0,
		hitProgress:     hitProg,
		backlogProgress: backlogProg,
	}
}

// statusBadge renders the overall daemon status.
func statusBadge(h Health) string {
	switch h.Status {
	case "ok":
		return healthyStyle.Render("✓ HEALTHY")
	case "degraded":
		return warningStyle.Render("⚠ DEGRADED")
	default:
		return errorStyle.Render("✗ UNKNOWN")
	}
}

// backlogBadge colors the enrichment backlog: quiet, busy, or drowning.
func backlogBadge(backlog int) string {
	switch {
	case backlog == 0:
		return healthyStyle.Render("[✓]")
	case backlog < 50:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// appendToHistory appends a value to history, maintaining max size.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline renders a sparkline chart from historical data.
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types.
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init schedules the first poll and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshot(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		snap, err := client.Snapshot(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.client),
		)

	case snapshotMsg:
		snap := Snapshot(msg)
		m.accessRate = accessRate(m.snap, snap)
		m.snap = snap

		m.cachedHistory = appendToHistory(m.cachedHistory, float64(snap.Stats.Cached))
		m.backlogHistory = appendToHistory(m.backlogHistory, float64(snap.Stats.Backlog()))
		m.rateHistory = appendToHistory(m.rateHistory, m.accessRate)
		m.memoryHistory = appendToHistory(m.memoryHistory, float64(snap.Stats.MemoryBytes))

		if b := float64(snap.Stats.Backlog()); b > m.backlogPeak {
			m.backlogPeak = b
		}

		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// accessRate derives accesses per minute from two consecutive polls.
func accessRate(prev, cur Snapshot) float64 {
	if prev.Taken.IsZero() {
		return 0
	}
	minutes := cur.Taken.Sub(prev.Taken).Minutes()
	if minutes <= 0 {
		return 0
	}
	delta := float64(cur.Stats.AccessTotal - prev.Stats.AccessTotal)
	if delta < 0 {
		return 0
	}
	return delta / minutes
}

// View renders the dashboard.
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
	header := headerStyle.Render(" recalld top ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot connect to recalld") + "\n"
	content += "\n"
	content += dimStyle.Render("Addr: ") + valueStyle.Render(m.addr) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. recalld is running") + "\n"
	content += dimStyle.Render("  2. server.enabled is true in its config") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" recalld top ")
	headerLine := fmt.Sprintf("%s   %s %s   %s %s   %s",
		statusBadge(m.snap.Health),
		dimStyle.Render("Mode:"),
		valueStyle.Render(m.snap.Health.Mode),
		dimStyle.Render("Version:"),
		valueStyle.Render(m.snap.Health.Version),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	if m.snap.Health.KVDegraded || m.snap.Health.RemoteDegraded {
		var flags string
		if m.snap.Health.KVDegraded {
			flags += warningStyle.Render("⚠ cache degraded") + "  "
		}
		if m.snap.Health.RemoteDegraded {
			flags += warningStyle.Render("⚠ backend degraded")
		}
		content += flags + "\n"
	}

	// Cache section.
	content += "\n" + sectionStyle.Render("┃ Cache") + "\n"

	cachedSparkline := createSparkline(m.cachedHistory)
	content += labelStyle.Render("  Memories: ") +
		valueStyle.Render(FormatCount(int64(m.snap.Stats.Cached))) +
		"   " + cachedSparkline + "\n"

	if rate := m.snap.Stats.HitRate(); rate >= 0 {
		content += labelStyle.Render("  Hit rate: ") +
			m.hitProgress.ViewAs(rate) +
			" " + dimStyle.Render(FormatPercent(rate)) + "\n"
	} else {
		content += labelStyle.Render("  Hit rate: ") + dimStyle.Render("no lookups yet") + "\n"
	}

	content += labelStyle.Render("  Size: ") +
		valueStyle.Render(FormatBytes(m.snap.Stats.MemoryBytes)) +
		"  " +
		labelStyle.Render("Accesses: ") +
		valueStyle.Render(FormatCount(m.snap.Stats.AccessTotal)) + "\n"

	// Indices section.
	content += "\n" + sectionStyle.Render("┃ Indices") + "\n"
	content += labelStyle.Render("  Keywords: ") +
		valueStyle.Render(FormatCount(int64(m.snap.Stats.Keywords))) +
		"  " +
		labelStyle.Render("Vectors: ") +
		valueStyle.Render(FormatCount(int64(m.snap.Stats.VectorRecords))) +
		"  " +
		labelStyle.Render("Graph: ") +
		valueStyle.Render(fmt.Sprintf("%d entities / %d edges",
			m.snap.Stats.GraphEntities, m.snap.Stats.GraphEdges)) + "\n"

	// Enrichment section.
	backlog := m.snap.Stats.Backlog()
	content += "\n" + sectionStyle.Render("┃ Enrichment") + "\n"

	backlogSparkline := createSparkline(m.backlogHistory)
	content += labelStyle.Render("  Backlog: ") +
		valueStyle.Render(fmt.Sprintf("%d", backlog)) +
		" " + backlogBadge(backlog) +
		"   " + backlogSparkline + "\n"

	loadPercent := float64(backlog) / m.backlogPeak
	if loadPercent > 1.0 {
		loadPercent = 1.0
	}
	content += labelStyle.Render("  Load: ") +
		m.backlogProgress.ViewAs(loadPercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", loadPercent*100)) + "\n"

	content += labelStyle.Render("  Jobs in flight: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snap.Stats.PendingJobs)) + "\n"

	// Activity section.
	content += "\n" + sectionStyle.Render("┃ Activity") + "\n"

	rateSparkline := createSparkline(m.rateHistory)
	content += labelStyle.Render("  Access rate: ") +
		valueStyle.Render(FormatRate(m.accessRate)) +
		"   " + rateSparkline + "\n"

	content += labelStyle.Render("  Ops: ") +
		dimStyle.Render("adds=") + valueStyle.Render(FormatCount(m.snap.Stats.Counters["adds"])) +
		dimStyle.Render("  searches=") + valueStyle.Render(FormatCount(m.snap.Stats.Counters["searches"])) +
		dimStyle.Render("  deletes=") + valueStyle.Render(FormatCount(m.snap.Stats.Counters["deletes"])) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}
