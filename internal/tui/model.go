package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-llama-supervisor/internal/metrics"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg pushes a status snapshot without waiting for the next tick.
type SnapshotMsg Snapshot

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Status
// =============================================================================

// ProcessStatus describes one supervised process.
type ProcessStatus struct {
	Name  string // supervisor name
	Label string // what runs there, e.g. "llama-server"

	State    string
	Pid      int
	Uptime   time.Duration
	Ready    bool
	Lines    int64
	LineRate float64 // lines per second, 10s window
	Dropped  int64
	Warnings int64
	Errors   int64

	// Exit is the exit status once the process has stopped.
	Exit string
}

// Snapshot is everything the dashboard shows at one instant.
type Snapshot struct {
	SessionID  string
	Model      string
	ServerURL  string
	WrapperURL string

	Processes []ProcessStatus

	// Recent holds the most recent output lines, oldest first.
	Recent []string

	// DropRate is the worst output pipeline drop rate.
	DropRate float64

	// Server is nil when scraping is disabled.
	Server *metrics.ServerMetrics
}

// StatusSource provides status snapshots.
type StatusSource interface {
	Snapshot() Snapshot
}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	metricsAddr string
	source      StatusSource

	snapshot   Snapshot
	startTime  time.Time
	lastUpdate time.Time
	showOutput bool

	width  int
	height int

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Source      StatusSource
	MetricsAddr string
}

// New creates a new TUI model.
func New(cfg Config) Model {
	m := Model{
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		showOutput:  true,
		width:       80,
		height:      24,
	}
	if m.source != nil {
		m.snapshot = m.source.Snapshot()
	}
	return m
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "o":
			m.showOutput = !m.showOutput
			return m, nil
		case "r":
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case SnapshotMsg:
		m.snapshot = Snapshot(msg)
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.source != nil {
		m.snapshot = m.source.Snapshot()
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns the snapshot currently displayed.
func (m Model) Snapshot() Snapshot {
	return m.snapshot
}

// Quitting reports whether the user asked to quit.
func (m Model) Quitting() bool {
	return m.quitting
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatTokenRate formats a tokens/second rate.
func formatTokenRate(rate float64) string {
	switch {
	case rate >= 1000:
		return fmt.Sprintf("%.1fK tok/s", rate/1000)
	case rate > 0:
		return fmt.Sprintf("%.1f tok/s", rate)
	default:
		return "idle"
	}
}

// formatPercent formats a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
