package tui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-llama-supervisor/internal/logging"
)

// recentLinesShown caps the output panel.
const recentLinesShown = 12

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderProcesses(),
	}

	if m.snapshot.Server != nil {
		sections = append(sections, m.renderServerMetrics())
	}

	if m.showOutput {
		sections = append(sections, m.renderOutput())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-llama-supervisor │ %s │ Elapsed: %s ",
		GetMetricsLabel(m.snapshot.DropRate),
		formatDuration(m.Elapsed()),
	)
	if m.snapshot.Model != "" {
		header += "│ " + truncate(m.snapshot.Model, 40) + " "
	}

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Processes
// =============================================================================

func (m Model) renderProcesses() string {
	rows := []string{sectionHeaderStyle.Render("Processes")}

	if len(m.snapshot.Processes) == 0 {
		rows = append(rows, dimStyle.Render("no processes"))
	}
	for _, p := range m.snapshot.Processes {
		rows = append(rows, renderProcessRow(p))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderProcessRow(p ProcessStatus) string {
	label := p.Label
	if label == "" {
		label = p.Name
	}

	state := GetStateStyle(p.State).Render(fmt.Sprintf("%-8s", p.State))

	var detail string
	switch {
	case p.State == "running":
		ready := statusInfo.Render("starting up")
		if p.Ready {
			ready = statusOK.Render("ready")
		}
		detail = fmt.Sprintf("pid %-7d up %s  %s", p.Pid, formatDuration(p.Uptime), ready)
	case p.Exit != "":
		detail = valueWarnStyle.Render(p.Exit)
	default:
		detail = dimStyle.Render("-")
	}

	counts := fmt.Sprintf("lines %s", formatNumber(p.Lines))
	if p.LineRate >= 0.1 {
		counts += fmt.Sprintf(" (%.1f/s)", p.LineRate)
	}
	if p.Dropped > 0 {
		counts += valueWarnStyle.Render(fmt.Sprintf(" (%s dropped)", formatNumber(p.Dropped)))
	}
	if p.Warnings > 0 {
		counts += valueWarnStyle.Render(fmt.Sprintf("  warn %d", p.Warnings))
	}
	if p.Errors > 0 {
		counts += valueBadStyle.Render(fmt.Sprintf("  err %d", p.Errors))
	}

	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label),
		state, "  ",
		detail, "  ",
		mutedStyle.Render(counts),
	)
}

// =============================================================================
// Server Metrics
// =============================================================================

func (m Model) renderServerMetrics() string {
	s := m.snapshot.Server

	if !s.Healthy {
		msg := "waiting for /metrics"
		if s.Error != "" && !s.LastUpdate.IsZero() {
			msg = truncate(s.Error, m.width-10)
		}
		content := lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Server Throughput"),
			dimStyle.Render(msg),
		)
		return boxStyle.Width(m.width - 2).Render(content)
	}

	barWidth := m.width - 40
	if barWidth > 40 {
		barWidth = 40
	}

	rows := []string{
		sectionHeaderStyle.Render("Server Throughput"),
		RenderKeyValue("Generation", formatTokenRate(s.PredictedTokensPerSec)),
		RenderKeyValue("Prompt eval", formatTokenRate(s.PromptTokensPerSec)),
		RenderKeyValue(fmt.Sprintf("Gen p50 (%ds)", s.WindowSeconds), formatTokenRate(s.PredictedP50)),
		RenderKeyValue(fmt.Sprintf("Gen max (%ds)", s.WindowSeconds), formatTokenRate(s.PredictedMax)),
		RenderKeyValue("Tokens", fmt.Sprintf("%s prompt / %s generated",
			formatNumber(int64(s.PromptTokensTotal)), formatNumber(int64(s.PredictedTokensTotal)))),
		RenderKeyValue("Requests", fmt.Sprintf("%.0f processing, %.0f deferred", s.RequestsProcessing, s.RequestsDeferred)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("KV cache:"),
			RenderProgressBar(s.KVCacheUsage, barWidth),
			" ",
			GetKVCacheStyle(s.KVCacheUsage).Render(formatPercent(s.KVCacheUsage)),
		),
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Recent Output
// =============================================================================

func (m Model) renderOutput() string {
	lines := m.snapshot.Recent
	if len(lines) > recentLinesShown {
		lines = lines[len(lines)-recentLinesShown:]
	}

	rows := []string{sectionHeaderStyle.Render("Recent Output")}
	if len(lines) == 0 {
		rows = append(rows, dimStyle.Render("(no output yet)"))
	}
	for _, line := range lines {
		rows = append(rows, styleOutputLine(line).Render(truncate(line, m.width-6)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func styleOutputLine(line string) lipgloss.Style {
	switch logging.ClassifyLine(line) {
	case slog.LevelError:
		return outputErrorStyle
	case slog.LevelWarn:
		return outputWarnStyle
	default:
		return outputStyle
	}
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"o: toggle output",
		"r: refresh",
	}

	var endpoints []string
	if m.snapshot.ServerURL != "" {
		endpoints = append(endpoints, "Server: "+m.snapshot.ServerURL)
	}
	if m.snapshot.WrapperURL != "" {
		endpoints = append(endpoints, "OAI: "+m.snapshot.WrapperURL)
	}
	if m.metricsAddr != "" {
		endpoints = append(endpoints, "Metrics: "+m.metricsAddr)
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(truncate(strings.Join(endpoints, "  "), m.width/2))

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
