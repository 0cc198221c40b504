// Package tui provides a live terminal dashboard for a supervised
// llama.cpp server session.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - Process state, pid, uptime and readiness of the server and the wrapper
// - Output line counts and pipeline drops
// - Generation throughput scraped from the server's /metrics
// - The most recent output lines
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(20)
)

// =============================================================================
// Progress Bar Styles
// =============================================================================

var (
	progressBarStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// =============================================================================
// Output Line Styles
// =============================================================================

var (
	outputErrorStyle = lipgloss.NewStyle().Foreground(colorError)
	outputWarnStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	outputStyle      = lipgloss.NewStyle().Foreground(colorTextMuted)
)

// =============================================================================
// Metrics Status Indicator
// =============================================================================

// MetricsStatus represents the health of the output pipeline.
type MetricsStatus int

const (
	MetricsStatusOK MetricsStatus = iota
	MetricsStatusDegraded
	MetricsStatusSeverelyDegraded
)

// GetMetricsStatus returns the status based on drop rate.
func GetMetricsStatus(dropRate float64) MetricsStatus {
	switch {
	case dropRate > 0.10: // >10% dropped
		return MetricsStatusSeverelyDegraded
	case dropRate > 0.0: // Any drops
		return MetricsStatusDegraded
	default:
		return MetricsStatusOK
	}
}

// GetMetricsLabel returns a styled label based on drop rate.
func GetMetricsLabel(dropRate float64) string {
	switch GetMetricsStatus(dropRate) {
	case MetricsStatusSeverelyDegraded:
		return statusError.Render("● Output (severely degraded)")
	case MetricsStatusDegraded:
		return statusWarning.Render("● Output (degraded)")
	default:
		return statusOK.Render("● Output")
	}
}

// =============================================================================
// Process State Indicator
// =============================================================================

// GetStateStyle returns the style for a supervisor state name.
func GetStateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return statusOK
	case "starting", "stopping":
		return statusInfo
	case "stopped":
		return statusError
	default:
		return mutedStyle
	}
}

// GetKVCacheStyle returns a style based on KV cache usage (0..1).
func GetKVCacheStyle(ratio float64) lipgloss.Style {
	switch {
	case ratio >= 0.95:
		return valueBadStyle
	case ratio >= 0.80:
		return valueWarnStyle
	default:
		return valueStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
