package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Tests: GetMetricsStatus
// =============================================================================

func TestGetMetricsStatus(t *testing.T) {
	tests := []struct {
		name     string
		dropRate float64
		want     MetricsStatus
	}{
		{"no drops", 0, MetricsStatusOK},
		{"tiny drops", 0.001, MetricsStatusDegraded},
		{"1% drops", 0.01, MetricsStatusDegraded},
		{"10% drops", 0.10, MetricsStatusDegraded},
		{"11% drops", 0.11, MetricsStatusSeverelyDegraded},
		{"50% drops", 0.50, MetricsStatusSeverelyDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetMetricsStatus(tt.dropRate); got != tt.want {
				t.Errorf("GetMetricsStatus(%v) = %v, want %v", tt.dropRate, got, tt.want)
			}
		})
	}
}

func TestGetMetricsLabel(t *testing.T) {
	tests := []struct {
		name       string
		dropRate   float64
		wantSubstr string
	}{
		{"ok", 0, "Output"},
		{"degraded", 0.05, "degraded"},
		{"severely degraded", 0.15, "severely degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetMetricsLabel(tt.dropRate)
			if !strings.Contains(got, tt.wantSubstr) {
				t.Errorf("GetMetricsLabel(%v) = %q, want to contain %q", tt.dropRate, got, tt.wantSubstr)
			}
		})
	}
}

// =============================================================================
// Tests: State and KV cache styles
// =============================================================================

func TestGetStateStyle(t *testing.T) {
	tests := []struct {
		state string
		want  lipgloss.Style
	}{
		{"running", statusOK},
		{"starting", statusInfo},
		{"stopping", statusInfo},
		{"stopped", statusError},
		{"idle", mutedStyle},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got := GetStateStyle(tt.state)
			if got.GetForeground() != tt.want.GetForeground() {
				t.Errorf("GetStateStyle(%q) foreground = %v, want %v", tt.state, got.GetForeground(), tt.want.GetForeground())
			}
		})
	}
}

func TestGetKVCacheStyle(t *testing.T) {
	if GetKVCacheStyle(0.5).GetForeground() != valueStyle.GetForeground() {
		t.Error("50% should use the normal style")
	}
	if GetKVCacheStyle(0.85).GetForeground() != valueWarnStyle.GetForeground() {
		t.Error("85% should warn")
	}
	if GetKVCacheStyle(0.99).GetForeground() != valueBadStyle.GetForeground() {
		t.Error("99% should be bad")
	}
}

// =============================================================================
// Tests: Helpers
// =============================================================================

func TestRenderKeyValue(t *testing.T) {
	got := RenderKeyValue("Generation", "42 tok/s")
	if !strings.Contains(got, "Generation:") || !strings.Contains(got, "42 tok/s") {
		t.Errorf("RenderKeyValue = %q", got)
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		width    int
		percent  string
	}{
		{"empty", 0, 20, "0%"},
		{"half", 0.5, 20, "50%"},
		{"full", 1, 20, "100%"},
		{"over", 1.5, 20, "150%"},
		{"negative", -0.1, 20, "-10%"},
		{"narrow", 0.5, 2, "50%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderProgressBar(tt.progress, tt.width)
			if !strings.Contains(got, tt.percent) {
				t.Errorf("RenderProgressBar(%v) = %q, want %q", tt.progress, got, tt.percent)
			}
			cells := strings.Count(got, "█") + strings.Count(got, "░")
			want := tt.width
			if want < 10 {
				want = 10
			}
			if cells != want {
				t.Errorf("bar has %d cells, want %d", cells, want)
			}
		})
	}
}

func TestRepeatChar(t *testing.T) {
	if repeatChar('x', 0) != "" || repeatChar('x', -1) != "" {
		t.Error("non-positive count should be empty")
	}
	if repeatChar('█', 3) != "███" {
		t.Error("repeatChar('█', 3)")
	}
}
