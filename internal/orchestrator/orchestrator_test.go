//go:build !windows

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/completion"
	"github.com/randomizedcoder/go-llama-supervisor/internal/config"
	"github.com/randomizedcoder/go-llama-supervisor/internal/coordinator"
	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
	"github.com/randomizedcoder/go-llama-supervisor/internal/supervisor"
)

// Fake programs. Both ignore their arguments.
const (
	readyServer = `#!/bin/sh
echo "main: loading model"
echo "main: HTTP server listening"
trap 'exit 0' TERM
while :; do sleep 0.05; done
`
	crashingServer = `#!/bin/sh
echo "main: loading model"
echo "error: failed to load model"
exit 3
`
	idleWrapper = `trap 'exit 0' TERM
echo "Running on http://127.0.0.1"
while :; do sleep 0.05; done
`
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, serverScript string) *config.Config {
	t.Helper()
	model := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(model, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.ServerPath = writeScript(t, "llama-server", serverScript)
	cfg.ModelPath = model
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.TUIEnabled = false
	cfg.ServerMetrics = false
	cfg.SkipPreflight = true
	cfg.NoSaveSettings = true
	cfg.StopTimeout = 2 * time.Second
	cfg.Duration = 500 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	o, err := New(cfg, Options{Version: "test", Logger: newTestLogger(), Out: &out})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o, &out
}

// =============================================================================
// New
// =============================================================================

func TestNew_ServerOnly(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t, readyServer))

	if o.Coordinator().Secondary() != nil {
		t.Error("secondary configured without the wrapper")
	}
	if len(o.streams) != 1 || o.streams[coordinator.PrimaryName] == nil {
		t.Errorf("streams = %v, want only the primary", o.streams)
	}
	if o.SessionID() == "" {
		t.Error("session id not generated")
	}
	if o.scraper != nil {
		t.Error("scraper created with server metrics disabled")
	}
}

func TestNew_WithWrapper(t *testing.T) {
	cfg := testConfig(t, readyServer)
	cfg.OAIEnabled = true
	cfg.OAIPort = freePort(t)
	cfg.ServerMetrics = true

	o, _ := newTestOrchestrator(t, cfg)

	if o.Coordinator().Secondary() == nil {
		t.Fatal("secondary not configured")
	}
	if got := o.streams[coordinator.SecondaryName].label; got != "oai-wrapper" {
		t.Errorf("secondary label = %q", got)
	}
	want := fmt.Sprintf("http://127.0.0.1:%d/metrics", cfg.Port)
	if o.scraper == nil || o.scraper.URL() != want {
		t.Errorf("scraper url, want %s", want)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no model", func(c *config.Config) { c.ModelPath = "" }},
		{"no wrapper script", func(c *config.Config) { c.OAIEnabled = true; c.OAIScript = "" }},
		{"wrapper on server port", func(c *config.Config) { c.OAIEnabled = true; c.OAIPort = c.Port }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, readyServer)
			tt.mutate(cfg)
			if _, err := New(cfg, Options{Logger: newTestLogger(), Out: io.Discard}); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

// =============================================================================
// Run
// =============================================================================

func TestRun_DurationElapsed(t *testing.T) {
	o, out := newTestOrchestrator(t, testConfig(t, readyServer))

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	primary := o.Coordinator().Primary()
	if primary.State() != supervisor.StateStopped {
		t.Errorf("primary state = %v, want stopped", primary.State())
	}
	if !o.streams[coordinator.PrimaryName].ready.IsReady() {
		t.Error("readiness marker not detected")
	}

	snap := o.Snapshot()
	if !slices.Contains(snap.Recent, "[llama-server] main: HTTP server listening") {
		t.Errorf("recent lines = %q", snap.Recent)
	}
	if len(snap.Processes) != 1 || snap.Processes[0].Exit == "" {
		t.Errorf("processes = %+v", snap.Processes)
	}

	summary := o.Metrics().GenerateSummary()
	if summary.Starts[coordinator.PrimaryName] != 1 {
		t.Errorf("starts = %v", summary.Starts)
	}
	if summary.UnexpectedExits[coordinator.PrimaryName] != 0 {
		t.Errorf("unexpected exits = %v", summary.UnexpectedExits)
	}

	for _, want := range []string{"Exit Summary", o.SessionID(), "llama-server", "starts 1", "Metrics endpoint was"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "Last llama-server output") {
		t.Error("output tail printed after a clean run")
	}
}

func TestRun_ServerExits(t *testing.T) {
	cfg := testConfig(t, crashingServer)
	cfg.Duration = 10 * time.Second
	o, out := newTestOrchestrator(t, cfg)

	start := time.Now()
	err := o.Run(context.Background())
	if !errors.Is(err, ErrServerExited) {
		t.Fatalf("Run() error = %v, want ErrServerExited", err)
	}
	if !strings.Contains(err.Error(), "exit 3") {
		t.Errorf("error %q should carry the exit status", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Run waited for the duration after the server exited")
	}

	for _, want := range []string{"unexpected exits 1", "Last llama-server output", "failed to load model"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	cfg := testConfig(t, readyServer)
	cfg.ServerPath = filepath.Join(t.TempDir(), "does-not-exist")
	o, _ := newTestOrchestrator(t, cfg)

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded with a missing binary")
	}
	if errors.Is(err, ErrServerExited) {
		t.Error("spawn failure reported as a server exit")
	}
	if o.Coordinator().Primary().State() != supervisor.StateIdle {
		t.Errorf("primary state = %v, want idle", o.Coordinator().Primary().State())
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	cfg := testConfig(t, readyServer)
	cfg.SkipPreflight = false
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.gguf")
	o, out := newTestOrchestrator(t, cfg)

	if err := o.Run(context.Background()); !errors.Is(err, ErrPreflightFailed) {
		t.Fatalf("Run() error = %v, want ErrPreflightFailed", err)
	}
	if !strings.Contains(out.String(), "model_file") {
		t.Errorf("preflight results not printed:\n%s", out.String())
	}
	if o.Coordinator().Primary().State() != supervisor.StateIdle {
		t.Error("server started despite failed preflight")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	cfg := testConfig(t, readyServer)
	cfg.Duration = 0
	o, _ := newTestOrchestrator(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_LaunchesWrapper(t *testing.T) {
	cfg := testConfig(t, readyServer)
	cfg.OAIEnabled = true
	cfg.OAIPort = freePort(t)
	cfg.Python = "/bin/sh"
	cfg.OAIScript = writeScript(t, "wrapper.sh", idleWrapper)
	cfg.GracePeriod = 100 * time.Millisecond
	cfg.Duration = time.Second
	o, out := newTestOrchestrator(t, cfg)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	summary := o.Metrics().GenerateSummary()
	if summary.Starts[coordinator.SecondaryName] != 1 {
		t.Errorf("wrapper starts = %d, want 1", summary.Starts[coordinator.SecondaryName])
	}
	if o.Coordinator().Secondary().State() != supervisor.StateStopped {
		t.Errorf("wrapper state = %v", o.Coordinator().Secondary().State())
	}
	if !strings.Contains(out.String(), "oai-wrapper") {
		t.Errorf("summary missing the wrapper:\n%s", out.String())
	}
	if len(o.Snapshot().Processes) != 2 {
		t.Error("snapshot should list both processes")
	}
}

func TestRun_SavesSettings(t *testing.T) {
	cfg := testConfig(t, readyServer)
	cfg.NoSaveSettings = false
	cfg.SettingsPath = filepath.Join(t.TempDir(), "conf", "settings.toml")
	cfg.CtxSize = 4096
	o, _ := newTestOrchestrator(t, cfg)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	s, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil || s == nil {
		t.Fatalf("LoadSettings() = %v, %v", s, err)
	}
	if s.ModelPath != cfg.ModelPath || s.CtxSize != 4096 {
		t.Errorf("saved settings = %+v", s)
	}
}

func TestRun_MetricsRegistered(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t, readyServer))
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	families, err := o.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	for _, want := range []string{
		"llama_supervisor_process_starts_total",
		"llama_supervisor_output_lines_total",
		"go_goroutines",
	} {
		if !slices.Contains(names, want) {
			t.Errorf("registry missing %s", want)
		}
	}
}

// =============================================================================
// Readiness and status
// =============================================================================

func TestReady_BeforeStart(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t, readyServer))

	ok, reason := o.ready()
	if ok {
		t.Fatal("ready before start")
	}
	if !strings.Contains(reason, "idle") {
		t.Errorf("reason = %q", reason)
	}

	snap := o.Snapshot()
	if snap.Processes[0].State != "idle" || snap.Processes[0].Label != "llama-server" {
		t.Errorf("process = %+v", snap.Processes[0])
	}
	if !strings.HasPrefix(snap.ServerURL, "http://127.0.0.1:") {
		t.Errorf("ServerURL = %q", snap.ServerURL)
	}
	if snap.Model != "model.gguf" {
		t.Errorf("Model = %q", snap.Model)
	}
}

func TestRecentLines(t *testing.T) {
	r := newRecentLines(3)
	if len(r.Lines()) != 0 {
		t.Error("new ring should be empty")
	}

	r.Add("a")
	r.Add("b")
	if got := r.Lines(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Lines() = %v", got)
	}

	r.Add("c")
	r.Add("d")
	r.Add("e")
	if got := r.Lines(); !slices.Equal(got, []string{"c", "d", "e"}) {
		t.Errorf("Lines() after wrap = %v", got)
	}
}

// =============================================================================
// Check-mode completion
// =============================================================================

func TestSmokeTest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ready"}}]}`)
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t, testConfig(t, readyServer))
	if err := o.smokeTest(context.Background(), srv.URL, srv.Listener.Addr().String()); err != nil {
		t.Fatalf("smokeTest() error = %v", err)
	}

	summary := o.Metrics().GenerateSummary()
	if summary.Completions[completion.OutcomeSuccess] != 1 {
		t.Errorf("completions = %v", summary.Completions)
	}
	if !slices.Contains(o.recent.Lines(), "[check] completion ok: ready") {
		t.Errorf("recent = %v", o.recent.Lines())
	}
}

func TestSmokeTest_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t, testConfig(t, readyServer))
	err := o.smokeTest(context.Background(), srv.URL, srv.Listener.Addr().String())
	if !errors.Is(err, completion.ErrRequestRejected) {
		t.Fatalf("smokeTest() error = %v, want ErrRequestRejected", err)
	}
}

func TestSmokeTest_CancelledWhileWaiting(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(t, readyServer))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	if err := o.smokeTest(ctx, "http://"+addr, addr); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("smokeTest() error = %v, want deadline exceeded", err)
	}
}

// =============================================================================
// Formatting
// =============================================================================

func TestExitCodeLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "(clean)"},
		{1, "(error)"},
		{137, "(SIGKILL)"},
		{143, "(SIGTERM)"},
		{3, ""},
	}
	for _, tt := range tests {
		if got := exitCodeLabel(tt.code); got != tt.want {
			t.Errorf("exitCodeLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestDescribeExit(t *testing.T) {
	if got := describeExit(process.ExitStatus{Code: 0}); got != "exit 0 (clean)" {
		t.Errorf("describeExit(0) = %q", got)
	}
	if got := describeExit(process.ExitStatus{Code: 3}); got != "exit 3" {
		t.Errorf("describeExit(3) = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(3*time.Hour + 25*time.Minute + 7*time.Second); got != "03:25:07" {
		t.Errorf("formatDuration = %q", got)
	}
}
