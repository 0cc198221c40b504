// Package preflight provides startup validation checks.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
)

// minFileDescriptors covers both children's pipes, the listeners, the
// metrics server and the model file mapping.
const minFileDescriptors = 256

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Port names a TCP address that must be free before launch.
type Port struct {
	Name string // e.g. "server_port"
	Addr string // host:port
}

// Options selects what RunAll checks.
type Options struct {
	ServerPath string
	ModelPath  string

	// Wrapper checks run only when WrapperScript is set.
	WrapperScript string
	Python        string

	Ports []Port
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5+len(opts.Ports)),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(minFileDescriptors))
	add(checkExecutable("server_binary", opts.ServerPath))
	add(checkFile("model_file", opts.ModelPath))

	if opts.WrapperScript != "" {
		add(checkExecutable("python", opts.Python))
		add(checkFile("wrapper_script", opts.WrapperScript))
	}

	for _, p := range opts.Ports {
		add(checkPortFree(p.Name, p.Addr))
	}

	return result
}

// checkExecutable verifies path resolves to something exec can run.
func checkExecutable(name, path string) Check {
	if path == "" {
		return Check{Name: name, Passed: false, Message: "not configured"}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("found at %s", resolved),
	}
}

// checkFile verifies path is an existing regular file.
func checkFile(name, path string) Check {
	if path == "" {
		return Check{Name: name, Passed: false, Message: "not configured"}
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Check{Name: name, Passed: false, Message: fmt.Sprintf("%s does not exist", path)}
	case err != nil:
		return Check{Name: name, Passed: false, Message: fmt.Sprintf("%s: %v", path, err)}
	case !info.Mode().IsRegular():
		return Check{Name: name, Passed: false, Message: fmt.Sprintf("%s is not a regular file", path)}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("%s (%s)", filepath.Base(path), formatSize(info.Size())),
	}
}

// checkPortFree verifies nothing is listening on addr yet.
func checkPortFree(name, addr string) Check {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("%s unavailable: %v", addr, err),
		}
	}
	ln.Close()
	return Check{Name: name, Passed: true, Message: fmt.Sprintf("%s free", addr)}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(required int) Check {
	actual, ok := openFileLimit()
	if !ok {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to check on this platform",
		}
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "server_binary":
		return "build llama.cpp and pass its server binary with -server"
	case "model_file":
		return "pass an existing model file as the argument or with -model"
	case "python":
		return "install python3 or pass the interpreter with -python"
	case "wrapper_script":
		return "pass the path to api_like_OAI.py with -oai-script"
	case "server_port", "wrapper_port", "metrics_port":
		return "stop the process using the port or choose another one"
	default:
		return "see documentation"
	}
}
