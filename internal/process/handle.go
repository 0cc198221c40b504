package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Read buffer; longer lines are accumulated up to maxLineSize.
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024

	// How long the output stream may stay open after the child exits
	// (grandchildren holding the pipe) before the handle abandons it.
	defaultDrainTimeout = 5 * time.Second
)

// ErrOutputAbandoned is reported by Err when the output stream was still
// open drainTimeout after the child exited and was closed by the handle.
var ErrOutputAbandoned = errors.New("output stream abandoned after process exit")

// HandleState is the lifecycle state of a Handle. States only move forward.
type HandleState int32

const (
	HandleUnstarted HandleState = iota
	HandleRunning
	HandleTerminating
	HandleExited
)

// String returns a human-readable name for the state.
func (s HandleState) String() string {
	switch s {
	case HandleUnstarted:
		return "unstarted"
	case HandleRunning:
		return "running"
	case HandleTerminating:
		return "terminating"
	case HandleExited:
		return "exited"
	default:
		return "unknown"
	}
}

// SpawnError reports that a process could not be launched.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Handle owns one spawned OS process. Its stdout and stderr share a single
// pipe that is read through Lines. A Handle is never reused; spawn a new one
// per run.
type Handle struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startTime time.Time

	state atomic.Int32
	sigMu sync.Mutex

	output       *os.File
	traversed    atomic.Bool
	streamDone   chan struct{}
	streamOnce   sync.Once
	abandoned    atomic.Bool
	errMu        sync.Mutex
	streamErr    error
	drainTimeout time.Duration

	done   chan struct{}
	status ExitStatus
}

// Spawn launches spec with stderr merged into stdout and no stdin attached.
// The child is placed in its own process group so Terminate reaches any
// helpers it forks.
func Spawn(spec Spec) (*Handle, error) {
	return spawn(spec, defaultDrainTimeout)
}

func spawn(spec Spec, drainTimeout time.Duration) (*Handle, error) {
	if spec.IsZero() {
		return nil, &SpawnError{Err: ErrEmptySpec}
	}

	// One pipe for both streams keeps their relative order.
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Program: spec.program, Err: fmt.Errorf("output pipe: %w", err)}
	}

	cmd := exec.Command(spec.program, spec.args...)
	cmd.Stdout = outWrite
	cmd.Stderr = outWrite
	cmd.Stdin = nil // os.DevNull
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		outRead.Close()
		outWrite.Close()
		return nil, &SpawnError{Program: spec.program, Err: err}
	}

	// Close parent's write-end after Start() so the reader sees EOF once
	// the child (and anything it forked) is gone.
	outWrite.Close()

	h := &Handle{
		spec:         spec,
		cmd:          cmd,
		pid:          cmd.Process.Pid,
		startTime:    time.Now(),
		output:       outRead,
		streamDone:   make(chan struct{}),
		drainTimeout: drainTimeout,
		done:         make(chan struct{}),
	}
	h.state.Store(int32(HandleRunning))

	go h.reap()

	return h, nil
}

// reap waits for the child, records its status and bounds how long the
// output stream may outlive it.
func (h *Handle) reap() {
	waitErr := h.cmd.Wait()

	h.sigMu.Lock()
	h.status = exitStatusFrom(waitErr)
	h.state.Store(int32(HandleExited))
	h.sigMu.Unlock()
	close(h.done)

	timer := time.NewTimer(h.drainTimeout)
	defer timer.Stop()

	select {
	case <-h.streamDone:
	case <-timer.C:
		h.abandoned.Store(true)
		h.closeStream()
	}
}

// Lines returns the combined output as a lazy sequence of raw lines.
//
// The sequence blocks while waiting for output and ends when the stream
// reaches EOF. A line longer than maxLineSize is yielded in several
// pieces. Only the first traversal yields anything.
// Breaking out of the loop closes the stream; a child still writing then
// gets EPIPE.
func (h *Handle) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		if !h.traversed.CompareAndSwap(false, true) {
			return
		}
		defer h.closeStream()

		err := readLines(bufio.NewReaderSize(h.output, initialLineBuffer), yield)
		if h.abandoned.Load() {
			err = ErrOutputAbandoned
		}
		h.errMu.Lock()
		h.streamErr = err
		h.errMu.Unlock()
	}
}

// readLines splits r into lines until EOF, a read error, or yield
// returning false. Trailing "\n" and "\r\n" are removed.
func readLines(r *bufio.Reader, yield func(string) bool) error {
	var line []byte
	split := false // part of the current line was already yielded
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)

		if errors.Is(err, bufio.ErrBufferFull) {
			if len(line) >= maxLineSize {
				if !yield(string(line)) {
					return nil
				}
				line = line[:0]
				split = true
			}
			continue
		}

		if rest := trimEOL(line); len(rest) > 0 || (err == nil && !split) {
			if !yield(string(rest)) {
				return nil
			}
		}
		line = line[:0]
		split = false

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}

func (h *Handle) closeStream() {
	h.streamOnce.Do(func() {
		h.output.Close()
		close(h.streamDone)
	})
}

// Err returns the error that ended the Lines traversal, if any.
// A clean EOF is not an error.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.streamErr
}

// Terminate asks the process group to exit (SIGTERM on Unix).
// It never fails and is a no-op once terminating or exited.
func (h *Handle) Terminate() {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()

	if !h.state.CompareAndSwap(int32(HandleRunning), int32(HandleTerminating)) {
		return
	}
	terminateGroup(h.cmd.Process)
}

// Kill forcibly ends the process group (SIGKILL on Unix).
// No-op once exited.
func (h *Handle) Kill() {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()

	switch state := HandleState(h.state.Load()); state {
	case HandleRunning, HandleTerminating:
		if state == HandleRunning {
			h.state.Store(int32(HandleTerminating))
		}
		killGroup(h.cmd.Process)
	}
}

// Wait blocks until the process has exited and returns its status.
// Safe to call from several goroutines and after Terminate.
func (h *Handle) Wait() ExitStatus {
	<-h.done
	return h.status
}

// Done returns a channel closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the current lifecycle state.
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// Pid returns the OS process id.
func (h *Handle) Pid() int {
	return h.pid
}

// Spec returns the spec the process was spawned from.
func (h *Handle) Spec() Spec {
	return h.spec
}

// StartTime returns when the process was started.
func (h *Handle) StartTime() time.Time {
	return h.startTime
}
