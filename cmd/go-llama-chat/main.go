// Package main provides the go-llama-chat CLI entry point.
//
// go-llama-chat is a line-oriented chat front end for an OpenAI-compatible
// endpoint (by default the wrapper started by go-llama-supervisor). Each
// message is sent with the whole conversation, retried within a bounded
// budget, and Ctrl-C aborts the request in flight.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-llama-supervisor/internal/completion"
	"github.com/randomizedcoder/go-llama-supervisor/internal/config"
	"github.com/randomizedcoder/go-llama-supervisor/internal/logging"
	"github.com/randomizedcoder/go-llama-supervisor/internal/metrics"
)

var version = "dev"

const maxLineSize = 1024 * 1024

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseChatArgs(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	logging.SetDefault(logger)

	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:   version,
		Model:     cfg.Model,
		SessionID: uuid.NewString(),
	}, prometheus.NewRegistry())

	client, err := completion.New(completion.Config{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Endpoint: cfg.Endpoint,
		Budget:   cfg.Budget,
		Backoff:  cfg.BackoffConfig(),
		Logger:   logger,
		Recorder: collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	sess := newSession(client, completion.NewHistory(cfg.SystemPrompt), os.Stdout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if !sess.Interrupt() {
				fmt.Fprintln(os.Stdout)
				printSummary(os.Stdout, collector.GenerateSummary())
				os.Exit(130)
			}
		}
	}()

	fmt.Fprintf(os.Stdout, "go-llama-chat %s -> %s\n", version, client.URL())
	fmt.Fprintln(os.Stdout, "Type a message, /history to list the conversation, /exit to quit.")

	err = sess.Run(context.Background(), os.Stdin)
	printSummary(os.Stdout, collector.GenerateSummary())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// session is one conversation. The history only grows by complete
// user/assistant exchanges.
type session struct {
	client  *completion.Client
	history *completion.History
	out     io.Writer

	mu     sync.Mutex
	cancel context.CancelFunc // in-flight request, nil when idle
}

func newSession(client *completion.Client, history *completion.History, out io.Writer) *session {
	return &session{client: client, history: history, out: out}
}

// Run reads messages from in until EOF or /exit.
func (s *session) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/history":
			s.printHistory()
			continue
		}

		if err := s.Send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// Send completes one user message. On success the exchange is appended to
// the history and the reply printed; on failure the history is unchanged.
func (s *session) Send(ctx context.Context, text string) error {
	reqCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	user := completion.NewUserMessage(text)
	reply, err := s.client.Complete(reqCtx, append(s.history.Messages(), user))
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			fmt.Fprintln(s.out, "(cancelled)")
			return nil
		}
		return err
	}

	s.history.Append(user, completion.NewAssistantMessage(reply))
	fmt.Fprintln(s.out, reply)
	return nil
}

// Interrupt cancels the request in flight. It reports false when idle.
func (s *session) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *session) printHistory() {
	msgs := s.history.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(s.out, "(empty)")
		return
	}
	for i, m := range msgs {
		fmt.Fprintf(s.out, "%3d %-9s %s\n", i+1, m.Role, m.Content)
	}
}

// printSummary prints completion statistics for the session.
func printSummary(w io.Writer, summary *metrics.Summary) {
	if summary.CompletionCalls == 0 {
		return
	}

	outcomes := make([]string, 0, len(summary.Completions))
	for k, v := range summary.Completions {
		outcomes = append(outcomes, fmt.Sprintf("%s=%d", k, v))
	}
	slices.Sort(outcomes)

	fmt.Fprintf(w, "%d message(s) in %s: %s (p50 %s, p95 %s)\n",
		summary.CompletionCalls,
		summary.Duration.Round(time.Second),
		strings.Join(outcomes, " "),
		summary.CompletionP50.Round(time.Millisecond),
		summary.CompletionP95.Round(time.Millisecond),
	)
}
