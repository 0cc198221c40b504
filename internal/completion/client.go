// Package completion implements a chat-completion client with a bounded
// retry loop and an overall deadline.
//
// Classification of one attempt:
//
//	2xx with completion text      -> success
//	2xx without completion text   -> ErrMalformedResponse (not retried)
//	non-2xx                       -> RequestRejectedError (not retried)
//	transport failure / timeout   -> retried while attempts remain
//	overall deadline              -> DeadlineExceededError, at any point
//	caller cancellation           -> context.Canceled, immediately
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Endpoint selects the completion API shape.
type Endpoint string

const (
	// EndpointChat is POST /v1/chat/completions, text at choices[0].message.content.
	EndpointChat Endpoint = "chat"

	// EndpointCompletions is the legacy POST /v1/completions, text at choices[0].text.
	EndpointCompletions Endpoint = "completions"
)

// Path returns the URL path of the endpoint.
func (e Endpoint) Path() string {
	if e == EndpointCompletions {
		return "/v1/completions"
	}
	return "/v1/chat/completions"
}

// textPaths are tried in order to find the completion text.
func (e Endpoint) textPaths() []string {
	if e == EndpointCompletions {
		return []string{"choices.0.text", "choices.0.message.content"}
	}
	return []string{"choices.0.message.content", "choices.0.text"}
}

// Defaults.
const (
	DefaultModel           = "gpt-3.5-turbo"
	DefaultMaxResponseSize = 10 * 1024 * 1024
	userAgent              = "go-llama-supervisor/1.0"
)

// Outcome labels passed to a Recorder.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeTransport = "transport"
	OutcomeDeadline  = "deadline"
	OutcomeCancelled = "cancelled"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Recorder receives completion metrics (see metrics.Collector).
type Recorder interface {
	RecordCompletionAttempt(outcome string, duration time.Duration)
	RecordCompletion(outcome string, attempts int, duration time.Duration)
}

// Config holds configuration for creating a new Client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8089.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the model name sent with every request.
	Model string

	Endpoint Endpoint
	Budget   RetryBudget

	// Backoff between attempts; nil retries immediately.
	Backoff *BackoffConfig

	// HTTPClient defaults to a client without its own timeout; the budget
	// bounds every request.
	HTTPClient *http.Client

	Logger   *slog.Logger
	Recorder Recorder

	// MaxResponseSize limits how much of a response body is read.
	MaxResponseSize int64
}

// Client sends completion requests. It holds no per-call state and is safe
// for concurrent use.
type Client struct {
	url      string
	apiKey   string
	model    string
	endpoint Endpoint
	budget   RetryBudget
	backoff  *BackoffConfig
	http     *http.Client
	logger   *slog.Logger
	recorder Recorder
	maxBody  int64
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", cfg.BaseURL)
	}

	budget := cfg.Budget
	if budget == (RetryBudget{}) {
		budget = DefaultRetryBudget()
	}
	if err := budget.Validate(); err != nil {
		return nil, fmt.Errorf("retry budget: %w", err)
	}

	endpoint := cfg.Endpoint
	switch endpoint {
	case "":
		endpoint = EndpointChat
	case EndpointChat, EndpointCompletions:
	default:
		return nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxResponseSize
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseSize
	}

	// Path is appended unless the base already points at /v1.
	path := endpoint.Path()
	if strings.HasSuffix(u.Path, "/v1") {
		path = strings.TrimPrefix(path, "/v1")
	}

	return &Client{
		url:      u.String() + path,
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		budget:   budget,
		backoff:  cfg.Backoff,
		http:     httpClient,
		logger:   logger,
		recorder: cfg.Recorder,
		maxBody:  maxBody,
	}, nil
}

// URL returns the full request URL.
func (c *Client) URL() string {
	return c.url
}

// Budget returns the retry budget in use.
func (c *Client) Budget() RetryBudget {
	return c.budget
}

// request is the JSON body. Prompt is only set for the legacy endpoint.
type request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Prompt   string    `json:"prompt,omitempty"`
}

// Complete sends the conversation and returns the assistant's reply.
// messages is only read; append the reply yourself.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return "", fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}

	body, err := c.encode(messages)
	if err != nil {
		return "", err
	}

	requestID := uuid.NewString()
	start := time.Now()

	opCtx, cancel := context.WithTimeout(ctx, c.budget.OverallDeadline)
	defer cancel()

	var backoff *Backoff
	if c.backoff != nil {
		backoff = NewBackoff(start.UnixNano(), *c.backoff)
	}

	var last error
	attempts := 0
	for attempts < c.budget.MaxAttempts {
		attempts++

		attemptStart := time.Now()
		text, err := c.attempt(opCtx, body, requestID, attempts)
		attemptOutcome := classify(err)
		c.recordAttempt(attemptOutcome, time.Since(attemptStart))

		if err == nil {
			c.recordCompletion(OutcomeSuccess, attempts, time.Since(start))
			c.logger.Debug("completion_succeeded",
				"request_id", requestID,
				"attempts", attempts,
				"elapsed", time.Since(start).String(),
			)
			return text, nil
		}

		// Whatever the attempt said, an expired context decides the result.
		if done := c.finish(ctx, opCtx, requestID, attempts, start, err); done != nil {
			return "", done
		}

		if !isRetryable(err) {
			c.recordCompletion(attemptOutcome, attempts, time.Since(start))
			c.logger.Warn("completion_failed",
				"request_id", requestID,
				"attempt", attempts,
				"error", err,
			)
			return "", err
		}

		last = errors.Unwrap(err)
		c.logger.Warn("completion_attempt_failed",
			"request_id", requestID,
			"attempt", attempts,
			"max_attempts", c.budget.MaxAttempts,
			"error", last,
		)

		if backoff != nil && attempts < c.budget.MaxAttempts {
			timer := time.NewTimer(backoff.Next())
			select {
			case <-timer.C:
			case <-opCtx.Done():
				timer.Stop()
				return "", c.finish(ctx, opCtx, requestID, attempts, start, last)
			}
		}
	}

	c.recordCompletion(OutcomeExhausted, attempts, time.Since(start))
	c.logger.Warn("completion_retries_exhausted",
		"request_id", requestID,
		"attempts", attempts,
		"error", last,
	)
	return "", &RetriesExhaustedError{Attempts: attempts, Last: last}
}

// finish returns the terminal error if either the caller's context or the
// overall deadline has ended, nil otherwise.
func (c *Client) finish(ctx, opCtx context.Context, requestID string, attempts int, start time.Time, last error) error {
	if opCtx.Err() == nil {
		return nil
	}
	if te, ok := last.(*transportError); ok {
		last = te.err
	}
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.Canceled) {
		c.recordCompletion(OutcomeCancelled, attempts, elapsed)
		c.logger.Info("completion_cancelled", "request_id", requestID, "attempts", attempts)
		return fmt.Errorf("completion cancelled after %d attempt(s): %w", attempts, context.Canceled)
	}

	c.recordCompletion(OutcomeDeadline, attempts, elapsed)
	c.logger.Warn("completion_deadline_exceeded",
		"request_id", requestID,
		"attempts", attempts,
		"elapsed", elapsed.String(),
	)
	return &DeadlineExceededError{Attempts: attempts, Elapsed: elapsed, Last: last}
}

// attempt performs one HTTP round trip bounded by the per-call timeout.
func (c *Client) attempt(opCtx context.Context, body []byte, requestID string, n int) (string, error) {
	callCtx, cancel := context.WithTimeout(opCtx, c.budget.PerCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("completion_attempt", "request_id", requestID, "attempt", n, "url", c.url)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The status alone decides; a body cut short still rejects.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &RequestRejectedError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return "", &transportError{err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(data)) > c.maxBody {
		return "", fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, c.maxBody)
	}
	return c.extract(data)
}

// extract pulls the completion text out of a response body.
func (c *Client) extract(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	for _, path := range c.endpoint.textPaths() {
		if r := gjson.GetBytes(data, path); r.Type == gjson.String {
			return r.String(), nil
		}
	}
	return "", fmt.Errorf("%w: no %s", ErrMalformedResponse, c.endpoint.textPaths()[0])
}

func (c *Client) encode(messages []Message) ([]byte, error) {
	req := request{Model: c.model, Messages: messages}
	if c.endpoint == EndpointCompletions {
		req.Prompt = renderPrompt(messages)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

// renderPrompt flattens a conversation for the legacy completions endpoint.
func renderPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			b.WriteString(m.Content)
		case RoleUser:
			b.WriteString("\n### User: ")
			b.WriteString(m.Content)
		case RoleAssistant:
			b.WriteString("\n### Assistant: ")
			b.WriteString(m.Content)
		}
	}
	b.WriteString("\n### Assistant:")
	return strings.TrimLeft(b.String(), "\n")
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrRequestRejected):
		return OutcomeRejected
	case errors.Is(err, ErrMalformedResponse):
		return OutcomeMalformed
	case isRetryable(err):
		return OutcomeTransport
	default:
		return OutcomeError
	}
}

func (c *Client) recordAttempt(outcome string, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordCompletionAttempt(outcome, d)
	}
}

func (c *Client) recordCompletion(outcome string, attempts int, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordCompletion(outcome, attempts, d)
	}
}
