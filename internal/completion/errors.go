package completion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRequestRejected matches RequestRejectedError via errors.Is.
	ErrRequestRejected = errors.New("request rejected")

	// ErrDeadlineExceeded matches DeadlineExceededError via errors.Is.
	ErrDeadlineExceeded = errors.New("completion deadline exceeded")

	// ErrRetriesExhausted matches RetriesExhaustedError via errors.Is.
	ErrRetriesExhausted = errors.New("completion retries exhausted")

	// ErrMalformedResponse is returned when a 2xx body has no completion text.
	// It is not retried.
	ErrMalformedResponse = errors.New("malformed completion response")

	// ErrNoMessages is returned by Complete for an empty conversation.
	ErrNoMessages = errors.New("no messages to complete")
)

// maxErrorBody limits how much of a rejection body is kept.
const maxErrorBody = 4096

// RequestRejectedError is a non-2xx HTTP response. It is never retried.
type RequestRejectedError struct {
	Status int
	Body   string
}

func (e *RequestRejectedError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("request rejected: HTTP %d", e.Status)
	}
	return fmt.Sprintf("request rejected: HTTP %d: %s", e.Status, body)
}

// Is reports whether target is ErrRequestRejected.
func (e *RequestRejectedError) Is(target error) bool {
	return target == ErrRequestRejected
}

// DeadlineExceededError reports that the overall deadline passed before a
// response arrived. Last is the most recent attempt failure, if any.
type DeadlineExceededError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *DeadlineExceededError) Error() string {
	msg := fmt.Sprintf("completion deadline exceeded after %d attempt(s) in %v", e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

// Is reports whether target is ErrDeadlineExceeded or context.DeadlineExceeded.
func (e *DeadlineExceededError) Is(target error) bool {
	return target == ErrDeadlineExceeded || target == context.DeadlineExceeded
}

func (e *DeadlineExceededError) Unwrap() error {
	return e.Last
}

// RetriesExhaustedError reports that every attempt failed at the transport
// level. Last is the final transport error.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("completion failed after %d attempt(s): %v", e.Attempts, e.Last)
}

// Is reports whether target is ErrRetriesExhausted.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// transportError marks a failure that may succeed on retry: dial errors,
// resets, DNS failures, per-call timeouts and truncated bodies.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

func isRetryable(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}
