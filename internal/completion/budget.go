package completion

import (
	"errors"
	"fmt"
	"time"
)

// RetryBudget bounds how persistently Complete retries.
//
// OverallDeadline caps total wall time regardless of attempts left; each
// attempt is also capped by PerCallTimeout.
type RetryBudget struct {
	MaxAttempts     int           `json:"max_attempts" toml:"max_attempts"`
	PerCallTimeout  time.Duration `json:"per_call_timeout" toml:"per_call_timeout"`
	OverallDeadline time.Duration `json:"overall_deadline" toml:"overall_deadline"`
}

// DefaultRetryBudget returns 3 attempts of up to 30s within 120s.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{
		MaxAttempts:     3,
		PerCallTimeout:  30 * time.Second,
		OverallDeadline: 120 * time.Second,
	}
}

// Validate checks the budget's invariants.
func (b RetryBudget) Validate() error {
	var errs []error
	if b.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be >= 1, got %d", b.MaxAttempts))
	}
	if b.PerCallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("per-call timeout must be positive, got %v", b.PerCallTimeout))
	}
	if b.OverallDeadline <= 0 {
		errs = append(errs, fmt.Errorf("overall deadline must be positive, got %v", b.OverallDeadline))
	}
	return errors.Join(errs...)
}

// DeadlineBinds reports whether the overall deadline can cut the attempts
// short even if every attempt used its full per-call timeout.
func (b RetryBudget) DeadlineBinds() bool {
	return b.OverallDeadline < time.Duration(b.MaxAttempts)*b.PerCallTimeout
}
