// Package process provides abstractions for running external processes.
package process

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySpec is returned when a Spec has no program token.
var ErrEmptySpec = errors.New("process spec has no program")

// Builder creates process specs from user settings.
// This interface allows the supervisor to be process-agnostic.
type Builder interface {
	// BuildSpec returns the spec to spawn. The process is not started.
	BuildSpec() (Spec, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// Spec is an immutable command line: a program path followed by its arguments.
type Spec struct {
	program string
	args    []string
}

// NewSpec builds a Spec. Only the program token is validated; argument
// values are the builder's concern.
func NewSpec(program string, args ...string) (Spec, error) {
	if strings.TrimSpace(program) == "" {
		return Spec{}, ErrEmptySpec
	}
	return Spec{
		program: program,
		args:    append([]string(nil), args...),
	}, nil
}

// MustSpec is like NewSpec but panics on an empty program. For tests and
// constant command lines.
func MustSpec(program string, args ...string) Spec {
	s, err := NewSpec(program, args...)
	if err != nil {
		panic(err)
	}
	return s
}

// Program returns the program token.
func (s Spec) Program() string {
	return s.program
}

// Args returns a copy of the arguments.
func (s Spec) Args() []string {
	return append([]string(nil), s.args...)
}

// Tokens returns a copy of the full token list, program first.
func (s Spec) Tokens() []string {
	return append([]string{s.program}, s.args...)
}

// IsZero reports whether the spec was never built.
func (s Spec) IsZero() bool {
	return s.program == ""
}

// String returns the command that would be executed (for debugging).
// Tokens containing whitespace are quoted.
func (s Spec) String() string {
	tokens := s.Tokens()
	for i, t := range tokens {
		if t == "" || strings.ContainsAny(t, " \t\n\"'") {
			tokens[i] = fmt.Sprintf("%q", t)
		}
	}
	return strings.Join(tokens, " ")
}
