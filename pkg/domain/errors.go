package domain

import (
	"errors"
	"fmt"
)

// Terminal failure kinds for a conversational turn. Every failure the
// orchestrator can produce maps to exactly one of these, so callers can
// branch with errors.Is without string matching.
var (
	ErrRateLimited    = errors.New("rate limited")
	ErrInputRejected  = errors.New("input rejected")
	ErrOutputRejected = errors.New("output rejected")
	ErrUpstream       = errors.New("upstream generation failed")
)

// RejectionError carries the user-facing reason for a rejected turn along
// with the check category that fired. Kind is one of ErrRateLimited,
// ErrInputRejected, or ErrOutputRejected.
type RejectionError struct {
	Kind     error
	Category Category
	Reason   string
}

func (e *RejectionError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("%v (%s): %s", e.Kind, e.Category, e.Reason)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

// UpstreamError wraps a failed model call. The cause is preserved for logs;
// user-facing surfaces must render a configured message instead.
type UpstreamError struct {
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream generation failed: %v", e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is matches UpstreamError against the ErrUpstream sentinel so callers can
// test errors.Is(err, ErrUpstream) without losing the cause chain.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
