package score

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid score request")
	// ErrInternal matches every *InternalError.
	ErrInternal = errors.New("internal error")
)

// ValidationError reports a malformed request. It is raised before the
// cache or the provider is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InternalError wraps an unexpected failure inside the gateway itself
// (key derivation, a recovered panic).
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return "score: " + e.Op
	}
	return fmt.Sprintf("score: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Is(target error) bool { return target == ErrInternal }
