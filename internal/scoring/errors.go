package scoring

import (
	"errors"
	"fmt"
)

// ErrUpstream matches every *UpstreamError via errors.Is.
var ErrUpstream = errors.New("scoring upstream error")

// UpstreamError is returned when the provider call does not succeed.
// StatusCode is 0 for transport failures.
type UpstreamError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("scoring: upstream unreachable: %v", e.Err)
	case e.Reason != "":
		return fmt.Sprintf("scoring: upstream %d: %s", e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("scoring: upstream %d", e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }
