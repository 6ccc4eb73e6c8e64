package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/patternlab/internal/resilience"
)

var (
	// ErrToolNotFound means the execution mechanism itself is unreachable
	// (no fabric binary, no patterns directory). It fails the whole run
	// rather than a single pattern.
	ErrToolNotFound = errors.New("executor: pattern tool not found")

	// ErrShortOutput is returned for a successful invocation whose output is
	// too short to be a real result.
	ErrShortOutput = errors.New("executor: suspiciously short output")
)

// PatternExecutionError is returned when every model failed on every
// permitted attempt.
type PatternExecutionError struct {
	Pattern string

	// Attempts is the number of runner invocations, including models skipped
	// by an open circuit breaker.
	Attempts int

	// Err joins the failures of the final pass through the model list.
	Err error
}

func (e *PatternExecutionError) Error() string {
	return fmt.Sprintf("executor: pattern %q failed after %d attempts: %v", e.Pattern, e.Attempts, e.Err)
}

func (e *PatternExecutionError) Unwrap() error { return e.Err }

// transientMarkers are substrings of error text that signal rate limiting or
// overload on the model backend.
var transientMarkers = []string{
	"429",
	"529",
	"overloaded",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"quota",
	"too many requests",
	"timeout",
	"timed out",
	"temporarily unavailable",
}

// IsTransient reports whether err looks like load-related trouble that may
// clear after a backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrShortOutput) ||
		errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
