package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/styletide/stylist-engine/internal/platform/resilience"
)

// PermanentError marks a failure that retrying the same candidate cannot
// fix: bad credentials, exhausted quota, a rejected prompt. The cascade
// skips the candidate's remaining retry budget and moves on.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error so the cascade treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether the error is marked permanent, either
// explicitly via Permanent or by matching a known non-retryable pattern.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}

	return !resilience.IsRetryable(err)
}

// CandidateFailure records why one candidate was given up on.
type CandidateFailure struct {
	Candidate string
	Attempts  int
	Reason    string
	Permanent bool
}

func (f CandidateFailure) String() string {
	kind := "transient"
	if f.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s: %s after %d attempt(s): %s", f.Candidate, kind, f.Attempts, f.Reason)
}

// ExhaustedError is returned when every candidate's retry budget is used
// up. Failures appear in cascade order, one per candidate.
type ExhaustedError struct {
	Failures []CandidateFailure
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.String())
	}
	return fmt.Sprintf("all providers exhausted: [%s]", strings.Join(reasons, "; "))
}

// Reasons returns the ordered per-candidate failure descriptions.
func (e *ExhaustedError) Reasons() []string {
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.String())
	}
	return reasons
}

// IsExhausted reports whether err is a cascade exhaustion.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
