// Package provider implements the generation provider cascade: an
// ordered list of interchangeable look-generation backends, each with
// its own retry budget, tried in sequence until one succeeds.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/styletide/stylist-engine/internal/platform/observability"
	"github.com/styletide/stylist-engine/internal/platform/resilience"
	"go.opentelemetry.io/otel/attribute"
)

// Candidate describes one provider in the cascade.
type Candidate struct {
	// Name identifies the provider to the Caller and in diagnostics
	Name string

	// MaxRetries is the number of additional attempts after the first
	// failed call
	MaxRetries int

	// BackoffBase is the delay before the first retry; subsequent
	// retries double it (base * 2^attempt)
	BackoffBase time.Duration
}

// Caller executes a single call against a named candidate. The cascade
// holds no network state of its own; all transport concerns live behind
// this function.
type Caller[Req, Res any] func(ctx context.Context, candidate string, req Req) (Res, error)

const (
	// maxAttemptsPerCandidate bounds a candidate's total attempts even
	// if its configured retry budget is larger
	maxAttemptsPerCandidate = 4

	// defaultMaxBackoff caps a single backoff sleep
	defaultMaxBackoff = 8 * time.Second
)

// Cascade tries candidates in order, exhausting each one's retry budget
// before advancing. A permanent failure skips the candidate's remaining
// retries immediately.
type Cascade[Req, Res any] struct {
	candidates []Candidate
	call       Caller[Req, Res]
	maxBackoff time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     observability.Tracer
}

// CascadeConfig configures a cascade.
type CascadeConfig struct {
	Candidates []Candidate

	// MaxBackoff caps the exponential backoff delay (default 8s)
	MaxBackoff time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewCascade creates a cascade over the given candidates and caller.
func NewCascade[Req, Res any](cfg CascadeConfig, call Caller[Req, Res]) (*Cascade[Req, Res], error) {
	if len(cfg.Candidates) == 0 {
		return nil, fmt.Errorf("at least one candidate is required")
	}
	if call == nil {
		return nil, fmt.Errorf("caller is required")
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Cascade[Req, Res]{
		candidates: cfg.Candidates,
		call:       call,
		maxBackoff: cfg.MaxBackoff,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}, nil
}

// Invoke tries each candidate in order until one returns a result.
// Transient failures are retried within the candidate's budget with
// exponential backoff; permanent failures advance to the next candidate
// immediately. When every candidate fails, Invoke returns an
// ExhaustedError carrying the ordered per-candidate reasons.
func (c *Cascade[Req, Res]) Invoke(ctx context.Context, req Req) (Res, error) {
	var zero Res

	ctx, span := c.tracer.StartSpan(ctx, "Cascade.Invoke",
		observability.WithAttributes(
			attribute.Int("candidates", len(c.candidates)),
		),
	)
	defer span.End()

	failures := make([]CandidateFailure, 0, len(c.candidates))

	for i, candidate := range c.candidates {
		if i > 0 {
			if c.metrics != nil {
				c.metrics.RecordProviderFallback(ctx, candidate.Name)
			}
			if c.logger != nil {
				c.logger.LogInfo(ctx, "falling back to next provider",
					"provider", candidate.Name,
					"position", i,
				)
			}
		}

		res, failure := c.tryCandidate(ctx, candidate, req)
		if failure == nil {
			span.SetAttribute("provider", candidate.Name)
			return res, nil
		}

		failures = append(failures, *failure)

		if ctx.Err() != nil {
			span.NoticeError(ctx.Err())
			return zero, fmt.Errorf("cascade cancelled after %d candidate(s): %w", len(failures), ctx.Err())
		}
	}

	exhausted := &ExhaustedError{Failures: failures}
	span.NoticeError(exhausted)

	if c.metrics != nil {
		c.metrics.RecordCascadeExhaustion(ctx)
	}
	if c.logger != nil {
		c.logger.LogError(ctx, "all generation providers exhausted", exhausted,
			"candidates", len(c.candidates),
		)
	}

	return zero, exhausted
}

// tryCandidate runs one candidate's full attempt budget. It returns the
// result on success, or a CandidateFailure describing why the candidate
// was abandoned.
func (c *Cascade[Req, Res]) tryCandidate(ctx context.Context, candidate Candidate, req Req) (Res, *CandidateFailure) {
	var zero Res

	attempts := candidate.MaxRetries + 1
	if attempts > maxAttemptsPerCandidate {
		attempts = maxAttemptsPerCandidate
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	attemptsMade := 0

	for attempt := 0; attempt < attempts; attempt++ {
		attemptsMade = attempt + 1
		start := time.Now()
		res, err := c.call(ctx, candidate.Name, req)
		duration := time.Since(start)

		if err == nil {
			if c.metrics != nil {
				c.metrics.RecordProviderAttempt(ctx, candidate.Name, "success", duration)
			}
			return res, nil
		}

		lastErr = err

		if c.metrics != nil {
			c.metrics.RecordProviderAttempt(ctx, candidate.Name, "error", duration)
		}
		if c.logger != nil {
			c.logger.LogWarn(ctx, "provider call failed",
				"provider", candidate.Name,
				"attempt", attempt+1,
				"error", err,
			)
		}

		if IsPermanent(err) {
			return zero, &CandidateFailure{
				Candidate: candidate.Name,
				Attempts:  attempt + 1,
				Reason:    err.Error(),
				Permanent: true,
			}
		}

		if ctx.Err() != nil {
			break
		}

		// Don't sleep after the final attempt
		if attempt == attempts-1 {
			break
		}

		delay := resilience.Backoff(attempt, candidate.BackoffBase, c.maxBackoff, 0)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, &CandidateFailure{
				Candidate: candidate.Name,
				Attempts:  attempt + 1,
				Reason:    fmt.Sprintf("%v (cancelled during backoff)", lastErr),
			}
		}
	}

	reason := "unknown failure"
	if lastErr != nil {
		reason = lastErr.Error()
	}

	return zero, &CandidateFailure{
		Candidate: candidate.Name,
		Attempts:  attemptsMade,
		Reason:    reason,
	}
}

// Candidates returns the configured candidate list in cascade order.
func (c *Cascade[Req, Res]) Candidates() []Candidate {
	out := make([]Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}
