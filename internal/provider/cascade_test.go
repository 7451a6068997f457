package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/styletide/stylist-engine/internal/platform/resilience"
)

// callRecorder counts calls per candidate and scripts their outcomes
type callRecorder struct {
	mu      sync.Mutex
	calls   map[string]int
	outcome func(candidate string, call int) (string, error)
}

func newCallRecorder(outcome func(candidate string, call int) (string, error)) *callRecorder {
	return &callRecorder{
		calls:   make(map[string]int),
		outcome: outcome,
	}
}

func (r *callRecorder) call(ctx context.Context, candidate string, req string) (string, error) {
	r.mu.Lock()
	r.calls[candidate]++
	n := r.calls[candidate]
	r.mu.Unlock()

	return r.outcome(candidate, n)
}

func (r *callRecorder) count(candidate string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[candidate]
}

func fastCandidates(names ...string) []Candidate {
	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		out = append(out, Candidate{Name: name, MaxRetries: 1, BackoffBase: time.Millisecond})
	}
	return out
}

// TestCascade_FirstCandidateSucceeds verifies no fallback happens when
// the primary works
func TestCascade_FirstCandidateSucceeds(t *testing.T) {
	rec := newCallRecorder(func(candidate string, call int) (string, error) {
		return "result-from-" + candidate, nil
	})

	c, err := NewCascade(CascadeConfig{Candidates: fastCandidates("alpha", "beta")}, rec.call)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}

	res, err := c.Invoke(context.Background(), "req")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res != "result-from-alpha" {
		t.Errorf("Expected alpha's result, got %q", res)
	}
	if rec.count("alpha") != 1 {
		t.Errorf("Expected 1 alpha call, got %d", rec.count("alpha"))
	}
	if rec.count("beta") != 0 {
		t.Errorf("Expected no beta calls, got %d", rec.count("beta"))
	}

	t.Log("✓ Primary success never touches the fallback")
}

// TestCascade_RetriesWithinBudgetThenFallsBack verifies each candidate's
// retry budget is exhausted in order before advancing
func TestCascade_RetriesWithinBudgetThenFallsBack(t *testing.T) {
	rec := newCallRecorder(func(candidate string, call int) (string, error) {
		if candidate == "beta" && call == 2 {
			return "recovered", nil
		}
		return "", errors.New("provider unavailable")
	})

	c, err := NewCascade(CascadeConfig{Candidates: fastCandidates("alpha", "beta")}, rec.call)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}

	res, err := c.Invoke(context.Background(), "req")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res != "recovered" {
		t.Errorf("Expected beta's result, got %q", res)
	}

	// MaxRetries=1 means 2 attempts per candidate
	if rec.count("alpha") != 2 {
		t.Errorf("Expected exactly 2 alpha attempts, got %d", rec.count("alpha"))
	}
	if rec.count("beta") != 2 {
		t.Errorf("Expected exactly 2 beta attempts, got %d", rec.count("beta"))
	}

	t.Log("✓ Retry budgets are honored in cascade order")
}

// TestCascade_ExhaustionCarriesOrderedReasons verifies the terminal
// error lists every candidate's failure in order
func TestCascade_ExhaustionCarriesOrderedReasons(t *testing.T) {
	rec := newCallRecorder(func(candidate string, call int) (string, error) {
		return "", errors.New(candidate + " is down")
	})

	c, err := NewCascade(CascadeConfig{Candidates: fastCandidates("alpha", "beta", "gamma")}, rec.call)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}

	_, err = c.Invoke(context.Background(), "req")
	if err == nil {
		t.Fatal("Expected exhaustion error")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %T: %v", err, err)
	}
	if !IsExhausted(err) {
		t.Error("Expected IsExhausted to report true")
	}

	if len(exhausted.Failures) != 3 {
		t.Fatalf("Expected 3 failures, got %d", len(exhausted.Failures))
	}

	expectedOrder := []string{"alpha", "beta", "gamma"}
	for i, f := range exhausted.Failures {
		if f.Candidate != expectedOrder[i] {
			t.Errorf("Failure %d: expected candidate %s, got %s", i, expectedOrder[i], f.Candidate)
		}
		if f.Attempts != 2 {
			t.Errorf("Failure %d: expected 2 attempts, got %d", i, f.Attempts)
		}
		if !strings.Contains(f.Reason, f.Candidate+" is down") {
			t.Errorf("Failure %d: reason missing provider detail: %q", i, f.Reason)
		}
	}

	t.Log("✓ Exhaustion error carries ordered per-candidate reasons")
}

// TestCascade_PermanentFailureShortCircuitsRetries verifies a permanent
// error skips the candidate's remaining budget
func TestCascade_PermanentFailureShortCircuitsRetries(t *testing.T) {
	rec := newCallRecorder(func(candidate string, call int) (string, error) {
		if candidate == "alpha" {
			return "", Permanent(errors.New("invalid api key"))
		}
		return "from-beta", nil
	})

	candidates := []Candidate{
		{Name: "alpha", MaxRetries: 3, BackoffBase: time.Millisecond},
		{Name: "beta", MaxRetries: 1, BackoffBase: time.Millisecond},
	}

	c, err := NewCascade(CascadeConfig{Candidates: candidates}, rec.call)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}

	res, err := c.Invoke(context.Background(), "req")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res != "from-beta" {
		t.Errorf("Expected beta's result, got %q", res)
	}

	if rec.count("alpha") != 1 {
		t.Errorf("Expected 1 alpha attempt despite 3 retries budget, got %d", rec.count("alpha"))
	}

	t.Log("✓ Permanent failures advance to the next candidate immediately")
}

// TestCascade_PermanentFailureRecordedInExhaustion verifies permanent
// failures still appear in the exhaustion diagnostics
func TestCascade_PermanentFailureRecordedInExhaustion(t *testing.T) {
	rec := newCallRecorder(func(candidate string, call int) (string, error) {
		if candidate == "alpha" {
			return "", Permanent(errors.New("quota exhausted"))
		}
		return "", errors.New("timeout")
	})

	c, err := NewCascade(CascadeConfig{Candidates: fastCandidates("alpha", "beta")}, rec.call)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}

	_, err = c.Invoke(context.Background(), "req")

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}

	if !exhausted.Failures[0].Permanent {
		t.Error("Expected alpha failure marked permanent")
	}
	if exhausted.Failures[1].Permanent {
		t.Error("Expected beta failure marked transient")
	}
	if !strings.Contains(exhausted.Error(), "quota exhausted") {
		t.Errorf("Expected permanent reason in message, got %q", exhausted.Error())
	}

	t.Log("✓ Permanent failures are recorded for diagnostics before advancing")
}

// TestCascade_AttemptCapBoundsOversizedBudget verifies a retry budget
// larger than the cap is clamped
func TestCascade_AttemptCapBoundsOversizedBudget(t *testing.T) {
	rec := newCallRecorder(func(candidate string, call int) (string, error) {
		return "", errors.New("still failing")
	})

	candidates := []Candidate{
		{Name: "alpha", MaxRetries: 10, BackoffBase: time.Millisecond},
	}

	c, err := NewCascade(CascadeConfig{Candidates: candidates}, rec.call)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}

	_, _ = c.Invoke(context.Background(), "req")

	if rec.count("alpha") != maxAttemptsPerCandidate {
		t.Errorf("Expected %d attempts (capped), got %d", maxAttemptsPerCandidate, rec.count("alpha"))
	}

	t.Log("✓ Per-candidate attempts are capped regardless of configured budget")
}

// TestCascade_BackoffDoublesPerAttempt verifies the delay schedule is
// base * 2^attempt with a cap
func TestCascade_BackoffDoublesPerAttempt(t *testing.T) {
	base := 10 * time.Millisecond
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{5, 100 * time.Millisecond}, // 320ms capped to 100ms
	}

	for _, tc := range cases {
		got := resilience.Backoff(tc.attempt, base, 100*time.Millisecond, 0)
		if got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}

	t.Log("✓ Backoff doubles per attempt and respects the cap")
}

// TestCascade_CancellationStopsRetrying verifies context cancellation
// ends the cascade without spinning through remaining budgets
func TestCascade_CancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := newCallRecorder(func(candidate string, call int) (string, error) {
		cancel()
		return "", errors.New("failing")
	})

	candidates := []Candidate{
		{Name: "alpha", MaxRetries: 3, BackoffBase: 50 * time.Millisecond},
		{Name: "beta", MaxRetries: 3, BackoffBase: 50 * time.Millisecond},
	}

	c, err := NewCascade(CascadeConfig{Candidates: candidates}, rec.call)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}

	_, err = c.Invoke(ctx, "req")
	if err == nil {
		t.Fatal("Expected error after cancellation")
	}

	if rec.count("alpha") != 1 {
		t.Errorf("Expected 1 alpha attempt before cancellation took effect, got %d", rec.count("alpha"))
	}
	if rec.count("beta") != 0 {
		t.Errorf("Expected no beta attempts after cancellation, got %d", rec.count("beta"))
	}

	t.Log("✓ Cancellation ends the cascade promptly")
}
