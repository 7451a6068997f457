package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/styletide/stylist-engine/internal/platform/observability"
	"github.com/styletide/stylist-engine/internal/platform/resilience"
)

// Endpoint describes one remote generation provider's transport details.
type Endpoint struct {
	// BaseURL is the provider API root, e.g. https://api.looksmith.ai
	BaseURL string

	// APIKey is sent as a bearer token
	APIKey string
}

// RemoteCaller executes cascade calls against real HTTP generation
// providers. Each endpoint gets its own circuit breaker; all endpoints
// share one adaptive limiter since the process-wide generation budget is
// what provider plans meter.
type RemoteCaller struct {
	client    *http.Client
	endpoints map[string]Endpoint
	limiter   *resilience.AdaptiveLimiter
	breakers  map[string]*resilience.CircuitBreaker
	logger    *observability.Logger
	metrics   *observability.Metrics

	healthMu sync.RWMutex
	health   map[string]*Health
}

// RemoteCallerConfig holds remote caller configuration.
type RemoteCallerConfig struct {
	// Endpoints maps candidate names to transport details
	Endpoints map[string]Endpoint

	// Timeout bounds a single provider call (default 30s)
	Timeout time.Duration

	// RateLimitRPM paces outbound calls across all endpoints (default 60)
	RateLimitRPM int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewRemoteCaller creates a caller over the configured endpoints.
func NewRemoteCaller(cfg RemoteCallerConfig) (*RemoteCaller, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimitRPM <= 0 {
		cfg.RateLimitRPM = 60
	}

	limiter := resilience.NewAdaptiveLimiterFromRPM(
		cfg.RateLimitRPM,
		cfg.RateLimitRPM/4,
		cfg.RateLimitRPM*2,
	)

	rc := &RemoteCaller{
		client:    &http.Client{Timeout: cfg.Timeout},
		endpoints: cfg.Endpoints,
		limiter:   limiter,
		breakers:  make(map[string]*resilience.CircuitBreaker, len(cfg.Endpoints)),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		health:    make(map[string]*Health, len(cfg.Endpoints)),
	}

	for name := range cfg.Endpoints {
		name := name
		rc.breakers[name] = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			OnStateChange: func(from, to resilience.State) {
				if cfg.Logger != nil {
					cfg.Logger.Info("provider circuit breaker state changed",
						"provider", name,
						"from", from.String(),
						"to", to.String(),
					)
				}
				if cfg.Metrics != nil {
					cfg.Metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
				}
			},
		})
		rc.health[name] = &Health{Provider: name}
	}

	return rc, nil
}

// Call executes one generation request against the named candidate.
// It satisfies the cascade's Caller signature; retries are the cascade's
// job, so Call performs exactly one attempt.
func (rc *RemoteCaller) Call(ctx context.Context, candidate string, req GenerationRequest) (GenerationResult, error) {
	endpoint, ok := rc.endpoints[candidate]
	if !ok {
		return GenerationResult{}, Permanent(fmt.Errorf("unknown provider %q", candidate))
	}

	breaker := rc.breakers[candidate]

	return resilience.ExecuteWithResult(breaker, ctx, func(ctx context.Context) (GenerationResult, error) {
		if err := rc.limiter.Wait(ctx); err != nil {
			return GenerationResult{}, fmt.Errorf("rate limiter error: %w", err)
		}

		start := time.Now()
		result, err := rc.generate(ctx, candidate, endpoint, req)
		duration := time.Since(start)

		rc.recordHealth(candidate, err, duration)

		return result, err
	})
}

// generate performs the HTTP round trip for one generation call.
func (rc *RemoteCaller) generate(ctx context.Context, candidate string, endpoint Endpoint, genReq GenerationRequest) (GenerationResult, error) {
	body, err := json.Marshal(genReq)
	if err != nil {
		return GenerationResult{}, Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	url := endpoint.BaseURL + "/v1/looks"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return GenerationResult{}, Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)

	resp, err := rc.client.Do(req)
	if err != nil {
		rc.limiter.RecordError()
		return GenerationResult{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := rc.classifyStatus(candidate, resp); err != nil {
		return GenerationResult{}, err
	}

	var result GenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		rc.limiter.RecordError()
		return GenerationResult{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Looks) == 0 {
		rc.limiter.RecordError()
		return GenerationResult{}, fmt.Errorf("provider %s returned no looks", candidate)
	}

	result.Provider = candidate
	if result.GeneratedAt.IsZero() {
		result.GeneratedAt = time.Now().UTC()
	}

	rc.limiter.RecordSuccess()

	return result, nil
}

// classifyStatus maps an HTTP response to the cascade's transient or
// permanent failure taxonomy. Throttling and 5xx are transient; auth,
// quota, and rejected inputs are permanent for this candidate.
func (rc *RemoteCaller) classifyStatus(candidate string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	baseErr := fmt.Errorf("provider %s returned status code %d: %s", candidate, resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		rc.limiter.RecordRateLimitError()
		return baseErr

	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusPaymentRequired:
		rc.limiter.RecordError()
		return Permanent(baseErr)

	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout:
		rc.limiter.RecordError()
		return Permanent(baseErr)

	default:
		rc.limiter.RecordError()
		return baseErr
	}
}

func (rc *RemoteCaller) recordHealth(candidate string, err error, duration time.Duration) {
	rc.healthMu.Lock()
	defer rc.healthMu.Unlock()

	h, ok := rc.health[candidate]
	if !ok {
		return
	}

	h.LastDuration = duration
	if err == nil {
		h.LastSuccess = time.Now()
		h.LastError = ""
		h.ConsecutiveFailures = 0
		return
	}

	h.LastFailure = time.Now()
	h.LastError = err.Error()
	h.ConsecutiveFailures++
}

// Health returns the current health snapshot for one candidate.
func (rc *RemoteCaller) Health(candidate string) Health {
	rc.healthMu.RLock()
	defer rc.healthMu.RUnlock()

	h, ok := rc.health[candidate]
	if !ok {
		return Health{Provider: candidate}
	}

	snapshot := *h
	if cb, ok := rc.breakers[candidate]; ok {
		snapshot.CircuitState = cb.State().String()
	}
	return snapshot
}

// LimiterStats exposes the shared adaptive limiter's posture.
func (rc *RemoteCaller) LimiterStats() resilience.AdaptiveLimiterStats {
	return rc.limiter.Stats()
}
