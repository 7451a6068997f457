package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/styletide/stylist-engine/internal/platform/observability"
)

// WarmupProvider pre-populates the cache with expensive results, such
// as palettes for the bundled preset images. Warmup must be idempotent;
// it may run again after a cache flush.
type WarmupProvider interface {
	// Name identifies the provider in warmup logs
	Name() string

	// Warmup computes and stores the provider's entries
	Warmup(ctx context.Context) error
}

// WarmupConfig configures cache warming.
type WarmupConfig struct {
	// Timeout bounds the whole warmup run (default 30s)
	Timeout time.Duration

	// ContinueOnError keeps warming remaining providers after a failure.
	// Only meaningful for sequential runs; parallel runs always let
	// started providers finish.
	ContinueOnError bool

	// Parallel warms all providers concurrently
	Parallel bool
}

// DefaultWarmupConfig returns the production warmup settings.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
	}
}

// WarmupResult is the outcome of one provider's warmup.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults aggregates a warmup run.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors reports whether any provider failed.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs registered warmup providers at startup.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a warmer with no providers registered.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultWarmupConfig().Timeout
	}
	return &Warmer{
		logger: logger,
		config: config,
	}
}

// RegisterProvider adds a warmup provider.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup runs every registered provider and returns the aggregate
// outcome. Warming is best-effort: failures are reported, not fatal.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{}

	if len(w.providers) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		results.Results = w.runParallel(warmupCtx)
	} else {
		results.Results = w.runSequential(warmupCtx)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}
	results.TotalTime = time.Since(start)

	if results.HasErrors() {
		w.logger.LogWarn(ctx, "Cache warmup finished with errors",
			"failed", results.Errors,
			"providers", len(w.providers),
			"duration", results.TotalTime,
		)
	} else {
		w.logger.LogInfo(ctx, "Cache warmup complete",
			"providers", len(w.providers),
			"duration", results.TotalTime,
		)
	}

	return results
}

func (w *Warmer) runParallel(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, len(w.providers))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range w.providers {
		i, p := i, p
		g.Go(func() error {
			r := w.run(gctx, p)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			// Errors are collected per provider, never propagated, so
			// one failure does not cancel the group
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (w *Warmer) runSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.providers))
	for _, p := range w.providers {
		r := w.run(ctx, p)
		results = append(results, r)
		if r.Err != nil && !w.config.ContinueOnError {
			break
		}
	}
	return results
}

func (w *Warmer) run(ctx context.Context, p WarmupProvider) WarmupResult {
	start := time.Now()
	err := p.Warmup(ctx)
	result := WarmupResult{
		Provider: p.Name(),
		Duration: time.Since(start),
		Err:      err,
	}

	if err != nil {
		w.logger.LogError(ctx, "Warmup provider failed", err, "provider", p.Name())
	} else {
		w.logger.LogDebug(ctx, "Warmup provider finished",
			"provider", p.Name(), "duration", result.Duration)
	}
	return result
}
