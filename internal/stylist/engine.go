// Package stylist orchestrates the recommendation flow: per-user rate
// admission, cached result lookup, the provider cascade, local palette
// extraction, and advisory diversity scoring.
package stylist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/styletide/stylist-engine/internal/notification"
	"github.com/styletide/stylist-engine/internal/palette"
	"github.com/styletide/stylist-engine/internal/platform/cache"
	"github.com/styletide/stylist-engine/internal/platform/observability"
	"github.com/styletide/stylist-engine/internal/platform/resilience"
	"github.com/styletide/stylist-engine/internal/platform/worker"
	"github.com/styletide/stylist-engine/internal/provider"
)

// ErrRateLimited is returned when a user is over their request budget
// for the current window.
var ErrRateLimited = resilience.ErrRateLimitExceeded

// Request is one recommendation request.
type Request struct {
	// UserID identifies the requesting user; also the rate limit key
	UserID string

	// Photo is the uploaded wardrobe or fit photo (PNG or JPEG bytes)
	Photo []byte

	// StyleTags lists the style archetypes to cover (order-insensitive
	// for caching)
	StyleTags []string

	// Count is the number of looks to generate (default 3)
	Count int
}

// StyledLook is one look after palette processing.
type StyledLook struct {
	Title    string          `json:"title"`
	StyleTag string          `json:"styleTag"`
	Items    []string        `json:"items"`
	Palette  palette.Palette `json:"palette"`

	// PaletteSource is "extracted" when the palette came from the
	// rendered image, "provider" when extraction had insufficient signal
	// and the provider's colors were used instead
	PaletteSource string `json:"paletteSource"`
}

// Recommendation is the full response for one request.
type Recommendation struct {
	RequestID   string          `json:"requestId"`
	UserID      string          `json:"userId"`
	Provider    string          `json:"provider"`
	Looks       []StyledLook    `json:"looks"`
	Diversity   DiversityReport `json:"diversity"`
	FromCache   bool            `json:"fromCache"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// clone returns a copy that shares no slice backing with the receiver.
// Served results and cached values are both long-lived, so a caller
// mutating Looks or a palette must never reach the stored value.
func (r *Recommendation) clone() *Recommendation {
	out := *r
	out.Looks = make([]StyledLook, len(r.Looks))
	for i, l := range r.Looks {
		l.Items = append([]string(nil), l.Items...)
		l.Palette = append(palette.Palette(nil), l.Palette...)
		out.Looks[i] = l
	}
	out.Diversity.Violations = append([]string(nil), r.Diversity.Violations...)
	return &out
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Limiter   *resilience.WindowLimiter
	Cache     *cache.LayeredCache
	Cascade   *provider.Cascade[provider.GenerationRequest, provider.GenerationResult]
	Extractor *palette.Extractor
	Scorer    *Scorer
	Incidents notification.IncidentPublisher

	// CacheTTL is the TTL for stored recommendations (default TTLLong;
	// a generation result is expensive and stable)
	CacheTTL time.Duration

	// MaxConcurrent bounds in-flight cascade invocations (default 8)
	MaxConcurrent int64

	// RefineWorkers sizes the background refinement pool (default 2)
	RefineWorkers int

	// RefineQueue sizes the refinement job queue (default 32)
	RefineQueue int

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Engine runs the recommendation flow end to end.
type Engine struct {
	limiter   *resilience.WindowLimiter
	cache     *cache.LayeredCache
	recCache  *cache.Typed[*Recommendation]
	palCache  *cache.Typed[palette.Palette]
	cascade   *provider.Cascade[provider.GenerationRequest, provider.GenerationResult]
	extractor *palette.Extractor
	refiner   *palette.Extractor
	scorer    *Scorer
	incidents notification.IncidentPublisher
	pool      *worker.Pool

	cacheTTL time.Duration
	sem      *semaphore.Weighted

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// NewEngine creates the engine and starts its background refinement
// pool. Call Close to release both.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Cascade == nil {
		return nil, fmt.Errorf("cascade is required")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = palette.NewExtractor(palette.DefaultOptions())
	}
	if cfg.Scorer == nil {
		cfg.Scorer = NewScorer(DefaultPenalties())
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.TTLLong
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.RefineWorkers <= 0 {
		cfg.RefineWorkers = 2
	}
	if cfg.RefineQueue <= 0 {
		cfg.RefineQueue = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	// The refiner re-runs extraction at full resolution
	refineOpts := palette.DefaultOptions()
	refineOpts.SampleStride = 1

	e := &Engine{
		limiter:   cfg.Limiter,
		cache:     cfg.Cache,
		recCache:  cache.NewTyped[*Recommendation](cfg.Cache),
		palCache:  cache.NewTyped[palette.Palette](cfg.Cache),
		cascade:   cfg.Cascade,
		extractor: cfg.Extractor,
		refiner:   palette.NewExtractor(refineOpts),
		scorer:    cfg.Scorer,
		incidents: cfg.Incidents,
		cacheTTL:  cfg.CacheTTL,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}

	// Refinement runs after the response is served, so its failures have
	// no foreground consumer. The pool routes them here instead of
	// letting them vanish.
	e.pool = worker.NewPoolWithConfig(context.Background(), worker.PoolConfig{
		Workers:    cfg.RefineWorkers,
		QueueSize:  cfg.RefineQueue,
		DropPolicy: worker.DropPolicyNewest,
		OnFailure:  e.observeBackgroundFailure,
	})

	return e, nil
}

// Recommend runs the full flow for one request.
func (e *Engine) Recommend(ctx context.Context, req Request) (*Recommendation, error) {
	start := time.Now()

	if req.UserID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	if req.Count <= 0 {
		req.Count = 3
	}

	ctx, span := e.tracer.StartSpan(ctx, "stylist.recommend")
	defer span.End()
	span.SetAttribute("user.id", req.UserID)

	if !e.limiter.Allow(req.UserID) {
		if e.metrics != nil {
			e.metrics.RecordRateLimitRejection(ctx)
			e.metrics.RecordRequest(ctx, "rate_limited", time.Since(start))
		}
		e.logger.LogWarn(ctx, "Request rejected by rate limiter", "user_id", req.UserID)
		return nil, fmt.Errorf("user %s: %w", req.UserID, ErrRateLimited)
	}

	key := RecommendationKey(req.UserID, PhotoFingerprint(req.Photo), req.StyleTags, req.Count)

	if rec, ok := e.cachedRecommendation(ctx, key); ok {
		if e.metrics != nil {
			e.metrics.RecordCacheHit(ctx, "layered")
			e.metrics.RecordRequest(ctx, "cache_hit", time.Since(start))
		}
		span.SetAttribute("cache.hit", true)
		return rec, nil
	}
	if e.metrics != nil {
		e.metrics.RecordCacheMiss(ctx, "layered")
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire generation slot: %w", err)
	}
	defer e.sem.Release(1)

	result, err := e.cascade.Invoke(ctx, provider.GenerationRequest{
		UserID:    req.UserID,
		Prompt:    buildPrompt(req),
		StyleTags: req.StyleTags,
		Count:     req.Count,
	})
	if err != nil {
		var exhausted *provider.ExhaustedError
		if errors.As(err, &exhausted) {
			e.reportExhaustion(ctx, req.UserID, exhausted)
			if e.metrics != nil {
				e.metrics.RecordRequest(ctx, "exhausted", time.Since(start))
			}
		} else if e.metrics != nil {
			e.metrics.RecordRequest(ctx, "error", time.Since(start))
		}
		span.RecordError(err)
		return nil, err
	}

	looks := e.assembleLooks(ctx, result.Looks, e.extractor, false)

	report := e.scorer.Score(summaries(looks))
	if e.metrics != nil {
		e.metrics.RecordDiversity(ctx, report.Score, len(report.Violations))
	}
	if len(report.Violations) > 0 {
		// Advisory only; the batch is still served
		e.logger.LogWarn(ctx, "Low batch diversity",
			"user_id", req.UserID,
			"score", report.Score,
			"violations", report.Violations,
		)
	}

	rec := &Recommendation{
		RequestID:   uuid.NewString(),
		UserID:      req.UserID,
		Provider:    result.Provider,
		Looks:       looks,
		Diversity:   report,
		GeneratedAt: result.GeneratedAt,
	}

	// The cache keeps its own copy so the served value can be mutated
	// freely by the caller
	stored := rec.clone()
	if err := e.recCache.Set(ctx, key, stored, e.cacheTTL); err != nil {
		// Caching is an optimization; the response still goes out
		e.logger.LogWarn(ctx, "Failed to cache recommendation", "key", key, "error", err)
	}

	e.scheduleRefinement(key, stored, result.Looks)

	if e.metrics != nil {
		e.metrics.RecordRequest(ctx, "success", time.Since(start))
	}
	span.SetAttribute("provider", result.Provider)
	span.SetAttribute("diversity.score", report.Score)

	return rec, nil
}

// InvalidateProfile drops every cached recommendation for a user. When
// this returns nil no subsequent Recommend can serve the stale entries.
func (e *Engine) InvalidateProfile(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("userID is required")
	}
	return e.cache.Invalidate(ctx, UserKeyPrefix(userID))
}

// UpdateProfile invalidates the user's cached recommendations and only
// then runs the profile write. The ordering is the point: if the commit
// is acknowledged, no cache entry predating it can still be served.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, commit func(context.Context) error) error {
	if err := e.InvalidateProfile(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate cached recommendations: %w", err)
	}
	if commit == nil {
		return nil
	}
	return commit(ctx)
}

// Close stops the refinement pool and the rate limiter's sweeper.
func (e *Engine) Close() {
	e.pool.Close()
	e.limiter.Close()
}

// PoolStats exposes refinement pool counters.
func (e *Engine) PoolStats() worker.PoolStats {
	return e.pool.Stats()
}

// cachedRecommendation returns a cached result marked as such, or false
// on a miss. Cache errors degrade to a miss.
func (e *Engine) cachedRecommendation(ctx context.Context, key string) (*Recommendation, bool) {
	rec, err := e.recCache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			e.logger.LogWarn(ctx, "Cache lookup failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}

	// The caller gets an independent copy; neither the FromCache flag
	// nor later caller mutation can reach the cached value
	out := rec.clone()
	out.FromCache = true
	return out, true
}

// assembleLooks extracts a palette per look in parallel. Extraction is
// CPU-bound, so the fan-out is bounded; results land at their original
// index to keep provider order. With refresh set, cached palettes are
// ignored and recomputed.
func (e *Engine) assembleLooks(ctx context.Context, generated []provider.GeneratedLook, extractor *palette.Extractor, refresh bool) []StyledLook {
	looks := make([]StyledLook, len(generated))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, look := range generated {
		i, look := i, look
		g.Go(func() error {
			looks[i] = e.styleLook(gctx, look, extractor, refresh)
			return nil
		})
	}
	// Workers never return errors; fallbacks are handled per look
	_ = g.Wait()

	return looks
}

// styleLook attaches a palette to one generated look, falling back to
// provider colors when local extraction cannot produce a signal.
// Extracted palettes are cached by image content so repeated renders
// and warmed presets skip the pipeline.
func (e *Engine) styleLook(ctx context.Context, look provider.GeneratedLook, extractor *palette.Extractor, refresh bool) StyledLook {
	styled := StyledLook{
		Title:    look.Title,
		StyleTag: look.StyleTag,
		Items:    look.Items,
	}

	if len(look.Image) > 0 {
		key := PaletteKey(look.Image)

		if !refresh {
			if p, err := e.palCache.Get(ctx, key); err == nil && len(p) > 0 {
				styled.Palette = append(palette.Palette(nil), p...)
				styled.PaletteSource = "extracted"
				return styled
			}
		}

		start := time.Now()
		p, err := extractor.ExtractFromBytes(look.Image)
		if err == nil {
			if e.metrics != nil {
				e.metrics.RecordExtraction(ctx, time.Since(start), false)
			}
			if cacheErr := e.palCache.Set(ctx, key, p, cache.TTLMedium); cacheErr != nil {
				e.logger.LogWarn(ctx, "Failed to cache palette", "key", key, "error", cacheErr)
			}
			styled.Palette = append(palette.Palette(nil), p...)
			styled.PaletteSource = "extracted"
			return styled
		}

		insufficient := errors.Is(err, palette.ErrInsufficientSignal)
		if e.metrics != nil {
			e.metrics.RecordExtraction(ctx, time.Since(start), insufficient)
		}
		if !insufficient {
			e.logger.LogWarn(ctx, "Palette extraction failed, using provider colors",
				"look", look.Title, "error", err)
		}
	}

	styled.Palette = paletteFromHexes(look.Colors)
	styled.PaletteSource = "provider"
	return styled
}

// scheduleRefinement queues a full-resolution re-extraction of the
// batch. Backpressure drops the job; refinement is best-effort but its
// failures are always observed.
func (e *Engine) scheduleRefinement(key string, rec *Recommendation, generated []provider.GeneratedLook) {
	hasImages := false
	for _, look := range generated {
		if len(look.Image) > 0 {
			hasImages = true
			break
		}
	}
	if !hasImages {
		return
	}

	job := worker.Job{
		ID: "refine:" + rec.RequestID,
		Execute: func(ctx context.Context) (interface{}, error) {
			return nil, e.refine(ctx, key, rec, generated)
		},
	}

	if err := e.pool.Submit(job); err != nil {
		e.logger.LogWarn(context.Background(), "Refinement job dropped", "job", job.ID, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.RecordBackgroundTask(context.Background(), "refine")
	}
}

// refine re-extracts palettes at full resolution and replaces the
// cached recommendation. The served copy is never mutated.
func (e *Engine) refine(ctx context.Context, key string, rec *Recommendation, generated []provider.GeneratedLook) error {
	refined := *rec
	refined.Looks = e.assembleLooks(ctx, generated, e.refiner, true)
	refined.Diversity = e.scorer.Score(summaries(refined.Looks))

	if err := e.recCache.Set(ctx, key, &refined, e.cacheTTL); err != nil {
		return fmt.Errorf("failed to store refined recommendation: %w", err)
	}
	return nil
}

// observeBackgroundFailure is the pool's OnFailure hook. A refinement
// failure has no foreground caller, so it is logged, counted, and
// published as an incident here.
func (e *Engine) observeBackgroundFailure(res worker.Result) {
	ctx := context.Background()

	e.logger.LogError(ctx, "Background job failed", res.Err, "job_id", res.JobID)
	if e.metrics != nil {
		e.metrics.RecordBackgroundFailure(ctx, "refine")
	}

	if e.incidents == nil {
		return
	}
	incident := notification.NewIncident(
		notification.IncidentBackgroundFailure, "",
		fmt.Sprintf("background job %s failed: %v", res.JobID, res.Err), nil,
	)
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.incidents.PublishIncident(pubCtx, incident); err != nil {
		e.logger.LogError(ctx, "Failed to publish background failure incident", err, "job_id", res.JobID)
	}
}

// reportExhaustion publishes a provider-exhausted incident carrying the
// per-candidate failure reasons in cascade order.
func (e *Engine) reportExhaustion(ctx context.Context, userID string, exhausted *provider.ExhaustedError) {
	if e.incidents == nil {
		return
	}
	incident := notification.NewIncident(
		notification.IncidentProviderExhausted, userID,
		"all generation providers exhausted", exhausted.Reasons(),
	)
	if err := e.incidents.PublishIncident(ctx, incident); err != nil {
		e.logger.LogError(ctx, "Failed to publish exhaustion incident", err, "user_id", userID)
	}
}

// summaries projects styled looks into what the diversity scorer
// compares.
func summaries(looks []StyledLook) []LookSummary {
	out := make([]LookSummary, len(looks))
	for i, l := range looks {
		out[i] = LookSummary{
			Title:    l.Title,
			StyleTag: l.StyleTag,
			Items:    l.Items,
			Colors:   l.Palette.Hexes(),
		}
	}
	return out
}

// paletteFromHexes converts provider color hints into a palette with
// uniform weights.
func paletteFromHexes(hexes []string) palette.Palette {
	if len(hexes) == 0 {
		return nil
	}
	weight := 1.0 / float64(len(hexes))
	p := make(palette.Palette, 0, len(hexes))
	for _, h := range hexes {
		p = append(p, palette.Color{Hex: strings.ToLower(h), Weight: weight})
	}
	return p
}

// buildPrompt renders the generation prompt for a request.
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d distinct outfit looks for the attached photo.", req.Count)
	if len(req.StyleTags) > 0 {
		fmt.Fprintf(&b, " Cover these styles: %s.", strings.Join(req.StyleTags, ", "))
	}
	b.WriteString(" Each look needs a title, a style tag, an item list, and a color palette.")
	return b.String()
}
