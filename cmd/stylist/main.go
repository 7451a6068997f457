package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/styletide/stylist-engine/internal/notification"
	"github.com/styletide/stylist-engine/internal/palette"
	"github.com/styletide/stylist-engine/internal/platform/aws"
	"github.com/styletide/stylist-engine/internal/platform/cache"
	"github.com/styletide/stylist-engine/internal/platform/config"
	"github.com/styletide/stylist-engine/internal/platform/observability"
	"github.com/styletide/stylist-engine/internal/platform/resilience"
	"github.com/styletide/stylist-engine/internal/provider"
	"github.com/styletide/stylist-engine/internal/stylist"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad("config.yaml")

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("stylist-engine", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, observability.TracerProviderConfig{
		ServiceName: "stylist-engine",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracerProvider.Shutdown(ctx)

	tracer := observability.NewTracer("stylist-engine")

	logger.Info("observability setup complete")

	// Setup infrastructure
	logger.Info("setting up infrastructure...")

	memCache := cache.NewMemoryCache(cfg.Cache.L1MaxSize)
	defer memCache.Close()

	var l2 cache.Cache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.LogError(ctx, "failed to create Redis cache", err)
			log.Fatalf("Failed to create Redis cache: %v", err)
		}
		defer redisCache.Close()
		l2 = redisCache
	}

	layeredCache := cache.NewLayeredCacheWithConfig(cache.LayeredCacheConfig{
		L1:       memCache,
		L2:       l2,
		L1MaxTTL: cfg.Cache.L1MaxTTL,
		Logger:   logger.Logger,
	})

	limiter := resilience.NewWindowLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)

	// Incident publisher: SNS when a topic is configured, logging otherwise
	var incidents notification.IncidentPublisher
	if cfg.AWS.SNSTopicARN != "" {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}

		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
			Metrics:   metrics,
		})

		publisher, err := notification.NewPublisher(notification.PublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
			Metrics:   metrics,
			Tracer:    tracer,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create publisher", err)
			log.Fatalf("Failed to create publisher: %v", err)
		}
		incidents = publisher
	} else {
		logger.Info("no SNS topic configured, incidents will be logged only")
		incidents = notification.NewNoOpPublisher(logger)
	}

	// Provider cascade over remote generation endpoints
	logger.Info("creating provider cascade...")

	endpoints := make(map[string]provider.Endpoint, len(cfg.Providers.Candidates))
	candidates := make([]provider.Candidate, len(cfg.Providers.Candidates))
	for i, cand := range cfg.Providers.Candidates {
		endpoints[cand.Name] = provider.Endpoint{
			BaseURL: cand.BaseURL,
			APIKey:  cand.APIKey,
		}
		candidates[i] = provider.Candidate{
			Name:        cand.Name,
			MaxRetries:  cand.MaxRetries,
			BackoffBase: cand.BackoffBase,
		}
	}

	remote, err := provider.NewRemoteCaller(provider.RemoteCallerConfig{
		Endpoints:    endpoints,
		Timeout:      cfg.Providers.Timeout,
		RateLimitRPM: cfg.Providers.RateLimitRPM,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create remote caller", err)
		log.Fatalf("Failed to create remote caller: %v", err)
	}

	cascade, err := provider.NewCascade(provider.CascadeConfig{
		Candidates: candidates,
		MaxBackoff: cfg.Providers.MaxBackoff,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	}, provider.Caller[provider.GenerationRequest, provider.GenerationResult](remote.Call))
	if err != nil {
		logger.LogError(ctx, "failed to create cascade", err)
		log.Fatalf("Failed to create cascade: %v", err)
	}

	// Engine
	logger.Info("creating stylist engine...")

	extractor := palette.NewExtractor(palette.Options{
		ROIFraction:     cfg.Extraction.ROIFraction,
		SatMin:          cfg.Extraction.SatMin,
		SatMax:          cfg.Extraction.SatMax,
		ValMin:          cfg.Extraction.ValMin,
		ValMax:          cfg.Extraction.ValMax,
		MaxColors:       cfg.Extraction.MaxColors,
		DeltaEThreshold: cfg.Extraction.DeltaEThreshold,
		SampleStride:    cfg.Extraction.SampleStride,
	})

	scorer := stylist.NewScorer(stylist.Penalties{
		DuplicateStyleTag: cfg.Diversity.DuplicateStyleTagPenalty,
		PaletteOverlap:    cfg.Diversity.PaletteOverlapPenalty,
		DuplicateTitle:    cfg.Diversity.DuplicateTitlePenalty,
		ItemOverlap:       cfg.Diversity.ItemOverlapPenalty,
	})

	engine, err := stylist.NewEngine(stylist.EngineConfig{
		Limiter:       limiter,
		Cache:         layeredCache,
		Cascade:       cascade,
		Extractor:     extractor,
		Scorer:        scorer,
		Incidents:     incidents,
		CacheTTL:      cfg.Cache.ResultTTL,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		RefineWorkers: cfg.Engine.RefineWorkers,
		RefineQueue:   cfg.Engine.RefineQueue,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create engine", err)
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	// Warm palette entries for bundled preset images before serving
	if cfg.Warmup.Enabled {
		warmer := cache.NewWarmer(logger, cache.WarmupConfig{
			Timeout:         cfg.Warmup.Timeout,
			ContinueOnError: true,
			Parallel:        true,
		})
		warmer.RegisterProvider(stylist.NewPresetPaletteWarmup(cfg.Warmup.PresetDir, extractor, layeredCache))
		warmer.Warmup(ctx)
	}

	// HTTP server
	server := newHTTPServer(cfg.HTTP.Port, engine, metrics, logger)
	go func() {
		logger.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(context.Background(), "HTTP server error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, gracefully stopping...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP shutdown error", err)
	}

	logger.Info("application stopped")
}

// recommendationRequest is the POST /v1/recommendations payload. Photo
// is base64-encoded image bytes.
type recommendationRequest struct {
	UserID    string   `json:"userId"`
	Photo     []byte   `json:"photo"`
	StyleTags []string `json:"styleTags,omitempty"`
	Count     int      `json:"count,omitempty"`
}

func newHTTPServer(port int, engine *stylist.Engine, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/v1/recommendations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req recommendationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := engine.Recommend(r.Context(), stylist.Request{
			UserID:    req.UserID,
			Photo:     req.Photo,
			StyleTags: req.StyleTags,
			Count:     req.Count,
		})
		if err != nil {
			writeRecommendError(w, r, err, logger)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			logger.LogError(r.Context(), "failed to encode response", err)
		}
	})

	// DELETE /v1/users/{userID}/recommendations drops the user's cached
	// results; used by the profile service after a wardrobe update
	mux.HandleFunc("/v1/users/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 4 || parts[3] != "recommendations" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		if err := engine.InvalidateProfile(r.Context(), parts[2]); err != nil {
			logger.LogError(r.Context(), "invalidation failed", err, "user_id", parts[2])
			http.Error(w, "invalidation failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

func writeRecommendError(w http.ResponseWriter, r *http.Request, err error, logger *observability.Logger) {
	switch {
	case errors.Is(err, stylist.ErrRateLimited):
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	case provider.IsExhausted(err):
		logger.LogError(r.Context(), "recommendation failed, providers exhausted", err)
		http.Error(w, "generation providers unavailable", http.StatusBadGateway)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write
	default:
		logger.LogError(r.Context(), "recommendation failed", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
