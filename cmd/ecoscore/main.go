package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ecoscore-gateway/internal/bridge"
	"ecoscore-gateway/internal/cache"
	"ecoscore-gateway/internal/config"
	"ecoscore-gateway/internal/handlers"
	"ecoscore-gateway/internal/httpserver"
	"ecoscore-gateway/internal/metrics"
	"ecoscore-gateway/internal/prefs"
	"ecoscore-gateway/internal/score"
	"ecoscore-gateway/internal/scoring"
	"ecoscore-gateway/internal/tracing"
	"ecoscore-gateway/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Config (.env first so ENV/LOG_LEVEL reach the logger) -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("scoring_provider", cfg.ScoringProvider),
		zap.String("scoring_base_url", cfg.ScoringBaseURL),
		zap.Bool("coalesce", cfg.Coalesce),
		zap.String("trace_exporter", cfg.TraceExporter),
	)

	// ----- Tracing -----
	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName: "ecoscore-gateway",
		Version:     cfg.Version,
		Exporter:    cfg.TraceExporter,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	ready := map[string]handlers.Pinger{}
	if cfg.CacheBackend == cache.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Score cache -----
	store, err := cache.NewStore(cache.Config{
		Backend:    cfg.CacheBackend,
		TTL:        cfg.CacheTTL,
		Prefix:     cfg.CachePrefix,
		MaxEntries: cfg.CacheMaxEntries,
	}, redisClient)
	if err != nil {
		return err
	}
	if p, ok := store.(handlers.Pinger); ok {
		ready[cfg.CacheBackend] = p
	}
	store = cache.NewLoggingStore(store, cfg.CacheBackend)

	// ----- Scoring provider -----
	var client scoring.Client
	switch cfg.ScoringProvider {
	case config.ProviderHTTP:
		remote, err := scoring.NewClient(scoring.Config{
			BaseURL:         cfg.ScoringBaseURL,
			APIKey:          cfg.ScoringAPIKey,
			Path:            cfg.ScoringPath,
			UpstreamTimeout: cfg.ScoringTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer remote.Close()
		client = remote
	default:
		logger.Warn("using mock scoring provider")
		client = scoring.NewMockClient()
	}

	resolver := score.NewResolver(store, client, score.Options{
		TTL:      cfg.CacheTTL,
		Coalesce: cfg.Coalesce,
	})

	// ----- Preferences + message bridge -----
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var bridgeOpts []bridge.Option
	if cfg.PrefsFile != "" {
		fileStore := prefs.NewFileStore(cfg.PrefsFile, logger)
		if _, err := fileStore.Load(rootCtx); err != nil {
			return err
		}
		go func() {
			if err := fileStore.Watch(rootCtx, nil); err != nil {
				logger.Error("prefs watch stopped", zap.Error(err))
			}
		}()
		bridgeOpts = append(bridgeOpts, bridge.WithPreferences(fileStore))
	}

	var bridgeResolver bridge.Resolver = resolver
	if cfg.BridgeUpstream != "" {
		logger.Info("bridge forwarding to upstream gateway", zap.String("upstream", cfg.BridgeUpstream))
		bridgeResolver = bridge.NewRemoteResolver(cfg.BridgeUpstream, nil)
	}
	socket := bridge.NewSocket(bridge.New(bridgeResolver, logger, bridgeOpts...), logger)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Deps{
		Score:          handlers.NewScoreHandler(resolver),
		Bridge:         socket,
		Ready:          ready,
		RequestTimeout: cfg.RequestTimeout,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("version_id", cfg.Version),
	)

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancelRoot()
	socket.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
