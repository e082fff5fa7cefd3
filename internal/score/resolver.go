package score

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ecoscore-gateway/internal/cache"
	"ecoscore-gateway/internal/metrics"
	"ecoscore-gateway/internal/scoring"
	"ecoscore-gateway/pkg/logging/logging"
)

const tracerName = "ecoscore-gateway/internal/score"

// Options configures a Resolver.
type Options struct {
	// TTL applied to every stored document (default: cache.DefaultTTL).
	TTL time.Duration

	// Coalesce makes concurrent misses for the same key share one provider
	// call. When false, simultaneous misses may each call the provider and
	// the last write wins.
	Coalesce bool

	// Tracer overrides the global otel tracer.
	Tracer trace.Tracer
}

// Resolver implements get-or-compute for score documents: derive the key,
// serve a fresh cached document, otherwise fetch, store and return it.
// Failed fetches are never cached.
type Resolver struct {
	store    cache.Store
	client   scoring.Client
	ttl      time.Duration
	coalesce bool
	tracer   trace.Tracer

	flights singleflight.Group
}

// NewResolver returns a Resolver that caches provider documents in store.
func NewResolver(store cache.Store, client scoring.Client, opts Options) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultTTL
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Resolver{
		store:    store,
		client:   client,
		ttl:      opts.TTL,
		coalesce: opts.Coalesce,
		tracer:   opts.Tracer,
	}
}

// Resolve returns the score document for req. Provider errors are returned
// unchanged so callers can inspect *scoring.UpstreamError.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "score.resolve",
		trace.WithAttributes(
			attribute.String("score.product_id", req.ProductID),
			attribute.Bool("score.weighted", len(req.Weights) > 0),
		),
	)
	defer span.End()

	res, err := r.resolve(ctx, req)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	outcome := "miss"
	if res.FromCache {
		outcome = "hit"
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.Bool("score.cache_hit", res.FromCache))

	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	logger := logging.L(ctx)

	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	key, err := cache.DeriveKey(req.ProductID, req.Weights)
	if err != nil {
		return Result{}, &InternalError{Op: "derive cache key", Err: err}
	}
	cacheKey := key.String()

	lookupStart := time.Now()
	cached, hit, cacheErr := r.store.Get(ctx, cacheKey)
	lookupLatency := time.Since(lookupStart)

	if cacheErr != nil {
		// Cache is best-effort; log and treat as miss.
		logger.Warn("score_cache_get_error", zap.String("cache_key", cacheKey), zap.Error(cacheErr))
	}

	if hit {
		logger.Info("cache_decision",
			zap.String("product_id", req.ProductID),
			zap.String("weights_digest", key.Digest),
			zap.Bool("cache_hit", true),
			zap.Duration("cache_lookup_latency", lookupLatency),
			zap.Duration("total_latency", time.Since(start)),
		)
		return Result{Document: cached, FromCache: true, Key: cacheKey}, nil
	}

	fetchStart := time.Now()
	doc, err := r.fetch(ctx, cacheKey, req)
	if err != nil {
		logger.Warn("score_fetch_failed",
			zap.String("product_id", req.ProductID),
			zap.String("weights_digest", key.Digest),
			zap.Error(err),
		)
		return Result{}, err
	}

	logger.Info("cache_decision",
		zap.String("product_id", req.ProductID),
		zap.String("weights_digest", key.Digest),
		zap.Bool("cache_hit", false),
		zap.Duration("cache_lookup_latency", lookupLatency),
		zap.Duration("upstream_latency", time.Since(fetchStart)),
		zap.Duration("total_latency", time.Since(start)),
	)

	return Result{Document: doc, FromCache: false, Key: cacheKey}, nil
}

// fetch runs the provider call, joining an in-flight call for the same key
// when coalescing is on. The shared call is detached from the first caller's
// cancellation; each caller still stops waiting when its own ctx ends.
// A panic inside the shared call is returned to every waiter as an
// InternalError, since singleflight would otherwise re-raise it on a
// goroutine nobody can recover.
func (r *Resolver) fetch(ctx context.Context, cacheKey string, req Request) (scoring.Document, error) {
	if !r.coalesce {
		return r.fetchAndStore(ctx, cacheKey, req)
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(cacheKey, func() (val any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				val, err = nil, &InternalError{Op: "fetch", Err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		return r.fetchAndStore(flightCtx, cacheKey, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.CoalescedTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		doc := res.Val.(scoring.Document)
		// each caller gets its own copy of the shared bytes
		return append(scoring.Document(nil), doc...), nil
	}
}

func (r *Resolver) fetchAndStore(ctx context.Context, cacheKey string, req Request) (scoring.Document, error) {
	start := time.Now()
	doc, err := r.client.Fetch(ctx, req.ProductID, req.Weights)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.UpstreamLatencySeconds.WithLabelValues(result).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}

	if err := r.store.Set(ctx, cacheKey, doc, r.ttl); err != nil {
		logging.L(ctx).Warn("score_cache_set_error", zap.String("cache_key", cacheKey), zap.Error(err))
	}

	return doc, nil
}
