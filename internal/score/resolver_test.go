package score

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ecoscore-gateway/internal/cache"
	"ecoscore-gateway/internal/scoring"
)

type fakeScoringClient struct {
	mu      sync.Mutex
	calls   int
	doc     scoring.Document
	err     error
	gate    chan struct{} // when set, Fetch blocks until closed
	lastReq struct {
		productID string
		weights   scoring.Weights
	}
}

func (f *fakeScoringClient) Fetch(ctx context.Context, productID string, weights scoring.Weights) (scoring.Document, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq.productID = productID
	f.lastReq.weights = weights
	gate, doc, err := f.gate, f.doc, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (f *fakeScoringClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingStore struct {
	cache.Store
	getErr, setErr error
}

func (s *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key string, v []byte, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, v, ttl)
}

type panicClient struct{}

func (panicClient) Fetch(context.Context, string, scoring.Weights) (scoring.Document, error) {
	panic("provider boom")
}

type panicOnSetStore struct {
	cache.Store
}

func (s panicOnSetStore) Set(context.Context, string, []byte, time.Duration) error {
	panic("store boom")
}

const testDoc = `{"carbonScore":52,"materialScore":41,"endOfLifeScore":88,"source":"test","fetchedAt":"2026-10-16T00:00:00Z"}`

func TestResolveCacheHitShortCircuits(t *testing.T) {
	store := cache.NewMemoryStore()
	client := &fakeScoringClient{doc: scoring.Document(`{"fresh":true}`)}
	r := NewResolver(store, client, Options{TTL: time.Hour})

	req := Request{ProductID: "X", Weights: scoring.Weights{"a": map[string]any{"b": 1.0}}}
	key, _ := cache.DeriveKey(req.ProductID, req.Weights)
	_ = store.Set(context.Background(), key.String(), []byte(testDoc), time.Hour)

	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if client.Calls() != 0 {
		t.Fatalf("cache hit must not call the provider, got %d calls", client.Calls())
	}
	if !res.FromCache || string(res.Document) != testDoc || res.Key != key.String() {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveMissThenStore(t *testing.T) {
	store := cache.NewMemoryStore()
	client := &fakeScoringClient{doc: scoring.Document(testDoc)}
	r := NewResolver(store, client, Options{TTL: time.Hour})

	req := Request{ProductID: "X"}
	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if client.Calls() != 1 {
		t.Fatalf("expected exactly one provider call, got %d", client.Calls())
	}
	if res.FromCache || string(res.Document) != testDoc {
		t.Fatalf("unexpected result: %+v", res)
	}

	key, _ := cache.DeriveKey("X", nil)
	stored, hit, _ := store.Get(context.Background(), key.String())
	if !hit || string(stored) != testDoc {
		t.Fatalf("expected document stored under derived key, hit=%v stored=%s", hit, stored)
	}

	again, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if !again.FromCache || client.Calls() != 1 {
		t.Fatalf("second resolve should hit cache, fromCache=%v calls=%d", again.FromCache, client.Calls())
	}
}

func TestResolveForwardsWeights(t *testing.T) {
	client := &fakeScoringClient{doc: scoring.Document(testDoc)}
	r := NewResolver(cache.NewMemoryStore(), client, Options{})

	w := scoring.Weights{"environmental": map[string]any{"ghg": 100.0}}
	if _, err := r.Resolve(context.Background(), Request{ProductID: "X", Weights: w}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if client.lastReq.productID != "X" || client.lastReq.weights["environmental"] == nil {
		t.Fatalf("provider did not receive the request: %+v", client.lastReq)
	}
}

func TestResolveFailureIsNotCached(t *testing.T) {
	store := cache.NewMemoryStore()
	upErr := &scoring.UpstreamError{StatusCode: 503, Reason: "down"}
	client := &fakeScoringClient{err: upErr}
	r := NewResolver(store, client, Options{TTL: time.Hour})

	req := Request{ProductID: "X"}
	_, err := r.Resolve(context.Background(), req)
	if err != upErr {
		t.Fatalf("provider error must propagate untouched, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("failures must not be stored")
	}

	client.mu.Lock()
	client.err = nil
	client.doc = scoring.Document(testDoc)
	client.mu.Unlock()

	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("retry Resolve: %v", err)
	}
	if client.Calls() != 2 || res.FromCache {
		t.Fatalf("expected a second provider call after failure, calls=%d fromCache=%v", client.Calls(), res.FromCache)
	}
}

func TestResolveCoalescedPanicBecomesInternalError(t *testing.T) {
	tests := []struct {
		name   string
		store  cache.Store
		client scoring.Client
		want   string
	}{
		{
			name:   "provider",
			store:  cache.NewMemoryStore(),
			client: panicClient{},
			want:   "panic: provider boom",
		},
		{
			name:   "cache set",
			store:  panicOnSetStore{Store: cache.NewMemoryStore()},
			client: &fakeScoringClient{doc: scoring.Document(testDoc)},
			want:   "panic: store boom",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(tc.store, tc.client, Options{Coalesce: true})

			_, err := r.Resolve(context.Background(), Request{ProductID: "B00TEST123"})
			var ie *InternalError
			if !errors.As(err, &ie) || !errors.Is(err, ErrInternal) {
				t.Fatalf("expected InternalError, got %v", err)
			}
			if ie.Op != "fetch" || ie.Err == nil || ie.Err.Error() != tc.want {
				t.Fatalf("unexpected error: %+v", ie)
			}
		})
	}
}

func TestResolveValidation(t *testing.T) {
	client := &fakeScoringClient{doc: scoring.Document(testDoc)}
	r := NewResolver(cache.NewMemoryStore(), client, Options{})

	for _, req := range []Request{
		{},
		{ProductID: "   "},
		{ProductID: "X\nY"},
		{ProductID: "X", Weights: scoring.Weights{"a": "heavy"}},
	} {
		_, err := r.Resolve(context.Background(), req)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
	if client.Calls() != 0 {
		t.Fatalf("invalid requests must not reach the provider")
	}
}

func TestResolveKeyDerivationFailureIsInternal(t *testing.T) {
	client := &fakeScoringClient{doc: scoring.Document(testDoc)}
	r := NewResolver(cache.NewMemoryStore(), client, Options{})

	// json.Number passes shape validation but an invalid literal cannot be marshaled
	_, err := r.Resolve(context.Background(), Request{ProductID: "X", Weights: scoring.Weights{"a": json.Number("NaN")}})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if client.Calls() != 0 {
		t.Fatalf("provider must not be called when the key cannot be derived")
	}
}

func TestResolveCacheErrorsAreBestEffort(t *testing.T) {
	store := &failingStore{
		Store:  cache.NewMemoryStore(),
		getErr: errors.New("redis get failed"),
		setErr: errors.New("redis set failed"),
	}
	client := &fakeScoringClient{doc: scoring.Document(testDoc)}
	r := NewResolver(store, client, Options{})

	res, err := r.Resolve(context.Background(), Request{ProductID: "X"})
	if err != nil {
		t.Fatalf("cache errors should not fail resolution: %v", err)
	}
	if res.FromCache || string(res.Document) != testDoc || client.Calls() != 1 {
		t.Fatalf("expected a provider-backed result, got %+v calls=%d", res, client.Calls())
	}
}

func TestResolveTTLExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }

	store := cache.NewMemoryStore(cache.WithClock(clock))
	client := &fakeScoringClient{doc: scoring.Document(testDoc)}
	r := NewResolver(store, client, Options{TTL: time.Second})

	req := Request{ProductID: "X"}
	if _, err := r.Resolve(context.Background(), req); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res, _ := r.Resolve(context.Background(), req); !res.FromCache {
		t.Fatalf("expected cached result inside TTL")
	}

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.FromCache || client.Calls() != 2 {
		t.Fatalf("expected refetch after TTL, fromCache=%v calls=%d", res.FromCache, client.Calls())
	}
}

func TestResolveCoalescesConcurrentMisses(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeScoringClient{doc: scoring.Document(testDoc), gate: gate}
	r := NewResolver(cache.NewMemoryStore(), client, Options{Coalesce: true})

	const n = 8
	var wg sync.WaitGroup
	var fromUpstream atomic.Int32
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), Request{ProductID: "X"})
			if err != nil {
				errs <- err
				return
			}
			if string(res.Document) != testDoc {
				errs <- errors.New("unexpected document " + string(res.Document))
				return
			}
			if !res.FromCache {
				fromUpstream.Add(1)
			}
		}()
	}

	// let the callers pile up on the flight before releasing it
	deadline := time.Now().Add(time.Second)
	for client.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("Resolve: %v", err)
	}
	if client.Calls() != 1 {
		t.Fatalf("expected one shared provider call, got %d", client.Calls())
	}
	if fromUpstream.Load() == 0 {
		t.Fatalf("at least one caller should report a fresh fetch")
	}
}

func TestResolveCoalescedCallerCancellation(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	client := &fakeScoringClient{doc: scoring.Document(testDoc), gate: gate}
	r := NewResolver(cache.NewMemoryStore(), client, Options{Coalesce: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, Request{ProductID: "X"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestResolveRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	client := &fakeScoringClient{err: &scoring.UpstreamError{StatusCode: 500}}
	r := NewResolver(cache.NewMemoryStore(), client, Options{Tracer: tp.Tracer("test")})

	_, _ = r.Resolve(context.Background(), Request{ProductID: "X"})

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "score.resolve" {
		t.Fatalf("expected one score.resolve span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("failed resolution should mark the span as error")
	}
}
