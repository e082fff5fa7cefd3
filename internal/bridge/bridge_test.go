package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ecoscore-gateway/internal/cache"
	"ecoscore-gateway/internal/prefs"
	"ecoscore-gateway/internal/score"
	"ecoscore-gateway/internal/scoring"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls []score.Request
	fn    func(score.Request) (score.Result, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, req score.Request) (score.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeResolver) Calls() []score.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]score.Request(nil), f.calls...)
}

// await reads the single response from ch and checks that it is then closed.
func await(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case r, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a response")
		}
		if _, more := <-ch; more {
			t.Fatalf("expected exactly one response")
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for response")
	}
	return Response{}
}

func TestBridgeSettlesFromCacheOnSecondRequest(t *testing.T) {
	resolver := score.NewResolver(cache.NewMemoryStore(), scoring.NewMockClient(), score.Options{})
	b := New(resolver, zaptest.NewLogger(t))
	ctx := context.Background()

	msg := Message{Action: ActionFetchScore, ProductID: "B00TEST123"}

	first := await(t, b.Dispatch(ctx, msg))
	if !first.Success || first.FromCache {
		t.Fatalf("first response: %+v", first)
	}

	second := await(t, b.Dispatch(ctx, msg))
	if !second.Success || !second.FromCache {
		t.Fatalf("second response: %+v", second)
	}
	if string(first.Data) != string(second.Data) {
		t.Fatalf("cached data differs:\n%s\n%s", first.Data, second.Data)
	}

	var doc map[string]any
	if err := json.Unmarshal(second.Data, &doc); err != nil {
		t.Fatalf("data is not a JSON object: %v", err)
	}
	if doc["upc"] != "B00TEST123" || doc["source"] != scoring.MockSource {
		t.Fatalf("unexpected document: %v", doc)
	}
}

func TestBridgeUnknownActionIsNotHandled(t *testing.T) {
	r := &fakeResolver{fn: func(score.Request) (score.Result, error) { return score.Result{}, nil }}
	b := New(r, zaptest.NewLogger(t))

	called := false
	handled := b.Handle(context.Background(), Message{Action: "openOptions", ProductID: "X"}, func(Response) { called = true })
	if handled {
		t.Fatalf("unknown action should not be handled")
	}

	if _, ok := <-b.Dispatch(context.Background(), Message{Action: "ping"}); ok {
		t.Fatalf("Dispatch for an unknown action should close without a value")
	}
	time.Sleep(10 * time.Millisecond)
	if called || len(r.Calls()) != 0 {
		t.Fatalf("unknown actions must not respond or resolve")
	}
}

func TestBridgeMissingProductID(t *testing.T) {
	r := &fakeResolver{fn: func(score.Request) (score.Result, error) { return score.Result{}, nil }}
	b := New(r, zaptest.NewLogger(t))

	resp := await(t, b.Dispatch(context.Background(), Message{ID: "7", Action: ActionFetchScore}))
	if resp.Success || resp.Error != "productId is required" || resp.ID != "7" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(r.Calls()) != 0 {
		t.Fatalf("resolver must not be invoked without a product id")
	}
}

func TestBridgeFailureSettlesOnce(t *testing.T) {
	r := &fakeResolver{fn: func(score.Request) (score.Result, error) {
		return score.Result{}, &scoring.UpstreamError{StatusCode: 503, Reason: "maintenance"}
	}}
	b := New(r, zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []Response
	done := make(chan struct{})
	b.Handle(context.Background(), Message{ID: "a", Action: ActionFetchScore, ProductID: "X"}, func(resp Response) {
		mu.Lock()
		got = append(got, resp)
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one response, got %d", len(got))
	}
	if got[0].Success || !strings.Contains(got[0].Error, "maintenance") || got[0].ID != "a" {
		t.Fatalf("unexpected response: %+v", got[0])
	}
}

func TestBridgeRecoversResolverPanic(t *testing.T) {
	r := &fakeResolver{fn: func(score.Request) (score.Result, error) { panic("boom") }}
	b := New(r, zaptest.NewLogger(t))

	resp := await(t, b.Dispatch(context.Background(), Message{Action: ActionFetchScore, ProductID: "X"}))
	if resp.Success || !strings.Contains(resp.Error, "panic: boom") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

type panickingScoringClient struct{}

func (panickingScoringClient) Fetch(context.Context, string, scoring.Weights) (scoring.Document, error) {
	panic("provider boom")
}

func TestBridgeSettlesWhenCoalescedFetchPanics(t *testing.T) {
	resolver := score.NewResolver(cache.NewMemoryStore(), panickingScoringClient{}, score.Options{Coalesce: true})
	b := New(resolver, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		resp := await(t, b.Dispatch(context.Background(), Message{ID: "p", Action: ActionFetchScore, ProductID: "B00TEST123"}))
		if resp.Success || resp.ID != "p" || !strings.Contains(resp.Error, "panic: provider boom") {
			t.Fatalf("attempt %d: unexpected response: %+v", i, resp)
		}
	}
}

func TestBridgeUsesPreferencesWhenWeightsAbsent(t *testing.T) {
	r := &fakeResolver{fn: func(req score.Request) (score.Result, error) {
		return score.Result{Document: scoring.Document(`{}`)}, nil
	}}
	b := New(r, zaptest.NewLogger(t), WithPreferences(prefs.NewMemoryStore(prefs.Defaults())))

	await(t, b.Dispatch(context.Background(), Message{Action: ActionFetchScore, ProductID: "X"}))
	own := scoring.Weights{"custom": map[string]any{"a": 100}}
	await(t, b.Dispatch(context.Background(), Message{Action: ActionFetchScore, ProductID: "Y", Weights: own}))

	calls := r.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 resolutions, got %d", len(calls))
	}
	if calls[0].Weights["environmental"] == nil {
		t.Fatalf("stored weights should fill an unweighted message: %+v", calls[0].Weights)
	}
	if calls[1].Weights["custom"] == nil || calls[1].Weights["environmental"] != nil {
		t.Fatalf("message weights should be kept: %+v", calls[1].Weights)
	}
}

func TestBridgeWithoutPreferencesLeavesWeightsAbsent(t *testing.T) {
	r := &fakeResolver{fn: func(req score.Request) (score.Result, error) {
		return score.Result{Document: scoring.Document(`{}`)}, nil
	}}
	b := New(r, zaptest.NewLogger(t))

	await(t, b.Dispatch(context.Background(), Message{Action: ActionFetchScore, ProductID: "X"}))
	if w := r.Calls()[0].Weights; w != nil {
		t.Fatalf("expected absent weights, got %+v", w)
	}
}

func TestBridgeCancelledContext(t *testing.T) {
	r := &fakeResolver{fn: func(score.Request) (score.Result, error) {
		return score.Result{}, context.Canceled
	}}
	b := New(r, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := await(t, b.Dispatch(ctx, Message{Action: ActionFetchScore, ProductID: "X"}))
	if resp.Success || resp.Error != context.Canceled.Error() {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMessageAliases(t *testing.T) {
	var msg Message
	raw := `{"id":42,"action":"fetchScore","upc":"0123","weights":{"social":{"trade":100}}}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ID != "42" || msg.Action != ActionFetchScore || msg.ProductID != "0123" || msg.Weights["social"] == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if err := json.Unmarshal([]byte(`{"id":{"x":1},"action":"fetchScore"}`), &msg); err == nil {
		t.Fatalf("expected error for object id")
	}
}

func TestResponseShapes(t *testing.T) {
	ok, _ := json.Marshal(Response{ID: "1", Success: true, Data: json.RawMessage(`{"a":1}`)})
	if string(ok) != `{"id":"1","success":true,"data":{"a":1},"fromCache":false}` {
		t.Fatalf("success shape: %s", ok)
	}

	fail, _ := json.Marshal(Response{Success: false, Error: "nope"})
	if string(fail) != `{"success":false,"error":"nope"}` {
		t.Fatalf("failure shape: %s", fail)
	}

	var back Response
	if err := json.Unmarshal(ok, &back); err != nil || !back.Success || string(back.Data) != `{"a":1}` {
		t.Fatalf("decode: %+v %v", back, err)
	}
}

func TestBridgeErrorsKeepTheirClass(t *testing.T) {
	r := &fakeResolver{fn: func(score.Request) (score.Result, error) {
		return score.Result{}, &score.ValidationError{Field: "weightingConfig", Reason: "bad"}
	}}
	resp := await(t, New(r, nil).Dispatch(context.Background(), Message{Action: ActionFetchScore, ProductID: "X"}))
	if resp.Error != "weightingConfig bad" {
		t.Fatalf("unexpected error text %q", resp.Error)
	}
}
