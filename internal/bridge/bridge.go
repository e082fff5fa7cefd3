package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ecoscore-gateway/internal/metrics"
	"ecoscore-gateway/internal/prefs"
	"ecoscore-gateway/internal/score"
	"ecoscore-gateway/internal/scoring"
)

// ActionFetchScore is the only action the bridge answers.
const ActionFetchScore = "fetchScore"

// Resolver is what the bridge resolves requests against: the in-process
// *score.Resolver or a RemoteResolver talking to a running gateway.
type Resolver interface {
	Resolve(ctx context.Context, req score.Request) (score.Result, error)
}

// Message is a request from a UI client.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Action    string          `json:"action"`
	ProductID string          `json:"productId,omitempty"`
	Weights   scoring.Weights `json:"weightingConfig,omitempty"`
}

// UnmarshalJSON accepts "upc" and "weights" like score.Request does.
func (m *Message) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID     json.RawMessage `json:"id"`
		Action string          `json:"action"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	var req score.Request
	if err := json.Unmarshal(b, &req); err != nil {
		return err
	}

	id, err := decodeID(wire.ID)
	if err != nil {
		return err
	}

	m.ID = id
	m.Action = wire.Action
	m.ProductID = req.ProductID
	m.Weights = req.Weights
	return nil
}

// decodeID takes a string or numeric correlation id.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("bridge: id must be a string or a number")
	}
	return n.String(), nil
}

// Response settles exactly one Message.
// Success responses carry data and fromCache; failures carry error.
type Response struct {
	ID        string
	Success   bool
	Data      json.RawMessage
	FromCache bool
	Error     string
}

func (r Response) MarshalJSON() ([]byte, error) {
	type success struct {
		ID        string          `json:"id,omitempty"`
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		FromCache bool            `json:"fromCache"`
	}
	type failure struct {
		ID      string `json:"id,omitempty"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if r.Success {
		return json.Marshal(success{ID: r.ID, Success: true, Data: r.Data, FromCache: r.FromCache})
	}
	return json.Marshal(failure{ID: r.ID, Success: false, Error: r.Error})
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID        string          `json:"id"`
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		FromCache bool            `json:"fromCache"`
		Error     string          `json:"error"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*r = Response(wire)
	return nil
}

func failed(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPreferences fills in weights from s for messages that carry none.
func WithPreferences(s prefs.Store) Option {
	return func(b *Bridge) { b.prefs = s }
}

// Bridge answers UI messages with score resolutions.
type Bridge struct {
	resolver Resolver
	prefs    prefs.Store
	logger   *zap.Logger
}

func New(resolver Resolver, logger *zap.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{resolver: resolver, logger: logger.Named("bridge")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle starts resolving msg and reports whether it will answer.
// For fetchScore it returns true and calls respond exactly once from another
// goroutine, whatever happens during resolution. Other actions return false
// and respond is never called.
func (b *Bridge) Handle(ctx context.Context, msg Message, respond func(Response)) bool {
	if msg.Action != ActionFetchScore {
		return false
	}

	var once sync.Once
	settle := func(r Response) {
		once.Do(func() {
			r.ID = msg.ID
			metrics.BridgeResponsesTotal.WithLabelValues(strconv.FormatBool(r.Success)).Inc()
			respond(r)
		})
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				b.logger.Error("bridge_panic_recovered",
					zap.String("message_id", msg.ID),
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				settle(failed(&score.InternalError{Op: "resolve", Err: fmt.Errorf("panic: %v", rec)}))
			}
		}()
		settle(b.resolve(ctx, msg))
	}()

	return true
}

// Dispatch is Handle as a future. The channel yields one Response and is
// closed; for actions the bridge does not answer it is closed empty.
func (b *Bridge) Dispatch(ctx context.Context, msg Message) <-chan Response {
	ch := make(chan Response, 1)
	handled := b.Handle(ctx, msg, func(r Response) {
		ch <- r
		close(ch)
	})
	if !handled {
		close(ch)
	}
	return ch
}

func (b *Bridge) resolve(ctx context.Context, msg Message) Response {
	if strings.TrimSpace(msg.ProductID) == "" {
		return failed(&score.ValidationError{Field: "productId", Reason: "is required"})
	}

	req := score.Request{ProductID: msg.ProductID, Weights: msg.Weights}
	if req.Weights == nil && b.prefs != nil {
		p, err := b.prefs.Load(ctx)
		if err != nil {
			b.logger.Warn("bridge_prefs_load_failed", zap.Error(err))
		} else {
			req.Weights = p.Weights
		}
	}

	res, err := b.resolver.Resolve(ctx, req)
	if err != nil {
		b.logger.Debug("bridge_resolve_failed",
			zap.String("message_id", msg.ID),
			zap.String("product_id", msg.ProductID),
			zap.Error(err),
		)
		return failed(err)
	}

	return Response{Success: true, Data: res.Document, FromCache: res.FromCache}
}
