package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ecoscore-gateway/internal/score"
	"ecoscore-gateway/internal/scoring"
	"ecoscore-gateway/pkg/logging/logging"
)

// Resolver is the part of *score.Resolver the handler needs.
type Resolver interface {
	Resolve(ctx context.Context, req score.Request) (score.Result, error)
}

// ScoreHandler holds dependencies for the /api/score endpoint.
type ScoreHandler struct {
	Resolver Resolver
}

func NewScoreHandler(r Resolver) *ScoreHandler {
	return &ScoreHandler{Resolver: r}
}

// Score handles POST /api/score. A resolved document is written verbatim
// with X-Cache set to HIT or MISS.
func (h *ScoreHandler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req score.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.Resolver.Resolve(ctx, req)
	if err != nil {
		status := statusFor(err)
		logger.Warn("score_request_failed",
			zap.String("product_id", req.ProductID),
			zap.Int("status", status),
			zap.Duration("total_latency", time.Since(start)),
			zap.Error(err),
		)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// client went away; nobody is reading the answer
			return
		}
		writeError(w, status, publicMessage(status, err))
		return
	}

	cacheHeader := "MISS"
	if res.FromCache {
		cacheHeader = "HIT"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheHeader)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Document)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, score.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, scoring.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusBadGateway:
		return err.Error()
	case http.StatusGatewayTimeout:
		return "gateway_timeout"
	default:
		return "internal_server_error"
	}
}

// writeError sends {"error": msg} with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
