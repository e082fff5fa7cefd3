package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	maxRequestSize  = 256 * 1024      // weights are small; anything bigger is a caller bug
	maxResponseSize = 2 * 1024 * 1024 // 2MB score document
)

// Fetch performs exactly one POST to the provider. There is no retry: a failure
// is returned to the caller as *UpstreamError.
func (c *RemoteClient) Fetch(parentCtx context.Context, productID string, weights Weights) (Document, error) {
	start := time.Now()

	if productID == "" {
		return nil, errors.New("scoring: productID is required")
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(providerScoreRequest{
		ProductID:       productID,
		WeightingConfig: weights,
	})
	if err != nil {
		return nil, fmt.Errorf("scoring: marshal request: %w", err)
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf("scoring: request too large (%d bytes, max %d)", len(bodyBytes), maxRequestSize)
	}

	url := c.cfg.BaseURL + c.cfg.Path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("scoring: build HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("scoring request starting",
		zap.String("product_id", productID),
		zap.Bool("weighted", len(weights) > 0),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("scoring request failed",
			zap.String("product_id", productID),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: "read body", Err: err}
	}

	// Handle non-2xx responses
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := truncate(string(bytes.TrimSpace(body)), 200)

		var perr providerErrorResponse
		if err := json.Unmarshal(body, &perr); err == nil && perr.reason() != "" {
			reason = perr.reason()
		}
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}

		c.logger.Error("scoring upstream error",
			zap.String("product_id", productID),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", reason),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: reason}
	}

	if err := checkDocument(body); err != nil {
		c.logger.Error("scoring provider returned a malformed document",
			zap.String("product_id", productID),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: "malformed score document", Err: err}
	}

	c.logger.Info("scoring request completed",
		zap.String("product_id", productID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)

	return Document(body), nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
