package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ecoscore-gateway/internal/score"
	"ecoscore-gateway/internal/scoring"
)

const (
	// ScorePath is the gateway route RemoteResolver posts to.
	ScorePath = "/api/score"

	maxRemoteBody = 2 << 20
)

// RemoteError is a non-200 answer from a gateway. Its message is the
// gateway's "error" field, so bridge responses read the same either way.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string { return e.Message }

// Is maps the HTTP status back onto the gateway's error classes.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case score.ErrValidation:
		return e.StatusCode == http.StatusBadRequest
	case scoring.ErrUpstream:
		return e.StatusCode == http.StatusBadGateway
	case score.ErrInternal:
		return e.StatusCode >= 500 && e.StatusCode != http.StatusBadGateway
	}
	return false
}

// RemoteResolver resolves through a running gateway's HTTP API.
type RemoteResolver struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemoteResolver targets the gateway at baseURL (e.g. http://localhost:4000).
func NewRemoteResolver(baseURL string, httpClient *http.Client) *RemoteResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &RemoteResolver{
		endpoint:   strings.TrimRight(baseURL, "/") + ScorePath,
		httpClient: httpClient,
	}
}

func (r *RemoteResolver) Resolve(ctx context.Context, req score.Request) (score.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return score.Result{}, fmt.Errorf("bridge: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return score.Result{}, fmt.Errorf("bridge: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return score.Result{}, ctxErr
		}
		return score.Result{}, fmt.Errorf("bridge: gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return score.Result{}, fmt.Errorf("bridge: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return score.Result{}, &RemoteError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	return score.Result{
		Document:  scoring.Document(data),
		FromCache: strings.EqualFold(resp.Header.Get("X-Cache"), "HIT"),
	}, nil
}

func errorMessage(status int, body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(status)
}

var _ Resolver = (*RemoteResolver)(nil)
var _ Resolver = (*score.Resolver)(nil)
