package score

import (
	"encoding/json"
	"strings"

	"ecoscore-gateway/internal/scoring"
)

// Request asks for the score of one product under an optional weighting.
type Request struct {
	ProductID string          `json:"productId"`
	Weights   scoring.Weights `json:"weightingConfig,omitempty"`
}

// UnmarshalJSON also accepts the browser extension's field names
// ("upc", "weights"). The canonical names win when both are sent.
func (r *Request) UnmarshalJSON(b []byte) error {
	var wire struct {
		ProductID       string          `json:"productId"`
		UPC             string          `json:"upc"`
		WeightingConfig scoring.Weights `json:"weightingConfig"`
		Weights         scoring.Weights `json:"weights"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	r.ProductID = wire.ProductID
	if r.ProductID == "" {
		r.ProductID = wire.UPC
	}
	r.Weights = wire.WeightingConfig
	if r.Weights == nil {
		r.Weights = wire.Weights
	}
	return nil
}

// Validate checks the request shape. Weight semantics (per-category sums)
// are left to the caller.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return &ValidationError{Field: "productId", Reason: "is required"}
	}
	if strings.ContainsAny(r.ProductID, "\r\n") {
		return &ValidationError{Field: "productId", Reason: "must not contain line breaks"}
	}
	if err := r.Weights.Validate(); err != nil {
		return &ValidationError{Field: "weightingConfig", Reason: err.Error()}
	}
	return nil
}

// Result is a resolved score document.
type Result struct {
	Document  scoring.Document
	FromCache bool
	Key       string
}
