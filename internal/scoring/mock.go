package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf16"
)

// MockSource is the provenance label of documents built by MockClient.
const MockSource = "mock-ecoinvent-v1.0"

// MockClient is a local provider that derives stable pseudo-random scores
// from the product id. It stands in for a real LCA service in development.
type MockClient struct {
	Now func() time.Time
}

// NewMockClient returns a MockClient using the wall clock.
func NewMockClient() *MockClient {
	return &MockClient{Now: time.Now}
}

type mockDocument struct {
	UPC            string `json:"upc"`
	CarbonScore    int    `json:"carbonScore"`
	MaterialScore  int    `json:"materialScore"`
	EndOfLifeScore int    `json:"endOfLifeScore"`
	Source         string `json:"source"`
	FetchedAt      string `json:"fetchedAt"`
}

// Fetch ignores weights; the mock has no notion of weighting.
func (m *MockClient) Fetch(ctx context.Context, productID string, _ Weights) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, errors.New("scoring: productID is required")
	}

	// sum of UTF-16 code units, so non-ASCII ids score like the JS service
	seed := 0
	for _, u := range utf16.Encode([]rune(productID)) {
		seed += int(u)
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	doc := mockDocument{
		UPC:            productID,
		CarbonScore:    (seed * 37) % 101,
		MaterialScore:  (seed * 73) % 101,
		EndOfLifeScore: (seed * 59) % 101,
		Source:         MockSource,
		FetchedAt:      now().UTC().Format(time.RFC3339Nano),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return Document(raw), nil
}
