package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Weights is a caller-supplied weighting configuration, usually
// category -> { subcriterion -> weight }. Only its serialized content matters
// to the gateway; the upstream provider interprets it.
type Weights map[string]any

// Validate checks that every leaf is a number and every interior node is an object.
func (w Weights) Validate() error {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := validateWeight(k, w[k]); err != nil {
			return err
		}
	}
	return nil
}

func validateWeight(path string, v any) error {
	switch val := v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return nil
	case map[string]any:
		return Weights(val).validateNested(path)
	case Weights:
		return val.validateNested(path)
	case map[string]float64:
		return nil
	default:
		return fmt.Errorf("weight %q must be a number or an object, got %T", path, v)
	}
}

func (w Weights) validateNested(prefix string) error {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := validateWeight(prefix+"."+k, w[k]); err != nil {
			return err
		}
	}
	return nil
}

// Document is the opaque scoring payload returned by the provider.
// It is stored and returned byte-for-byte.
type Document = json.RawMessage

// ErrNotObject is returned when a provider answers with something other than a JSON object.
var ErrNotObject = errors.New("score document must be a JSON object")

// checkDocument verifies that raw is a JSON object without interpreting its fields.
func checkDocument(raw []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return ErrNotObject
	}
	return nil
}

// Client fetches a score document for one product.
type Client interface {
	Fetch(ctx context.Context, productID string, weights Weights) (Document, error)
}
