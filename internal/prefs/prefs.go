package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"ecoscore-gateway/internal/scoring"
)

// DefaultPreferredMetric is the score field highlighted when nothing is configured.
const DefaultPreferredMetric = "environmentalScore"

// CategoryTotal is the sum every weight category must reach.
const CategoryTotal = 100

// Preferences are the user-level defaults applied to bridge requests that
// carry no weighting of their own.
type Preferences struct {
	PreferredMetric string          `yaml:"preferred_metric" json:"preferredMetric"`
	Weights         scoring.Weights `yaml:"weights" json:"weights"`
}

// Defaults returns a fresh copy of the built-in preferences.
func Defaults() Preferences {
	return Preferences{
		PreferredMetric: DefaultPreferredMetric,
		Weights: scoring.Weights{
			"environmental": map[string]any{
				"ghg": 35, "material": 15, "water": 10, "packaging": 20, "eol": 20,
			},
			"social": map[string]any{
				"labour": 10, "safety": 10, "trade": 20, "sourcing": 20, "community": 20, "health": 20,
			},
			"governance": map[string]any{
				"affordability": 20, "circular": 25, "local": 30, "resilience": 15, "innovation": 10,
			},
		},
	}
}

// Validate checks that a preferred metric is set and that every weight
// category is an object of numbers summing to CategoryTotal.
func (p Preferences) Validate() error {
	if p.PreferredMetric == "" {
		return fmt.Errorf("prefs: preferred metric is required")
	}
	if err := p.Weights.Validate(); err != nil {
		return fmt.Errorf("prefs: %w", err)
	}

	categories := make([]string, 0, len(p.Weights))
	for c := range p.Weights {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		total, err := categorySum(p.Weights[c])
		if err != nil {
			return fmt.Errorf("prefs: category %q: %w", c, err)
		}
		if math.Abs(total-CategoryTotal) > 1e-9 {
			return fmt.Errorf("prefs: category %q weights must sum to %d, got %g", c, CategoryTotal, total)
		}
	}
	return nil
}

func categorySum(v any) (float64, error) {
	var entries map[string]any
	switch val := v.(type) {
	case map[string]any:
		entries = val
	case scoring.Weights:
		entries = val
	case map[string]float64:
		var total float64
		for _, w := range val {
			total += w
		}
		return total, nil
	default:
		return 0, fmt.Errorf("must be an object, got %T", v)
	}

	var total float64
	for k, w := range entries {
		f, ok := toFloat(w)
		if !ok {
			return 0, fmt.Errorf("weight %q must be a number, got %T", k, w)
		}
		total += f
	}
	return total, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Store supplies the current preferences.
type Store interface {
	Load(ctx context.Context) (Preferences, error)
}

// MemoryStore holds preferences in process.
type MemoryStore struct {
	mu sync.RWMutex
	p  Preferences
}

// NewMemoryStore returns a store seeded with p.
func NewMemoryStore(p Preferences) *MemoryStore {
	return &MemoryStore{p: p}
}

func (s *MemoryStore) Load(ctx context.Context) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p, nil
}

// Save validates p and replaces the stored preferences.
func (s *MemoryStore) Save(ctx context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
	return nil
}
