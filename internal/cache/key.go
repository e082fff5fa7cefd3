package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"ecoscore-gateway/internal/scoring"
)

const keyPrefix = "score"

// ScoreKey identifies one cached score: a product and the digest of its
// weighting configuration.
type ScoreKey struct {
	ProductID string
	Digest    string
}

// String converts the structured key into the final string used in Redis/map.
func (k ScoreKey) String() string {
	// score:<PRODUCT_ID>:<SHA256_HEX>
	return keyPrefix + ":" + k.ProductID + ":" + k.Digest
}

// DeriveKey builds the cache key for a product and weighting configuration.
//
// The weights are serialized with sorted keys and then canonicalized per
// RFC 8785, so two configurations with the same pairs in any order (and any
// number spelling) hash identically. Nil and empty weights share one digest.
func DeriveKey(productID string, weights scoring.Weights) (ScoreKey, error) {
	if weights == nil {
		weights = scoring.Weights{}
	}

	raw, err := json.Marshal(weights)
	if err != nil {
		return ScoreKey{}, fmt.Errorf("cache: marshal weights: %w", err)
	}

	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return ScoreKey{}, fmt.Errorf("cache: canonicalize weights: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return ScoreKey{
		ProductID: productID,
		Digest:    hex.EncodeToString(sum[:]),
	}, nil
}

// ParseScoreKey reverses ScoreKey.String. Product ids may contain colons,
// the digest never does.
func ParseScoreKey(key string) (ScoreKey, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix+":")
	if !ok {
		return ScoreKey{}, false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return ScoreKey{}, false
	}
	return ScoreKey{ProductID: rest[:i], Digest: rest[i+1:]}, true
}
