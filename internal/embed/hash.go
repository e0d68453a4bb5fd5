package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector length of the hash embedder.
const DefaultHashDimensions = 256

// HashEmbedder maps text to a vector by feature hashing word unigrams and
// bigrams into a fixed number of signed buckets, then L2-normalizing.
//
// Texts sharing words get small cosine distances; it has no notion of
// synonyms. Deterministic and offline, which makes it the test default.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hash embedder with dims buckets
// (DefaultHashDimensions when dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed never fails for non-empty text. Text without any word characters
// yields the zero vector.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Dimensions returns the bucket count.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Name returns "hash:<dims>".
func (h *HashEmbedder) Name() string { return fmt.Sprintf("hash:%d", h.dims) }
