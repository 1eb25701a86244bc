package embeddings

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashEmbedder maps text to a vector by feature hashing its words and
// adjacent word pairs. It needs no network and is deterministic, so
// equal texts always produce equal vectors.
type HashEmbedder struct {
	dimension uint64
}

// NewHash creates a hash embedder of the given width (default 384).
func NewHash(dimension uint64) *HashEmbedder {
	if dimension == 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed returns the L2-normalized hashed feature vector of text.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimension)
	words := tokenize(text)

	for i, w := range words {
		h.add(vec, w, 1.0)
		if len(w) > 4 {
			// shared stems ("meditated", "meditating") land together
			h.add(vec, "#"+w[:4], 0.5)
		}
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % h.dimension
	// the top bit picks the sign so collisions tend to cancel
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// Dimension returns the vector width.
func (h *HashEmbedder) Dimension() uint64 {
	return h.dimension
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
