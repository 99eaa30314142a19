package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/floats"
)

// HashingEmbedder is a local embedder that projects word unigrams and bigrams
// into a fixed number of signed buckets. Output vectors have unit length, or
// are all zero for text with no words. It is deterministic and needs no model.
type HashingEmbedder struct {
	dims int
}

// NewHashing creates a HashingEmbedder producing vectors of length dims.
func NewHashing(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the vector length.
func (h *HashingEmbedder) Dimensions() int { return h.dims }

// Embed implements cache.Embedder.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			// bigrams weigh less than the words they join
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	if n := floats.Norm(vec, 2); n > 0 {
		floats.Scale(1/n, vec)
	}
	return vec, nil
}

func (h *HashingEmbedder) add(vec []float64, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
