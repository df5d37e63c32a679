package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
)

const DefaultDimensions = 256

// HashingEmbedder maps tokens into a fixed number of buckets (feature hashing).
// It runs offline and is deterministic, so identical text always lands on the same vector.
func HashingEmbedder(dimensions int) chromem.EmbeddingFunc {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dimensions)
		for _, token := range tokenize(text) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(token))
			sum := h.Sum32()
			idx := int(sum % uint32(dimensions))
			if sum&(1<<31) != 0 {
				vec[idx] -= 1
			} else {
				vec[idx] += 1
			}
		}
		return normalize(vec), nil
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize returns a unit vector. An all-zero vector becomes the first basis vector.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
