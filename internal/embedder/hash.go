package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultHashDimension is the default vector size for the hashing embedder.
const DefaultHashDimension = 256

// HashEmbedder is a deterministic, dependency-free embedder that projects
// token counts into a fixed-length vector via feature hashing. It has no
// semantic understanding; texts sharing vocabulary land close together under
// cosine distance. Used for offline deployments and tests, where calling an
// embedding model is not an option.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hashing embedder with the given dimension.
// A dimension <= 0 selects DefaultHashDimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed maps text to an L2-normalized token-count vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'()[]{}")
		if token == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		// Sign bit from the hash keeps colliding tokens from only adding up.
		idx := int(sum % uint32(e.dimension))
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var normSq float64
	for _, v := range vec {
		normSq += float64(v) * float64(v)
	}
	if normSq > 0 {
		norm := float32(math.Sqrt(normSq))
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec, nil
}

// EmbedBatch embeds each text in order.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimension returns the vector size.
func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

// ModelName identifies the hashing scheme.
func (e *HashEmbedder) ModelName() string {
	return "feature-hash"
}

// Ensure HashEmbedder implements Embedder interface.
var _ Embedder = (*HashEmbedder)(nil)
