package search

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// embeddingDimension matches the teacher's default chromem-go vector
// size; any fixed dimension works since both index-build and query-time
// embedding in this module use the same function.
const embeddingDimension = 384

// hashEmbed produces a deterministic, dependency-free vector for text.
// Generating real semantic embeddings is explicitly out of scope (spec
// §1, "embedding generation and index construction"): the corpus index
// itself is built offline by an external collaborator using whatever
// embedding model that pipeline chooses. This function exists only to
// satisfy chromem-go's requirement for a query-time EmbeddingFunc when
// no offline embedder is configured — e.g. in tests, or a deployment
// that queries a pre-embedded index via its own sidecar. A deployment
// with a real embedding model wires it in through NewChromemBackend's
// embed parameter instead.
func hashEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % embeddingDimension
		if idx < 0 {
			idx += embeddingDimension
		}
		vec[idx]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec, nil
}
