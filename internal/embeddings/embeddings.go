package embeddings

import (
	"context"
	"math"
)

// Dimensions is the vector size used by every embedder bound to a policy collection.
const Dimensions = 384

// Vector is a simple float32 slice wrapper.
type Vector []float32

// Embedder defines the embedding interface.
// Implementations return one vector per input text, in input order.
type Embedder interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([]Vector, error)
}

// EmbedOne embeds a single text with e.
func EmbedOne(ctx context.Context, e Embedder, text string) (Vector, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errEmptyEmbedding
	}
	return vecs[0], nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Empty or mismatched vectors yield 0.
func CosineSimilarity(a, b Vector) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
