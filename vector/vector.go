package vector

import (
	"context"
	"math"
)

// Embedding is an indexed passage of legal text.
type Embedding struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
	// Score is the similarity to the query, set by Search.
	Score float32
}

// Well-known metadata keys written by indexers and read by retrieval.
const (
	MetaSource       = "source"
	MetaAuthority    = "authority"
	MetaJurisdiction = "jurisdiction"
	MetaTitle        = "title"
	MetaURL          = "url"
)

// VectorStore stores embeddings and answers similarity queries.
type VectorStore interface {
	AddEmbedding(ctx context.Context, embedding *Embedding) error

	// Search returns at most topK embeddings ordered by decreasing similarity.
	// An empty store yields an empty slice, not an error.
	Search(ctx context.Context, queryVector []float32, topK int) ([]*Embedding, error)

	DeleteEmbedding(ctx context.Context, id string) error
	GetEmbedding(ctx context.Context, id string) (*Embedding, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Embedder converts text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// EuclideanDistance returns the L2 distance, or 0 when lengths differ.
func EuclideanDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// Normalize scales vec in place to unit length.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
