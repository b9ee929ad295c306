// Package mmr reorders vector hits by Maximal Marginal Relevance so that
// overlapping chunks of the same article do not crowd out other sources.
package mmr

import (
	"context"
	"math"

	"github.com/sweetpotato0/lexcrag/retrieval"
	"github.com/sweetpotato0/lexcrag/vector"
)

// DefaultLambda weighs relevance against diversity.
const DefaultLambda = 0.7

// Reranker implements retrieval.Reranker.
type Reranker struct {
	Lambda float32
}

var _ retrieval.Reranker = (*Reranker)(nil)

func New(lambda float64) *Reranker {
	if lambda <= 0 || lambda > 1 {
		lambda = DefaultLambda
	}
	return &Reranker{Lambda: float32(lambda)}
}

// Rerank greedily picks the hit with the best trade-off between similarity to
// the query and dissimilarity to the hits already picked. Scores keep the
// query similarity.
func (m *Reranker) Rerank(ctx context.Context, query string, queryVector []float32, hits []*vector.Embedding, k int) ([]*vector.Embedding, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	if k <= 0 || k > len(hits) {
		k = len(hits)
	}
	type item struct {
		hit   *vector.Embedding
		score float32
	}
	remaining := make([]item, 0, len(hits))
	for _, h := range hits {
		if h == nil {
			continue
		}
		score := h.Score
		if len(queryVector) > 0 && len(h.Vector) == len(queryVector) {
			score = vector.CosineSimilarity(queryVector, h.Vector)
		}
		remaining = append(remaining, item{hit: h, score: score})
	}

	selected := make([]*vector.Embedding, 0, k)
	for len(remaining) > 0 && len(selected) < k {
		bestIdx := -1
		bestScore := float32(math.Inf(-1))
		for idx, cand := range remaining {
			var penalty float32
			for _, picked := range selected {
				if len(cand.hit.Vector) == 0 || len(picked.Vector) != len(cand.hit.Vector) {
					continue
				}
				penalty = max(penalty, vector.CosineSimilarity(cand.hit.Vector, picked.Vector))
			}
			if score := m.Lambda*cand.score - (1-m.Lambda)*penalty; score > bestScore {
				bestScore, bestIdx = score, idx
			}
		}
		best := *remaining[bestIdx].hit
		best.Score = remaining[bestIdx].score
		selected = append(selected, &best)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected, nil
}
