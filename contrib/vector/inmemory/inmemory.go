package inmemory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/vector"
)

// Store is a VectorStore kept in process memory. It backs tests and local
// runs without PostgreSQL.
type Store struct {
	mu         sync.RWMutex
	embeddings map[string]*vector.Embedding
}

func New() *Store {
	return &Store{embeddings: make(map[string]*vector.Embedding)}
}

func (s *Store) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil {
		return fmt.Errorf("embedding cannot be nil: %w", errorskg.ErrInvalidInput)
	}
	if embedding.ID == "" {
		return fmt.Errorf("embedding ID cannot be empty: %w", errorskg.ErrInvalidInput)
	}
	if len(embedding.Vector) == 0 {
		return fmt.Errorf("embedding vector cannot be empty: %w", errorskg.ErrInvalidInput)
	}

	stored := *embedding
	stored.Vector = append([]float32(nil), embedding.Vector...)
	stored.Metadata = maps.Clone(embedding.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[embedding.ID] = &stored
	return nil
}

// Search ranks stored embeddings by cosine similarity. Embeddings of a
// different dimension are ignored.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]*vector.Embedding, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty: %w", errorskg.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	results := make([]*vector.Embedding, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		if len(emb.Vector) != len(queryVector) {
			continue
		}
		hit := *emb
		hit.Score = vector.CosineSimilarity(queryVector, emb.Vector)
		results = append(results, &hit)
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) DeleteEmbedding(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.embeddings[id]; !exists {
		return fmt.Errorf("embedding %s: %w", id, errorskg.ErrNotFound)
	}
	delete(s.embeddings, id)
	return nil
}

func (s *Store) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, exists := s.embeddings[id]
	if !exists {
		return nil, fmt.Errorf("embedding %s: %w", id, errorskg.ErrNotFound)
	}
	cp := *emb
	return &cp, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings = make(map[string]*vector.Embedding)
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}
