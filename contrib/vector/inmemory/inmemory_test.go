package inmemory

import (
	"context"
	"errors"
	"testing"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/vector"
)

func TestStore(t *testing.T) {
	store := New()
	ctx := context.Background()

	t.Run("add and retrieve embedding", func(t *testing.T) {
		emb := &vector.Embedding{
			ID:       "art-1052",
			Text:     "Art. 1.052 Na sociedade limitada, a responsabilidade de cada sócio é restrita ao valor de suas quotas.",
			Vector:   []float32{0.1, 0.2, 0.3},
			Metadata: map[string]string{vector.MetaAuthority: "Código Civil"},
		}
		if err := store.AddEmbedding(ctx, emb); err != nil {
			t.Fatalf("AddEmbedding failed: %v", err)
		}
		emb.Metadata[vector.MetaAuthority] = "changed"

		got, err := store.GetEmbedding(ctx, "art-1052")
		if err != nil {
			t.Fatalf("GetEmbedding failed: %v", err)
		}
		if got.Metadata[vector.MetaAuthority] != "Código Civil" {
			t.Errorf("Store should keep its own copy of metadata, got %q", got.Metadata[vector.MetaAuthority])
		}
	})

	t.Run("search ranks by similarity", func(t *testing.T) {
		_ = store.Clear(ctx)
		for _, emb := range []*vector.Embedding{
			{ID: "a", Text: "a", Vector: []float32{1, 0, 0}},
			{ID: "b", Text: "b", Vector: []float32{0.9, 0.1, 0}},
			{ID: "c", Text: "c", Vector: []float32{0, 1, 0}},
			{ID: "d", Text: "d", Vector: []float32{1, 0}},
		} {
			if err := store.AddEmbedding(ctx, emb); err != nil {
				t.Fatalf("AddEmbedding failed: %v", err)
			}
		}

		results, err := store.Search(ctx, []float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
			t.Fatalf("Unexpected ranking: %+v", results)
		}
		if results[0].Score < results[1].Score {
			t.Errorf("Scores not descending: %f < %f", results[0].Score, results[1].Score)
		}
	})

	t.Run("empty store returns empty slice", func(t *testing.T) {
		empty := New()
		results, err := empty.Search(ctx, []float32{1}, 5)
		if err != nil || len(results) != 0 {
			t.Errorf("Expected no results and no error, got %v, %v", results, err)
		}
	})

	t.Run("validation and not found", func(t *testing.T) {
		if err := store.AddEmbedding(ctx, &vector.Embedding{ID: "x"}); !errors.Is(err, errorskg.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
		if _, err := store.Search(ctx, nil, 1); err == nil {
			t.Error("Expected error for empty query vector")
		}
		if err := store.DeleteEmbedding(ctx, "missing"); !errors.Is(err, errorskg.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if err := store.DeleteEmbedding(ctx, "a"); err != nil {
			t.Errorf("DeleteEmbedding failed: %v", err)
		}
		if n, _ := store.Count(ctx); n != 3 {
			t.Errorf("Expected 3 embeddings after delete, got %d", n)
		}
	})
}
