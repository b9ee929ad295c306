package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/lexcrag/contrib/vector/inmemory"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/vector"
)

// keywordEmbedder maps text onto two axes: corporate law and labour law.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var v [2]float32
	for _, w := range []string{"sociedade", "sócio", "quotas"} {
		if strings.Contains(text, w) {
			v[0]++
		}
	}
	for _, w := range []string{"empregado", "salário", "trabalho"} {
		if strings.Contains(text, w) {
			v[1]++
		}
	}
	return v[:], nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (keywordEmbedder) Dimension() int { return 2 }

func TestStoreSearcher(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	emb := keywordEmbedder{}
	passages := map[string]string{
		"cc-1052": "O sócio responde pela integralização das quotas da sociedade.",
		"clt-468": "A alteração do contrato de trabalho exige anuência do empregado.",
	}
	for id, text := range passages {
		vec, _ := emb.Embed(ctx, text)
		require.NoError(t, store.AddEmbedding(ctx, &vector.Embedding{
			ID: id, Vector: vec, Text: text,
			Metadata: map[string]string{vector.MetaAuthority: "Código Civil", vector.MetaTitle: id},
		}))
	}

	s := NewStoreSearcher(emb, store)
	got, err := s.Search(ctx, "Quais os deveres do sócio quanto às quotas?", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cc-1052", got[0].SourceID)
	assert.Equal(t, legal.SourceVectorDB, got[0].Metadata.SourceType)
	assert.Equal(t, "Código Civil", got[0].Metadata.Authority)
	assert.InDelta(t, 1.0, got[0].RelevanceScore, 1e-6)

	empty, err := NewStoreSearcher(emb, inmemory.New()).Search(ctx, "sociedade", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

type failingEmbedder struct{ keywordEmbedder }

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

func TestStoreSearcherEmbedError(t *testing.T) {
	_, err := NewStoreSearcher(failingEmbedder{}, inmemory.New()).Search(context.Background(), "sociedade", 3)
	require.ErrorContains(t, err, "quota exceeded")
}

func TestCachedWeb(t *testing.T) {
	calls := 0
	next := WebSearchFunc(func(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
		calls++
		s, err := legal.NewSnippet("u", "resultado "+query, legal.SnippetMetadata{SourceType: legal.SourceWeb}, 0.5)
		return []legal.DocumentSnippet{s}, err
	})
	c := NewCachedWeb(next, NewMemoryCache(time.Minute, time.Minute), time.Minute)

	ctx := context.Background()
	first, err := c.Search(ctx, "prescrição", 3)
	require.NoError(t, err)
	second, err := c.Search(ctx, "prescrição", 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = c.Search(ctx, "prescrição", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "different max must miss")
}

func TestCachedJurisprudenceDoesNotCacheErrors(t *testing.T) {
	calls := 0
	next := JurisprudenceSearchFunc(func(ctx context.Context, term string, max int) (JurisprudenceResult, error) {
		calls++
		if calls == 1 {
			return JurisprudenceResult{}, errors.New("sru unavailable")
		}
		return JurisprudenceResult{TotalFound: 7, CQL: term}, nil
	})
	c := NewCachedJurisprudence(next, NewMemoryCache(time.Minute, time.Minute), 0)

	ctx := context.Background()
	_, err := c.Search(ctx, "usucapião", 5)
	require.Error(t, err)
	res, err := c.Search(ctx, "usucapião", 5)
	require.NoError(t, err)
	assert.Equal(t, 7, res.TotalFound)
	res, err = c.Search(ctx, "usucapião", 5)
	require.NoError(t, err)
	assert.Equal(t, "usucapião", res.CQL)
	assert.Equal(t, 2, calls)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestCachedVectorSurvivesCacheFailure(t *testing.T) {
	next := VectorSearchFunc(func(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error) {
		return []legal.DocumentSnippet{}, nil
	})
	got, err := NewCachedVector(next, brokenCache{}, time.Minute).Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, CacheKey("web", "a", 1), CacheKey("web", "a", 1))
	assert.NotEqual(t, CacheKey("web", "a", 1), CacheKey("lexml", "a", 1))
}

func TestCallRetriesTransientErrors(t *testing.T) {
	policy := RetryPolicy(legal.DefaultProcessingConfig(), time.Millisecond)
	attempts := 0
	got, err := Call(context.Background(), "vector search", policy, time.Second, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("connection reset")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 3, attempts)
}

func TestCallStopsOnInvalidInput(t *testing.T) {
	policy := RetryPolicy(legal.DefaultProcessingConfig(), time.Millisecond)
	attempts := 0
	_, err := Call(context.Background(), "web search", policy, time.Second, func(ctx context.Context) ([]legal.DocumentSnippet, error) {
		attempts++
		return nil, fmt.Errorf("empty query: %w", errorskg.ErrInvalidInput)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, errorskg.ErrInvalidInput)
}

func TestCallGivesEachAttemptATimeout(t *testing.T) {
	policy := errorskg.Policy{MaxRetries: 1, BackoffFactor: 1, BaseDelay: time.Millisecond}
	attempts := 0
	_, err := Call(context.Background(), "lexml search", policy, 5*time.Millisecond, func(ctx context.Context) (int, error) {
		attempts++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type reverseReranker struct {
	err  error
	seen int
}

func (r *reverseReranker) Rerank(ctx context.Context, query string, vec []float32, hits []*vector.Embedding, k int) ([]*vector.Embedding, error) {
	r.seen = len(hits)
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*vector.Embedding, 0, len(hits))
	for i := len(hits) - 1; i >= 0; i-- {
		out = append(out, hits[i])
	}
	return out, nil
}

func TestStoreSearcherReranks(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	emb := keywordEmbedder{}
	for id, text := range map[string]string{
		"a": "sociedade sócio quotas",
		"b": "sociedade sócio",
		"c": "sociedade",
	} {
		vec, _ := emb.Embed(ctx, text)
		require.NoError(t, store.AddEmbedding(ctx, &vector.Embedding{ID: id, Vector: vec, Text: text}))
	}

	r := &reverseReranker{}
	got, err := NewStoreSearcher(emb, store, WithReranker(r, 3)).Search(ctx, "sociedade", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, r.seen, "fanout should widen the candidate set")
	require.Len(t, got, 1)

	failing := &reverseReranker{err: errors.New("rerank down")}
	got, err = NewStoreSearcher(emb, store, WithReranker(failing, 2)).Search(ctx, "sociedade", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, failing.seen)
}
