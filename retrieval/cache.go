package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
)

// Cache stores encoded search results. Get reports a miss with ok=false and a
// nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is an in-process Cache backed by go-cache.
type MemoryCache struct {
	c *cache.Cache
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache(defaultTTL, cleanup time.Duration) *MemoryCache {
	return &MemoryCache{c: cache.New(defaultTTL, cleanup)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

// CacheKey derives a stable key from a source name and its arguments.
func CacheKey(source string, query string, max int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%s", source, max, query)))
	return source + ":" + hex.EncodeToString(sum[:12])
}

// cached runs load through the cache. Cache failures degrade to a direct
// call and errors from load are never cached.
func cached[T any](ctx context.Context, c Cache, ttl time.Duration, logger *slog.Logger, key string, load func() (T, error)) (T, error) {
	if raw, ok, err := c.Get(ctx, key); err != nil {
		logger.Warn("cache read failed", "key", key, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		if err := c.Set(ctx, key, raw, ttl); err != nil {
			logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}

// CachedVector wraps a VectorSearcher with a Cache.
type CachedVector struct {
	next   VectorSearcher
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedVector(next VectorSearcher, c Cache, ttl time.Duration) *CachedVector {
	return &CachedVector{next: next, cache: c, ttl: ttl, logger: logging.WithComponent("retrieval.cache")}
}

func (s *CachedVector) Search(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error) {
	return cached(ctx, s.cache, s.ttl, s.logger, CacheKey(string(legal.SourceVectorDB), text, k), func() ([]legal.DocumentSnippet, error) {
		return s.next.Search(ctx, text, k)
	})
}

// CachedJurisprudence wraps a JurisprudenceSearcher with a Cache.
type CachedJurisprudence struct {
	next   JurisprudenceSearcher
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedJurisprudence(next JurisprudenceSearcher, c Cache, ttl time.Duration) *CachedJurisprudence {
	return &CachedJurisprudence{next: next, cache: c, ttl: ttl, logger: logging.WithComponent("retrieval.cache")}
}

func (s *CachedJurisprudence) Search(ctx context.Context, term string, max int) (JurisprudenceResult, error) {
	return cached(ctx, s.cache, s.ttl, s.logger, CacheKey(string(legal.SourceLexML), term, max), func() (JurisprudenceResult, error) {
		return s.next.Search(ctx, term, max)
	})
}

// CachedWeb wraps a WebSearcher with a Cache.
type CachedWeb struct {
	next   WebSearcher
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedWeb(next WebSearcher, c Cache, ttl time.Duration) *CachedWeb {
	return &CachedWeb{next: next, cache: c, ttl: ttl, logger: logging.WithComponent("retrieval.cache")}
}

func (s *CachedWeb) Search(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
	return cached(ctx, s.cache, s.ttl, s.logger, CacheKey(string(legal.SourceWeb), query, max), func() ([]legal.DocumentSnippet, error) {
		return s.next.Search(ctx, query, max)
	})
}
