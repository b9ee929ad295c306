package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/retrieval"
)

// Requires a running Redis server; set REDIS_ADDR to run.
func TestCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis cache tests")
	}
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.Prefix = "lexcrag:test:" + time.Now().Format("150405.000") + ":"
	c := New(cfg)
	defer c.Close()

	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	calls := 0
	web := retrieval.NewCachedWeb(retrieval.WebSearchFunc(func(ctx context.Context, q string, max int) ([]legal.DocumentSnippet, error) {
		calls++
		return []legal.DocumentSnippet{}, nil
	}), c, time.Minute)
	_, _ = web.Search(ctx, "prescrição", 2)
	_, _ = web.Search(ctx, "prescrição", 2)
	assert.Equal(t, 1, calls)
}

func TestGetUnreachable(t *testing.T) {
	c := New(Config{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, ok, err := c.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, ok)
}
