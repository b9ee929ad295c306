package tavily

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
)

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{}, nil)
	require.ErrorIs(t, err, errorskg.ErrProviderNotConfigured)
}

func TestSearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tv-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"query":"q","results":[
			{"url":"https://www.conjur.com.br/2024/exclusao-socio","title":"Exclusão de sócio","content":"O STJ admite a exclusão extrajudicial.","score":0.91},
			{"url":"https://example.com/empty","title":"vazio","content":"   ","score":0.2}
		]}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "tv-key", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	docs, err := c.Search(context.Background(), "exclusão de sócio", 0)
	require.NoError(t, err)

	assert.Equal(t, searchRequest{APIKey: "tv-key", Query: "exclusão de sócio", MaxResults: 5, SearchDepth: "basic"}, got)
	require.Len(t, docs, 1)
	d := docs[0]
	assert.Equal(t, legal.SourceWeb, d.Metadata.SourceType)
	assert.Equal(t, "conjur.com.br", d.Metadata.Authority)
	assert.Equal(t, "Exclusão de sócio", d.Metadata.Title)
	assert.InDelta(t, 0.91, d.RelevanceScore, 1e-9)
	assert.Equal(t, "O STJ admite a exclusão extrajudicial.", d.Text)
}

func TestSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "bad", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "q", 3)
	require.Error(t, err)

	_, err = c.Search(context.Background(), "  ", 3)
	assert.True(t, errors.Is(err, errorskg.ErrInvalidInput))
}
