package cohere

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/message"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(DefaultConfig()); !errors.Is(err, errorskg.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"1","message":{"role":"assistant","content":[{"type":"text","text":"PASSED: YES"}]}}`))
	}))
	defer srv.Close()

	p, err := New(Config{APIKey: "k", BaseURL: srv.URL, Temperature: 0.4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	resp, err := p.Generate(context.Background(), &agent.GenerateRequest{
		Messages: []*message.Message{message.System("check"), message.User("text")},
		Settings: &agent.Settings{MaxTokens: 500},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Message.Content != "PASSED: YES" {
		t.Errorf("Unexpected content %q", resp.Message.Content)
	}
	if got.Model != "command-r-plus" || got.Temperature != 0.4 || got.MaxTokens != 500 {
		t.Errorf("Unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("Unexpected messages %+v", got.Messages)
	}
}

func TestGenerateEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","message":{"role":"assistant","content":[]}}`))
	}))
	defer srv.Close()

	p, _ := New(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := p.Generate(context.Background(), &agent.GenerateRequest{Messages: []*message.Message{message.User("q")}}); err == nil {
		t.Error("Expected error for empty content")
	}
}
