package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/message"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), DefaultConfig()); !errors.Is(err, errorskg.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestToContents(t *testing.T) {
	system, history, last := toContents([]*message.Message{
		message.System("You are a Brazilian legal analyst."),
		message.User("first question"),
		message.NewMessage(message.RoleAssistant, "first answer"),
		message.User("follow up"),
	})
	if system != "You are a Brazilian legal analyst." {
		t.Errorf("Unexpected system %q", system)
	}
	if last != "follow up" {
		t.Errorf("Unexpected last turn %q", last)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("Unexpected history %+v", history)
	}
	if history[1].Parts[0] != genai.Text("first answer") {
		t.Errorf("Unexpected history part %v", history[1].Parts[0])
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world.")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}}
	if got := responseText(resp); got != "Hello, world." {
		t.Errorf("Unexpected text %q", got)
	}
	if responseText(nil) != "" {
		t.Error("nil response should yield empty text")
	}
}
