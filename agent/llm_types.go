package agent

import (
	"context"

	"github.com/sweetpotato0/lexcrag/message"
)

// Settings overrides provider defaults for a single call. Zero values keep
// the provider's configuration.
type Settings struct {
	Temperature *float64
	MaxTokens   int64
}

// GenerateRequest bundles inputs for one LLM invocation.
type GenerateRequest struct {
	Messages []*message.Message
	Tools    []map[string]any
	Settings *Settings
}

// GenerateResponse captures the LLM reply.
type GenerateResponse struct {
	Message *message.Message
	Model   string
}

// LLMClient is implemented by every model provider.
type LLMClient interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Temperature returns a Settings pointer for the given value.
func Temperature(t float64) *float64 { return &t }

// Text issues a single-turn request and returns the reply content.
func Text(ctx context.Context, llm LLMClient, system, prompt string, settings *Settings) (string, error) {
	msgs := make([]*message.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, message.System(system))
	}
	msgs = append(msgs, message.User(prompt))
	resp, err := llm.Generate(ctx, &GenerateRequest{Messages: msgs, Settings: settings})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Message == nil {
		return "", nil
	}
	return resp.Message.Content, nil
}

// Resolve applies the overrides in s to provider defaults.
func (s *Settings) Resolve(temperature float64, maxTokens int64) (float64, int64) {
	if s == nil {
		return temperature, maxTokens
	}
	if s.Temperature != nil {
		temperature = *s.Temperature
	}
	if s.MaxTokens > 0 {
		maxTokens = s.MaxTokens
	}
	return temperature, maxTokens
}
