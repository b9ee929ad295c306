// Package openai is a reasoning provider for OpenAI-compatible chat APIs,
// including OpenRouter.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/message"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns the default reasoning configuration.
func DefaultConfig() Config {
	return Config{
		Model:       string(openai.ChatModelGPT4oMini),
		MaxTokens:   4000,
		Temperature: 0.1,
	}
}

// Provider implements agent.LLMClient for text generation.
type Provider struct {
	config Config
	client openai.Client
}

var _ agent.LLMClient = (*Provider)(nil)

// New creates a provider. It fails when no API key is configured so that a
// provider factory can skip it.
func New(cfg Config, opts ...option.RequestOption) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: %w", errorskg.ErrProviderNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &Provider{config: cfg, client: openai.NewClient(reqOpts...)}, nil
}

// Generate sends the conversation and returns the assistant reply. Tool
// schemas are rejected; tool loops run on the executor provider.
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (_ *agent.GenerateResponse, err error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("openai: empty request: %w", errorskg.ErrInvalidInput)
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("openai: tool calling is not supported by the reasoning provider: %w", errorskg.ErrInvalidInput)
	}

	ctx, span := telemetry.Start(ctx, "provider.openai", attribute.String("llm.model", p.config.Model))
	defer func() { telemetry.End(span, err) }()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case message.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	temperature, maxTokens := req.Settings.Resolve(p.config.Temperature, p.config.MaxTokens)
	params := openai.ChatCompletionNewParams{
		Messages:    msgs,
		Model:       openai.ChatModel(p.config.Model),
		Temperature: param.NewOpt(temperature),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(maxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("openai: empty completion")
	}
	return &agent.GenerateResponse{
		Message: message.NewMessage(message.RoleAssistant, content),
		Model:   completion.Model,
	}, nil
}
