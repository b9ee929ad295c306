package cohere

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/contrib/provider"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/message"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const defaultBaseURL = "https://api.cohere.com/v2"

// Config holds Cohere provider configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     defaultBaseURL,
		Model:       "command-r-plus",
		MaxTokens:   4000,
		Temperature: 0.1,
	}
}

// Provider implements agent.LLMClient over the Cohere v2 chat API.
type Provider struct {
	config Config
	client *http.Client
}

var _ agent.LLMClient = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("cohere: %w", errorskg.ErrProviderNotConfigured)
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	return &Provider{config: cfg, client: provider.NewHTTPClient()}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int64         `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (_ *agent.GenerateResponse, err error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("cohere: empty request: %w", errorskg.ErrInvalidInput)
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("cohere: tool calling is not supported by the reasoning provider: %w", errorskg.ErrInvalidInput)
	}

	ctx, span := telemetry.Start(ctx, "provider.cohere", attribute.String("llm.model", p.config.Model))
	defer func() { telemetry.End(span, err) }()

	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := string(m.Role)
		if m.Role == message.RoleTool {
			role = string(message.RoleUser)
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Content})
	}
	temperature, maxTokens := req.Settings.Resolve(p.config.Temperature, p.config.MaxTokens)

	var out chatResponse
	err = provider.PostJSON(ctx, p.client, "cohere", strings.TrimRight(p.config.BaseURL, "/")+"/chat", p.config.APIKey,
		chatRequest{Model: p.config.Model, Messages: msgs, Temperature: temperature, MaxTokens: maxTokens}, &out)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, c := range out.Message.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil, fmt.Errorf("cohere: empty response")
	}
	return &agent.GenerateResponse{
		Message: message.NewMessage(message.RoleAssistant, b.String()),
		Model:   p.config.Model,
	}, nil
}
