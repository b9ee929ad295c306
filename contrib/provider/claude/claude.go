package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/message"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds Claude provider configuration.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

func DefaultConfig() Config {
	return Config{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4000,
		Temperature: 0.1,
	}
}

// Provider implements agent.LLMClient with the Anthropic Messages API.
type Provider struct {
	config Config
	client anthropic.Client
}

var _ agent.LLMClient = (*Provider)(nil)

func New(cfg Config, opts ...option.RequestOption) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("claude: %w", errorskg.ErrProviderNotConfigured)
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &Provider{config: cfg, client: anthropic.NewClient(reqOpts...)}, nil
}

// Generate sends the conversation; system messages go in the system field.
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (_ *agent.GenerateResponse, err error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("claude: empty request: %w", errorskg.ErrInvalidInput)
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("claude: tool calling is not supported by the reasoning provider: %w", errorskg.ErrInvalidInput)
	}

	ctx, span := telemetry.Start(ctx, "provider.claude", attribute.String("llm.model", p.config.Model))
	defer func() { telemetry.End(span, err) }()

	system, turns := message.SplitSystem(req.Messages)
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		if m.Role == message.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("claude: no conversation turns: %w", errorskg.ErrInvalidInput)
	}

	temperature, maxTokens := req.Settings.Resolve(p.config.Temperature, p.config.MaxTokens)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.config.Model),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: param.NewOpt(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: messages: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil, fmt.Errorf("claude: empty response")
	}
	return &agent.GenerateResponse{
		Message: message.NewMessage(message.RoleAssistant, b.String()),
		Model:   string(resp.Model),
	}, nil
}
