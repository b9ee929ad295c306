package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/message"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"
)

// Config holds Gemini provider configuration.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
}

func DefaultConfig() Config {
	return Config{
		Model:       "gemini-1.5-flash",
		MaxTokens:   4000,
		Temperature: 0.1,
	}
}

// Provider implements agent.LLMClient on the Gemini SDK.
type Provider struct {
	config Config
	client *genai.Client
}

var _ agent.LLMClient = (*Provider)(nil)

// New creates the SDK client. Close releases it.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: %w", errorskg.ErrProviderNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{config: cfg, client: client}, nil
}

func (p *Provider) Close() error {
	return p.client.Close()
}

// Generate replays earlier turns as chat history and sends the last user turn.
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (_ *agent.GenerateResponse, err error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("gemini: empty request: %w", errorskg.ErrInvalidInput)
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("gemini: tool calling is not supported by the reasoning provider: %w", errorskg.ErrInvalidInput)
	}

	ctx, span := telemetry.Start(ctx, "provider.gemini", attribute.String("llm.model", p.config.Model))
	defer func() { telemetry.End(span, err) }()

	system, history, last := toContents(req.Messages)
	if last == "" {
		return nil, fmt.Errorf("gemini: no user message: %w", errorskg.ErrInvalidInput)
	}

	temperature, maxTokens := req.Settings.Resolve(p.config.Temperature, p.config.MaxTokens)
	model := p.client.GenerativeModel(p.config.Model)
	model.SetTemperature(float32(temperature))
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	chat := model.StartChat()
	chat.History = history
	resp, err := chat.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini: empty response")
	}
	return &agent.GenerateResponse{
		Message: message.NewMessage(message.RoleAssistant, text),
		Model:   p.config.Model,
	}, nil
}

// toContents maps messages onto Gemini roles. The final user turn is split
// off because it is sent as the new message.
func toContents(msgs []*message.Message) (string, []*genai.Content, string) {
	system, rest := message.SplitSystem(msgs)
	var last string
	if n := len(rest); n > 0 && rest[n-1].Role != message.RoleAssistant {
		last = rest[n-1].Content
		rest = rest[:n-1]
	}
	history := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == message.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return system, history, last
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}
