// Package groq is the tool-executing provider. It speaks Groq's
// OpenAI-compatible chat API including function calling.
package groq

import (
	"context"
	"encoding/json"
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

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Config holds Groq provider configuration.
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
		Model:       "llama-3.3-70b-versatile",
		MaxTokens:   2048,
		Temperature: 0.1,
	}
}

// Provider implements agent.LLMClient with tool calling.
type Provider struct {
	config Config
	client *http.Client
}

var _ agent.LLMClient = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("groq: %w", errorskg.ErrProviderNotConfigured)
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

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []chatMessage    `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	MaxTokens   int64            `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (_ *agent.GenerateResponse, err error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("groq: empty request: %w", errorskg.ErrInvalidInput)
	}

	ctx, span := telemetry.Start(ctx, "provider.groq",
		attribute.String("llm.model", p.config.Model),
		attribute.Int("llm.tools", len(req.Tools)))
	defer func() { telemetry.End(span, err) }()

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	temperature, maxTokens := req.Settings.Resolve(p.config.Temperature, p.config.MaxTokens)
	payload := chatRequest{
		Model:       p.config.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if len(req.Tools) > 0 {
		payload.Tools = req.Tools
		payload.ToolChoice = "auto"
	}

	var out chatResponse
	url := strings.TrimRight(p.config.BaseURL, "/") + "/chat/completions"
	if err := provider.PostJSON(ctx, p.client, "groq", url, p.config.APIKey, payload, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("groq: no choices in response")
	}

	reply, err := decodeMessage(out.Choices[0].Message)
	if err != nil {
		return nil, err
	}
	return &agent.GenerateResponse{Message: reply, Model: out.Model}, nil
}

func encodeMessages(msgs []*message.Message) ([]chatMessage, error) {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolID}
		for _, tc := range m.ToolCalls {
			args := tc.Args
			if args == nil {
				args = map[string]any{}
			}
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("groq: encode tool arguments: %w", err)
			}
			cm.ToolCalls = append(cm.ToolCalls, toolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: functionCall{Name: tc.Name, Arguments: string(raw)},
			})
		}
		out = append(out, cm)
	}
	return out, nil
}

func decodeMessage(cm chatMessage) (*message.Message, error) {
	if len(cm.ToolCalls) == 0 {
		return message.NewMessage(message.RoleAssistant, cm.Content), nil
	}
	calls := make([]message.ToolCall, 0, len(cm.ToolCalls))
	for _, tc := range cm.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("groq: decode arguments of %s: %w", tc.Function.Name, err)
			}
		}
		calls = append(calls, message.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	reply := message.NewToolCallMessage(calls)
	reply.Content = cm.Content
	return reply, nil
}
