package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/lexcrag/message"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/tool"
)

// ErrMaxIterations is returned when the model keeps calling tools past the
// configured iteration budget.
var ErrMaxIterations = errors.New("agent: max iterations reached")

// Agent runs a tool-calling loop against an LLM. An Agent holds no
// conversation state, so one value can serve concurrent runs.
type Agent struct {
	name          string
	systemPrompt  string
	maxIterations int
	settings      *Settings
	llm           LLMClient
	tools         *tool.Registry
	logger        *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithMaxIterations bounds the number of model calls per run.
func WithMaxIterations(max int) Option {
	return func(a *Agent) {
		if max > 0 {
			a.maxIterations = max
		}
	}
}

// WithSettings sets per-call generation overrides.
func WithSettings(s *Settings) Option {
	return func(a *Agent) {
		a.settings = s
	}
}

func WithProvider(llm LLMClient) Option {
	return func(a *Agent) {
		a.llm = llm
	}
}

// WithTool registers a tool; duplicates replace earlier definitions.
func WithTool(t *tool.Tool) Option {
	return func(a *Agent) {
		_ = a.tools.Upsert(t)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an agent with the given options.
func New(opts ...Option) *Agent {
	a := &Agent{
		name:          "agent",
		maxIterations: 5,
		tools:         tool.NewRegistry(),
		logger:        logging.WithComponent("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Name() string { return a.name }

// RegisterTool adds a tool to the agent.
func (a *Agent) RegisterTool(t *tool.Tool) error {
	return a.tools.Register(t)
}

// Tools lists the registered tools.
func (a *Agent) Tools() []*tool.Tool {
	return a.tools.List()
}

// RunResult is the outcome of a tool loop.
type RunResult struct {
	Content    string
	ToolCalls  []message.ToolCall
	Iterations int
}

// Run sends input to the model and executes requested tools until the model
// answers without tool calls. Tool failures are reported back to the model
// as text rather than aborting the run.
func (a *Agent) Run(ctx context.Context, input string) (*RunResult, error) {
	if a.llm == nil {
		return nil, fmt.Errorf("agent %s: no provider configured", a.name)
	}

	history := make([]*message.Message, 0, 4)
	if a.systemPrompt != "" {
		history = append(history, message.System(a.systemPrompt))
	}
	history = append(history, message.User(input))

	result := &RunResult{}
	schemas := a.tools.ToJSONSchemas()
	for i := 0; i < a.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations++

		resp, err := a.llm.Generate(ctx, &GenerateRequest{
			Messages: history,
			Tools:    schemas,
			Settings: a.settings,
		})
		if err != nil {
			return result, fmt.Errorf("agent %s: generate: %w", a.name, err)
		}
		if resp == nil || resp.Message == nil {
			return result, fmt.Errorf("agent %s: empty response", a.name)
		}

		reply := resp.Message
		history = append(history, reply)
		if !reply.HasToolCalls() {
			result.Content = reply.Content
			return result, nil
		}

		for _, call := range reply.ToolCalls {
			out, err := a.tools.Execute(ctx, call.Name, call.Args)
			if err != nil {
				a.logger.Warn("tool call failed", "agent", a.name, "tool", call.Name, "error", err)
				out = fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
			}
			call.Response = out
			result.ToolCalls = append(result.ToolCalls, call)
			history = append(history, message.NewToolResponseMessage(call.ID, out))
		}
	}
	return result, fmt.Errorf("agent %s: %w (%d)", a.name, ErrMaxIterations, a.maxIterations)
}
