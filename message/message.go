package message

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message in a provider exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn sent to or received from a language model.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolID    string         `json:"tool_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Response string         `json:"response,omitempty"`
}

func newMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// NewMessage creates a message with the given role and content.
func NewMessage(role Role, content string) *Message {
	return newMessage(role, content)
}

// System and User are shorthands for the two roles prompts are built from.
func System(content string) *Message { return newMessage(RoleSystem, content) }

func User(content string) *Message { return newMessage(RoleUser, content) }

// NewToolCallMessage creates an assistant message carrying tool calls.
func NewToolCallMessage(toolCalls []ToolCall) *Message {
	msg := newMessage(RoleAssistant, "")
	msg.ToolCalls = toolCalls
	return msg
}

// NewToolResponseMessage creates the reply to a single tool call.
func NewToolResponseMessage(toolID, content string) *Message {
	msg := newMessage(RoleTool, content)
	msg.ToolID = toolID
	return msg
}

// HasToolCalls reports whether the model asked for any tool.
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of msg.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	cloned.Metadata = maps.Clone(msg.Metadata)
	if len(msg.ToolCalls) > 0 {
		cloned.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			tc.Args = maps.Clone(tc.Args)
			cloned.ToolCalls[i] = tc
		}
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}

// SplitSystem separates system instructions from the conversation turns.
// Providers whose API takes the system prompt out of band use it.
func SplitSystem(msgs []*Message) (string, []*Message) {
	var system []string
	rest := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
