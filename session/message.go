package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to run one tool. ParseError is set instead of
// Args when the provider's argument payload could not be decoded.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
	ParseError string                 `json:"parse_error,omitempty"`
}

// ToolResult is the outcome of one ToolCall. When Error is non-empty Output
// must be ignored.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r ToolResult) Failed() bool { return r.Error != "" }

// Text renders the result the way it is shown to a model.
func (r ToolResult) Text() string {
	if r.Failed() {
		return "Error: " + r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return string(data)
}

type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"created_at"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// NewMessage stamps a fresh id and creation time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewToolMessage wraps a single tool result in a tool-role message.
func NewToolMessage(result ToolResult) Message {
	msg := NewMessage(RoleTool, result.Text())
	msg.ToolResults = []ToolResult{result}
	return msg
}

// Result returns the single result carried by a tool-role message.
func (m Message) Result() (ToolResult, bool) {
	if m.Role != RoleTool || len(m.ToolResults) == 0 {
		return ToolResult{}, false
	}
	return m.ToolResults[0], true
}

func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
