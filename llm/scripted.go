package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// Step is one scripted model turn: either a reply or an error.
type Step struct {
	Reply *session.Message
	Err   error
}

// Text is a scripted plain reply.
func Text(content string) Step {
	return Step{Reply: &session.Message{Role: session.RoleAssistant, Content: content}}
}

// Calls is a scripted reply requesting the given tool calls.
func Calls(calls ...session.ToolCall) Step {
	return Step{Reply: &session.Message{Role: session.RoleAssistant, ToolCalls: calls}}
}

func Fail(err error) Step { return Step{Err: err} }

// ScriptedClient replays a fixed sequence of steps and records every request.
// When the script runs out it echoes the last user message.
type ScriptedClient struct {
	mu       sync.Mutex
	steps    []Step
	requests [][]session.Message
	offered  [][]string
	base
}

func NewScriptedClient(opts Options, steps ...Step) *ScriptedClient {
	return &ScriptedClient{steps: steps, base: newBase("mock", opts)}
}

func (s *ScriptedClient) Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error) {
	return s.chatWithToolFallback(ctx, history, available, s.send)
}

func (s *ScriptedClient) send(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, append([]session.Message(nil), history...))
	names := make([]string, 0, len(available))
	for _, d := range available {
		names = append(names, d.Name)
	}
	s.offered = append(s.offered, names)

	if len(s.steps) == 0 {
		return &session.Message{Content: fmt.Sprintf("You said: %s", lastUserText(history))}, usage{}, nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, usage{}, step.Err
	}
	reply := *step.Reply
	reply.ToolCalls = append([]session.ToolCall(nil), step.Reply.ToolCalls...)
	return &reply, usage{input: int64(len(history)), output: 1}, nil
}

// CallCount returns how many requests the client has received.
func (s *ScriptedClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Request returns the history sent with the i-th request.
func (s *ScriptedClient) Request(i int) []session.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

// Offered returns the tool names offered with the i-th request.
func (s *ScriptedClient) Offered(i int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offered[i]
}

func lastUserText(history []session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
