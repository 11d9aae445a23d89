package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

func descriptor(name string, params ...tools.Param) *tools.Descriptor {
	return &tools.Descriptor{
		Name:        name,
		Description: name + " description",
		Params:      params,
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			return "ok", nil
		},
	}
}

// toolExchange is a user turn, one assistant turn calling two tools and the
// two results, the second of which failed.
func toolExchange() []session.Message {
	assistant := session.NewMessage(session.RoleAssistant, "Let me look.")
	assistant.ToolCalls = []session.ToolCall{
		{ToolCallID: "call_1", Name: "list_files", Args: map[string]any{"directory": "src"}},
		{ToolCallID: "call_2", Name: "read_file", Args: map[string]any{"path": "missing.go"}},
	}
	return []session.Message{
		session.NewMessage(session.RoleUser, "what is in src?"),
		assistant,
		session.NewToolMessage(session.ToolResult{ToolCallID: "call_1", Name: "list_files", Output: "main.go"}),
		session.NewToolMessage(session.ToolResult{ToolCallID: "call_2", Name: "read_file", Error: "no such file"}),
	}
}

type usageRecord struct {
	provider, model string
	in, out         int64
	note            string
}

type chanRecorder struct {
	ch chan usageRecord
}

func newChanRecorder() *chanRecorder {
	return &chanRecorder{ch: make(chan usageRecord, 8)}
}

func (r *chanRecorder) RecordUsage(provider, model string, in, out int64, note string) error {
	r.ch <- usageRecord{provider, model, in, out, note}
	return nil
}

type failingRecorder struct {
	once sync.Once
	done chan struct{}
	boom bool
}

func (r *failingRecorder) RecordUsage(string, string, int64, int64, string) error {
	defer r.once.Do(func() { close(r.done) })
	if r.boom {
		panic("ledger exploded")
	}
	return fmt.Errorf("ledger unavailable")
}
