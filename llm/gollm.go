package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
	"github.com/teilomillet/gollm"
)

// toolCallInstructions tells a text-only backend how to ask for tools.
const toolCallInstructions = `When you need a tool, reply with only a JSON array of calls, for example:
[{"name": "read_file", "arguments": {"path": "main.go"}}]
When you are done with tools, reply in plain text.`

// GollmLLMClient serves providers without a native adapter here (groq,
// mistral, cohere, ...) through gollm. gollm returns plain text, so tool calls
// are parsed from a JSON array in the reply.
type GollmLLMClient struct {
	llm gollm.LLM
	base
}

func NewGollmLLMClient(provider string, opts Options) (*GollmLLMClient, error) {
	opts = opts.withDefaults()
	llm, err := gollm.NewLLM(
		gollm.SetProvider(provider),
		gollm.SetModel(opts.Model),
		gollm.SetMaxTokens(int(opts.MaxTokens)),
		gollm.SetTemperature(*opts.Temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create gollm LLM for provider %s", provider)
	}
	return &GollmLLMClient{llm: llm, base: newBase(provider, opts)}, nil
}

func (g *GollmLLMClient) Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error) {
	return g.chatWithToolFallback(ctx, history, available, g.send)
}

func (g *GollmLLMClient) send(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error) {
	prompt, inputLen := gollmPrompt(history, g.opts.SystemPrompt, available)
	text, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, usage{}, err
	}
	msg := parseGollmReply(text)
	// gollm does not report usage; approximate four characters per token.
	return msg, usage{input: int64(inputLen / 4), output: int64(len(text) / 4)}, nil
}

// gollmPrompt flattens the conversation into one prompt with role markers and
// returns it with the length of its text.
func gollmPrompt(history []session.Message, systemPrompt string, available []*tools.Descriptor) (*gollm.Prompt, int) {
	var system []string
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	var parts []string
	for _, msg := range history {
		switch msg.Role {
		case session.RoleSystem:
			system = append(system, msg.Content)
		case session.RoleUser:
			parts = append(parts, "[User]: "+msg.Content)
		case session.RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s %s", tc.ToolCallID, tc.Name, marshalArgs(tc.Args)))
			}
		case session.RoleTool:
			if res, ok := msg.Result(); ok {
				label := "Tool Result"
				if res.Failed() {
					label = "Tool Error"
				}
				parts = append(parts, fmt.Sprintf("[%s %s]: %s", label, res.ToolCallID, res.Text()))
			}
		}
	}

	var opts []gollm.PromptOption
	if len(available) > 0 {
		system = append(system, toolCallInstructions)
		specs := make([]gollm.Tool, 0, len(available))
		for _, d := range available {
			specs = append(specs, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        d.Name,
					Description: d.Description,
					Parameters:  ParameterSchema(d),
				},
			})
		}
		opts = append(opts, gollm.WithTools(specs))
	}
	systemText := strings.Join(system, "\n\n")
	if systemText != "" {
		opts = append(opts, gollm.WithSystemPrompt(systemText, gollm.CacheTypeEphemeral))
	}
	input := strings.Join(parts, "\n")
	return gollm.NewPrompt(input, opts...), len(input) + len(systemText)
}

// parseGollmReply splits a reply into text and the trailing JSON array of
// tool calls, if any. Calls whose arguments are not an object keep a parse
// error.
func parseGollmReply(text string) *session.Message {
	msg := &session.Message{Content: text}
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return msg
	}
	var raw []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text[start:])), &raw); err != nil {
		return msg
	}
	for _, rc := range raw {
		msg.ToolCalls = append(msg.ToolCalls, parseArgs(newToolCallID(), rc.Name, string(rc.Arguments)))
	}
	msg.Content = strings.TrimSpace(text[:start])
	return msg
}
