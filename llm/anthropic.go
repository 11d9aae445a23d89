package llm

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// AnthropicLLMClient is a client for the Anthropic Messages API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	base
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(opts Options) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicLLMClient{client: &client, base: newBase("anthropic", opts)}, nil
}

func (a *AnthropicLLMClient) Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error) {
	return a.chatWithToolFallback(ctx, history, available, a.send)
}

func (a *AnthropicLLMClient) send(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error) {
	messages, system := toAnthropicMessages(history, a.opts.SystemPrompt)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.opts.Model),
		MaxTokens:   a.opts.MaxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(*a.opts.Temperature),
		Tools:       toAnthropicTools(available),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, usage{}, err
	}
	return fromAnthropicResponse(resp), usage{input: resp.Usage.InputTokens, output: resp.Usage.OutputTokens}, nil
}

// toAnthropicMessages converts history to Anthropic turns. Consecutive
// tool results are grouped into a single user turn, as the API requires.
// System-role history entries are appended to the system prompt.
func toAnthropicMessages(history []session.Message, systemPrompt string) ([]anthropic.MessageParam, string) {
	var out []anthropic.MessageParam
	system := []string{}
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	lastWasTool := false

	for _, msg := range history {
		isTool := false
		switch msg.Role {
		case session.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case session.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ToolCallID, argsOrEmpty(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case session.RoleTool:
			res, ok := msg.Result()
			if !ok {
				continue
			}
			isTool = true
			block := anthropic.NewToolResultBlock(res.ToolCallID, res.Text(), res.Failed())
			if lastWasTool {
				out[len(out)-1].Content = append(out[len(out)-1].Content, block)
			} else {
				out = append(out, anthropic.NewUserMessage(block))
			}
		case session.RoleSystem:
			system = append(system, msg.Content)
		}
		lastWasTool = isTool
	}
	return out, strings.Join(system, "\n\n")
}

func toAnthropicTools(available []*tools.Descriptor) []anthropic.ToolUnionParam {
	if len(available) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(available))
	for _, d := range available {
		props, required := schemaProperties(d)
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   required,
			},
		}})
	}
	return out
}

func fromAnthropicResponse(resp *anthropic.Message) *session.Message {
	msg := &session.Message{ID: resp.ID}
	var text strings.Builder
	for _, block := range resp.Content {
		switch c := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(c.Text)
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, parseArgs(c.ID, c.Name, string(c.Input)))
		}
	}
	msg.Content = text.String()
	return msg
}

func argsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
