package llm

import (
	"context"
	"os"

	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API and any
// server speaking the same protocol.
type OpenAILLMClient struct {
	client *openai.Client
	base
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the
// OPENAI_API_KEY environment variable and honours OPENAI_BASE_URL.
func NewOpenAILLMClient(opts Options) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	// The &c is required, do not replace and just use c
	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c, base: newBase("openai", opts)}, nil
}

func (o *OpenAILLMClient) Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error) {
	return o.chatWithToolFallback(ctx, history, available, o.send)
}

func (o *OpenAILLMClient) send(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error) {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.opts.Model),
		Messages:            toOpenAIMessages(history, o.opts.SystemPrompt),
		Tools:               toOpenAITools(available),
		Temperature:         openai.Float(*o.opts.Temperature),
		MaxCompletionTokens: openai.Int(o.opts.MaxTokens),
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, usage{}, err
	}
	return fromOpenAIResponse(resp), usage{input: resp.Usage.PromptTokens, output: resp.Usage.CompletionTokens}, nil
}

func toOpenAIMessages(history []session.Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case session.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistant := openai.ChatCompletionMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ToolCallID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: marshalArgs(tc.Args),
					},
				})
			}
			out = append(out, assistant.ToParam())
		case session.RoleTool:
			res, ok := msg.Result()
			if !ok {
				continue
			}
			out = append(out, openai.ToolMessage(res.Text(), res.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func toOpenAITools(available []*tools.Descriptor) []openai.ChatCompletionToolUnionParam {
	if len(available) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(available))
	for _, d := range available {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(ParameterSchema(d)),
		}))
	}
	return out
}

func fromOpenAIResponse(resp *openai.ChatCompletion) *session.Message {
	msg := &session.Message{ID: resp.ID}
	if len(resp.Choices) == 0 {
		return msg
	}
	choice := resp.Choices[0].Message
	msg.Content = choice.Content
	for _, tc := range choice.ToolCalls {
		id := tc.ID
		if id == "" {
			id = newToolCallID()
		}
		msg.ToolCalls = append(msg.ToolCalls, parseArgs(id, tc.Function.Name, tc.Function.Arguments))
	}
	return msg
}
