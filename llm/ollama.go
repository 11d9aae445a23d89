package llm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
	"github.com/ollama/ollama/api"
)

// OllamaLLMClient talks to a local or remote Ollama server.
type OllamaLLMClient struct {
	client *api.Client
	base
}

// NewOllamaLLMClient connects to baseURL, or to OLLAMA_HOST when baseURL is
// empty.
func NewOllamaLLMClient(baseURL string, opts Options) (*OllamaLLMClient, error) {
	var client *api.Client
	if baseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create Ollama client")
		}
		client = c
	} else {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid Ollama URL")
		}
		client = api.NewClient(parsed, http.DefaultClient)
	}
	if opts.Model == "" {
		opts.Model = "llama3.1:latest"
	}
	return &OllamaLLMClient{client: client, base: newBase("ollama", opts)}, nil
}

func (o *OllamaLLMClient) Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error) {
	return o.chatWithToolFallback(ctx, history, available, o.send)
}

func (o *OllamaLLMClient) send(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    o.opts.Model,
		Messages: toOllamaMessages(history, o.opts.SystemPrompt),
		Tools:    toOllamaTools(available),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": *o.opts.Temperature,
			"num_predict": o.opts.MaxTokens,
		},
	}

	var final api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		final.Message.Content += resp.Message.Content
		final.Message.ToolCalls = append(final.Message.ToolCalls, resp.Message.ToolCalls...)
		if resp.Done {
			final.Metrics = resp.Metrics
		}
		return nil
	})
	if err != nil {
		return nil, usage{}, err
	}

	msg := &session.Message{Content: final.Message.Content}
	for _, tc := range final.Message.ToolCalls {
		// Ollama does not assign call ids.
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
			ToolCallID: newToolCallID(),
			Name:       tc.Function.Name,
			Args:       argsOrEmpty(tc.Function.Arguments),
		})
	}
	return msg, usage{input: int64(final.PromptEvalCount), output: int64(final.EvalCount)}, nil
}

func toOllamaMessages(history []session.Message, systemPrompt string) []api.Message {
	var out []api.Message
	if systemPrompt != "" {
		out = append(out, api.Message{Role: "system", Content: systemPrompt})
	}
	for _, msg := range history {
		switch msg.Role {
		case session.RoleAssistant:
			m := api.Message{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{Name: tc.Name, Arguments: argsOrEmpty(tc.Args)},
				})
			}
			out = append(out, m)
		case session.RoleTool:
			res, ok := msg.Result()
			if !ok {
				continue
			}
			out = append(out, api.Message{Role: "tool", Content: res.Text(), ToolName: res.Name})
		default:
			out = append(out, api.Message{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return out
}

func toOllamaTools(available []*tools.Descriptor) []api.Tool {
	if len(available) == 0 {
		return nil
	}
	out := make([]api.Tool, 0, len(available))
	for _, d := range available {
		props, required := schemaProperties(d)
		params := api.ToolFunctionParameters{
			Type:       "object",
			Required:   required,
			Properties: make(map[string]api.ToolProperty, len(props)),
		}
		for name, p := range props {
			params.Properties[name] = ollamaProperty(p.(map[string]any))
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func ollamaProperty(m map[string]any) api.ToolProperty {
	prop := api.ToolProperty{}
	if t, ok := m["type"].(string); ok {
		prop.Type = api.PropertyType{t}
	}
	prop.Description, _ = m["description"].(string)
	prop.Enum = anySlice(m["enum"])
	if items, ok := m["items"]; ok {
		prop.Items = items
	}
	return prop
}
