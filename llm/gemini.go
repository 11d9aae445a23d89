package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
	base
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, opts Options) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiLLMClient{client: client, base: newBase("gemini", opts)}, nil
}

func (g *GeminiLLMClient) Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error) {
	return g.chatWithToolFallback(ctx, history, available, g.send)
}

func (g *GeminiLLMClient) Close() error {
	return g.client.Close()
}

func (g *GeminiLLMClient) send(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error) {
	contents, system := toGeminiContents(history, g.opts.SystemPrompt)
	if len(contents) == 0 {
		return nil, usage{}, errors.New("no messages to send to Gemini")
	}

	model := g.client.GenerativeModel(g.opts.Model)
	model.SetTemperature(float32(*g.opts.Temperature))
	model.SetMaxOutputTokens(int32(g.opts.MaxTokens))
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	model.Tools = toGeminiTools(available)

	// The last content is the new prompt, everything before it is history.
	chat := model.StartChat()
	chat.History = contents[:len(contents)-1]
	resp, err := chat.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return nil, usage{}, err
	}
	msg, err := fromGeminiResponse(resp)
	if err != nil {
		return nil, usage{}, err
	}
	var u usage
	if resp.UsageMetadata != nil {
		u = usage{input: int64(resp.UsageMetadata.PromptTokenCount), output: int64(resp.UsageMetadata.CandidatesTokenCount)}
	}
	return msg, u, nil
}

// toGeminiContents converts history to Gemini contents. Tool results become
// function responses; consecutive results share one content.
func toGeminiContents(history []session.Message, systemPrompt string) ([]*genai.Content, string) {
	var out []*genai.Content
	system := []string{}
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	lastWasTool := false

	for _, msg := range history {
		isTool := false
		switch msg.Role {
		case session.RoleUser:
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		case session.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: argsOrEmpty(tc.Args)})
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: "model", Parts: parts})
			}
		case session.RoleTool:
			res, ok := msg.Result()
			if !ok {
				continue
			}
			isTool = true
			response := map[string]any{"result": res.Text()}
			if res.Failed() {
				response = map[string]any{"error": res.Error}
			}
			part := genai.FunctionResponse{Name: res.Name, Response: response}
			if lastWasTool {
				prev := out[len(out)-1]
				prev.Parts = append(prev.Parts, part)
			} else {
				out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{part}})
			}
		case session.RoleSystem:
			system = append(system, msg.Content)
		}
		lastWasTool = isTool
	}
	return out, strings.Join(system, "\n\n")
}

func toGeminiTools(available []*tools.Descriptor) []*genai.Tool {
	if len(available) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(available))
	for _, d := range available {
		decl := &genai.FunctionDeclaration{Name: d.Name, Description: d.Description}
		if len(d.Params) > 0 {
			decl.Parameters = geminiSchema(ParameterSchema(d))
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema converts a JSON schema map into Gemini's typed schema.
func geminiSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	s.Description, _ = m["description"].(string)
	for _, v := range anySlice(m["enum"]) {
		s.Enum = append(s.Enum, fmt.Sprint(v))
	}
	if len(s.Enum) > 0 {
		s.Format = "enum"
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = geminiSchema(items)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = geminiSchema(pm)
			}
		}
	}
	for _, r := range anySlice(m["required"]) {
		s.Required = append(s.Required, fmt.Sprint(r))
	}
	return s
}

func anySlice(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return nil
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*session.Message, error) {
	if len(resp.Candidates) == 0 {
		return nil, errors.New("received an empty response from Gemini")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		if strings.Contains(strings.ToUpper(fmt.Sprint(cand.FinishReason)), "MALFORMED") {
			return nil, errors.Mark(errors.ErrMalformedToolCall, "Gemini finished with %v", cand.FinishReason)
		}
		return &session.Message{}, nil
	}

	msg := &session.Message{}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			// Gemini does not assign call ids.
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ToolCallID: newToolCallID(),
				Name:       v.Name,
				Args:       argsOrEmpty(v.Args),
			})
		}
	}
	msg.Content = text.String()
	return msg, nil
}
