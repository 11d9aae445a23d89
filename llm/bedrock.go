package llm

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client *bedrockruntime.Client
	base
}

// NewBedrockLLMClient creates a new BedrockLLMClient from the default AWS
// credential chain. BEDROCK_ENDPOINT_URL overrides the endpoint.
func NewBedrockLLMClient(ctx context.Context, opts Options) (*BedrockLLMClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	var clientOpts []func(*bedrockruntime.Options)
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return &BedrockLLMClient{
		client: bedrockruntime.NewFromConfig(cfg, clientOpts...),
		base:   newBase("bedrock", opts),
	}, nil
}

func (b *BedrockLLMClient) Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error) {
	return b.chatWithToolFallback(ctx, history, available, b.send)
}

func (b *BedrockLLMClient) send(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error) {
	body, err := b.requestBody(history, available)
	if err != nil {
		return nil, usage{}, errors.Wrapf(err, "failed to create Bedrock request")
	}
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.opts.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, usage{}, err
	}
	return parseBedrockResponse(resp.Body)
}

// bedrockMessages converts history to the Anthropic message body format used
// by Bedrock, grouping consecutive tool results into one user turn.
func bedrockMessages(history []session.Message, systemPrompt string) ([]map[string]any, string) {
	var out []map[string]any
	system := []string{}
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	lastWasTool := false

	for _, msg := range history {
		isTool := false
		switch msg.Role {
		case session.RoleUser:
			out = append(out, map[string]any{
				"role":    "user",
				"content": []map[string]any{{"type": "text", "text": msg.Content}},
			})
		case session.RoleAssistant:
			var content []map[string]any
			if msg.Content != "" {
				content = append(content, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    tc.ToolCallID,
					"name":  tc.Name,
					"input": argsOrEmpty(tc.Args),
				})
			}
			if len(content) > 0 {
				out = append(out, map[string]any{"role": "assistant", "content": content})
			}
		case session.RoleTool:
			res, ok := msg.Result()
			if !ok {
				continue
			}
			isTool = true
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": res.ToolCallID,
				"content":     res.Text(),
			}
			if res.Failed() {
				block["is_error"] = true
			}
			if lastWasTool {
				prev := out[len(out)-1]
				prev["content"] = append(prev["content"].([]map[string]any), block)
			} else {
				out = append(out, map[string]any{"role": "user", "content": []map[string]any{block}})
			}
		case session.RoleSystem:
			system = append(system, msg.Content)
		}
		lastWasTool = isTool
	}
	return out, strings.Join(system, "\n\n")
}

func (b *BedrockLLMClient) requestBody(history []session.Message, available []*tools.Descriptor) ([]byte, error) {
	messages, system := bedrockMessages(history, b.opts.SystemPrompt)
	request := map[string]any{
		"anthropic_version": bedrockAnthropicVersion,
		"max_tokens":        b.opts.MaxTokens,
		"temperature":       *b.opts.Temperature,
		"messages":          messages,
	}
	if system != "" {
		request["system"] = system
	}
	if len(available) > 0 {
		specs := make([]map[string]any, 0, len(available))
		for _, d := range available {
			specs = append(specs, map[string]any{
				"name":         d.Name,
				"description":  d.Description,
				"input_schema": ParameterSchema(d),
			})
		}
		request["tools"] = specs
	}
	return json.Marshal(request)
}

type bedrockResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error any `json:"error"`
}

func parseBedrockResponse(body []byte) (*session.Message, usage, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, usage{}, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if resp.Error != nil {
		return nil, usage{}, errors.New("Bedrock API error: %v", resp.Error)
	}

	msg := &session.Message{ID: resp.ID}
	var text strings.Builder
	for _, item := range resp.Content {
		switch item.Type {
		case "text":
			text.WriteString(item.Text)
		case "tool_use":
			id := item.ID
			if id == "" {
				id = newToolCallID()
			}
			msg.ToolCalls = append(msg.ToolCalls, parseArgs(id, item.Name, string(item.Input)))
		}
	}
	msg.Content = text.String()
	return msg, usage{input: resp.Usage.InputTokens, output: resp.Usage.OutputTokens}, nil
}
