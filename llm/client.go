package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/cost"
	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
// history never contains the system prompt; adapters prepend it.
type LLMClient interface {
	Chat(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, error)
}

// FallbackMessage replaces an empty reply after the provider failed to
// produce a well-formed tool call and the request was retried without tools.
const FallbackMessage = "I wasn't able to use my tools for that request. Could you rephrase it or break it into smaller steps?"

// Options are shared by every adapter. Zero values take the config defaults.
type Options struct {
	Model        string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int64
	Recorder     cost.Recorder
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Temperature == nil {
		t := config.DefaultTemperature
		o.Temperature = &t
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = config.DefaultMaxTokens
	}
	if o.Recorder == nil {
		o.Recorder = cost.Nop{}
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

type usage struct {
	input  int64
	output int64
}

// sendFunc performs one provider round trip. available is nil on the
// tools-disabled retry.
type sendFunc func(ctx context.Context, history []session.Message, available []*tools.Descriptor) (*session.Message, usage, error)

// base carries what every adapter shares: options, the provider name and the
// fallback and usage reporting around a single send.
type base struct {
	provider string
	opts     Options
}

func newBase(provider string, opts Options) base {
	return base{provider: provider, opts: opts.withDefaults()}
}

func (b *base) chatWithToolFallback(ctx context.Context, history []session.Message, available []*tools.Descriptor, send sendFunc) (*session.Message, error) {
	start := time.Now()
	msg, u, err := send(ctx, history, available)
	note := ""
	if err != nil {
		if len(available) == 0 || !IsMalformedToolCall(err) {
			return nil, newProviderError(b.provider, err)
		}
		b.opts.Logger.Warn("provider could not form a tool call, retrying without tools",
			"provider", b.provider, "model", b.opts.Model, "error", err)
		msg, u, err = send(ctx, history, nil)
		if err != nil {
			return nil, newProviderError(b.provider, err)
		}
		msg.ToolCalls = nil
		if strings.TrimSpace(msg.Content) == "" {
			msg.Content = FallbackMessage
		}
		note = "retried without tools"
	}
	finalize(msg)
	b.opts.Logger.Debug("model call finished", "provider", b.provider, "model", b.opts.Model,
		"tool_calls", len(msg.ToolCalls), "input_tokens", u.input, "output_tokens", u.output,
		"elapsed", time.Since(start))
	b.reportUsage(u, note)
	return msg, nil
}

// reportUsage hands the counts to the recorder without blocking the caller.
// Recorder failures are logged and otherwise ignored.
func (b *base) reportUsage(u usage, note string) {
	if u.input == 0 && u.output == 0 {
		return
	}
	rec, logger := b.opts.Recorder, b.opts.Logger
	provider, model := b.provider, b.opts.Model
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("usage recorder panicked", "provider", provider, "panic", fmt.Sprint(r))
			}
		}()
		if err := rec.RecordUsage(provider, model, u.input, u.output, note); err != nil {
			logger.Warn("failed to record usage", "provider", provider, "error", err)
		}
	}()
}

func finalize(msg *session.Message) {
	msg.Role = session.RoleAssistant
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
}

func newToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
