package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/llm"
	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// IterationLimitMessage is returned when the model keeps requesting tools
// past the iteration ceiling.
const IterationLimitMessage = "I've reached the maximum number of processing steps for this request without finishing. " +
	"Please try rephrasing your request or breaking it into smaller steps."

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

// StatusFunc receives informational progress text.
type StatusFunc func(status string)

// ProcessCallbacks lets each interaction mode observe an exchange. Every
// field is optional.
type ProcessCallbacks struct {
	// OnStatus is called before each tool runs.
	OnStatus StatusFunc
	// OnToolCall is called for every requested tool call, before it runs.
	OnToolCall func(call session.ToolCall)
	// OnToolResult is called once the result has been appended to history.
	OnToolResult func(call session.ToolCall, result session.ToolResult)
	// ShouldExecuteTool gates execution, e.g. in prompt mode. A declined call
	// yields an error result.
	ShouldExecuteTool func(call session.ToolCall) bool
}

type Agent struct {
	client        llm.LLMClient
	registry      *tools.Registry
	store         *session.Store
	maxIterations int
	logger        *slog.Logger
	observer      Observer
}

type Option func(*Agent)

// WithMaxIterations bounds the model rounds per exchange. Values below one
// are ignored.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = logging.OrDiscard(l) }
}

func WithObserver(o Observer) Option {
	return func(a *Agent) {
		if o != nil {
			a.observer = o
		}
	}
}

func New(client llm.LLMClient, registry *tools.Registry, store *session.Store, opts ...Option) *Agent {
	a := &Agent{
		client:        client,
		registry:      registry,
		store:         store,
		maxIterations: config.DefaultMaxIterations,
		logger:        logging.Discard(),
		observer:      nopObserver{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Store() *session.Store { return a.store }

func (a *Agent) Registry() *tools.Registry { return a.registry }

// ProcessMessage runs one exchange for sessionID, creating the session if
// needed (an empty id gets a fresh one). It returns the model's final reply
// or IterationLimitMessage. Only model adapter errors are returned; tool
// failures are fed back to the model as results.
func (a *Agent) ProcessMessage(ctx context.Context, userText string, ec tools.ExecutionContext, sessionID string, onStatus StatusFunc) (*session.Message, error) {
	return a.Process(ctx, userText, ec, sessionID, ProcessCallbacks{OnStatus: onStatus})
}

// Process is ProcessMessage with the full set of callbacks.
func (a *Agent) Process(ctx context.Context, userText string, ec tools.ExecutionContext, sessionID string, cb ProcessCallbacks) (*session.Message, error) {
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}
	ec.SessionID = sessionID
	h := a.acquire(sessionID, ec.UserID)
	defer h.Unlock()

	logger := a.logger.With("session", sessionID)
	h.Append(session.NewMessage(session.RoleUser, userText))

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		start := time.Now()
		reply, err := a.client.Chat(ctx, h.Snapshot(), a.registry.All())
		a.observer.ModelCall(time.Since(start), err)
		if err != nil {
			logger.Error("model call failed", "iteration", iteration, "error", err)
			return nil, err
		}
		reply.Role = session.RoleAssistant
		h.Append(*reply)

		if !reply.HasToolCalls() {
			logger.Debug("exchange finished", "iterations", iteration)
			return reply, nil
		}

		for _, call := range reply.ToolCalls {
			result := a.runTool(ctx, call, ec, cb, logger)
			h.Append(session.NewToolMessage(result))
			if cb.OnToolResult != nil {
				cb.OnToolResult(call, result)
			}
		}
	}

	logger.Warn("iteration limit reached", "limit", a.maxIterations)
	a.observer.IterationLimit()
	final := session.NewMessage(session.RoleAssistant, IterationLimitMessage)
	h.Append(final)
	return &final, nil
}

// acquire returns the session's history with its turn lock held. A history
// cleared while we waited for the lock is replaced by the live one.
func (a *Agent) acquire(sessionID, userID string) *session.ConversationHistory {
	for {
		h := a.store.GetOrCreate(sessionID, userID)
		h.Lock()
		if current, ok := a.store.Get(sessionID); ok && current == h {
			return h
		}
		h.Unlock()
	}
}

func (a *Agent) runTool(ctx context.Context, call session.ToolCall, ec tools.ExecutionContext, cb ProcessCallbacks, logger *slog.Logger) session.ToolResult {
	result := session.ToolResult{ToolCallID: call.ToolCallID, Name: call.Name}
	if cb.OnToolCall != nil {
		cb.OnToolCall(call)
	}

	if call.ParseError != "" {
		result.Error = fmt.Sprintf("invalid arguments for tool '%s': %s", call.Name, call.ParseError)
		a.observer.ToolCall(call.Name, 0, true)
		return result
	}
	d, ok := a.registry.Get(call.Name)
	if !ok {
		logger.Warn("model requested unknown tool", "tool", call.Name)
		result.Error = fmt.Sprintf("Tool '%s' not found", call.Name)
		a.observer.ToolCall(call.Name, 0, true)
		return result
	}
	if cb.ShouldExecuteTool != nil && !cb.ShouldExecuteTool(call) {
		result.Error = fmt.Sprintf("user declined to run tool '%s'", call.Name)
		return result
	}
	if cb.OnStatus != nil {
		cb.OnStatus(fmt.Sprintf("Executing %s: %s", d.Name, d.Summary()))
	}

	start := time.Now()
	output, err := safeRun(ctx, d, call.Args, ec, logger)
	elapsed := time.Since(start)
	a.observer.ToolCall(call.Name, elapsed, err != nil)
	if err != nil {
		logger.Info("tool failed", "tool", call.Name, "elapsed", elapsed, "error", err)
		result.Error = err.Error()
		return result
	}
	logger.Debug("tool finished", "tool", call.Name, "elapsed", elapsed)
	result.Output = output
	return result
}

// safeRun converts a panicking tool into an error.
func safeRun(ctx context.Context, d *tools.Descriptor, args map[string]any, ec tools.ExecutionContext, logger *slog.Logger) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panicked", "tool", d.Name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = nil
			err = fmt.Errorf("tool '%s' panicked: %v", d.Name, r)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return d.Run(ctx, args, ec)
}

// ClearConversation drops a session's history. An exchange already running
// on it finishes against the detached history.
func (a *Agent) ClearConversation(sessionID string) {
	a.store.Clear(sessionID)
}

func (a *Agent) ClearAllConversations() {
	a.store.ClearAll()
}
