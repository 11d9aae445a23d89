package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/m4xw311/devpilot/agent"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/llm"
	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// Verbosity controls how much tool activity is printed.
type Verbosity string

const (
	VerbosityNone Verbosity = "none"
	VerbosityInfo Verbosity = "info"
	VerbosityAll  Verbosity = "all"
)

var (
	promptColor = color.New(color.FgGreen, color.Bold)
	agentColor  = color.New(color.FgCyan)
	statusColor = color.New(color.Faint)
	errorColor  = color.New(color.FgRed)
)

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent      *agent.Agent
	in         *bufio.Reader
	out        io.Writer
	mode       agent.Mode
	verbosity  Verbosity
	ec         tools.ExecutionContext
	sessionID  string
	transcript string
	logger     *slog.Logger
}

type Option func(*Terminal)

func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.in = bufio.NewReader(in)
		t.out = out
	}
}

func WithMode(m agent.Mode) Option {
	return func(t *Terminal) { t.mode = m }
}

func WithVerbosity(v Verbosity) Option {
	return func(t *Terminal) { t.verbosity = v }
}

func WithWorkspace(root string) Option {
	return func(t *Terminal) { t.ec.WorkspaceRoot = root }
}

// WithTranscript persists the conversation to path after every turn and
// resumes from it when the file already exists.
func WithTranscript(path string) Option {
	return func(t *Terminal) { t.transcript = path }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Terminal) { t.logger = logging.OrDiscard(l) }
}

// New creates a new Terminal instance
func New(a *agent.Agent, opts ...Option) *Terminal {
	t := &Terminal{
		agent:     a,
		in:        bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		mode:      agent.ModeAuto,
		verbosity: VerbosityInfo,
		sessionID: session.NewSessionID(),
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionID is the session this terminal talks to.
func (t *Terminal) SessionID() string { return t.sessionID }

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if err := t.resume(); err != nil {
		return err
	}

	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		promptColor.Fprint(t.out, "You: ")
		line, err := t.in.ReadString('\n')
		input := strings.TrimSpace(line)
		if input == "" {
			if err != nil {
				// EOF or read error ends the session
				return ignoreEOF(err)
			}
			continue
		}

		switch input {
		case "/quit", "/exit":
			return nil
		case "/clear":
			t.agent.ClearConversation(t.sessionID)
			statusColor.Fprintln(t.out, "Conversation cleared.")
		default:
			if perr := t.processTurn(ctx, input); perr != nil {
				errorColor.Fprintf(t.out, "Error: %s\n", userMessage(perr))
			}
		}
		if err != nil {
			return ignoreEOF(err)
		}
	}
}

// processTurn handles a single user input turn
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	callbacks := agent.ProcessCallbacks{
		OnStatus: func(status string) {
			if t.verbosity != VerbosityNone {
				statusColor.Fprintf(t.out, "%s\n", status)
			}
		},
		OnToolCall: func(call session.ToolCall) {
			if t.verbosity == VerbosityAll {
				statusColor.Fprintf(t.out, "Tool `%s` args: %v\n", call.Name, call.Args)
			}
		},
		OnToolResult: func(call session.ToolCall, result session.ToolResult) {
			if t.verbosity == VerbosityAll {
				statusColor.Fprintf(t.out, "Tool `%s` output: %s\n", call.Name, result.Text())
			}
		},
	}
	if t.mode == agent.ModePrompt {
		callbacks.ShouldExecuteTool = t.confirm
	}

	reply, err := t.agent.Process(ctx, userInput, t.ec, t.sessionID, callbacks)
	if err != nil {
		return err
	}
	agentColor.Fprintf(t.out, "DevPilot: %s\n", reply.Content)
	t.save()
	return nil
}

func (t *Terminal) confirm(call session.ToolCall) bool {
	fmt.Fprintf(t.out, "DevPilot wants to run `%s` with %v. Allow? (y/n): ", call.Name, call.Args)
	answer, _ := t.in.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (t *Terminal) resume() error {
	if t.transcript == "" {
		return nil
	}
	if _, err := os.Stat(t.transcript); os.IsNotExist(err) {
		return nil
	}
	h, err := session.LoadHistory(t.transcript)
	if err != nil {
		return err
	}
	t.agent.Store().Put(h)
	t.sessionID = h.SessionID
	statusColor.Fprintf(t.out, "Resumed session %s (%d messages)\n", h.SessionID, h.Len())
	return nil
}

func (t *Terminal) save() {
	if t.transcript == "" {
		return
	}
	h, ok := t.agent.Store().Get(t.sessionID)
	if !ok {
		return
	}
	if err := h.Save(t.transcript); err != nil {
		t.logger.Warn("could not save transcript", "path", t.transcript, "error", err)
	}
}

func ignoreEOF(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

func userMessage(err error) string {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	return err.Error()
}
