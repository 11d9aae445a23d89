// Package agent provides the conversational tool loop shared by every
// devpilot front end.
//
// An Agent ties together a model adapter (llm.LLMClient), a tool registry
// (tools.Registry) and a conversation store (session.Store). Each call to
// ProcessMessage runs one exchange: the user's text is appended to the
// session, the model is called with the full history and every registered
// tool, and any tool calls it requests are executed in order with their
// results appended before the model is called again.
//
// # Termination
//
// An exchange makes at most WithMaxIterations model calls (20 by default).
// If the model is still requesting tools after the last one, the exchange
// ends with IterationLimitMessage instead of an error.
//
// # Failures
//
// Unknown tools, invalid arguments, tool errors and tool panics all become
// error results that the model sees on its next turn; sibling calls in the
// same batch still run. Only errors from the model adapter are returned to
// the caller, typically as *llm.ProviderError.
//
// # Concurrency
//
// Exchanges on different sessions run concurrently. Exchanges on the same
// session queue on the session's turn lock, so their messages never
// interleave.
//
// # Usage
//
//	a := agent.New(client, registry, session.NewStore())
//	reply, err := a.ProcessMessage(ctx, "list files in src",
//	    tools.ExecutionContext{WorkspaceRoot: root}, "s1",
//	    func(status string) { fmt.Println(status) })
//
// Front ends that need more than status text use Process with
// ProcessCallbacks:
//
//   - agent/terminal: interactive REPL with optional confirmation before
//     each tool (ModePrompt)
//   - agent/acp: Agent Client Protocol server over stdio for IDEs
//   - transport/ws: WebSocket sessions for remote clients
package agent
