package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/m4xw311/devpilot/agent"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/llm"
	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxInlineResource caps how much of a linked file is inlined into a prompt.
const maxInlineResource = 50000

// Run serves the Agent Client Protocol over newline-delimited JSON-RPC until
// in is exhausted. Nothing but JSON-RPC messages is written to out; logs go
// to logger.
//
// Supported methods: initialize, session/new, session/load, session/prompt
// and session/clear. Prompts emit session/update notifications for status
// lines, tool calls, tool results and the final agent message.
func Run(ctx context.Context, a *agent.Agent, in io.Reader, out io.Writer, logger *slog.Logger) error {
	s := &acpServer{
		ctx:    ctx,
		agent:  a,
		cwds:   make(map[string]string),
		in:     bufio.NewReader(in),
		out:    bufio.NewWriter(out),
		logger: logging.OrDiscard(logger).With("mode", "acp"),
	}
	s.logger.Debug("starting ACP server")

	for {
		payload, err := s.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				s.logger.Debug("EOF received, exiting")
				return nil
			}
			// Broken framing leaves no safe way to continue.
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(payload) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warn("JSON parse error", "error", err)
			_ = s.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}

		s.logger.Debug("dispatching", "method", req.Method, "id", req.ID)
		switch req.Method {
		case "initialize":
			s.handleInitialize(&req)
		case "session/new":
			s.handleSessionNew(&req)
		case "session/load":
			s.handleSessionLoad(&req)
		case "session/prompt":
			s.handleSessionPrompt(&req)
		case "session/clear":
			s.handleSessionClear(&req)
		default:
			_ = s.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// acpServer holds the state of one stdio connection. Requests are handled
// one at a time.
type acpServer struct {
	ctx   context.Context
	agent *agent.Agent

	// cwds maps session ids to the workspace root announced by the client.
	cwds   map[string]string
	cwdsMu sync.Mutex

	in      *bufio.Reader
	out     *bufio.Writer
	writeMu sync.Mutex
	logger  *slog.Logger
}

func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.in.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(line))), nil
}

// writeFramedJSON writes one newline-terminated JSON message and flushes.
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("write failed", "error", err)
		return err
	}
	return s.out.Flush()
}

func (s *acpServer) writeResponseOK(id any, result any) error {
	if result == nil {
		result = json.RawMessage("null")
	}
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	s.logger.Debug("error response", "code", code, "message", msg, "data", data)
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// decode unmarshals request params, answering with an error response when
// they are malformed.
func (s *acpServer) decode(req *jsonrpcRequest, v any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return false
	}
	return true
}

// ---- Handlers ----

func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if !s.decode(req, &p) {
		return
	}
	s.logger.Debug("client initialized", "protocolVersion", p.ProtocolVersion)

	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if !s.decode(req, &p) {
		return
	}

	sid := session.NewSessionID()
	s.agent.Store().GetOrCreate(sid, "")
	s.setCwd(sid, p.Cwd)
	s.logger.Info("session created", "session", sid, "cwd", p.Cwd)
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad replays the in-memory history of a session as
// session/update notifications, then answers null.
func (s *acpServer) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID  string          `json:"sessionId"`
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if !s.decode(req, &p) {
		return
	}
	h, err := s.lookup(p.SessionID)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	if p.Cwd != "" {
		s.setCwd(p.SessionID, p.Cwd)
	}

	msgs := h.Snapshot()
	s.logger.Debug("replaying session", "session", p.SessionID, "messages", len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleUser:
			_ = s.sendUpdate(p.SessionID, textUpdate("user_message_chunk", msg.Content))
		case session.RoleAssistant:
			if msg.Content != "" {
				_ = s.sendUpdate(p.SessionID, textUpdate("agent_message_chunk", msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				_ = s.sendToolCallNotification(p.SessionID, tc)
			}
		case session.RoleTool:
			if res, ok := msg.Result(); ok {
				_ = s.sendToolResultNotification(p.SessionID, res)
			}
		}
	}
	_ = s.writeResponseOK(req.ID, nil)
}

func (s *acpServer) lookup(sessionID string) (*session.ConversationHistory, error) {
	h, ok := s.agent.Store().Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrSessionNotFound, sessionID)
	}
	return h, nil
}

// contentBlock is one ACP prompt block. Only text and resource_link blocks
// are understood.
type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if !s.decode(req, &p) {
		return
	}
	if _, err := s.lookup(p.SessionID); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}

	userText := extractUserText(p.Prompt)
	ec := tools.ExecutionContext{WorkspaceRoot: s.cwd(p.SessionID)}
	callbacks := agent.ProcessCallbacks{
		OnStatus: func(status string) {
			_ = s.sendUpdate(p.SessionID, textUpdate("agent_thought_chunk", status))
		},
		OnToolCall: func(tc session.ToolCall) {
			_ = s.sendToolCallNotification(p.SessionID, tc)
		},
		OnToolResult: func(_ session.ToolCall, res session.ToolResult) {
			_ = s.sendToolResultNotification(p.SessionID, res)
		},
	}

	reply, err := s.agent.Process(s.ctx, userText, ec, p.SessionID, callbacks)
	if err != nil {
		s.logger.Error("prompt failed", "session", p.SessionID, "error", err)
		msg := err.Error()
		var pe *llm.ProviderError
		if errors.As(err, &pe) {
			msg = pe.UserMessage()
		}
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", msg)
		return
	}
	_ = s.sendUpdate(p.SessionID, textUpdate("agent_message_chunk", reply.Content))
	_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "end_turn"})
}

// handleSessionClear forgets a session's history. The id stays usable and
// starts from an empty conversation.
func (s *acpServer) handleSessionClear(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if !s.decode(req, &p) {
		return
	}
	s.agent.ClearConversation(p.SessionID)
	s.agent.Store().GetOrCreate(p.SessionID, "")
	_ = s.writeResponseOK(req.ID, nil)
}

func (s *acpServer) setCwd(sessionID, cwd string) {
	s.cwdsMu.Lock()
	defer s.cwdsMu.Unlock()
	s.cwds[sessionID] = cwd
}

func (s *acpServer) cwd(sessionID string) string {
	s.cwdsMu.Lock()
	defer s.cwdsMu.Unlock()
	if cwd := s.cwds[sessionID]; cwd != "" {
		return cwd
	}
	wd, _ := os.Getwd()
	return wd
}

func textUpdate(kind, text string) map[string]any {
	return map[string]any{
		"sessionUpdate": kind,
		"content": map[string]any{
			"type": "text",
			"text": text,
		},
	}
}

func (s *acpServer) sendUpdate(sessionID string, update map[string]any) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update":    update,
	})
}

func (s *acpServer) sendToolCallNotification(sessionID string, tc session.ToolCall) error {
	return s.sendUpdate(sessionID, map[string]any{
		"sessionUpdate": "tool_call",
		"toolCall": map[string]any{
			"id":   tc.ToolCallID,
			"name": tc.Name,
			"args": tc.Args,
		},
	})
}

func (s *acpServer) sendToolResultNotification(sessionID string, res session.ToolResult) error {
	status := "completed"
	if res.Failed() {
		status = "failed"
	}
	return s.sendUpdate(sessionID, map[string]any{
		"sessionUpdate": "tool_result",
		"toolResult": map[string]any{
			"toolCallId": res.ToolCallID,
			"status":     status,
			"result":     res.Text(),
		},
	})
}

// readFileFromURI reads the file behind a file:// URI.
func readFileFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %v", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported URI scheme: %s", u.Scheme)
	}
	content, err := os.ReadFile(u.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}
	return string(content), nil
}

// extractUserText flattens prompt blocks into one message. Linked local
// files are inlined up to maxInlineResource bytes.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxInlineResource {
				content = truncateUTF8(content, maxInlineResource) + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
