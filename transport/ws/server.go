// Package ws serves agent sessions over WebSocket.
//
// Each connection is bound to one session, either a fresh one or the id
// passed in the "session" query parameter. Clients send JSON frames:
//
//	{"type":"message","text":"...","workspaceRoot":"...","currentFile":"...","userId":"..."}
//	{"type":"clear"}
//	{"type":"clear_all"}
//
// and receive frames of type "session", "status", "response" and "error".
// One request may be in flight per connection; a second one is rejected
// with an error frame.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m4xw311/devpilot/agent"
	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/llm"
	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

const (
	FrameMessage  = "message"
	FrameClear    = "clear"
	FrameClearAll = "clear_all"
	FrameSession  = "session"
	FrameStatus   = "status"
	FrameResponse = "response"
	FrameError    = "error"
)

// ClientFrame is a message from the client.
type ClientFrame struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	WorkspaceRoot string `json:"workspaceRoot,omitempty"`
	CurrentFile   string `json:"currentFile,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

// ServerFrame is a message to the client.
type ServerFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Server struct {
	agent    *agent.Agent
	timeout  time.Duration
	root     string
	origins  []string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type Option func(*Server)

// WithRequestTimeout sets how long a request may run before the client is
// told it timed out. The agent keeps working and its reply is still sent.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithWorkspaceRoot is used for messages that do not name a workspace. When
// set, a workspace named by a client must lie inside it.
func WithWorkspaceRoot(root string) Option {
	return func(s *Server) { s.root = root }
}

// WithAllowedOrigins lists browser origins, e.g. "http://localhost:3000",
// accepted in addition to same-origin pages and clients that send no Origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, origins...) }
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.OrDiscard(l) }
}

func NewServer(a *agent.Agent, opts ...Option) *Server {
	s := &Server{
		agent:    a,
		timeout:  config.DefaultRequestTimeout,
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.Discard(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Handler returns the HTTP routes: /ws, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("WebSocket server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down WebSocket server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "healthy",
		"sessions": s.agent.Store().Len(),
	})
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	busy      atomic.Bool
	mu        sync.Mutex
	logger    *slog.Logger
}

func (c *conn) send(f ServerFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(f); err != nil {
		c.logger.Debug("WS write error", "error", err)
	}
}

func (c *conn) sendError(msg string) {
	c.send(ServerFrame{Type: FrameError, SessionID: c.sessionID, Error: msg})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade error", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	defer ws.Close()

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}
	c := &conn{ws: ws, sessionID: sessionID, logger: s.logger.With("session", sessionID)}
	c.logger.Info("client connected", "remote", r.RemoteAddr)
	c.send(ServerFrame{Type: FrameSession, SessionID: sessionID})

	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.logger.Info("client disconnected", "reason", err)
			return
		}
		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendError("invalid frame: " + err.Error())
			continue
		}

		switch f.Type {
		case FrameMessage:
			ec, err := s.executionContext(f)
			if err != nil {
				c.logger.Warn("rejected workspace root", "workspace", f.WorkspaceRoot, "error", err)
				c.sendError("workspace root must be inside " + s.root)
				continue
			}
			if !c.busy.CompareAndSwap(false, true) {
				c.sendError(errors.ErrBusy.Error())
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer c.busy.Store(false)
				s.process(r.Context(), c, f, ec)
			}()
		case FrameClear:
			s.agent.ClearConversation(sessionID)
			c.send(ServerFrame{Type: FrameStatus, SessionID: sessionID, Text: "Conversation cleared."})
		case FrameClearAll:
			s.agent.ClearAllConversations()
			c.send(ServerFrame{Type: FrameStatus, SessionID: sessionID, Text: "All conversations cleared."})
		default:
			c.sendError("unknown frame type: " + f.Type)
		}
	}
}

// executionContext builds the tool context for a message frame. A client
// workspace must resolve inside the server root when one is configured.
func (s *Server) executionContext(f ClientFrame) (tools.ExecutionContext, error) {
	ec := tools.ExecutionContext{
		WorkspaceRoot: f.WorkspaceRoot,
		CurrentFile:   f.CurrentFile,
		UserID:        f.UserID,
	}
	switch {
	case ec.WorkspaceRoot == "":
		ec.WorkspaceRoot = s.root
	case s.root != "":
		root, err := tools.ResolvePath(s.root, ec.WorkspaceRoot)
		if err != nil {
			return ec, err
		}
		ec.WorkspaceRoot = root
	}
	return ec, nil
}

func (s *Server) process(ctx context.Context, c *conn, f ClientFrame, ec tools.ExecutionContext) {
	timer := time.AfterFunc(s.timeout, func() {
		c.logger.Warn("request exceeded timeout", "timeout", s.timeout)
		c.sendError("request timed out; the agent is still working")
	})
	reply, err := s.agent.ProcessMessage(ctx, f.Text, ec, c.sessionID, func(status string) {
		c.send(ServerFrame{Type: FrameStatus, SessionID: c.sessionID, Text: status})
	})
	timer.Stop()

	if err != nil {
		c.logger.Error("request failed", "error", err)
		msg := err.Error()
		var pe *llm.ProviderError
		if errors.As(err, &pe) {
			msg = pe.UserMessage()
		}
		c.sendError(msg)
		return
	}
	c.send(ServerFrame{Type: FrameResponse, SessionID: c.sessionID, Text: reply.Content})
}
