package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []*mcpsdk.Tool
}

// NewClient starts the MCP server subprocess and discovers its tools.
func NewClient(ctx context.Context, server config.MCPServer, stderr io.Writer) (*Client, error) {
	cmd := exec.Command(server.Command, server.Args...)
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stderr = stderr

	impl := &mcpsdk.Implementation{Name: "devpilot", Version: "v1.0.0"}
	conn, err := mcpsdk.NewClient(impl, nil).Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", server.Name)
	}
	c := &Client{Name: server.Name, cmd: cmd, conn: conn}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", server.Name)
		}
		c.tools = append(c.tools, list.Tools...)
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}
	return c, nil
}

// Descriptors wraps the server's tools, keeping those selected by ts.
func (c *Client) Descriptors(ts *config.Toolset) []*tools.Descriptor {
	var out []*tools.Descriptor
	for _, t := range c.tools {
		if !tools.ToolsetAllows(ts, c.Name, t.Name) {
			continue
		}
		out = append(out, &tools.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Params:      ParamsFromSchema(schemaMap(t.InputSchema)),
			Execute:     c.caller(t.Name),
		})
	}
	return out
}

func (c *Client) caller(name string) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
		result, err := c.conn.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to call tool '%s' on '%s'", name, c.Name)
		}
		var b strings.Builder
		for _, content := range result.Content {
			if text, ok := content.(*mcpsdk.TextContent); ok {
				b.WriteString(text.Text)
			}
		}
		if result.IsError {
			return nil, fmt.Errorf("%s", b.String())
		}
		return b.String(), nil
	}
}

// Close ends the session and terminates the subprocess.
func (c *Client) Close() error {
	var result error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func schemaMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ParamsFromSchema turns an object JSON schema into parameters. Primitive
// properties map onto their tags; anything else is carried as TypeObject with
// the raw property schema.
func ParamsFromSchema(schema map[string]any) []tools.Param {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if list, ok := schema["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.Param, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		p := tools.Param{Name: name, Required: required[name], Schema: prop}
		p.Description, _ = prop["description"].(string)
		p.Type = paramType(prop)
		if p.Type == tools.TypeEnum {
			for _, v := range prop["enum"].([]any) {
				p.Enum = append(p.Enum, fmt.Sprint(v))
			}
		}
		if p.Type != tools.TypeObject {
			p.Schema = nil
		}
		params = append(params, p)
	}
	return params
}

func paramType(prop map[string]any) tools.ParamType {
	typ, _ := prop["type"].(string)
	if enum, ok := prop["enum"].([]any); ok && typ == "string" && len(enum) > 0 {
		return tools.TypeEnum
	}
	switch typ {
	case "string":
		return tools.TypeString
	case "number", "integer":
		return tools.TypeNumber
	case "boolean":
		return tools.TypeBoolean
	case "array":
		if items, ok := prop["items"].(map[string]any); ok && items["type"] == "string" {
			return tools.TypeStringArray
		}
	}
	return tools.TypeObject
}

// Manager owns the clients for every configured MCP server.
type Manager struct {
	clients []*Client
	logger  *slog.Logger
}

// Start connects to every server. A server that fails to start is logged and
// skipped so the remaining tools stay usable.
func Start(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{logger: logger}
	for _, s := range servers {
		c, err := NewClient(ctx, s, nil)
		if err != nil {
			logger.Error("MCP server unavailable", "server", s.Name, "error", err)
			continue
		}
		logger.Info("MCP server connected", "server", s.Name, "tools", len(c.tools))
		m.clients = append(m.clients, c)
	}
	return m
}

// Register adds the selected tools of every connected server to reg.
func (m *Manager) Register(reg *tools.Registry, ts *config.Toolset) int {
	n := 0
	for _, c := range m.clients {
		ds := c.Descriptors(ts)
		reg.RegisterMany(ds...)
		n += len(ds)
	}
	return n
}

// Close stops every server and reports all failures together.
func (m *Manager) Close() error {
	var result error
	for _, c := range m.clients {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "stopping MCP server '%s'", c.Name))
		}
	}
	return result
}
