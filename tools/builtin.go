package tools

import (
	"log/slog"
	"strings"

	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/errors"
)

// Builtins returns every built-in tool configured from cfg, in a stable order.
func Builtins(cfg *config.Config, logger *slog.Logger) []*Descriptor {
	rules := Rules{Hidden: cfg.FilesystemAccess.Hidden, ReadOnly: cfg.FilesystemAccess.ReadOnly}
	return []*Descriptor{
		ListFilesTool(rules),
		ReadFileTool(rules),
		WriteFileTool(rules),
		FindFilesTool(rules),
		ExecuteCommandTool(NewCommandPolicy(cfg.AllowedCommands, logger)),
	}
}

// RegisterBuiltins registers the built-in tools named by ts, or all of them
// when ts is nil. Names in ts that are not built-ins are left for MCP servers
// to provide and are returned so the caller can check them later.
func RegisterBuiltins(reg *Registry, cfg *config.Config, ts *config.Toolset, logger *slog.Logger) []string {
	all := Builtins(cfg, logger)
	if ts == nil {
		reg.RegisterMany(all...)
		return nil
	}
	byName := make(map[string]*Descriptor, len(all))
	for _, d := range all {
		byName[d.Name] = d
	}
	var external []string
	for _, name := range ts.Tools {
		if d, ok := byName[name]; ok {
			reg.Register(d)
			continue
		}
		external = append(external, name)
	}
	return external
}

// ToolsetAllows reports whether a tool served by server is selected by ts.
// Entries match a tool name exactly or every tool of a server as "server.*".
func ToolsetAllows(ts *config.Toolset, server, tool string) bool {
	if ts == nil {
		return true
	}
	for _, name := range ts.Tools {
		if name == tool || (server != "" && name == server+".*") {
			return true
		}
	}
	return false
}

// CheckToolset reports names from the toolset that ended up unregistered.
func CheckToolset(reg *Registry, ts *config.Toolset) error {
	if ts == nil {
		return nil
	}
	for _, name := range ts.Tools {
		if strings.HasSuffix(name, ".*") {
			continue
		}
		if _, ok := reg.Get(name); !ok {
			return errors.Mark(errors.ErrToolNotFound, "tool '%s' from toolset '%s' is not registered", name, ts.Name)
		}
	}
	return nil
}
