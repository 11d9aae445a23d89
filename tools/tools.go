package tools

import (
	"context"
	"fmt"
	"strings"
)

// ParamType tags the primitive type of a tool parameter.
type ParamType string

const (
	TypeString      ParamType = "string"
	TypeNumber      ParamType = "number"
	TypeBoolean     ParamType = "boolean"
	TypeEnum        ParamType = "enum"
	TypeStringArray ParamType = "string_array"
	// TypeObject is only used by tools proxied from MCP servers, whose schemas
	// are passed through untouched in Param.Schema.
	TypeObject ParamType = "object"
)

// Param describes one named argument of a tool.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	// Schema holds a raw JSON schema fragment for TypeObject parameters.
	Schema map[string]any
}

// ExecutionContext is built fresh for every incoming request and handed to
// each tool invocation.
type ExecutionContext struct {
	WorkspaceRoot string
	CurrentFile   string
	UserID        string
	SessionID     string
}

// ExecuteFunc runs a tool. The returned value must be JSON serializable.
type ExecuteFunc func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error)

// Descriptor is a tool as the registry and the model adapters see it.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	Execute     ExecuteFunc
}

// Summary returns the first line of the description, used for status updates.
func (d *Descriptor) Summary() string {
	line, _, _ := strings.Cut(strings.TrimSpace(d.Description), "\n")
	return line
}

// Run validates args and invokes the tool body.
func (d *Descriptor) Run(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
	if err := d.Validate(args); err != nil {
		return nil, err
	}
	if d.Execute == nil {
		return nil, fmt.Errorf("tool '%s' has no implementation", d.Name)
	}
	return d.Execute(ctx, args, ec)
}
