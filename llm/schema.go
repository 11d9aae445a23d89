package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// ParameterSchema renders a descriptor's parameters as a JSON schema object.
func ParameterSchema(d *tools.Descriptor) map[string]any {
	props, required := schemaProperties(d)
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func schemaProperties(d *tools.Descriptor) (map[string]any, []string) {
	props := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		props[p.Name] = propertySchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return props, required
}

func propertySchema(p tools.Param) map[string]any {
	var prop map[string]any
	switch p.Type {
	case tools.TypeNumber:
		prop = map[string]any{"type": "number"}
	case tools.TypeBoolean:
		prop = map[string]any{"type": "boolean"}
	case tools.TypeEnum:
		prop = map[string]any{"type": "string", "enum": append([]string(nil), p.Enum...)}
	case tools.TypeStringArray:
		prop = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	case tools.TypeObject:
		prop = make(map[string]any, len(p.Schema)+1)
		for k, v := range p.Schema {
			prop[k] = v
		}
		if _, ok := prop["type"]; !ok {
			prop["type"] = "object"
		}
	default:
		prop = map[string]any{"type": "string"}
	}
	if p.Description != "" {
		prop["description"] = p.Description
	}
	return prop
}

// parseArgs decodes a provider's argument JSON. A failure is recorded on the
// call instead of dropping it so the model sees what went wrong.
func parseArgs(id, name, raw string) session.ToolCall {
	call := session.ToolCall{ToolCallID: id, Name: name, Args: map[string]any{}}
	if strings.TrimSpace(raw) == "" {
		return call
	}
	if err := json.Unmarshal([]byte(raw), &call.Args); err != nil {
		call.Args = map[string]any{}
		call.ParseError = fmt.Sprintf("could not parse arguments as a JSON object: %v", err)
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return call
}

func marshalArgs(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
