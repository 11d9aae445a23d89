package tools

import (
	"fmt"
	"slices"
	"strings"

	"github.com/m4xw311/devpilot/errors"
)

// Validate checks args against the declared parameters: required names must
// be present and every known value must match its type tag.
func (d *Descriptor) Validate(args map[string]any) error {
	var problems []string
	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter '%s'", p.Name))
			}
			continue
		}
		if msg := checkType(p, v); msg != "" {
			problems = append(problems, msg)
		}
	}
	if len(problems) > 0 {
		return errors.Mark(errors.ErrInvalidArguments, "%s: %s", d.Name, strings.Join(problems, "; "))
	}
	return nil
}

func checkType(p Param, v any) string {
	switch p.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("parameter '%s' must be a string", p.Name)
		}
	case TypeNumber:
		if _, ok := toFloat(v); !ok {
			return fmt.Sprintf("parameter '%s' must be a number", p.Name)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("parameter '%s' must be a boolean", p.Name)
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok || !slices.Contains(p.Enum, s) {
			return fmt.Sprintf("parameter '%s' must be one of [%s]", p.Name, strings.Join(p.Enum, ", "))
		}
	case TypeStringArray:
		if _, ok := toStrings(v); !ok {
			return fmt.Sprintf("parameter '%s' must be an array of strings", p.Name)
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func toStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// StringArg returns args[name] as a string, or def when absent.
func StringArg(args map[string]any, name, def string) string {
	if s, ok := args[name].(string); ok {
		return s
	}
	return def
}

func NumberArg(args map[string]any, name string, def float64) float64 {
	if f, ok := toFloat(args[name]); ok {
		return f
	}
	return def
}

func BoolArg(args map[string]any, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}

func StringsArg(args map[string]any, name string) []string {
	out, _ := toStrings(args[name])
	return out
}
