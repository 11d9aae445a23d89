package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/m4xw311/devpilot/errors"
)

// CommandPolicy is a compiled allow-list of command regexes.
type CommandPolicy struct {
	patterns []*regexp.Regexp
	literals []string
	raw      []string
}

// NewCommandPolicy compiles the allow-list. Each pattern must match the whole
// command line. An invalid regex is kept as a literal command.
func NewCommandPolicy(allowed []string, logger *slog.Logger) *CommandPolicy {
	p := &CommandPolicy{raw: allowed}
	for _, pattern := range allowed {
		re, err := regexp.Compile(`^(?:` + pattern + `)$`)
		if err != nil {
			if logger != nil {
				logger.Warn("invalid regex in allowed_commands", "pattern", pattern, "error", err)
			}
			p.literals = append(p.literals, pattern)
			continue
		}
		p.patterns = append(p.patterns, re)
	}
	return p
}

func (p *CommandPolicy) Allowed(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	for _, lit := range p.literals {
		if command == lit {
			return true
		}
	}
	for _, re := range p.patterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func (p *CommandPolicy) describe() string {
	if len(p.raw) == 0 {
		return "Execute a command in the workspace root. No commands are currently allowed."
	}
	var b strings.Builder
	b.WriteString("Execute a command in the workspace root.\nAllowed command patterns:\n")
	for _, cmd := range p.raw {
		fmt.Fprintf(&b, "- %s\n", cmd)
	}
	return b.String()
}

// ExecuteCommandTool runs an allow-listed command without a shell.
func ExecuteCommandTool(policy *CommandPolicy) *Descriptor {
	return &Descriptor{
		Name:        "execute_command",
		Description: policy.describe(),
		Params: []Param{
			{Name: "command", Type: TypeString, Description: "The command line to run.", Required: true},
		},
		Execute: func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
			command := StringArg(args, "command", "")
			if !policy.Allowed(command) {
				return nil, errors.Mark(errors.ErrAccessDenied, "command '%s' is not in the list of allowed commands", command)
			}
			root, err := ResolvePath(ec.WorkspaceRoot, ".")
			if err != nil {
				return nil, err
			}
			parts := strings.Fields(command)
			cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
			cmd.Dir = root
			output, err := cmd.CombinedOutput()
			if err != nil {
				return nil, errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
			}
			return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
		},
	}
}
