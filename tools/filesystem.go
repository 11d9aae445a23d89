package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/devpilot/errors"
)

const maxListedEntries = 500

var errEnoughMatches = errors.New("match limit reached")

// ListFilesTool lists the entries of a workspace directory.
func ListFilesTool(rules Rules) *Descriptor {
	return &Descriptor{
		Name:        "list_files",
		Description: "List files and directories in a workspace directory.\nDirectories are suffixed with '/'. Hidden paths are omitted.",
		Params: []Param{
			{Name: "directory", Type: TypeString, Description: "Directory relative to the workspace root. Defaults to the root."},
			{Name: "recursive", Type: TypeBoolean, Description: "Walk subdirectories as well."},
		},
		Execute: func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
			abs, rel, err := workspacePath(ec, StringArg(args, "directory", "."))
			if err != nil {
				return nil, err
			}
			if err := rules.CheckRead(rel); err != nil {
				return nil, err
			}
			var entries []string
			walk := func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if p == abs {
					return nil
				}
				r, _ := filepath.Rel(abs, p)
				full := filepath.ToSlash(filepath.Join(rel, r))
				if hidden, _ := rules.IsHidden(full); hidden {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				name := filepath.ToSlash(r)
				if d.IsDir() {
					name += "/"
				}
				entries = append(entries, name)
				if len(entries) >= maxListedEntries {
					return fs.SkipAll
				}
				if d.IsDir() && !BoolArg(args, "recursive", false) {
					return filepath.SkipDir
				}
				return ctx.Err()
			}
			if err := filepath.WalkDir(abs, walk); err != nil {
				return nil, errors.Wrapf(err, "listing '%s'", rel)
			}
			sort.Strings(entries)
			return strings.Join(entries, "\n"), nil
		},
	}
}

func ReadFileTool(rules Rules) *Descriptor {
	return &Descriptor{
		Name:        "read_file",
		Description: "Read the entire content of a file in the workspace.",
		Params: []Param{
			{Name: "path", Type: TypeString, Description: "File path relative to the workspace root.", Required: true},
		},
		Execute: func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
			abs, rel, err := workspacePath(ec, StringArg(args, "path", ""))
			if err != nil {
				return nil, err
			}
			if err := rules.CheckRead(rel); err != nil {
				return nil, err
			}
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read file '%s'", rel)
			}
			return string(content), nil
		},
	}
}

func WriteFileTool(rules Rules) *Descriptor {
	return &Descriptor{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, replacing it entirely.\nParent directories are created as needed.",
		Params: []Param{
			{Name: "path", Type: TypeString, Description: "File path relative to the workspace root.", Required: true},
			{Name: "content", Type: TypeString, Description: "The complete new file content.", Required: true},
		},
		Execute: func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
			abs, rel, err := workspacePath(ec, StringArg(args, "path", ""))
			if err != nil {
				return nil, err
			}
			if err := rules.CheckWrite(rel); err != nil {
				return nil, err
			}
			content := StringArg(args, "content", "")
			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return nil, errors.Wrapf(err, "creating parent of '%s'", rel)
			}
			if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
				return nil, errors.Wrapf(err, "failed to write to file '%s'", rel)
			}
			return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), rel), nil
		},
	}
}

// FindFilesTool matches a doublestar pattern against the workspace tree.
func FindFilesTool(rules Rules) *Descriptor {
	return &Descriptor{
		Name:        "find_files",
		Description: "Find workspace files matching a glob pattern such as '**/*.go'.",
		Params: []Param{
			{Name: "pattern", Type: TypeString, Description: "Doublestar glob relative to the workspace root.", Required: true},
		},
		Execute: func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
			pattern := StringArg(args, "pattern", "")
			if !doublestar.ValidatePattern(pattern) {
				return nil, errors.Mark(errors.ErrInvalidArguments, "invalid glob pattern '%s'", pattern)
			}
			root, err := ResolvePath(ec.WorkspaceRoot, ".")
			if err != nil {
				return nil, err
			}
			var matches []string
			err = doublestar.GlobWalk(os.DirFS(root), pattern, func(p string, d fs.DirEntry) error {
				if hidden, _ := rules.IsHidden(p); hidden {
					return nil
				}
				matches = append(matches, p)
				if len(matches) >= maxListedEntries {
					return errEnoughMatches
				}
				return ctx.Err()
			})
			if err != nil && !errors.Is(err, errEnoughMatches) {
				return nil, errors.Wrapf(err, "searching for '%s'", pattern)
			}
			if len(matches) == 0 {
				return "No files matched.", nil
			}
			sort.Strings(matches)
			return strings.Join(matches, "\n"), nil
		},
	}
}
