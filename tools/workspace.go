package tools

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/devpilot/errors"
)

// ResolvePath joins path onto root (unless already absolute) and checks that
// the result stays inside root. The check is lexical; symlinks are not
// followed.
func ResolvePath(root, path string) (string, error) {
	if root == "" {
		return "", errors.New("no workspace root configured")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrapf(err, "resolving workspace root")
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Mark(errors.ErrOutsideWorkspace, "'%s'", path)
	}
	return target, nil
}

// Rules are doublestar globs evaluated against workspace-relative paths.
type Rules struct {
	Hidden   []string
	ReadOnly []string
}

func (r Rules) IsHidden(rel string) (bool, error) {
	return matchAny(rel, r.Hidden)
}

func (r Rules) IsReadOnly(rel string) (bool, error) {
	return matchAny(rel, r.ReadOnly)
}

// CheckRead fails when rel is hidden.
func (r Rules) CheckRead(rel string) error {
	hidden, err := r.IsHidden(rel)
	if err != nil {
		return err
	}
	if hidden {
		return errors.Mark(errors.ErrAccessDenied, "path '%s' is hidden", rel)
	}
	return nil
}

// CheckWrite fails when rel is hidden or read-only.
func (r Rules) CheckWrite(rel string) error {
	if err := r.CheckRead(rel); err != nil {
		return err
	}
	ro, err := r.IsReadOnly(rel)
	if err != nil {
		return err
	}
	if ro {
		return errors.Mark(errors.ErrAccessDenied, "path '%s' is read-only", rel)
	}
	return nil
}

func matchAny(rel string, patterns []string) (bool, error) {
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// workspacePath resolves path inside the execution context's workspace and
// returns both the absolute and the slash-separated relative form.
func workspacePath(ec ExecutionContext, path string) (abs, rel string, err error) {
	abs, err = ResolvePath(ec.WorkspaceRoot, path)
	if err != nil {
		return "", "", err
	}
	root, _ := filepath.Abs(ec.WorkspaceRoot)
	rel, err = filepath.Rel(root, abs)
	if err != nil {
		return "", "", errors.Wrapf(err, "relativizing '%s'", path)
	}
	return abs, filepath.ToSlash(rel), nil
}
