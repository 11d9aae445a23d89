package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(name, out string) *Descriptor {
	return &Descriptor{
		Name:        name,
		Description: name + " tool",
		Execute: func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
			return out, nil
		},
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stub("a", "first"))
	reg.Register(stub("b", "b"))
	reg.Register(stub("a", "second"))

	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	d, ok := reg.Get("a")
	require.True(t, ok)
	out, err := d.Run(context.Background(), nil, ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegisterMany(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterMany(stub("x", ""), stub("y", ""), stub("z", ""))
	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "z", all[2].Name)
}

func TestValidate(t *testing.T) {
	d := &Descriptor{
		Name: "deploy",
		Params: []Param{
			{Name: "service", Type: TypeString, Required: true},
			{Name: "replicas", Type: TypeNumber},
			{Name: "dry_run", Type: TypeBoolean},
			{Name: "env", Type: TypeEnum, Enum: []string{"dev", "prod"}},
			{Name: "tags", Type: TypeStringArray},
		},
	}

	assert.NoError(t, d.Validate(map[string]any{
		"service": "api", "replicas": float64(3), "dry_run": true, "env": "dev", "tags": []any{"a", "b"},
	}))

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing required", map[string]any{}, "missing required parameter 'service'"},
		{"wrong string type", map[string]any{"service": 7}, "'service' must be a string"},
		{"wrong number type", map[string]any{"service": "api", "replicas": "3"}, "'replicas' must be a number"},
		{"enum violation", map[string]any{"service": "api", "env": "qa"}, "must be one of [dev, prod]"},
		{"array of mixed", map[string]any{"service": "api", "tags": []any{"a", 1}}, "array of strings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Validate(tt.args)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidArguments))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunRejectsInvalidArgsBeforeExecuting(t *testing.T) {
	called := false
	d := &Descriptor{
		Name:   "read",
		Params: []Param{{Name: "path", Type: TypeString, Required: true}},
		Execute: func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
			called = true
			return nil, nil
		},
	}
	_, err := d.Run(context.Background(), map[string]any{}, ExecutionContext{})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestSummary(t *testing.T) {
	d := &Descriptor{Description: "  Run the tests.\nMore detail here."}
	assert.Equal(t, "Run the tests.", d.Summary())
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()

	got, err := ResolvePath(root, "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "main.go"), got)

	got, err = ResolvePath(root, "src/../README.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "README.md"), got)

	for _, escape := range []string{"../outside", "/etc/passwd", "src/../../x"} {
		_, err = ResolvePath(root, escape)
		assert.True(t, errors.Is(err, errors.ErrOutsideWorkspace), escape)
	}

	_, err = ResolvePath("", "x")
	assert.Error(t, err)
}

func TestRules(t *testing.T) {
	r := Rules{Hidden: []string{".env", "secrets/**"}, ReadOnly: []string{"go.sum"}}

	assert.NoError(t, r.CheckRead("main.go"))
	assert.True(t, errors.Is(r.CheckRead("secrets/key.pem"), errors.ErrAccessDenied))
	assert.True(t, errors.Is(r.CheckWrite("go.sum"), errors.ErrAccessDenied))
	assert.NoError(t, r.CheckRead("go.sum"))
}

func newWorkspace(t *testing.T) (string, ExecutionContext) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "secrets"), 0755))
	for name, body := range map[string]string{
		"README.md":         "# demo",
		"src/main.go":       "package main",
		"src/pkg/util.go":   "package pkg",
		"secrets/token.txt": "hunter2",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0644))
	}
	return root, ExecutionContext{WorkspaceRoot: root, SessionID: "s1"}
}

func TestListFiles(t *testing.T) {
	_, ec := newWorkspace(t)
	tool := ListFilesTool(Rules{Hidden: []string{"secrets", "secrets/**"}})

	out, err := tool.Run(context.Background(), map[string]any{"directory": "src"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "main.go\npkg/", out)

	out, err = tool.Run(context.Background(), map[string]any{"recursive": true}, ec)
	require.NoError(t, err)
	assert.Equal(t, "README.md\nsrc/\nsrc/main.go\nsrc/pkg/\nsrc/pkg/util.go", out)

	_, err = tool.Run(context.Background(), map[string]any{"directory": "../"}, ec)
	assert.True(t, errors.Is(err, errors.ErrOutsideWorkspace))
}

func TestReadAndWriteFile(t *testing.T) {
	root, ec := newWorkspace(t)
	rules := Rules{Hidden: []string{"secrets/**"}, ReadOnly: []string{"README.md"}}
	read := ReadFileTool(rules)
	write := WriteFileTool(rules)
	ctx := context.Background()

	out, err := read.Run(ctx, map[string]any{"path": "src/main.go"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "package main", out)

	_, err = read.Run(ctx, map[string]any{"path": "secrets/token.txt"}, ec)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))

	_, err = write.Run(ctx, map[string]any{"path": "README.md", "content": "x"}, ec)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))

	out, err = write.Run(ctx, map[string]any{"path": "docs/new.md", "content": "hello"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "Successfully wrote 5 bytes to docs/new.md", out)
	data, err := os.ReadFile(filepath.Join(root, "docs", "new.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFindFiles(t *testing.T) {
	_, ec := newWorkspace(t)
	tool := FindFilesTool(Rules{Hidden: []string{"secrets/**"}})

	out, err := tool.Run(context.Background(), map[string]any{"pattern": "**/*.go"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "src/main.go\nsrc/pkg/util.go", out)

	out, err = tool.Run(context.Background(), map[string]any{"pattern": "**/*.txt"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "No files matched.", out)
}

func TestCommandPolicy(t *testing.T) {
	p := NewCommandPolicy([]string{"^go (test|vet)( .*)?$", "make[", "ls"}, nil)

	assert.True(t, p.Allowed("go test ./..."))
	assert.False(t, p.Allowed("go run main.go"))
	assert.True(t, p.Allowed("make["), "invalid regex falls back to literal match")
	assert.True(t, p.Allowed("ls"))
	assert.False(t, p.Allowed("   "))
}

func TestCommandPolicyMatchesWholeCommand(t *testing.T) {
	p := NewCommandPolicy([]string{"go test", "ls"}, nil)

	assert.True(t, p.Allowed("go test"))
	assert.False(t, p.Allowed("rm x go test"))
	assert.False(t, p.Allowed("go test; rm x"))
	assert.False(t, p.Allowed("rm -rf tools ls"))
	assert.False(t, p.Allowed("ls && rm -rf tools"))
}

func TestExecuteCommandRejectsEmbeddedPattern(t *testing.T) {
	root, ec := newWorkspace(t)
	tool := ExecuteCommandTool(NewCommandPolicy([]string{"go test"}, nil))

	_, err := tool.Run(context.Background(), map[string]any{"command": "rm README.md go test"}, ec)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
	assert.FileExists(t, filepath.Join(root, "README.md"))
}

func TestExecuteCommand(t *testing.T) {
	_, ec := newWorkspace(t)
	tool := ExecuteCommandTool(NewCommandPolicy([]string{"^ls$"}, nil))

	out, err := tool.Run(context.Background(), map[string]any{"command": "ls"}, ec)
	require.NoError(t, err)
	assert.Contains(t, out, "README.md")

	_, err = tool.Run(context.Background(), map[string]any{"command": "rm -rf src"}, ec)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
}

func TestRegisterBuiltins(t *testing.T) {
	cfg := &config.Config{}

	reg := NewRegistry()
	assert.Nil(t, RegisterBuiltins(reg, cfg, nil, nil))
	assert.Equal(t, []string{"list_files", "read_file", "write_file", "find_files", "execute_command"}, reg.Names())

	ts := &config.Toolset{Name: "ro", Tools: []string{"read_file", "gopls.*", "definition"}}
	reg = NewRegistry()
	external := RegisterBuiltins(reg, cfg, ts, nil)
	assert.Equal(t, []string{"read_file"}, reg.Names())
	assert.Equal(t, []string{"gopls.*", "definition"}, external)

	err := CheckToolset(reg, ts)
	assert.True(t, errors.Is(err, errors.ErrToolNotFound))
	reg.Register(stub("definition", ""))
	assert.NoError(t, CheckToolset(reg, ts))
}

func TestToolsetAllows(t *testing.T) {
	assert.True(t, ToolsetAllows(nil, "gopls", "anything"))
	ts := &config.Toolset{Tools: []string{"gopls.*", "fetch"}}
	assert.True(t, ToolsetAllows(ts, "gopls", "references"))
	assert.True(t, ToolsetAllows(ts, "web", "fetch"))
	assert.False(t, ToolsetAllows(ts, "web", "search"))
}
