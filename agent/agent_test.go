package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/llm"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(id, name string, args map[string]any) session.ToolCall {
	return session.ToolCall{ToolCallID: id, Name: name, Args: args}
}

func fixedTool(name string, out any, err error) *tools.Descriptor {
	return &tools.Descriptor{
		Name:        name,
		Description: "Runs " + name + ".\nLonger help text.",
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			return out, err
		},
	}
}

func newAgent(t *testing.T, client llm.LLMClient, ds ...*tools.Descriptor) (*Agent, *session.Store) {
	t.Helper()
	reg := tools.NewRegistry()
	reg.RegisterMany(ds...)
	store := session.NewStore()
	return New(client, reg, store), store
}

func history(t *testing.T, store *session.Store, id string) []session.Message {
	t.Helper()
	h, ok := store.Get(id)
	require.True(t, ok, "session %s missing", id)
	return h.Snapshot()
}

// assertCorrelated checks that every tool message answers a call from the
// nearest preceding assistant message.
func assertCorrelated(t *testing.T, msgs []session.Message) {
	t.Helper()
	var pending map[string]bool
	for i, m := range msgs {
		switch m.Role {
		case session.RoleAssistant:
			pending = map[string]bool{}
			for _, c := range m.ToolCalls {
				pending[c.ToolCallID] = true
			}
		case session.RoleTool:
			res, ok := m.Result()
			require.True(t, ok, "tool message %d has no result", i)
			assert.True(t, pending[res.ToolCallID], "tool message %d answers unknown call %s", i, res.ToolCallID)
			delete(pending, res.ToolCallID)
		default:
			pending = nil
		}
	}
}

func TestListFilesExchange(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{},
		llm.Calls(call("c1", "list_files", map[string]any{"directory": "src"})),
		llm.Text("src contains main.go and util.go"),
	)
	var gotDir string
	listFiles := &tools.Descriptor{
		Name:        "list_files",
		Description: "List files in a directory",
		Params:      []tools.Param{{Name: "directory", Type: tools.TypeString}},
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			gotDir = args["directory"].(string)
			assert.Equal(t, "s1", ec.SessionID)
			assert.Equal(t, "/work", ec.WorkspaceRoot)
			return "main.go\nutil.go", nil
		},
	}
	a, store := newAgent(t, client, listFiles)

	var statuses []string
	reply, err := a.ProcessMessage(context.Background(), "list files in src",
		tools.ExecutionContext{WorkspaceRoot: "/work"}, "s1",
		func(s string) { statuses = append(statuses, s) })
	require.NoError(t, err)
	assert.Equal(t, "src contains main.go and util.go", reply.Content)
	assert.Equal(t, "src", gotDir)
	assert.Equal(t, []string{"Executing list_files: List files in a directory"}, statuses)

	msgs := history(t, store, "s1")
	require.Len(t, msgs, 4)
	assert.Equal(t, []session.Role{session.RoleUser, session.RoleAssistant, session.RoleTool, session.RoleAssistant},
		[]session.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role})
	assert.Equal(t, "main.go\nutil.go", msgs[2].Content)
	assertCorrelated(t, msgs)

	require.Equal(t, 2, client.CallCount())
	second := client.Request(1)
	require.Len(t, second, 3)
	assert.Equal(t, session.RoleTool, second[2].Role)
	assert.Equal(t, []string{"list_files"}, client.Offered(0))
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{},
		llm.Calls(call("c1", "nonexistent_tool", nil)),
		llm.Text("Sorry, I cannot do that."),
	)
	a, store := newAgent(t, client)

	reply, err := a.ProcessMessage(context.Background(), "do it", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I cannot do that.", reply.Content)

	msgs := history(t, store, "s1")
	res, ok := msgs[2].Result()
	require.True(t, ok)
	assert.Equal(t, "Tool 'nonexistent_tool' not found", res.Error)
	assert.Equal(t, "c1", res.ToolCallID)

	seen := client.Request(1)
	assert.Equal(t, "Error: Tool 'nonexistent_tool' not found", seen[len(seen)-1].Content)
}

func TestIterationLimit(t *testing.T) {
	var steps []llm.Step
	for i := 0; i < 25; i++ {
		steps = append(steps, llm.Calls(call(fmt.Sprintf("c%d", i), "noop", nil)))
	}
	client := llm.NewScriptedClient(llm.Options{}, steps...)
	obs := &countingObserver{}
	reg := tools.NewRegistry()
	reg.Register(fixedTool("noop", "ok", nil))
	a := New(client, reg, session.NewStore(), WithObserver(obs))

	reply, err := a.ProcessMessage(context.Background(), "loop forever", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, IterationLimitMessage, reply.Content)
	assert.Equal(t, session.RoleAssistant, reply.Role)
	assert.Equal(t, 20, client.CallCount())
	assert.Equal(t, 20, obs.models)
	assert.Equal(t, 1, obs.limits)
}

func TestMaxIterationsOption(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{},
		llm.Calls(call("c1", "noop", nil)),
		llm.Calls(call("c2", "noop", nil)),
		llm.Calls(call("c3", "noop", nil)),
	)
	reg := tools.NewRegistry()
	reg.Register(fixedTool("noop", "ok", nil))
	a := New(client, reg, session.NewStore(), WithMaxIterations(2))

	reply, err := a.ProcessMessage(context.Background(), "x", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, IterationLimitMessage, reply.Content)
	assert.Equal(t, 2, client.CallCount())
}

func TestProviderErrorPropagates(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{}, llm.Fail(fmt.Errorf("401 Unauthorized: invalid api key")))
	a, _ := newAgent(t, client, fixedTool("noop", "ok", nil))

	reply, err := a.ProcessMessage(context.Background(), "hello", tools.ExecutionContext{}, "s1", nil)
	require.Error(t, err)
	assert.Nil(t, reply)

	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.KindAuth, pe.Kind)
}

func TestFaultIsolationInBatch(t *testing.T) {
	panicky := &tools.Descriptor{
		Name: "panicky",
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			panic("nil map write")
		},
	}
	tests := []struct {
		name    string
		middle  *tools.Descriptor
		wantErr string
	}{
		{"error", fixedTool("flaky", nil, fmt.Errorf("disk full")), "disk full"},
		{"panic", panicky, "tool 'panicky' panicked: nil map write"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := llm.NewScriptedClient(llm.Options{},
				llm.Calls(
					call("a", "first", nil),
					call("b", tt.middle.Name, nil),
					call("c", "third", nil),
				),
				llm.Text("done"),
			)
			a, store := newAgent(t, client, fixedTool("first", "A", nil), tt.middle, fixedTool("third", "C", nil))

			reply, err := a.ProcessMessage(context.Background(), "run all", tools.ExecutionContext{}, "s1", nil)
			require.NoError(t, err)
			assert.Equal(t, "done", reply.Content)

			msgs := history(t, store, "s1")
			require.Len(t, msgs, 6)
			results := make([]session.ToolResult, 0, 3)
			for _, m := range msgs[2:5] {
				res, ok := m.Result()
				require.True(t, ok)
				results = append(results, res)
			}
			assert.Equal(t, "a", results[0].ToolCallID)
			assert.Equal(t, "A", results[0].Output)
			assert.Equal(t, "b", results[1].ToolCallID)
			assert.Equal(t, tt.wantErr, results[1].Error)
			assert.Equal(t, "c", results[2].ToolCallID)
			assert.Equal(t, "C", results[2].Output)
			assertCorrelated(t, msgs)
		})
	}
}

func TestToolsRunSequentiallyInOrder(t *testing.T) {
	var mu sync.Mutex
	var running int
	var order []string
	sleeper := func(name string, d time.Duration) *tools.Descriptor {
		return &tools.Descriptor{
			Name: name,
			Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
				mu.Lock()
				running++
				assert.Equal(t, 1, running, "tools must not overlap")
				mu.Unlock()
				time.Sleep(d)
				mu.Lock()
				running--
				order = append(order, name)
				mu.Unlock()
				return name, nil
			},
		}
	}
	client := llm.NewScriptedClient(llm.Options{},
		llm.Calls(call("1", "slow", nil), call("2", "fast", nil), call("3", "medium", nil)),
		llm.Text("ok"),
	)
	a, store := newAgent(t, client,
		sleeper("slow", 30*time.Millisecond), sleeper("fast", time.Millisecond), sleeper("medium", 10*time.Millisecond))

	_, err := a.ProcessMessage(context.Background(), "go", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"slow", "fast", "medium"}, order)

	msgs := history(t, store, "s1")
	var ids []string
	for _, m := range msgs {
		if res, ok := m.Result(); ok {
			ids = append(ids, res.ToolCallID)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestStatusPrecedesResult(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{}, llm.Calls(call("c1", "inspect", nil)), llm.Text("ok"))
	var statusSeen bool
	inspect := &tools.Descriptor{
		Name:        "inspect",
		Description: "Inspect things",
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			assert.True(t, statusSeen, "status must be emitted before the tool runs")
			return "inspected", nil
		},
	}
	a, _ := newAgent(t, client, inspect)
	_, err := a.ProcessMessage(context.Background(), "inspect", tools.ExecutionContext{}, "s1",
		func(string) { statusSeen = true })
	require.NoError(t, err)
	assert.True(t, statusSeen)
}

func TestInvalidArgumentsAreReported(t *testing.T) {
	called := false
	strict := &tools.Descriptor{
		Name:   "read_file",
		Params: []tools.Param{{Name: "path", Type: tools.TypeString, Required: true}},
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			called = true
			return nil, nil
		},
	}
	client := llm.NewScriptedClient(llm.Options{},
		llm.Calls(
			call("c1", "read_file", map[string]any{"path": 42}),
			session.ToolCall{ToolCallID: "c2", Name: "read_file", ParseError: "unexpected end of JSON input"},
		),
		llm.Text("ok"),
	)
	a, store := newAgent(t, client, strict)

	_, err := a.ProcessMessage(context.Background(), "read", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	assert.False(t, called)

	msgs := history(t, store, "s1")
	first, _ := msgs[2].Result()
	assert.Contains(t, first.Error, "parameter 'path' must be a string")
	second, _ := msgs[3].Result()
	assert.Equal(t, "invalid arguments for tool 'read_file': unexpected end of JSON input", second.Error)
}

func TestDeclinedTool(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{}, llm.Calls(call("c1", "write_file", nil)), llm.Text("ok"))
	ran := false
	write := &tools.Descriptor{
		Name: "write_file",
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			ran = true
			return nil, nil
		},
	}
	a, store := newAgent(t, client, write)

	var seenCalls []string
	var seenResults []session.ToolResult
	_, err := a.Process(context.Background(), "write", tools.ExecutionContext{}, "s1", ProcessCallbacks{
		OnToolCall:        func(c session.ToolCall) { seenCalls = append(seenCalls, c.Name) },
		OnToolResult:      func(c session.ToolCall, r session.ToolResult) { seenResults = append(seenResults, r) },
		ShouldExecuteTool: func(session.ToolCall) bool { return false },
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, []string{"write_file"}, seenCalls)
	require.Len(t, seenResults, 1)
	assert.Equal(t, "user declined to run tool 'write_file'", seenResults[0].Error)
	assert.Len(t, history(t, store, "s1"), 4)
}

func TestSessionIsolation(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{})
	a, store := newAgent(t, client)

	_, err := a.ProcessMessage(context.Background(), "hello from s1", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	reply, err := a.ProcessMessage(context.Background(), "hello from s2", tools.ExecutionContext{}, "s2", nil)
	require.NoError(t, err)
	assert.Equal(t, "You said: hello from s2", reply.Content)

	for _, m := range history(t, store, "s2") {
		assert.NotContains(t, m.Content, "s1")
	}
	assert.Len(t, client.Request(1), 1, "s2 history starts empty")
}

func TestClearConversation(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{})
	a, store := newAgent(t, client)
	ctx := context.Background()

	_, err := a.ProcessMessage(ctx, "first", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	_, err = a.ProcessMessage(ctx, "other", tools.ExecutionContext{}, "s2", nil)
	require.NoError(t, err)

	a.ClearConversation("s1")
	_, ok := store.Get("s1")
	assert.False(t, ok)

	_, err = a.ProcessMessage(ctx, "second", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	msgs := history(t, store, "s1")
	assert.Equal(t, "second", msgs[0].Content)
	assert.Len(t, msgs, 2)

	a.ClearAllConversations()
	assert.Equal(t, 0, store.Len())
}

func TestEmptySessionIDCreatesSession(t *testing.T) {
	a, store := newAgent(t, llm.NewScriptedClient(llm.Options{}))
	_, err := a.ProcessMessage(context.Background(), "hi", tools.ExecutionContext{}, "", nil)
	require.NoError(t, err)
	ids := store.IDs()
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])
}

func TestSameSessionExchangesDoNotInterleave(t *testing.T) {
	gate := make(chan struct{})
	slow := &tools.Descriptor{
		Name: "slow",
		Execute: func(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
			<-gate
			return "done", nil
		},
	}
	client := llm.NewScriptedClient(llm.Options{}, llm.Calls(call("c1", "slow", nil)))
	a, store := newAgent(t, client, slow)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := a.ProcessMessage(context.Background(), "first", tools.ExecutionContext{}, "s1", nil)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		h, ok := store.Get("s1")
		return ok && h.Busy()
	}, 2*time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := a.ProcessMessage(context.Background(), "second", tools.ExecutionContext{}, "s1", nil)
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	msgs := history(t, store, "s1")
	require.Len(t, msgs, 6)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, session.RoleTool, msgs[2].Role)
	assert.Equal(t, "You said: first", msgs[3].Content)
	assert.Equal(t, "second", msgs[4].Content)
	assert.Equal(t, "You said: second", msgs[5].Content)
}

type countingObserver struct {
	mu     sync.Mutex
	models int
	tools  int
	failed int
	limits int
}

func (o *countingObserver) ModelCall(time.Duration, error) {
	o.mu.Lock()
	o.models++
	o.mu.Unlock()
}

func (o *countingObserver) ToolCall(_ string, _ time.Duration, failed bool) {
	o.mu.Lock()
	o.tools++
	if failed {
		o.failed++
	}
	o.mu.Unlock()
}

func (o *countingObserver) IterationLimit() {
	o.mu.Lock()
	o.limits++
	o.mu.Unlock()
}

func TestObserverCountsFailures(t *testing.T) {
	client := llm.NewScriptedClient(llm.Options{},
		llm.Calls(call("a", "good", nil), call("b", "missing", nil), call("c", "bad", nil)),
		llm.Text("ok"),
	)
	obs := &countingObserver{}
	reg := tools.NewRegistry()
	reg.RegisterMany(fixedTool("good", "ok", nil), fixedTool("bad", nil, fmt.Errorf("nope")))
	a := New(client, reg, session.NewStore(), WithObserver(obs))

	_, err := a.ProcessMessage(context.Background(), "x", tools.ExecutionContext{}, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, obs.models)
	assert.Equal(t, 3, obs.tools)
	assert.Equal(t, 2, obs.failed)
}
