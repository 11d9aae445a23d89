package llm

import (
	"context"
	"testing"
	"time"

	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedClientReplaysSteps(t *testing.T) {
	c := NewScriptedClient(Options{},
		Calls(session.ToolCall{ToolCallID: "c1", Name: "list_files"}),
		Text("done"),
	)
	history := []session.Message{session.NewMessage(session.RoleUser, "hi")}
	available := []*tools.Descriptor{descriptor("list_files")}

	first, err := c.Chat(context.Background(), history, available)
	require.NoError(t, err)
	assert.Equal(t, session.RoleAssistant, first.Role)
	assert.NotEmpty(t, first.ID)
	require.Len(t, first.ToolCalls, 1)

	second, err := c.Chat(context.Background(), history, available)
	require.NoError(t, err)
	assert.Equal(t, "done", second.Content)

	third, err := c.Chat(context.Background(), history, available)
	require.NoError(t, err)
	assert.Equal(t, "You said: hi", third.Content)
	assert.Equal(t, 3, c.CallCount())
	assert.Equal(t, []string{"list_files"}, c.Offered(0))
}

func TestFallbackRetriesWithoutTools(t *testing.T) {
	malformed := errors.New("400 Bad Request: {\"error\":{\"code\":\"tool_use_failed\"}}")
	c := NewScriptedClient(Options{}, Fail(malformed), Text("Here is a plain answer."))

	msg, err := c.Chat(context.Background(),
		[]session.Message{session.NewMessage(session.RoleUser, "deploy")},
		[]*tools.Descriptor{descriptor("deploy")})
	require.NoError(t, err)
	assert.Equal(t, "Here is a plain answer.", msg.Content)
	assert.Empty(t, msg.ToolCalls)
	assert.Equal(t, 2, c.CallCount())
	assert.Equal(t, []string{"deploy"}, c.Offered(0))
	assert.Empty(t, c.Offered(1))
}

func TestFallbackSubstitutesEmptyContent(t *testing.T) {
	c := NewScriptedClient(Options{},
		Fail(errors.Mark(errors.ErrMalformedToolCall, "bad call")),
		Text("   "),
	)
	msg, err := c.Chat(context.Background(),
		[]session.Message{session.NewMessage(session.RoleUser, "x")},
		[]*tools.Descriptor{descriptor("x")})
	require.NoError(t, err)
	assert.Equal(t, FallbackMessage, msg.Content)
}

func TestFallbackDropsToolCallsFromRetry(t *testing.T) {
	c := NewScriptedClient(Options{},
		Fail(errors.Mark(errors.ErrMalformedToolCall, "bad call")),
		Calls(session.ToolCall{ToolCallID: "c1", Name: "x"}),
	)
	msg, err := c.Chat(context.Background(),
		[]session.Message{session.NewMessage(session.RoleUser, "x")},
		[]*tools.Descriptor{descriptor("x")})
	require.NoError(t, err)
	assert.Empty(t, msg.ToolCalls)
	assert.Equal(t, FallbackMessage, msg.Content)
}

func TestFatalErrorsPropagate(t *testing.T) {
	c := NewScriptedClient(Options{}, Fail(errors.New("401 Unauthorized: invalid x-api-key")))
	_, err := c.Chat(context.Background(),
		[]session.Message{session.NewMessage(session.RoleUser, "x")},
		[]*tools.Descriptor{descriptor("x")})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "mock", pe.Provider)
	assert.Equal(t, KindAuth, pe.Kind)
	assert.Equal(t, 1, c.CallCount(), "no retry for non tool-call failures")
}

func TestMalformedWithoutToolsIsFatal(t *testing.T) {
	c := NewScriptedClient(Options{}, Fail(errors.Mark(errors.ErrMalformedToolCall, "bad call")))
	_, err := c.Chat(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "x")}, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, c.CallCount())
}

func TestFailedRetryPropagates(t *testing.T) {
	c := NewScriptedClient(Options{},
		Fail(errors.Mark(errors.ErrMalformedToolCall, "bad call")),
		Fail(errors.New("rate limit exceeded")),
	)
	_, err := c.Chat(context.Background(),
		[]session.Message{session.NewMessage(session.RoleUser, "x")},
		[]*tools.Descriptor{descriptor("x")})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindRateLimit, pe.Kind)
}

func TestUsageIsReported(t *testing.T) {
	rec := newChanRecorder()
	c := NewScriptedClient(Options{Model: "scripted-1", Recorder: rec}, Text("hello"))
	_, err := c.Chat(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "x")}, nil)
	require.NoError(t, err)

	select {
	case r := <-rec.ch:
		assert.Equal(t, usageRecord{provider: "mock", model: "scripted-1", in: 1, out: 1}, r)
	case <-time.After(2 * time.Second):
		t.Fatal("usage was not recorded")
	}
}

func TestUsageRecorderFailuresAreSwallowed(t *testing.T) {
	for _, boom := range []bool{false, true} {
		rec := &failingRecorder{done: make(chan struct{}), boom: boom}
		c := NewScriptedClient(Options{Recorder: rec}, Text("still fine"))
		msg, err := c.Chat(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "x")}, nil)
		require.NoError(t, err)
		assert.Equal(t, "still fine", msg.Content)
		select {
		case <-rec.done:
		case <-time.After(2 * time.Second):
			t.Fatal("recorder was not called")
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.InDelta(t, 0.7, *o.Temperature, 1e-9)
	assert.EqualValues(t, 4096, o.MaxTokens)
	assert.NotNil(t, o.Recorder)
	assert.NotNil(t, o.Logger)

	zero := 0.0
	o = Options{Temperature: &zero}.withDefaults()
	assert.Zero(t, *o.Temperature)
}
