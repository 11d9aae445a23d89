package llm

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/m4xw311/devpilot/errors"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"ollama 401", api.StatusError{StatusCode: http.StatusUnauthorized, Status: "401 Unauthorized"}, KindAuth},
		{"google 429", &googleapi.Error{Code: http.StatusTooManyRequests, Message: "slow down"}, KindRateLimit},
		{"wrapped 503", fmt.Errorf("call: %w", api.StatusError{StatusCode: http.StatusServiceUnavailable}), KindServer},
		{"context length text", fmt.Errorf("prompt is too long: 210000 tokens"), KindContextLength},
		{"deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), KindNetwork},
		{"missing key", fmt.Errorf("OPENAI_API_KEY environment variable not set"), KindAuth},
		{"unknown", fmt.Errorf("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _ := classify(tt.err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestProviderErrorWrapsOnce(t *testing.T) {
	base := fmt.Errorf("boom")
	err := newProviderError("openai", base)
	assert.True(t, errors.Is(err, base))
	assert.Same(t, err, newProviderError("other", err))

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.NotEmpty(t, pe.UserMessage())
}

func TestIsMalformedToolCall(t *testing.T) {
	assert.False(t, IsMalformedToolCall(nil))
	assert.True(t, IsMalformedToolCall(errors.Mark(errors.ErrMalformedToolCall, "x")))
	assert.True(t, IsMalformedToolCall(fmt.Errorf(`400 {"error":{"code":"tool_use_failed","failed_generation":"..."}}`)))
	assert.True(t, IsMalformedToolCall(fmt.Errorf("Failed to call a function. Please adjust your prompt.")))
	assert.False(t, IsMalformedToolCall(fmt.Errorf("401 unauthorized")))
}
