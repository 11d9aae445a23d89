package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m4xw311/devpilot/errors"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v2"
	"google.golang.org/api/googleapi"
)

// Kind is a coarse classification of a fatal provider failure.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rate_limit"
	KindNetwork       Kind = "network"
	KindContextLength Kind = "context_length"
	KindServer        Kind = "server"
	KindUnknown       Kind = "unknown"
)

// ProviderError wraps any error returned by an upstream model provider.
type ProviderError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s request failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// UserMessage is a generic notice suitable for end users.
func (e *ProviderError) UserMessage() string {
	switch e.Kind {
	case KindAuth:
		return "The model provider rejected the credentials. Check the API key configuration."
	case KindRateLimit:
		return "The model provider is rate limiting requests. Please try again shortly."
	case KindNetwork:
		return "The model provider could not be reached."
	case KindContextLength:
		return "The conversation is too long for the model. Clear the session and try again."
	}
	return "The model provider returned an error. Please try again."
}

func newProviderError(provider string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	kind, status := classify(err)
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func statusCode(err error) int {
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var serr api.StatusError
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	var herr httpStatusError
	if errors.As(err, &herr) {
		return herr.HTTPStatusCode()
	}
	return 0
}

func classify(err error) (Kind, int) {
	status := statusCode(err)
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "context length"), strings.Contains(text, "context_length"),
		strings.Contains(text, "too many tokens"), strings.Contains(text, "prompt is too long"):
		return KindContextLength, status
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth, status
	case status == http.StatusTooManyRequests:
		return KindRateLimit, status
	case status >= 500:
		return KindServer, status
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork, status
	}
	switch {
	case strings.Contains(text, "api key"), strings.Contains(text, "unauthorized"),
		strings.Contains(text, "authentication"), strings.Contains(text, "environment variable not set"):
		return KindAuth, status
	case strings.Contains(text, "rate limit"), strings.Contains(text, "quota"):
		return KindRateLimit, status
	case strings.Contains(text, "connection refused"), strings.Contains(text, "no such host"):
		return KindNetwork, status
	}
	return KindUnknown, status
}

var malformedToolCallMarkers = []string{
	"tool_use_failed",
	"failed to call a function",
	"failed_generation",
	"invalid tool call",
	"malformed function call",
	"malformed_function_call",
}

// IsMalformedToolCall reports whether err means the provider could not
// produce a valid tool call for the offered schema.
func IsMalformedToolCall(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrMalformedToolCall) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range malformedToolCallMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
