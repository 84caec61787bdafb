package client

import (
	"errors"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/require"
)

func newTestOllamaClient(t *testing.T) *OllamaClient {
	t.Helper()
	c, err := NewOllamaClient(OllamaConfig{Model: "qwen2.5-coder", Temperature: 0.4})
	require.NoError(t, err)
	return c
}

func TestNewOllamaClientRequiresModel(t *testing.T) {
	_, err := NewOllamaClient(OllamaConfig{})
	require.Error(t, err)
}

func TestNewOllamaClientRejectsBadURL(t *testing.T) {
	_, err := NewOllamaClient(OllamaConfig{Model: "llama3.2", BaseURL: "http://bad url with spaces"})
	require.Error(t, err)
}

func TestBuildChatRequest(t *testing.T) {
	c := newTestOllamaClient(t)

	req := c.buildChatRequest(Request{
		System: "you are terse",
		History: []Message{
			{Role: RoleUser, Text: "first question"},
			{Role: RoleAssistant, Text: "first answer"},
		},
		Message: "second question",
	})

	require.Equal(t, "qwen2.5-coder", req.Model)
	require.NotNil(t, req.Stream)
	require.True(t, *req.Stream)

	roles := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		roles = append(roles, m.Role)
	}
	require.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	require.Equal(t, "you are terse", req.Messages[0].Content)
	require.Equal(t, "second question", req.Messages[3].Content)

	require.Contains(t, req.Options, "num_predict")
	require.Contains(t, req.Options, "temperature")
}

func TestBuildChatRequestSkipsEmptySystem(t *testing.T) {
	c := newTestOllamaClient(t)

	req := c.buildChatRequest(Request{Message: "hi"})

	require.Len(t, req.Messages, 1)
	require.Equal(t, "user", req.Messages[0].Role)
}

func TestOllamaRoleMapping(t *testing.T) {
	require.Equal(t, "assistant", ollamaRole(RoleAssistant))
	require.Equal(t, "user", ollamaRole(RoleUser))
	require.Equal(t, "user", ollamaRole("tool"), "unknown roles degrade to user")
}

func TestWrapOllamaErrorGuidance(t *testing.T) {
	refused := errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")
	wrapped := wrapOllamaError(refused, "llama3.2")
	require.ErrorIs(t, wrapped, refused)
	require.Contains(t, wrapped.Error(), "ollama serve")

	missing := &api.StatusError{StatusCode: 404, ErrorMessage: "model not found"}
	wrapped = wrapOllamaError(missing, "llama3.2")
	require.Contains(t, wrapped.Error(), "ollama pull llama3.2")

	plain := errors.New("something else")
	require.Equal(t, plain, wrapOllamaError(plain, "llama3.2"))
}

func TestIsModelNotFoundError(t *testing.T) {
	require.True(t, IsModelNotFoundError(&api.StatusError{StatusCode: 404}))
	require.True(t, IsModelNotFoundError(api.StatusError{StatusCode: 404}), "value form of the SDK error")
	require.True(t, IsModelNotFoundError(errors.New(`model "x" not found`)))
	require.False(t, IsModelNotFoundError(errors.New("connection refused")))
	require.False(t, IsModelNotFoundError(nil))
}

func TestIsRetryableOllamaError(t *testing.T) {
	require.True(t, isRetryableOllamaError(&api.StatusError{StatusCode: 429}))
	require.True(t, isRetryableOllamaError(&api.StatusError{StatusCode: 503}))
	require.False(t, isRetryableOllamaError(&api.StatusError{StatusCode: 404}))
	require.True(t, isRetryableOllamaError(errors.New("connection reset by peer")))
	require.False(t, isRetryableOllamaError(nil))
}
