package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evidence-engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func chatMessages() []domain.Message {
	return []domain.Message{
		{Role: "system", Content: "You are a compliance analyst."},
		{Role: "user", Content: "Assess the control."},
	}
}

func TestChatClient_Complete(t *testing.T) {
	t.Run("sends an OpenAI-compatible request and parses the reply", func(t *testing.T) {
		var captured chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"choices": [{"message": {"content": "  {\"status\":\"Met\"}  "}, "finish_reason": "stop"}],
				"usage": {"total_tokens": 321}
			}`))
		}))
		defer server.Close()

		client := NewChatClient(server.URL, "test-key", "gpt-test", 0, server.Client(), testLogger())
		resp, err := client.Complete(context.Background(), chatMessages(), domain.CompletionOptions{
			MaxTokens:   2048,
			Temperature: 0.0,
			JSONOnly:    true,
		})
		require.NoError(t, err)

		assert.Equal(t, `{"status":"Met"}`, resp.Text, "reply is trimmed")
		assert.True(t, resp.Done)
		assert.Equal(t, 321, resp.TokensUsed)

		assert.Equal(t, "gpt-test", captured.Model)
		assert.Equal(t, 2048, captured.MaxTokens)
		require.Len(t, captured.Messages, 2)
		assert.Equal(t, "system", captured.Messages[0].Role)
		require.NotNil(t, captured.ResponseFormat)
		assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	})

	t.Run("omits response_format without JSONOnly", func(t *testing.T) {
		var captured chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{"total_tokens":1}}`))
		}))
		defer server.Close()

		client := NewChatClient(server.URL, "", "gpt-test", 0, server.Client(), testLogger())
		_, err := client.Complete(context.Background(), chatMessages(), domain.CompletionOptions{})
		require.NoError(t, err)
		assert.Nil(t, captured.ResponseFormat)
	})

	t.Run("non-stop finish reason is not done", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"status\":"},"finish_reason":"length"}],"usage":{"total_tokens":2048}}`))
		}))
		defer server.Close()

		client := NewChatClient(server.URL, "", "gpt-test", 0, server.Client(), testLogger())
		resp, err := client.Complete(context.Background(), chatMessages(), domain.CompletionOptions{})
		require.NoError(t, err)
		assert.False(t, resp.Done)
	})

	t.Run("bad status is a call-stage inference error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewChatClient(server.URL, "", "gpt-test", 0, server.Client(), testLogger())
		_, err := client.Complete(context.Background(), chatMessages(), domain.CompletionOptions{})

		var infErr *domain.ModelInferenceError
		require.ErrorAs(t, err, &infErr)
		assert.Equal(t, "call", infErr.Stage)
		assert.Equal(t, "gpt-test", infErr.Model)
	})

	t.Run("empty choices is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[],"usage":{"total_tokens":0}}`))
		}))
		defer server.Close()

		client := NewChatClient(server.URL, "", "gpt-test", 0, server.Client(), testLogger())
		_, err := client.Complete(context.Background(), chatMessages(), domain.CompletionOptions{})

		var infErr *domain.ModelInferenceError
		require.ErrorAs(t, err, &infErr)
	})

	t.Run("per-call timeout bounds the request", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer server.Close()
		defer close(release)

		client := NewChatClient(server.URL, "", "gpt-test", 0, server.Client(), testLogger())
		_, err := client.Complete(context.Background(), chatMessages(), domain.CompletionOptions{
			Timeout: 50 * time.Millisecond,
		})
		require.Error(t, err)
	})
}
