package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evidence-engine/internal/domain"
)

func embedHandler(t *testing.T, dimension int, requestSizes *[]int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if requestSizes != nil {
			*requestSizes = append(*requestSizes, len(req.Input))
		}

		var sb strings.Builder
		sb.WriteString(`{"data":[`)
		for i := range req.Input {
			if i > 0 {
				sb.WriteString(",")
			}
			vec := make([]string, dimension)
			for d := range vec {
				vec[d] = fmt.Sprintf("%d.0", i)
			}
			sb.WriteString(fmt.Sprintf(`{"embedding":[%s],"index":%d}`, strings.Join(vec, ","), i))
		}
		sb.WriteString(fmt.Sprintf(`],"usage":{"total_tokens":%d}}`, len(req.Input)*3))
		_, _ = w.Write([]byte(sb.String()))
	}
}

func TestEmbeddingClient_Encode(t *testing.T) {
	ctx := context.Background()

	t.Run("embeds texts and reports usage", func(t *testing.T) {
		server := httptest.NewServer(embedHandler(t, 2, nil))
		defer server.Close()

		client := NewEmbeddingClient(server.URL, "key", "embed-test", 2, 0, server.Client(), testLogger())
		vectors, usage, err := client.Encode(ctx, []string{"alpha", "beta"})
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, []float32{0, 0}, vectors[0])
		assert.Equal(t, []float32{1, 1}, vectors[1])
		assert.Equal(t, 6, usage.Tokens)
	})

	t.Run("restores input order from response indices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"data": [
					{"embedding": [2.0], "index": 1},
					{"embedding": [1.0], "index": 0}
				],
				"usage": {"total_tokens": 4}
			}`))
		}))
		defer server.Close()

		client := NewEmbeddingClient(server.URL, "", "embed-test", 1, 0, server.Client(), testLogger())
		vectors, _, err := client.Encode(ctx, []string{"first", "second"})
		require.NoError(t, err)
		assert.Equal(t, []float32{1.0}, vectors[0])
		assert.Equal(t, []float32{2.0}, vectors[1])
	})

	t.Run("splits oversized input into provider batches", func(t *testing.T) {
		var sizes []int
		server := httptest.NewServer(embedHandler(t, 1, &sizes))
		defer server.Close()

		texts := make([]string, MaxEmbedBatch+50)
		for i := range texts {
			texts[i] = fmt.Sprintf("text-%d", i)
		}

		client := NewEmbeddingClient(server.URL, "", "embed-test", 1, 0, server.Client(), testLogger())
		vectors, _, err := client.Encode(ctx, texts)
		require.NoError(t, err)
		assert.Len(t, vectors, MaxEmbedBatch+50)
		assert.Equal(t, []int{MaxEmbedBatch, 50}, sizes)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				http.Error(w, "temporarily overloaded", http.StatusServiceUnavailable)
				return
			}
			embedHandler(t, 1, nil)(w, r)
		}))
		defer server.Close()

		client := NewEmbeddingClient(server.URL, "", "embed-test", 1, 0, server.Client(), testLogger())
		vectors, _, err := client.Encode(ctx, []string{"alpha"})
		require.NoError(t, err)
		assert.Len(t, vectors, 1)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("auth failure is not retried", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "invalid api key", http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewEmbeddingClient(server.URL, "bad-key", "embed-test", 1, 0, server.Client(), testLogger())
		_, _, err := client.Encode(ctx, []string{"alpha"})

		var provErr *domain.EmbeddingProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "embed-test", provErr.Provider)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("dimension mismatch is rejected without retries", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			_, _ = w.Write([]byte(`{"data":[{"embedding":[1.0,2.0,3.0],"index":0}],"usage":{"total_tokens":1}}`))
		}))
		defer server.Close()

		client := NewEmbeddingClient(server.URL, "", "embed-test", 2, 0, server.Client(), testLogger())
		_, _, err := client.Encode(ctx, []string{"alpha"})

		var provErr *domain.EmbeddingProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		client := NewEmbeddingClient("http://unused", "", "embed-test", 2, 0, nil, testLogger())
		vectors, usage, err := client.Encode(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, vectors)
		assert.Zero(t, usage.Tokens)
	})
}

func TestEmbedBackOffSchedule(t *testing.T) {
	bo := newEmbedBackOff()
	assert.Equal(t, embedInitialInterval, bo.InitialInterval)
	assert.Equal(t, 2.0, bo.Multiplier, "retry interval doubles per attempt")
}

func TestInheritanceClient_GetInheritance(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes a responsibility record", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/inheritance", r.URL.Path)
			assert.Equal(t, "AC-2", r.URL.Query().Get("control_id"))
			assert.Equal(t, "acme-cloud", r.URL.Query().Get("provider"))
			_, _ = w.Write([]byte(`{
				"control_id": "AC-2",
				"provider_name": "acme-cloud",
				"responsibility": "shared",
				"narrative": "Provider manages the IAM control plane."
			}`))
		}))
		defer server.Close()

		client := NewInheritanceClient(server.URL, 5)
		record, err := client.GetInheritance(ctx, "AC-2", "acme-cloud")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "AC-2", record.ControlID)
		assert.Equal(t, domain.ResponsibilityShared, record.Responsibility)
	})

	t.Run("404 means no record, not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		client := NewInheritanceClient(server.URL, 5)
		record, err := client.GetInheritance(ctx, "ZZ-99", "acme-cloud")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("other statuses are errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "oops", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewInheritanceClient(server.URL, 5)
		_, err := client.GetInheritance(ctx, "AC-2", "acme-cloud")
		assert.Error(t, err)
	})
}
