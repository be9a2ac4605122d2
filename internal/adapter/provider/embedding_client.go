package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"evidence-engine/internal/domain"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	// MaxEmbedBatch is the provider's per-request input ceiling; larger
	// slices are split transparently.
	MaxEmbedBatch = 100

	embedMaxAttempts     = 4
	embedInitialInterval = 500 * time.Millisecond
	embedRetryMultiplier = 2.0
	defaultEmbedTimeout  = 30 * time.Second
)

// newEmbedBackOff builds the retry schedule: 500ms initial, doubling per
// attempt, jittered by the library's randomization factor.
func newEmbedBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = embedInitialInterval
	bo.Multiplier = embedRetryMultiplier
	return bo
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbeddingClient talks to an OpenAI-compatible embeddings endpoint with
// jittered exponential retry on transient failures.
type EmbeddingClient struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewEmbeddingClient constructs a client for the given endpoint and model.
// dimension is the expected vector width; mismatched responses are rejected.
func NewEmbeddingClient(baseURL, apiKey, model string, dimension, requestsPerMinute int, httpClient *http.Client, logger *slog.Logger) *EmbeddingClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultEmbedTimeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}
	return &EmbeddingClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		client:    httpClient,
		limiter:   limiter,
		logger:    logger,
	}
}

// Dimension returns the configured vector width.
func (e *EmbeddingClient) Dimension() int {
	return e.dimension
}

// Version returns the wrapped model name.
func (e *EmbeddingClient) Version() string {
	return e.model
}

// Encode embeds texts, splitting into provider-sized batches. Exhausting the
// retry budget surfaces as an EmbeddingProviderError so callers can park
// chunks as pending instead of failing ingestion.
func (e *EmbeddingClient) Encode(ctx context.Context, texts []string) ([][]float32, domain.EmbeddingUsage, error) {
	var usage domain.EmbeddingUsage
	if len(texts) == 0 {
		return nil, usage, nil
	}

	start := time.Now()
	vectors := make([][]float32, 0, len(texts))

	for offset := 0; offset < len(texts); offset += MaxEmbedBatch {
		end := offset + MaxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, batchTokens, err := e.encodeBatch(ctx, texts[offset:end])
		if err != nil {
			return nil, usage, &domain.EmbeddingProviderError{
				Provider: e.model,
				Attempts: embedMaxAttempts,
				Err:      err,
			}
		}
		vectors = append(vectors, batch...)
		usage.Tokens += batchTokens
	}

	e.logger.Info("embed_completed",
		slog.String("model", e.model),
		slog.Int("text_count", len(texts)),
		slog.Int("total_tokens", usage.Tokens),
		slog.Duration("elapsed", time.Since(start)))

	return vectors, usage, nil
}

func (e *EmbeddingClient) encodeBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	type batchResult struct {
		vectors [][]float32
		tokens  int
	}

	result, err := backoff.Retry(ctx, func() (batchResult, error) {
		vectors, tokens, err := e.doRequest(ctx, texts)
		if err != nil {
			return batchResult{}, err
		}
		return batchResult{vectors: vectors, tokens: tokens}, nil
	}, backoff.WithBackOff(newEmbedBackOff()), backoff.WithMaxTries(embedMaxAttempts))
	if err != nil {
		return nil, 0, err
	}
	return result.vectors, result.tokens, nil
}

func (e *EmbeddingClient) doRequest(ctx context.Context, texts []string) ([][]float32, int, error) {
	jsonData, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("failed to marshal embed request: %w", err))
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, 0, backoff.Permanent(err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("failed to create embed request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("embed_call_failed",
			slog.String("model", e.model),
			slog.String("error", err.Error()))
		return nil, 0, fmt.Errorf("failed to call embeddings endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, string(body))
		// Auth and validation failures do not heal with retries.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, 0, backoff.Permanent(err)
		}
		e.logger.Warn("embed_bad_status",
			slog.String("model", e.model),
			slog.Int("status", resp.StatusCode))
		return nil, 0, err
	}

	var respBody embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, 0, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(respBody.Data) != len(texts) {
		return nil, 0, backoff.Permanent(fmt.Errorf("embedding count mismatch: got %d, want %d", len(respBody.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range respBody.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, 0, backoff.Permanent(fmt.Errorf("embedding index %d out of range", item.Index))
		}
		if e.dimension > 0 && len(item.Embedding) != e.dimension {
			return nil, 0, backoff.Permanent(fmt.Errorf("embedding dimension %d, want %d", len(item.Embedding), e.dimension))
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, respBody.Usage.TotalTokens, nil
}

var _ domain.VectorEncoder = (*EmbeddingClient)(nil)
