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

	"golang.org/x/time/rate"
)

const defaultChatTimeout = 120 * time.Second

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatClient talks to an OpenAI-compatible chat-completions endpoint.
// A token-bucket limiter keeps batch runs inside the provider's rate limit.
type ChatClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewChatClient constructs a client for the given endpoint and model.
// requestsPerMinute <= 0 disables rate limiting.
func NewChatClient(baseURL, apiKey, model string, requestsPerMinute int, httpClient *http.Client, logger *slog.Logger) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultChatTimeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

// Model returns the wrapped model name.
func (c *ChatClient) Model() string {
	return c.model
}

// Complete sends the messages and returns the assistant reply. The per-call
// timeout in opts bounds the whole request including rate-limit waits.
func (c *ChatClient) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (*domain.LLMResponse, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.ModelInferenceError{Model: c.model, Stage: "call", Err: err}
	}

	start := time.Now()

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, len(messages)),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	for i, m := range messages {
		reqBody.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	if opts.JSONOnly {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonPayload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("chat_call_failed",
			slog.String("model", c.model),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return nil, &domain.ModelInferenceError{Model: c.model, Stage: "call", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("chat_bad_status",
			slog.String("model", c.model),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", time.Since(start)))
		return nil, &domain.ModelInferenceError{
			Model: c.model,
			Stage: "call",
			Err:   fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(body)),
		}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &domain.ModelInferenceError{
			Model: c.model,
			Stage: "call",
			Err:   fmt.Errorf("failed to decode chat response: %w", err),
		}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &domain.ModelInferenceError{
			Model: c.model,
			Stage: "call",
			Err:   fmt.Errorf("chat response has no choices"),
		}
	}

	choice := chatResp.Choices[0]

	c.logger.Info("chat_completed",
		slog.String("model", c.model),
		slog.String("finish_reason", choice.FinishReason),
		slog.Int("total_tokens", chatResp.Usage.TotalTokens),
		slog.Duration("elapsed", time.Since(start)))

	return &domain.LLMResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		TokensUsed: chatResp.Usage.TotalTokens,
		Done:       choice.FinishReason == "stop",
	}, nil
}

var _ domain.ChatClient = (*ChatClient)(nil)
