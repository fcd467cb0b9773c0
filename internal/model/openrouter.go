package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// OpenRouterBackend generates code through the OpenRouter chat-completions
// API. It does not implement TokenStreamer; the handle falls back to
// one-shot generation.
type OpenRouterBackend struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenRouterBackend creates an OpenRouter backend. An empty baseURL falls
// back to the public endpoint.
func NewOpenRouterBackend(apiKey, baseURL, modelName string) *OpenRouterBackend {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if modelName == "" {
		modelName = "qwen/qwen-2.5-coder-32b-instruct:free"
	}
	return &OpenRouterBackend{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   modelName,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// OpenRouterFactory adapts NewOpenRouterBackend to the registry's Factory
// contract. Recognized options: api_key, base_url, model. A missing API key
// fails at load time, not at first call.
func OpenRouterFactory(_ string, options map[string]string) (Backend, error) {
	if options["api_key"] == "" {
		return nil, errors.New("openrouter API key required")
	}
	return NewOpenRouterBackend(options["api_key"], options["base_url"], options["model"]), nil
}

// Generate implements Backend.
func (b *OpenRouterBackend) Generate(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model": b.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": params.Temperature,
		"max_tokens":  maxTokens,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/chat/completions", b.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.apiKey))
	httpReq.Header.Set("X-Title", "PseudoTran")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openrouter returned status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openrouter returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Close implements Backend.
func (b *OpenRouterBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
