package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultOllamaContextLength matches the default context window of the small
// local models the pipeline targets.
const DefaultOllamaContextLength = 8192

// OllamaBackend generates code through a local Ollama server.
type OllamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaBackend creates a backend talking to an Ollama server. An empty
// baseURL falls back to the local default.
func NewOllamaBackend(baseURL, modelName string) *OllamaBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5-coder:7b"
	}
	return &OllamaBackend{
		baseURL: baseURL,
		model:   modelName,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// OllamaFactory adapts NewOllamaBackend to the registry's Factory contract.
// Recognized options: base_url, model.
func OllamaFactory(_ string, options map[string]string) (Backend, error) {
	return NewOllamaBackend(options["base_url"], options["model"]), nil
}

func (b *OllamaBackend) options(params SamplingParams) map[string]any {
	opts := map[string]any{"temperature": params.Temperature}
	if params.MaxTokens > 0 {
		opts["num_predict"] = params.MaxTokens
	}
	return opts
}

// Generate implements Backend.
func (b *OllamaBackend) Generate(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	reqBody := ollamaRequest{
		Model:   b.model,
		Prompt:  prompt,
		Stream:  false,
		Options: b.options(params),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/generate", b.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Response, nil
}

// StreamGenerate implements TokenStreamer using Ollama's newline-delimited
// JSON streaming mode.
func (b *OllamaBackend) StreamGenerate(ctx context.Context, prompt string, params SamplingParams, onToken func(string)) error {
	reqBody := ollamaRequest{
		Model:   b.model,
		Prompt:  prompt,
		Stream:  true,
		Options: b.options(params),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/generate", b.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var chunk ollamaResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			return fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		if chunk.Response != "" {
			onToken(chunk.Response)
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}

// Close implements Backend. The HTTP client holds no per-model resources;
// idle connections are released.
func (b *OllamaBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
