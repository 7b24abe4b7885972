package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const BackendOllama = "ollama"

// OllamaClient talks to a locally served model through /api/generate.
// Chat messages are flattened into a single "role: content" prompt.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Model       string `json:"model"`
	Response    string `json:"response"`
	Done        bool   `json:"done"`
	PromptCount int    `json:"prompt_eval_count"`
	EvalCount   int    `json:"eval_count"`
}

func NewOllama(host, model string) *OllamaClient {
	return &OllamaClient{
		baseURL:    strings.TrimRight(host, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func flattenPrompt(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func (c *OllamaClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	out := Response{Backend: BackendOllama, Model: c.model}

	body, err := json.Marshal(ollamaRequest{Model: c.model, Prompt: flattenPrompt(messages), Stream: false})
	if err != nil {
		return out, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		out.LatencyMs = time.Since(start).Milliseconds()
		return out, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		out.LatencyMs = time.Since(start).Milliseconds()
		return out, fmt.Errorf("[Ollama] %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		out.LatencyMs = time.Since(start).Milliseconds()
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	out.LatencyMs = time.Since(start).Milliseconds()
	out.Content = strings.TrimSpace(or.Response)
	if or.Model != "" {
		out.Model = or.Model
	}
	out.PromptTokens = intPtr(or.PromptCount)
	out.CompletionTokens = intPtr(or.EvalCount)
	out.TotalTokens = intPtr(or.PromptCount + or.EvalCount)
	return out, nil
}
