package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

const BackendOpenAI = "openai"

type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	topP        float32
}

func NewOpenAI(apiKey, baseURL, model string, temperature, topP float32) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: temperature,
		topP:        topP,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		Temperature: c.temperature,
		TopP:        c.topP,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Response{Backend: BackendOpenAI, Model: c.model, LatencyMs: latency}, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{Backend: BackendOpenAI, Model: c.model, LatencyMs: latency}, fmt.Errorf("openai returned no choices")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Response{
		Content:          resp.Choices[0].Message.Content,
		Backend:          BackendOpenAI,
		Model:            model,
		Temperature:      floatPtr(c.temperature),
		TopP:             floatPtr(c.topP),
		PromptTokens:     intPtr(resp.Usage.PromptTokens),
		CompletionTokens: intPtr(resp.Usage.CompletionTokens),
		TotalTokens:      intPtr(resp.Usage.TotalTokens),
		LatencyMs:        latency,
	}, nil
}
