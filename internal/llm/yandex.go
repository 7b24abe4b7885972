package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/Morwran/yagpt"
)

const BackendYandex = "yandex"

type YandexClient struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	return &YandexClient{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (c *YandexClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	yaMsgs := make([]yagpt.Message, 0, len(messages))
	for _, m := range messages {
		yaMsgs = append(yaMsgs, yagpt.Message{Role: m.Role, Content: m.Content})
	}

	out := Response{Backend: BackendYandex, Model: yagpt.YaModelLite}
	start := time.Now()
	resp, err := c.ya.CompletionWithCtx(ctx, c.iamToken, yaMsgs)
	out.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		return out, fmt.Errorf("yagpt completion failed: %w", err)
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return out, fmt.Errorf("yagpt returned empty response")
	}
	out.Content = resp.Alternatives[0].Message.Content
	out.PromptTokens = intPtr(int(resp.Usage.InputTextTokens))
	out.CompletionTokens = intPtr(int(resp.Usage.CompletionTokens))
	out.TotalTokens = intPtr(int(resp.Usage.TotalTokens))
	return out, nil
}
