package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response carries the reply plus whatever call metadata the backend reports.
// Token counts are nil when the backend does not report usage.
type Response struct {
	Content          string
	Backend          string
	Model            string
	Temperature      *float64
	TopP             *float64
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
	LatencyMs        int64
	Degraded         bool
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

func intPtr(v int) *int { return &v }

func floatPtr(v float32) *float64 {
	f := float64(v)
	return &f
}
