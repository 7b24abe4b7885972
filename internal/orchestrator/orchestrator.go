package orchestrator

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/emotion"
	"mr-assistant/internal/history"
	"mr-assistant/internal/llm"
	"mr-assistant/internal/metrics"
	"mr-assistant/internal/userlock"
)

// Orchestrator turns a user utterance into a reply: it adds the fresh
// emotion snapshot to the prompt, asks the chat backend and records the
// exchange in the conversation history.
type Orchestrator struct {
	client  llm.Client
	history *history.Manager
	memory  emotion.Memory
	locks   *userlock.Keyed
}

func New(client llm.Client, h *history.Manager, memory emotion.Memory) *Orchestrator {
	return &Orchestrator{client: client, history: h, memory: memory, locks: userlock.New()}
}

// BuildPrompt wraps text with the rendered emotions. Without a snapshot the
// text goes through unchanged.
func BuildPrompt(text string, snap *emotion.Snapshot) string {
	if snap == nil || len(snap.Probs) == 0 {
		return text
	}
	return fmt.Sprintf("L'utente ha detto: «%s». Le emozioni rilevate sono %s. Rispondi in modo appropriato.", text, snap.Render())
}

// GenerateResponse answers one utterance. Turns of the same user run one at a
// time. A backend failure becomes an "Errore: ..." reply marked Degraded and
// is recorded in the history like any other reply.
func (o *Orchestrator) GenerateResponse(ctx context.Context, userID, text string) (string, llm.Response) {
	unlock := o.locks.Lock(userID)
	defer unlock()

	var snap *emotion.Snapshot
	if o.memory != nil {
		if s, ok := o.memory.GetRecent(ctx, userID); ok {
			snap = s
		}
	}
	prompt := BuildPrompt(text, snap)

	messages := append(o.history.Get(userID), llm.Message{Role: llm.RoleUser, Content: prompt})
	resp, err := o.client.Generate(ctx, messages)
	if err != nil {
		log.WithFields(log.Fields{"user_id": userID, "backend": resp.Backend}).Errorf("chat backend failed: %v", err)
		resp.Content = fmt.Sprintf("Errore: %v", err)
		resp.Degraded = true
		metrics.DegradedReplies.WithLabelValues("llm").Inc()
	}
	metrics.Turns.WithLabelValues(resp.Backend).Inc()
	if resp.LatencyMs > 0 {
		metrics.ObserveStage("llm", resp.LatencyMs)
	}

	o.history.AddExchange(userID, prompt, resp.Content)
	return resp.Content, resp
}
