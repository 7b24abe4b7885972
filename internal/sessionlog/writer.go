package sessionlog

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/emotion"
	"mr-assistant/internal/llm"
	"mr-assistant/internal/storage"
)

// Writer appends turns to the per-user session document and moves users to
// a new session on reset.
type Writer struct {
	store  storage.Store
	memory emotion.Memory
	now    func() time.Time
}

func NewWriter(store storage.Store, memory emotion.Memory) *Writer {
	return &Writer{store: store, memory: memory, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// BumpSession starts a new session for the user. A user without a document
// gets one with session_id 1.
func (w *Writer) BumpSession(ctx context.Context, userID string) (int, error) {
	var sessionID int
	err := w.store.Update(ctx, userID, func(d *storage.Document) error {
		if !d.IsNew() {
			d.SessionID++
		}
		d.ResetCount++
		d.Normalize()
		sessionID = d.SessionID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bump session for %s: %w", userID, err)
	}
	log.WithFields(log.Fields{"user_id": userID, "session_id": sessionID}).Info("session bumped")
	return sessionID, nil
}

// SaveTurn appends one exchange to the active session. The fresh emotion
// snapshot, if any, is copied into the turn.
func (w *Writer) SaveTurn(ctx context.Context, userID, text, reply string, resp llm.Response, latencies map[string]int64) (storage.Turn, error) {
	now := w.now()
	ts := now.Format(storage.TimestampLayout)

	var emo storage.Emotions
	if w.memory != nil {
		if snap, ok := w.memory.GetRecent(ctx, userID); ok {
			emo.Snapshot = snap
		}
	}

	var saved storage.Turn
	err := w.store.Update(ctx, userID, func(d *storage.Document) error {
		active := d.Active()
		turn := storage.Turn{
			Timestamp:     ts,
			TurnID:        len(active) + 1,
			Transcription: text,
			Response:      reply,
			Words:         len(strings.Fields(text)),
			Chars:         utf8.RuneCountInString(text),
			Emotions:      emo,
			LLM:           llmMeta(resp),
			LatenciesMs:   copyLatencies(latencies),
			ResetCount:    d.ResetCount,
			Degraded:      resp.Degraded,
		}
		if len(active) > 0 {
			turn.DeltaPrevMs = deltaMs(active[len(active)-1], ts)
		}
		d.Append(turn)
		saved = turn
		return nil
	})
	if err != nil {
		return storage.Turn{}, fmt.Errorf("save turn for %s: %w", userID, err)
	}
	return saved, nil
}

// deltaMs is the distance between two second-resolution timestamps. An
// unparseable previous timestamp leaves the delta unknown.
func deltaMs(prev storage.Turn, ts string) *int64 {
	pt, err := prev.Time()
	if err != nil {
		return nil
	}
	ct, err := time.ParseInLocation(storage.TimestampLayout, ts, time.Local)
	if err != nil {
		return nil
	}
	d := ct.Sub(pt).Milliseconds()
	return &d
}

func llmMeta(resp llm.Response) *storage.LLMMeta {
	if resp.Backend == "" && resp.Model == "" && resp.LatencyMs == 0 {
		return nil
	}
	return &storage.LLMMeta{
		Backend:          resp.Backend,
		Model:            resp.Model,
		Temperature:      resp.Temperature,
		TopP:             resp.TopP,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		LatencyMs:        resp.LatencyMs,
	}
}

func copyLatencies(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
