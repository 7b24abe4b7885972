package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"mr-assistant/internal/emotion"
)

// TimestampLayout is the second-resolution wall clock format of Turn.Timestamp.
const TimestampLayout = "2006-01-02T15-04-05"

// NoEmotions is persisted in place of a snapshot when none was fresh.
const NoEmotions = "Non rilevate"

// Document is the per-user session log. Sessions[SessionID-1] is the active
// session and always exists after Normalize.
type Document struct {
	UserID     string   `json:"user_id"`
	SessionID  int      `json:"session_id"`
	ResetCount int      `json:"reset_count"`
	Sessions   [][]Turn `json:"sessions"`

	created bool
}

// Turn is one user utterance and the assistant reply.
type Turn struct {
	Timestamp     string           `json:"timestamp"`
	TurnID        int              `json:"turn_id"`
	DeltaPrevMs   *int64           `json:"delta_prev_ms"`
	Transcription string           `json:"transcription"`
	Response      string           `json:"chatgpt_response"`
	Words         int              `json:"words"`
	Chars         int              `json:"chars"`
	Emotions      Emotions         `json:"emotions"`
	LLM           *LLMMeta         `json:"llm,omitempty"`
	LatenciesMs   map[string]int64 `json:"latencies_ms"`
	ResetCount    int              `json:"reset_count"`
	Degraded      bool             `json:"degraded,omitempty"`
}

// LLMMeta describes the backend call behind a reply.
type LLMMeta struct {
	Backend          string   `json:"backend"`
	Model            string   `json:"model"`
	Temperature      *float64 `json:"temperature"`
	TopP             *float64 `json:"top_p"`
	PromptTokens     *int     `json:"prompt_tokens"`
	CompletionTokens *int     `json:"completion_tokens"`
	TotalTokens      *int     `json:"total_tokens"`
	LatencyMs        int64    `json:"latency_ms"`
}

// Emotions holds either a snapshot or nothing; nothing is written as the
// NoEmotions string. Objects that are not snapshots, such as the
// {"happy": "75.33%"} maps written by older servers, are kept in Raw and
// written back unchanged.
type Emotions struct {
	Snapshot *emotion.Snapshot
	Raw      json.RawMessage
}

func (e Emotions) MarshalJSON() ([]byte, error) {
	switch {
	case e.Snapshot != nil:
		return json.Marshal(e.Snapshot)
	case len(e.Raw) > 0:
		return e.Raw, nil
	}
	return json.Marshal(NoEmotions)
}

func (e *Emotions) UnmarshalJSON(data []byte) error {
	e.Snapshot, e.Raw = nil, nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		// sentinel, null or any legacy string
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	_, hasProbs := fields["probs"]
	_, hasTop := fields["top_emotion"]
	if !hasProbs && !hasTop {
		e.Raw = append(json.RawMessage(nil), data...)
		return nil
	}
	var s emotion.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	e.Snapshot = &s
	return nil
}

// Time parses the turn timestamp in the local zone.
func (t Turn) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, t.Timestamp, time.Local)
}

func NewDocument(userID string) *Document {
	return &Document{UserID: userID, SessionID: 1, Sessions: [][]Turn{{}}, created: true}
}

// IsNew reports whether the document was created in memory rather than
// loaded from the store.
func (d *Document) IsNew() bool { return d.created }

// Normalize repairs documents written by older tools: a missing session
// counter means 1 and the active session slot is padded into existence.
func (d *Document) Normalize() {
	if d.SessionID < 1 {
		d.SessionID = 1
	}
	for len(d.Sessions) < d.SessionID {
		d.Sessions = append(d.Sessions, []Turn{})
	}
	for i := range d.Sessions {
		if d.Sessions[i] == nil {
			d.Sessions[i] = []Turn{}
		}
	}
}

// Active returns the turns of the current session.
func (d *Document) Active() []Turn {
	d.Normalize()
	return d.Sessions[d.SessionID-1]
}

// Append adds a turn to the current session.
func (d *Document) Append(t Turn) {
	d.Normalize()
	d.Sessions[d.SessionID-1] = append(d.Sessions[d.SessionID-1], t)
}

// Store persists session documents. Update runs fn on the current document
// (a fresh one when absent or unreadable) and writes the result back as one
// atomic step per user.
type Store interface {
	Load(ctx context.Context, userID string) (*Document, error)
	Update(ctx context.Context, userID string, fn func(*Document) error) error
	ListUsers(ctx context.Context) ([]string, error)
}

// Decode reads a document. Absent fields are normalized.
func Decode(r io.Reader) (*Document, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	d.Normalize()
	return &d, nil
}

// Encode writes d indented by four spaces without escaping non-ASCII text.
func Encode(w io.Writer, d *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}

// LoadAll returns every document in s ordered by user id. Documents that
// fail to load are skipped.
func LoadAll(ctx context.Context, s Store) ([]*Document, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(users))
	for _, u := range users {
		doc, err := s.Load(ctx, u)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
