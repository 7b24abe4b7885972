package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mr-assistant/internal/emotion"
)

func int64Ptr(v int64) *int64 { return &v }

func sampleTurns() []Turn {
	temp := 0.7
	tokens := 42
	snap := emotion.NewSnapshot([]emotion.Prediction{{Label: "happy", Prob: 0.5}, {Label: "sad", Prob: 0.5}},
		30*time.Second, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	return []Turn{
		{
			Timestamp:     "2025-07-01T10-00-00",
			TurnID:        1,
			Transcription: "Ciao Jarvis",
			Response:      "Ciao! Come posso aiutarti?",
			Words:         2,
			Chars:         11,
			LLM:           &LLMMeta{Backend: "openai", Model: "gpt-4o-mini", Temperature: &temp, TotalTokens: &tokens, LatencyMs: 812},
			LatenciesMs:   map[string]int64{"llm": 812},
		},
		{
			Timestamp:     "2025-07-01T10-00-10",
			TurnID:        2,
			DeltaPrevMs:   int64Ptr(10000),
			Transcription: "Qual è la temperatura?",
			Response:      "Errore: timeout",
			Words:         4,
			Chars:         22,
			Emotions:      Emotions{Snapshot: &snap},
			LatenciesMs:   map[string]int64{"wav": 12, "emo": 300},
			ResetCount:    1,
			Degraded:      true,
		},
	}
}

func TestEmotionsSentinel(t *testing.T) {
	var buf bytes.Buffer
	doc := NewDocument("u")
	doc.Append(Turn{Timestamp: "2025-07-01T10-00-00", TurnID: 1})
	if err := Encode(&buf, doc); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(buf.String(), `"emotions": "Non rilevate"`) {
		t.Fatalf("missing sentinel in %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"delta_prev_ms": null`) {
		t.Fatalf("first turn delta must be null: %s", buf.String())
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Active()[0].Emotions.Snapshot != nil {
		t.Fatalf("sentinel must decode to no snapshot")
	}
}

func TestDecodeNormalizesLegacyDocument(t *testing.T) {
	doc, err := Decode(strings.NewReader(`{"user_id":"u","session_id":3,"sessions":[[{"timestamp":"2025-07-01T10-00-00","transcription":"hi","emotions":"Non rilevate","chatgpt_response":"ciao"}]]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Sessions) != 3 || len(doc.Active()) != 0 {
		t.Fatalf("active session must be padded: %+v", doc.Sessions)
	}
	if doc.Sessions[0][0].Transcription != "hi" {
		t.Fatalf("existing turns must survive")
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := Decode(strings.NewReader("{not json")); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLegacyEmotionMapSurvivesRewrite(t *testing.T) {
	in := `{"user_id":"E09","session_id":1,"sessions":[[{"timestamp":"2025-07-01T10-00-00","turn_id":1,"transcription":"ciao","chatgpt_response":"salve","emotions":{"happy":"75.33%","sad":"10.00%"}}]]}`
	doc, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	emo := doc.Active()[0].Emotions
	if emo.Snapshot != nil || len(emo.Raw) == 0 {
		t.Fatalf("percentage map must not be read as a snapshot: %+v", emo)
	}

	doc.Append(Turn{Timestamp: "2025-07-01T10-00-05", Transcription: "altro"})
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"happy": "75.33%"`, `"sad": "10.00%"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("legacy emotions lost, missing %s in:\n%s", want, out)
		}
	}
	if strings.Contains(out, `"probs": null`) {
		t.Fatalf("legacy map rewritten as empty snapshot:\n%s", out)
	}

	again, err := Decode(strings.NewReader(out))
	if err != nil {
		t.Fatalf("decode again: %v", err)
	}
	if again.Active()[0].Emotions.Snapshot != nil || len(again.Active()[0].Emotions.Raw) == 0 {
		t.Fatalf("legacy map must stay raw after a rewrite")
	}
	if again.Active()[1].Emotions.Raw != nil || again.Active()[1].Emotions.Snapshot != nil {
		t.Fatalf("new turn without emotions must keep the sentinel")
	}
}

func TestSnapshotObjectDecodes(t *testing.T) {
	var e Emotions
	if err := e.UnmarshalJSON([]byte(`{"probs":{"happy":1},"top_emotion":"happy","entropy":0}`)); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Snapshot == nil || e.Snapshot.TopEmotion != "happy" || e.Raw != nil {
		t.Fatalf("snapshot object must decode as snapshot: %+v", e)
	}
}

func TestTurnTime(t *testing.T) {
	got, err := Turn{Timestamp: "2025-07-01T10-00-10"}.Time()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2025, 7, 1, 10, 0, 10, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	turns := sampleTurns()
	for _, tr := range turns {
		tr := tr
		if err := s.Update(ctx, "alice", func(d *Document) error {
			d.Append(tr)
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	doc, err := s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.UserID != "alice" || doc.SessionID != 1 {
		t.Fatalf("unexpected header: %+v", doc)
	}
	got := doc.Active()
	if len(got) != len(turns) {
		t.Fatalf("want %d turns, got %d", len(turns), len(got))
	}
	for i := range turns {
		if !reflect.DeepEqual(normalizeTurn(got[i]), normalizeTurn(turns[i])) {
			t.Fatalf("turn %d mismatch:\nwant %+v\ngot  %+v", i, turns[i], got[i])
		}
	}

	sentinel := errors.New("stop")
	if err := s.Update(ctx, "alice", func(d *Document) error {
		d.Append(Turn{TurnID: 99})
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("fn error must propagate, got %v", err)
	}
	doc, _ = s.Load(ctx, "alice")
	if len(doc.Active()) != len(turns) {
		t.Fatalf("failed update must not be written")
	}

	if err := s.Update(ctx, "bob", func(d *Document) error { return nil }); err != nil {
		t.Fatalf("update bob: %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(users, []string{"alice", "bob"}) {
		t.Fatalf("unexpected users %v", users)
	}

	if err := s.Update(ctx, "../etc", func(d *Document) error { return nil }); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func runConcurrentAppends(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "carol", func(d *Document) error {
				d.Append(Turn{TurnID: len(d.Active()) + 1})
				return nil
			})
		}()
	}
	wg.Wait()
	doc, err := s.Load(ctx, "carol")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Active()) != 8 {
		t.Fatalf("lost appends: %d", len(doc.Active()))
	}
	for i, tr := range doc.Active() {
		if tr.TurnID != i+1 {
			t.Fatalf("turn ids must be strictly increasing, got %d at %d", tr.TurnID, i)
		}
	}
}

// normalizeTurn drops monotonic clock readings so DeepEqual compares wall time.
func normalizeTurn(tr Turn) Turn {
	if tr.Emotions.Snapshot != nil {
		s := *tr.Emotions.Snapshot
		s.EmoTimestamp = s.EmoTimestamp.UTC()
		tr.Emotions.Snapshot = &s
	}
	return tr
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runStoreContract(t, s)
}

func TestFileStoreConcurrentAppends(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runConcurrentAppends(t, s)
}

func TestFileStoreCorruptStartsFresh(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dave.json"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Update(context.Background(), "dave", func(d *Document) error {
		d.Append(Turn{TurnID: 1})
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := s.Load(context.Background(), "dave")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.SessionID != 1 || len(doc.Active()) != 1 {
		t.Fatalf("expected fresh document with one turn: %+v", doc)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	runStoreContract(t, NewRedisStore(client))
}

func TestRedisStoreConcurrentAppends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 32})
	defer client.Close()
	runConcurrentAppends(t, NewRedisStore(client))
}

func TestLoadAllSkipsBroken(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir)
	ctx := context.Background()
	_ = s.Update(ctx, "a", func(d *Document) error { d.Append(Turn{TurnID: 1}); return nil })
	_ = os.WriteFile(filepath.Join(dir, "b.json"), []byte("nope"), 0o644)

	docs, err := LoadAll(ctx, s)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(docs) != 1 || docs[0].UserID != "a" {
		t.Fatalf("unexpected docs %+v", docs)
	}
}
