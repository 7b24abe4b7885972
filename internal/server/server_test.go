package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gin-gonic/gin"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/audio"
	"mr-assistant/internal/config"
	"mr-assistant/internal/emotion"
	"mr-assistant/internal/history"
	"mr-assistant/internal/llm"
	"mr-assistant/internal/orchestrator"
	"mr-assistant/internal/participants"
	"mr-assistant/internal/sessionlog"
	"mr-assistant/internal/storage"
)

type fakeLLM struct {
	last []llm.Message
	err  error
}

func (f *fakeLLM) Generate(_ context.Context, msgs []llm.Message) (llm.Response, error) {
	f.last = msgs
	if f.err != nil {
		return llm.Response{Backend: "fake"}, f.err
	}
	return llm.Response{Content: "Certo!", Backend: "fake", Model: "m", LatencyMs: 42}, nil
}

type fakeClassifier struct {
	calls int
	err   error
}

func (f *fakeClassifier) Predict(context.Context, []float32, int) ([]emotion.Prediction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []emotion.Prediction{{Label: "happy", Prob: 0.75}, {Label: "sad", Prob: 0.25}}, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, string) (string, error) { return f.text, f.err }

type fixture struct {
	srv        *Server
	router     *gin.Engine
	store      storage.Store
	llm        *fakeLLM
	classifier *fakeClassifier
	history    *history.Manager
	memory     *emotion.MemoryStore
}

func newFixture(t *testing.T, tr fakeTranscriber) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	reg, _ := participants.NewWithRepo(nil)
	pipe := config.Pipeline{SampleRate: 100, ThresholdSec: 2, EmotionTTL: time.Minute, MaxAudioDuration: 30 * time.Second, SystemPrompt: "sys"}
	mem := emotion.NewMemoryStore(pipe.EmotionTTL)
	h := history.NewManager(pipe.SystemPrompt)
	fl := &fakeLLM{}
	fc := &fakeClassifier{}

	srv := New(Deps{
		Pipeline:     pipe,
		Accumulator:  audio.NewAccumulator(pipe.SampleRate, pipe.ThresholdSec),
		Normalizer:   audio.NewNormalizer(pipe.SampleRate),
		Classifier:   fc,
		Memory:       mem,
		History:      h,
		Orchestrator: orchestrator.New(fl, h, mem),
		Writer:       sessionlog.NewWriter(st, mem),
		Store:        st,
		Transcriber:  tr,
		Participants: reg,
		Rules:        analytics.DefaultRules(),
	})
	return &fixture{srv: srv, router: srv.Router(), store: st, llm: fl, classifier: fc, history: h, memory: mem}
}

// wavBytes encodes seconds of a mono 100 Hz tone.
func wavBytes(t *testing.T, seconds int) []byte {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	data := make([]int, 100*seconds)
	for i := range data {
		data[i] = (i%20 - 10) * 100
	}
	enc := wav.NewEncoder(f, 100, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 100}, Data: data, SourceBitDepth: 16}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = f.Close()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return b
}

func multipartRequest(t *testing.T, path, user string, audioData []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if user != "" {
		_ = mw.WriteField("user_id", user)
	}
	if audioData != nil {
		fw, err := mw.CreateFormFile("audio", "chunk.wav")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write(audioData)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(f *fixture, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthcheck(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	w, _ := serve(f, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("missing request id")
	}
}

func TestChatMessage(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})

	w, out := serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"E01","text":"  "}`))
	if w.Code != http.StatusBadRequest || out["error"] != "Campo 'text' mancante" {
		t.Fatalf("empty text must be rejected: %d %v", w.Code, out)
	}
	if _, err := f.store.Load(context.Background(), "E01"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected request must not write state")
	}

	w, out = serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"E01","text":"Qual è il prossimo passo?","emotions":{"happy":"75.00%","sad":"25.00%"}}`))
	if w.Code != http.StatusOK || out["response"] != "Certo!" || out["turn_id"] != float64(1) {
		t.Fatalf("unexpected response %d %v", w.Code, out)
	}
	last := f.llm.last[len(f.llm.last)-1].Content
	if !strings.Contains(last, "happy: 75.00%") {
		t.Fatalf("client emotions must reach the prompt: %q", last)
	}

	doc, err := f.store.Load(context.Background(), "E01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	turn := doc.Active()[0]
	if turn.Emotions.Snapshot == nil || turn.Emotions.Snapshot.TopEmotion != "happy" || turn.LatenciesMs["llm"] != 42 {
		t.Fatalf("unexpected persisted turn %+v", turn)
	}
}

func TestChatMessageBackendError(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	f.llm.err = errors.New("rate limited")
	w, out := serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"u","text":"ciao"}`))
	if w.Code != http.StatusOK || out["response"] != "Errore: rate limited" || out["degraded"] != true {
		t.Fatalf("unexpected %d %v", w.Code, out)
	}
	doc, _ := f.store.Load(context.Background(), "u")
	if !doc.Active()[0].Degraded {
		t.Fatalf("degraded flag must be persisted")
	}
}

func TestDetectEmotionsAccumulates(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})

	w, out := serve(f, multipartRequest(t, "/detect_emotions", "E02", nil))
	if w.Code != http.StatusBadRequest || out["error"] != "Nessun file audio ricevuto" {
		t.Fatalf("missing audio must be rejected: %d %v", w.Code, out)
	}

	chunk := wavBytes(t, 1)
	w, out = serve(f, multipartRequest(t, "/detect_emotions", "E02", chunk))
	if w.Code != http.StatusOK || out["inferred"] != false || f.classifier.calls != 0 {
		t.Fatalf("first second must only be buffered: %d %v", w.Code, out)
	}

	w, out = serve(f, multipartRequest(t, "/detect_emotions", "E02", chunk))
	if w.Code != http.StatusOK || out["inferred"] != true || f.classifier.calls != 1 {
		t.Fatalf("threshold reached must classify: %d %v", w.Code, out)
	}
	emos, _ := out["emotions"].(map[string]any)
	if emos["happy"] != "75.00%" {
		t.Fatalf("unexpected emotions %v", out["emotions"])
	}
	snap, ok := f.memory.GetRecent(context.Background(), "E02")
	if !ok || snap.TopEmotion != "happy" || snap.ChunkDurationMs != 2000 {
		t.Fatalf("memory not updated: %+v", snap)
	}
}

func TestDetectEmotionsDisabled(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	f.srv.Classifier = nil
	f.router = f.srv.Router()
	w, out := serve(f, multipartRequest(t, "/detect_emotions", "u", wavBytes(t, 1)))
	if w.Code != http.StatusBadRequest || out["error"] != "Riconoscimento emozioni disabilitato" {
		t.Fatalf("unexpected %d %v", w.Code, out)
	}
}

func TestProcessAudio(t *testing.T) {
	f := newFixture(t, fakeTranscriber{text: "Come faccio ad aprire il menu?"})

	w, out := serve(f, multipartRequest(t, "/process_audio", "N03", wavBytes(t, 1)))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d %v", w.Code, out)
	}
	if out["transcription"] != "Come faccio ad aprire il menu?" || out["chatgpt_response"] != "Certo!" {
		t.Fatalf("unexpected body %v", out)
	}
	lat, _ := out["latencies_ms"].(map[string]any)
	for _, stage := range []string{"wav", "stt", "emo", "llm"} {
		if _, ok := lat[stage]; !ok {
			t.Fatalf("missing %s latency in %v", stage, lat)
		}
	}

	doc, err := f.store.Load(context.Background(), "N03")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	turn := doc.Active()[0]
	if turn.Words != 6 || turn.Emotions.Snapshot == nil || turn.LLM == nil || turn.LLM.Backend != "fake" {
		t.Fatalf("unexpected turn %+v", turn)
	}
}

func TestProcessAudioTranscriptionFailure(t *testing.T) {
	f := newFixture(t, fakeTranscriber{err: errors.New("whisper down")})
	f.classifier.err = errors.New("model down")

	w, out := serve(f, multipartRequest(t, "/process_audio", "N04", wavBytes(t, 1)))
	if w.Code != http.StatusOK {
		t.Fatalf("failures must not abort the pipeline: %d %v", w.Code, out)
	}
	if tr, _ := out["transcription"].(string); !strings.HasPrefix(tr, "Errore:") {
		t.Fatalf("unexpected transcription %v", out["transcription"])
	}
	if out["emotions"] != storage.NoEmotions || out["degraded"] != true {
		t.Fatalf("unexpected body %v", out)
	}
}

func TestProcessAudioRejectsBadInput(t *testing.T) {
	f := newFixture(t, fakeTranscriber{text: "x"})
	w, _ := serve(f, multipartRequest(t, "/process_audio", "u", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing audio must be 400, got %d", w.Code)
	}
	w, _ = serve(f, multipartRequest(t, "/process_audio", "u", []byte("not a wav")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid audio must be 400, got %d", w.Code)
	}
	if _, err := f.store.Load(context.Background(), "u"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected requests must not write state")
	}
}

func TestResetConversation(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"E05","text":"ciao"}`))
	_ = f.memory.Update(context.Background(), "E05", emotion.Snapshot{TopEmotion: "sad"})

	req := httptest.NewRequest(http.MethodPost, "/reset_conversation", strings.NewReader("user_id=E05"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w, out := serve(f, req)
	if w.Code != http.StatusOK || out["session_id"] != float64(2) {
		t.Fatalf("unexpected %d %v", w.Code, out)
	}
	if f.history.Len("E05") != 0 {
		t.Fatalf("history must be cleared")
	}
	if _, ok := f.memory.GetRecent(context.Background(), "E05"); ok {
		t.Fatalf("emotion memory must be cleared")
	}

	_, out = serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"E05","text":"di nuovo"}`))
	if out["turn_id"] != float64(1) {
		t.Fatalf("new session restarts turn ids, got %v", out["turn_id"])
	}
}

func TestSessionSummary(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	w, _ := serve(f, httptest.NewRequest(http.MethodGet, "/sessions/ghost/summary", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown user must be 404, got %d", w.Code)
	}

	serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"E06","text":"Qual è la temperatura?"}`))
	w, out := serve(f, httptest.NewRequest(http.MethodGet, "/sessions/E06/summary", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected %d", w.Code)
	}
	sessions, _ := out["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("unexpected summary %v", out)
	}
	s0 := sessions[0].(map[string]any)
	if s0["domande_totali"] != float64(1) || s0["chiarimenti_stimati"] != float64(1) {
		t.Fatalf("unexpected session summary %v", s0)
	}
}

func TestParticipants(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	w, _ := serve(f, jsonRequest(http.MethodPost, "/participants", `{"id":"P1","group":"neutral"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("upsert failed: %d", w.Code)
	}
	w, _ = serve(f, jsonRequest(http.MethodPost, "/participants", `{"id":"P2","group":"other"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown group must be 400, got %d", w.Code)
	}
	w, out := serve(f, httptest.NewRequest(http.MethodGet, "/participants", nil))
	list, _ := out["participants"].([]any)
	if w.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("unexpected list %v", out)
	}
	if list[0].(map[string]any)["group"] != participants.GroupNeutral {
		t.Fatalf("group must be normalized: %v", list[0])
	}
}

func TestParsePercentages(t *testing.T) {
	preds, err := parsePercentages(map[string]string{"sad": "10%", "happy": " 90.5% "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if preds[0].Label != "happy" || preds[0].Prob != 0.905 {
		t.Fatalf("unexpected %+v", preds)
	}
	for _, bad := range []string{"molto", "NaN%", "Inf%", "-Inf%", "250%", "-80%", "100.01%"} {
		if _, err := parsePercentages(map[string]string{"x": bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if preds, err := parsePercentages(map[string]string{"a": "0%", "b": "100%"}); err != nil || len(preds) != 2 {
		t.Fatalf("bounds are inclusive: %v %v", preds, err)
	}
}

func TestChatMessageRejectsInvalidEmotions(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	for _, body := range []string{
		`{"user_id":"u1","text":"ciao","emotions":{"happy":"NaN%"}}`,
		`{"user_id":"u1","text":"ciao","emotions":{"happy":"250%","sad":"-80%"}}`,
	} {
		w, _ := serve(f, jsonRequest(http.MethodPost, "/chat_message", body))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("invalid percentages must be 400, got %d for %s", w.Code, body)
		}
	}
	if _, ok := f.memory.GetRecent(context.Background(), "u1"); ok {
		t.Fatalf("rejected emotions must not reach memory")
	}

	w, out := serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"u1","text":"ciao"}`))
	if w.Code != http.StatusOK || out["turn_id"] != float64(1) {
		t.Fatalf("later turns must still be saved: %d %v", w.Code, out)
	}
	if _, err := f.store.Load(context.Background(), "u1"); err != nil {
		t.Fatalf("turn not persisted: %v", err)
	}
}

func TestChatMessageMalformedJSON(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	w, out := serve(f, jsonRequest(http.MethodPost, "/chat_message", `{"user_id":"u2","text":"ciao","emotions":{"happy":0.75}}`))
	if w.Code != http.StatusBadRequest || out["error"] != "JSON non valido" {
		t.Fatalf("type errors must be reported as invalid JSON: %d %v", w.Code, out)
	}
	w, out = serve(f, jsonRequest(http.MethodPost, "/chat_message", ""))
	if w.Code != http.StatusBadRequest || out["error"] != "Campo 'text' mancante" {
		t.Fatalf("empty body means missing text: %d %v", w.Code, out)
	}
}

func TestDetectEmotionsValidatesUserAndEmptyWindow(t *testing.T) {
	f := newFixture(t, fakeTranscriber{})
	w, _ := serve(f, multipartRequest(t, "/detect_emotions", "../etc", wavBytes(t, 1)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid user id must be 400, got %d", w.Code)
	}

	f.srv.Accumulator = audio.NewAccumulator(100, 0)
	f.router = f.srv.Router()
	w, out := serve(f, multipartRequest(t, "/detect_emotions", "u3", wavBytes(t, 0)))
	if f.classifier.calls != 0 {
		t.Fatalf("an empty window must never reach the classifier")
	}
	if w.Code == http.StatusOK && out["inferred"] != false {
		t.Fatalf("nothing to infer from: %v", out)
	}
}
