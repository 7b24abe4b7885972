package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/audio"
	"mr-assistant/internal/emotion"
	"mr-assistant/internal/metrics"
	"mr-assistant/internal/participants"
	"mr-assistant/internal/storage"
	"mr-assistant/internal/transcribe"
)

// userID reads user_id from the form or query, falling back to the default.
func userID(c *gin.Context) string {
	if id := strings.TrimSpace(c.PostForm("user_id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.Query("user_id")); id != "" {
		return id
	}
	return defaultUserID
}

// saveUpload stores the "audio" part in a uniquely named temp file. The
// caller removes it.
func saveUpload(c *gin.Context) (string, error) {
	file, err := c.FormFile("audio")
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = ".wav"
	}
	path := filepath.Join(os.TempDir(), "mr-assistant-"+uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, path); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// detectEmotions buffers one audio chunk and runs the classifier once enough
// audio has accumulated for the user.
func (s *Server) detectEmotions(c *gin.Context) {
	if s.Classifier == nil {
		respondError(c, http.StatusBadRequest, "Riconoscimento emozioni disabilitato")
		return
	}
	user := userID(c)
	if err := storage.ValidateUserID(user); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	path, err := saveUpload(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Nessun file audio ricevuto")
		return
	}
	defer os.Remove(path)

	start := time.Now()
	samples, err := s.Normalizer.Load(path, s.Pipeline.MaxAudioDuration)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("Errore nel caricamento audio: %v", err))
		return
	}
	metrics.ObserveStage("wav", elapsedMs(start))

	s.Accumulator.AddChunk(user, samples)
	if !s.Accumulator.ShouldInfer(user) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":      user,
			"emotions":     nil,
			"inferred":     false,
			"buffered_sec": s.Accumulator.BufferedDuration(user).Seconds(),
		})
		return
	}

	window, ok := s.Accumulator.PopConcat(user)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"user_id":      user,
			"emotions":     nil,
			"inferred":     false,
			"buffered_sec": 0.0,
		})
		return
	}
	start = time.Now()
	preds, err := s.Classifier.Predict(c.Request.Context(), window, s.Accumulator.SampleRate())
	if err != nil {
		log.WithField("user_id", user).Errorf("emotion classifier failed: %v", err)
		metrics.DegradedReplies.WithLabelValues("emo").Inc()
		respondError(c, http.StatusBadGateway, fmt.Sprintf("Errore: %v", err))
		return
	}
	metrics.ObserveStage("emo", elapsedMs(start))
	metrics.EmotionInferences.Inc()

	snap := emotion.NewSnapshot(preds, audio.SamplesDuration(len(window), s.Accumulator.SampleRate()), s.now())
	if err := s.Memory.Update(c.Request.Context(), user, snap); err != nil {
		log.WithField("user_id", user).Warnf("emotion memory update failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  user,
		"emotions": emotion.Percentages(preds),
		"inferred": true,
	})
}

type chatRequest struct {
	UserID   string            `json:"user_id"`
	Text     string            `json:"text"`
	Emotions map[string]string `json:"emotions"`
}

// chatMessage answers a text turn. Emotions sent by the client, in the
// "75.33%" form, replace the stored snapshot before the reply is generated.
func (s *Server) chatMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "JSON non valido")
		return
	}
	user := strings.TrimSpace(req.UserID)
	if user == "" {
		user = defaultUserID
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(c, http.StatusBadRequest, "Campo 'text' mancante")
		return
	}
	if err := storage.ValidateUserID(user); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()

	if len(req.Emotions) > 0 {
		preds, err := parsePercentages(req.Emotions)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.Memory.Update(ctx, user, emotion.NewSnapshot(preds, 0, s.now())); err != nil {
			log.WithField("user_id", user).Warnf("emotion memory update failed: %v", err)
		}
	}

	reply, resp := s.Orchestrator.GenerateResponse(ctx, user, text)
	latencies := map[string]int64{}
	if resp.LatencyMs > 0 {
		latencies["llm"] = resp.LatencyMs
	}
	turn, err := s.Writer.SaveTurn(ctx, user, text, reply, resp, latencies)
	if err != nil {
		log.WithField("user_id", user).Errorf("session log write failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  user,
		"response": reply,
		"turn_id":  turn.TurnID,
		"degraded": resp.Degraded,
	})
}

// processAudio runs one spoken utterance through the whole pipeline:
// normalize, transcribe and classify in parallel, answer, log the turn.
func (s *Server) processAudio(c *gin.Context) {
	user := userID(c)
	if err := storage.ValidateUserID(user); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	path, err := saveUpload(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Nessun file audio ricevuto")
		return
	}
	defer os.Remove(path)
	ctx := c.Request.Context()
	latencies := map[string]int64{}

	start := time.Now()
	samples, err := s.Normalizer.Load(path, s.Pipeline.MaxAudioDuration)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Errore nel caricamento audio")
		return
	}
	latencies["wav"] = elapsedMs(start)

	var (
		g       errgroup.Group
		text    string
		sttOK   bool
		sttMs   int64
		preds   []emotion.Prediction
		emoMs   int64
		emoDone bool
	)
	g.Go(func() error {
		t0 := time.Now()
		text, sttOK = transcribe.Text(ctx, s.Transcriber, path)
		sttMs = elapsedMs(t0)
		return nil
	})
	if s.Classifier != nil {
		g.Go(func() error {
			t0 := time.Now()
			p, err := s.Classifier.Predict(ctx, samples, s.Normalizer.SampleRate())
			emoMs = elapsedMs(t0)
			if err != nil {
				log.WithField("user_id", user).Warnf("emotion classifier failed: %v", err)
				metrics.DegradedReplies.WithLabelValues("emo").Inc()
				return nil
			}
			preds, emoDone = p, true
			return nil
		})
	}
	_ = g.Wait()

	latencies["stt"] = sttMs
	if !sttOK {
		metrics.DegradedReplies.WithLabelValues("stt").Inc()
	}
	var emotions any = storage.NoEmotions
	if s.Classifier != nil {
		latencies["emo"] = emoMs
	}
	if emoDone && len(preds) > 0 {
		metrics.EmotionInferences.Inc()
		snap := emotion.NewSnapshot(preds, audio.SamplesDuration(len(samples), s.Normalizer.SampleRate()), s.now())
		if err := s.Memory.Update(ctx, user, snap); err != nil {
			log.WithField("user_id", user).Warnf("emotion memory update failed: %v", err)
		}
		emotions = emotion.Percentages(preds)
	}

	reply, resp := s.Orchestrator.GenerateResponse(ctx, user, text)
	if resp.LatencyMs > 0 {
		latencies["llm"] = resp.LatencyMs
	}
	if !sttOK {
		resp.Degraded = true
	}
	for stage, ms := range latencies {
		if stage != "llm" {
			metrics.ObserveStage(stage, ms)
		}
	}
	if _, err := s.Writer.SaveTurn(ctx, user, text, reply, resp, latencies); err != nil {
		log.WithField("user_id", user).Errorf("session log write failed: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":          user,
		"transcription":    text,
		"emotions":         emotions,
		"chatgpt_response": reply,
		"latencies_ms":     latencies,
		"degraded":         resp.Degraded,
	})
}

// resetConversation clears everything held for the user in memory and
// starts a new session in the log.
func (s *Server) resetConversation(c *gin.Context) {
	user := userID(c)
	if err := storage.ValidateUserID(user); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()

	s.History.Reset(user)
	s.Accumulator.Reset(user)
	if err := s.Memory.Reset(ctx, user); err != nil {
		log.WithField("user_id", user).Warnf("emotion memory reset failed: %v", err)
	}
	sessionID, err := s.Writer.BumpSession(ctx, user)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.Resets.Inc()
	c.JSON(http.StatusOK, gin.H{"message": "Conversazione resettata.", "session_id": sessionID})
}

func (s *Server) sessionSummary(c *gin.Context) {
	user := c.Param("user_id")
	doc, err := s.Store.Load(c.Request.Context(), user)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(c, http.StatusNotFound, "Nessuna conversazione per "+user)
		return
	case errors.Is(err, storage.ErrInvalidUser):
		respondError(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, analytics.AnalyzeDocument(doc, s.Rules))
}

func (s *Server) listParticipants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"participants": s.Participants.List()})
}

func (s *Server) upsertParticipant(c *gin.Context) {
	var p participants.Participant
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, http.StatusBadRequest, "JSON non valido")
		return
	}
	if err := s.Participants.Upsert(p); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": p.ID, "group": s.Participants.GroupOf(p.ID)})
}

// parsePercentages turns {"happy": "75.33%"} into predictions.
func parsePercentages(in map[string]string) ([]emotion.Prediction, error) {
	preds := make([]emotion.Prediction, 0, len(in))
	for label, raw := range in {
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(raw), "%"), 64)
		if err != nil || math.IsNaN(v) || v < 0 || v > 100 {
			return nil, fmt.Errorf("percentuale non valida per %s: %q", label, raw)
		}
		preds = append(preds, emotion.Prediction{Label: label, Prob: v / 100})
	}
	emotion.SortPredictions(preds)
	return preds, nil
}
