package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/audio"
	"mr-assistant/internal/config"
	"mr-assistant/internal/emotion"
	"mr-assistant/internal/history"
	"mr-assistant/internal/orchestrator"
	"mr-assistant/internal/participants"
	"mr-assistant/internal/sessionlog"
	"mr-assistant/internal/storage"
	"mr-assistant/internal/transcribe"
)

const defaultUserID = "default_user"

// Deps are the collaborators behind the HTTP API. Classifier may be nil when
// emotion recognition is disabled.
type Deps struct {
	Pipeline     config.Pipeline
	Accumulator  *audio.Accumulator
	Normalizer   *audio.Normalizer
	Classifier   emotion.Classifier
	Memory       emotion.Memory
	History      *history.Manager
	Orchestrator *orchestrator.Orchestrator
	Writer       *sessionlog.Writer
	Store        storage.Store
	Transcriber  transcribe.Transcriber
	Participants *participants.Service
	Rules        analytics.Rules
}

type Server struct {
	Deps
	now func() time.Time
}

func New(d Deps) *Server {
	return &Server{Deps: d, now: time.Now}
}

// Router wires every route on a fresh gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(AccessLog())
	r.Use(Metrics())

	r.GET("/healthcheck", s.healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/detect_emotions", s.detectEmotions)
	r.POST("/chat_message", s.chatMessage)
	r.POST("/process_audio", s.processAudio)
	r.POST("/reset_conversation", s.resetConversation)

	r.GET("/sessions/:user_id/summary", s.sessionSummary)

	r.GET("/participants", s.listParticipants)
	r.POST("/participants", s.upsertParticipant)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("http server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
