package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/audio"
	"mr-assistant/internal/config"
	"mr-assistant/internal/emotion"
	"mr-assistant/internal/history"
	"mr-assistant/internal/llm"
	"mr-assistant/internal/logging"
	"mr-assistant/internal/notify"
	"mr-assistant/internal/orchestrator"
	"mr-assistant/internal/participants"
	"mr-assistant/internal/scheduler"
	"mr-assistant/internal/server"
	"mr-assistant/internal/sessionlog"
	"mr-assistant/internal/storage"
	"mr-assistant/internal/transcribe"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Debugf(".env file not found: %v", err)
	}

	cfg := config.New()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	pipe := cfg.Pipeline()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.SessionStore == config.StoreRedis || cfg.EmotionStore == config.StoreRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis at %s unreachable: %v", cfg.RedisAddr, err)
		}
		defer rdb.Close()
	}

	var store storage.Store
	if cfg.SessionStore == config.StoreRedis {
		store = storage.NewRedisStore(rdb)
	} else {
		fs, err := storage.NewFileStore(cfg.ConversationsDir)
		if err != nil {
			log.Fatalf("failed to init conversation store: %v", err)
		}
		store = fs
	}

	var memory emotion.Memory
	if cfg.EmotionStore == config.StoreRedis {
		memory = emotion.NewRedisStore(rdb, pipe.EmotionTTL)
	} else {
		memory = emotion.NewMemoryStore(pipe.EmotionTTL)
	}

	client, err := llm.NewFactory(cfg).CreateClient(string(cfg.LLMProvider))
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}

	var classifier emotion.Classifier
	if cfg.EnableEmotion {
		classifier = emotion.NewHTTPClassifier(cfg.EmotionClassifierURL)
	} else {
		log.Info("emotion recognition disabled")
	}

	var partRepo participants.Repository
	if cfg.ParticipantsFilePath != "" {
		repo, err := participants.NewFileRepository(cfg.ParticipantsFilePath)
		if err != nil {
			log.Warnf("failed to init participants repo: %v", err)
		} else {
			partRepo = repo
		}
	}
	registry, err := participants.NewWithRepo(partRepo)
	if err != nil {
		log.Fatalf("failed to load participants: %v", err)
	}

	hist := history.NewManager(pipe.SystemPrompt)
	srv := server.New(server.Deps{
		Pipeline:     pipe,
		Accumulator:  audio.NewAccumulator(pipe.SampleRate, pipe.ThresholdSec),
		Normalizer:   audio.NewNormalizer(pipe.SampleRate),
		Classifier:   classifier,
		Memory:       memory,
		History:      hist,
		Orchestrator: orchestrator.New(client, hist, memory),
		Writer:       sessionlog.NewWriter(store, memory),
		Store:        store,
		Transcriber:  transcribe.NewWhisper(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel, cfg.TranscribeLanguage),
		Participants: registry,
		Rules:        analytics.DefaultRules(),
	})

	if cfg.DigestEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.DigestChatID)
		if err != nil {
			log.Errorf("telegram digest disabled: %v", err)
		} else {
			sched := scheduler.New(cfg.DigestCron, time.Local)
			sched.SetReportFunction(notify.NewDigest(store, tg).Run)
			if err := sched.Start(); err != nil {
				log.Errorf("failed to start digest scheduler: %v", err)
			}
			defer sched.Stop()
		}
	}

	log.WithFields(log.Fields{
		"llm_provider":  cfg.LLMProvider,
		"session_store": cfg.SessionStore,
		"emotion_store": cfg.EmotionStore,
		"emotion":       cfg.EnableEmotion,
	}).Info("mr-assistant starting")

	if err := srv.Run(ctx, cfg.HTTPAddr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
