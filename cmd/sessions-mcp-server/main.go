package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/config"
	"mr-assistant/internal/logging"
	"mr-assistant/internal/mcptools"
	"mr-assistant/internal/participants"
	"mr-assistant/internal/storage"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Debugf(".env file not found: %v", err)
	}
	cfg := config.New()
	// stdout carries the MCP stream, logs stay on stderr.
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	var store storage.Store
	if cfg.SessionStore == config.StoreRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		store = storage.NewRedisStore(rdb)
	} else {
		fs, err := storage.NewFileStore(cfg.ConversationsDir)
		if err != nil {
			log.Fatalf("failed to open conversations dir: %v", err)
		}
		store = fs
	}

	var repo participants.Repository
	if cfg.ParticipantsFilePath != "" {
		r, err := participants.NewFileRepository(cfg.ParticipantsFilePath)
		if err != nil {
			log.Warnf("failed to init participants repo: %v", err)
		} else {
			repo = r
		}
	}
	registry, err := participants.NewWithRepo(repo)
	if err != nil {
		log.Fatalf("failed to load participants: %v", err)
	}

	server := mcptools.New(store, registry, analytics.DefaultRules()).NewServer("1.0.0")
	log.Info("registered MCP tools: analyze_user_sessions, daily_digest, list_participants")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil {
		log.Fatalf("sessions MCP server failed: %v", err)
	}
}
