package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attendlabs/attend/internal/api"
	"github.com/attendlabs/attend/internal/assemble"
	"github.com/attendlabs/attend/internal/config"
	"github.com/attendlabs/attend/internal/knowledge"
	"github.com/attendlabs/attend/internal/openai"
	"github.com/attendlabs/attend/internal/queue"
	"github.com/attendlabs/attend/internal/store"
	"github.com/attendlabs/attend/internal/whatsapp"
	"github.com/attendlabs/attend/internal/worker"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("attend starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// OpenAI client
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	llm := openai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.ChatModel, cfg.EmbeddingModel)
	slog.Info("openai client ready", "chat_model", cfg.ChatModel, "embedding_model", cfg.EmbeddingModel)

	// Knowledge index and context assembly
	index := knowledge.NewIndex(db.Pool(), slog.Default())
	assembler := assemble.New(db, index, llm, slog.Default())

	// WhatsApp sender
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		slog.Error("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required")
		os.Exit(1)
	}
	sender := whatsapp.NewSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom, slog.Default())

	// Job queue
	jobs, err := queue.Connect(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	consumer, err := jobs.Consumer(ctx)
	if err != nil {
		slog.Error("failed to create queue consumer", "error", err)
		os.Exit(1)
	}

	// Worker pool
	pool := worker.NewPool(consumer, worker.Deps{
		Store:     db,
		Assembler: assembler,
		Generator: llm,
		Embedder:  llm,
		Index:     index,
		Messenger: sender,
	}, cfg.Workers, slog.Default())
	go func() {
		if err := pool.Run(ctx); err != nil {
			slog.Error("worker pool error", "error", err)
		}
	}()

	// HTTP API
	srv := api.NewServer(cfg.Port, jobs, db, assembler, llm, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("attend ready", "port", cfg.Port, "workers", cfg.Workers)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("attend stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
