package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/example/romanticbot/internal/admin"
	"github.com/example/romanticbot/internal/config"
	"github.com/example/romanticbot/internal/database"
	"github.com/example/romanticbot/internal/metrics"
	"github.com/example/romanticbot/internal/openai"
	"github.com/example/romanticbot/internal/replicate"
	"github.com/example/romanticbot/internal/repository"
	"github.com/example/romanticbot/internal/service"
	"github.com/example/romanticbot/internal/storage"
	"github.com/example/romanticbot/internal/telegram"
	"github.com/example/romanticbot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logr := logger.New(level)

	db, err := database.Connect(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	store, err := storage.New(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("object storage: %v", err)
	}

	imageClient := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.RequestTimeout, cfg.ImageRequestsPerMinute, logr)
	videoClient := replicate.NewClient(cfg.ReplicateAPIToken, cfg.ReplicateBaseURL, cfg.ReplicateModel, cfg.RequestTimeout, cfg.VideoRequestsPerMinute, logr)

	userRepo := repository.NewUserRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	userService := service.NewUserService(userRepo)
	quotaService := service.NewQuotaService(userRepo)
	paymentService := service.NewPaymentService(logr, paymentRepo, collector)
	orchestrator := service.NewOrchestrator(logr, generationRepo, userRepo, quotaService, imageClient, videoClient, store, collector, cfg.MaxConcurrentGenerations)
	pipelineService := service.NewPipelineService(logr, generationRepo, quotaService, store, orchestrator, collector)

	bot := telegram.NewBot(botAPI, logr, userService, pipelineService, quotaService, paymentService)
	orchestrator.SetNotifier(bot)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, userRepo, generationRepo, paymentRepo, botAPI, registry)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
