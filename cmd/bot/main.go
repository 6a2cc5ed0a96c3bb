package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/velmark/TGImagineBot/internal/admin"
	"github.com/velmark/TGImagineBot/internal/config"
	"github.com/velmark/TGImagineBot/internal/database"
	"github.com/velmark/TGImagineBot/internal/provider"
	"github.com/velmark/TGImagineBot/internal/repository"
	"github.com/velmark/TGImagineBot/internal/service"
	"github.com/velmark/TGImagineBot/internal/storage"
	"github.com/velmark/TGImagineBot/internal/telegram"
	"github.com/velmark/TGImagineBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
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

	chain, err := buildChain(cfg, logr)
	if err != nil {
		log.Fatalf("provider chain: %v", err)
	}
	logr.Info("provider chain configured", "order", chain.Names())

	uploader, err := storage.NewUploader(storage.Config{
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
		log.Fatalf("storage uploader: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	generationRepo := repository.NewGenerationRepository(db)

	quotaService := service.NewQuotaService(cfg, logr, userRepo)
	sink := telegram.NewSink(botAPI)
	generationService := service.NewGenerationService(logr, quotaService, chain, generationRepo, uploader, sink)

	bot := telegram.NewBot(cfg, botAPI, logr, generationService, quotaService, uploader)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userRepo, generationRepo, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

func buildChain(cfg config.Config, logr *slog.Logger) (*provider.Chain, error) {
	var providers []provider.Provider
	for _, name := range cfg.ProviderOrder {
		switch name {
		case "kie":
			providers = append(providers, provider.NewKIE(provider.KIEConfig{
				APIKey:  cfg.KIEAPIKey,
				BaseURL: cfg.KIEBaseURL,
				Model:   cfg.KIEModel,
			}, logr))
		case "cloudflare":
			providers = append(providers, provider.NewCloudflare(provider.CloudflareConfig{
				AccountID: cfg.CFAccountID,
				APIToken:  cfg.CFAPIToken,
				Model:     cfg.CFModel,
			}))
		case "pollinations":
			providers = append(providers, provider.NewPollinations(cfg.PollinationsBaseURL))
		default:
			return nil, fmt.Errorf("unknown provider %q in PROVIDER_ORDER", name)
		}
	}
	return provider.NewChain(logr, cfg.ProviderAttemptTimeout, providers...)
}
