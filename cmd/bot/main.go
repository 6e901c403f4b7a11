// Command bot runs the CocoCRM Telegram bot with long polling. Login
// links are requested from a running server over its service API, so
// the bot needs no database access.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/bot"
	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/config"
	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found")
	}
	if err := run(); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	defer logger.Sync()

	if !cfg.TelegramEnabled() {
		return errors.New("TELEGRAM_BOT_TOKEN is not set")
	}
	if cfg.APIKey == "" {
		return errors.New("API_KEY is not set; the bot cannot request login links")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := services.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, clock.Real())
	defer notifier.Wait()

	commands := bot.NewCommands(bot.NewHTTPIssuer(cfg.BaseURL, cfg.APIKey, nil), notifier)
	poller, err := bot.NewPoller(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, nil, commands)
	if err != nil {
		return err
	}

	logger.Info("CocoCRM bot started", zap.String("base_url", cfg.BaseURL))
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("poll updates: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
