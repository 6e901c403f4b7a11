package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/bot"
	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/config"
	"github.com/denverlabs/cococrm/internal/database"
	"github.com/denverlabs/cococrm/internal/handlers"
	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/middleware"
	"github.com/denverlabs/cococrm/internal/repository"
	"github.com/denverlabs/cococrm/internal/routes"
	"github.com/denverlabs/cococrm/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found")
	}
	if err := run(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	defer logger.Sync()

	if cfg.GeneratedSecret {
		logger.Warn("SECRET_KEY not set; using a random key, login links and tokens will not survive a restart")
	}
	if cfg.APIKey == "" {
		logger.Warn("API_KEY not set; the service API will reject every request")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting to PostgreSQL")
	db, err := database.ConnectPostgres(ctx, cfg.PostgresURI)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	logger.Info("connecting to Redis")
	rdb, err := database.ConnectRedis(ctx, cfg.RedisURI)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	var audit services.AuditLog = services.NopAuditLog{}
	if cfg.MongoURI != "" {
		logger.Info("connecting to MongoDB")
		client, mdb, err := database.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
		defer database.DisconnectMongo(client)
		mongoAudit := services.NewMongoAuditLog(mdb)
		if err := mongoAudit.EnsureIndexes(ctx); err != nil {
			logger.Warn("ensure audit indexes", zap.Error(err))
		}
		defer mongoAudit.Wait()
		audit = mongoAudit
	} else {
		logger.Info("MONGODB_URI not set; auth audit log disabled")
	}

	clk := clock.Real()

	var notifier services.Notifier = services.NopNotifier{}
	var tg *services.TelegramNotifier
	if cfg.TelegramEnabled() {
		tg = services.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, clk)
		defer tg.Wait()
		notifier = tg
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set; Telegram login and bot are disabled")
	}

	var tokenOpts []auth.TokenOption
	if cfg.TempTokenSingleUse {
		tokenOpts = append(tokenOpts, auth.WithSingleUse(services.NewTokenLedger(rdb, clk)))
	}
	tokens := auth.NewTokenService(cfg.SecretKey, cfg.TempTokenTTL, clk, tokenOpts...)
	users := repository.NewUserRepository(db)
	resolver := auth.NewResolver(
		users,
		auth.NewTelegramVerifier(cfg.TelegramBotToken, cfg.TelegramAuthMaxAge, clk),
		tokens,
		cfg.APIKey,
		auth.WithCreateHook(services.WelcomeHook(notifier, cfg.BaseURL)),
	)
	sessions := services.NewSessionStore(rdb, cfg.SessionTTL)

	var updates handlers.UpdateHandler
	if tg != nil {
		updates = bot.NewCommands(bot.NewLocalIssuer(resolver, tokens, cfg.BaseURL), notifier)
	}

	h := handlers.New(handlers.Deps{
		Resolver: resolver,
		Tokens:   tokens,
		Sessions: sessions,
		CRM:      services.NewCRMService(db),
		Audit:    audit,
		Bot:      updates,
		Clock:    clk,
	}, handlers.Options{
		BaseURL:       cfg.BaseURL,
		BotUsername:   cfg.TelegramBotUsername,
		SecureCookies: cfg.IsProduction(),
		SessionTTL:    cfg.SessionTTL,
		WebhookSecret: cfg.WebhookSecret,
	})

	loginLimiter := middleware.NewIPRateLimiter(12*time.Second, 5)
	go loginLimiter.RunCleanup(10*time.Minute, ctx.Done())

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(middleware.LoginRateLimit(loginLimiter, middleware.LoginPaths))

	routes.SetupRoutes(r, h, routes.Guards{
		Session:  middleware.LoadSession(sessions, users),
		APIKey:   middleware.RequireAPIKey(resolver.CheckAPIKey),
		APILimit: middleware.NewAPIRateLimiter(rdb, 0, 0).Handler,
	})

	if tg != nil {
		tg.CheckBot()
		if cfg.UseWebhook {
			timer := tg.RegisterWebhookAfter(cfg.WebhookDelay, cfg.WebhookURL(), cfg.WebhookSecret)
			defer timer.Stop()
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("CocoCRM backend running", zap.String("addr", srv.Addr), zap.String("env", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
