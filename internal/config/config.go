package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTempTokenTTL       = 180 * time.Minute
	DefaultTelegramAuthMaxAge = 24 * time.Hour
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultWebhookDelay       = 5 * time.Second
)

// ErrMissingSecret is returned in production when SECRET_KEY is unset.
var ErrMissingSecret = errors.New("config: SECRET_KEY must be set in production")

type Config struct {
	Port        string
	Environment string // ENV: production, development, etc.
	BaseURL     string // public URL used in login links and the webhook address

	SecretKey           string
	GeneratedSecret     bool // SecretKey was generated because none was configured
	TelegramBotToken    string
	TelegramBotUsername string
	TelegramAPIEndpoint string // override for tests and self-hosted Bot API servers
	WebhookSecret       string // sent by Telegram in X-Telegram-Bot-Api-Secret-Token
	APIKey              string // shared key for the integration API; empty disables it

	PostgresURI    string
	RedisURI       string
	MongoURI       string // optional; enables the auth audit log
	AllowedOrigins []string

	TempTokenTTL       time.Duration
	TempTokenSingleUse bool
	TelegramAuthMaxAge time.Duration // 0 disables the auth_date freshness check
	SessionTTL         time.Duration
	WebhookDelay       time.Duration
	UseWebhook         bool

	LogLevel string
	LogFile  string
	LogJSON  bool
}

// Load reads configuration from the environment. There are no hard-coded
// secrets: a missing SECRET_KEY is an error in production and a random
// per-process key in development.
func Load() (*Config, error) {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))
	port := getEnv("PORT", "5000")

	cfg := &Config{
		Port:                port,
		Environment:         env,
		BaseURL:             strings.TrimRight(getEnv("BASE_URL", "http://localhost:"+port), "/"),
		SecretKey:           os.Getenv("SECRET_KEY"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramBotUsername: strings.TrimPrefix(os.Getenv("TELEGRAM_BOT_USERNAME"), "@"),
		TelegramAPIEndpoint: os.Getenv("TELEGRAM_API_ENDPOINT"),
		WebhookSecret:       os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		APIKey:              getEnv("API_KEY", os.Getenv("OPENCLAW_API_KEY")),
		PostgresURI:         getEnv("POSTGRES_URI", getEnv("DATABASE_URL", "postgres://localhost:5432/cococrm?sslmode=disable")),
		RedisURI:            getEnv("REDIS_URI", "redis://localhost:6379/0"),
		MongoURI:            getEnv("MONGODB_URI", os.Getenv("MONGO_URI")),
		AllowedOrigins:      parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFile:             os.Getenv("LOG_FILE"),
	}

	var err error
	if cfg.TempTokenTTL, err = getDuration("TEMP_TOKEN_TTL", DefaultTempTokenTTL); err != nil {
		return nil, err
	}
	if cfg.TelegramAuthMaxAge, err = getDuration("TELEGRAM_AUTH_MAX_AGE", DefaultTelegramAuthMaxAge); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", DefaultSessionTTL); err != nil {
		return nil, err
	}
	if cfg.WebhookDelay, err = getDuration("WEBHOOK_DELAY", DefaultWebhookDelay); err != nil {
		return nil, err
	}
	if cfg.TempTokenSingleUse, err = getBool("TEMP_TOKEN_SINGLE_USE", false); err != nil {
		return nil, err
	}
	if cfg.UseWebhook, err = getBool("TELEGRAM_USE_WEBHOOK", cfg.IsProduction()); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = getBool("LOG_JSON", cfg.IsProduction()); err != nil {
		return nil, err
	}

	if cfg.TempTokenTTL <= 0 {
		return nil, fmt.Errorf("config: TEMP_TOKEN_TTL must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("config: SESSION_TTL must be positive")
	}

	if cfg.SecretKey == "" {
		if cfg.IsProduction() {
			return nil, ErrMissingSecret
		}
		cfg.SecretKey, err = randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.GeneratedSecret = true
	}

	// setWebhook runs on every start, so a per-process secret is enough.
	if cfg.WebhookSecret == "" {
		if cfg.WebhookSecret, err = randomSecret(); err != nil {
			return nil, err
		}
	} else if !validWebhookSecret(cfg.WebhookSecret) {
		return nil, fmt.Errorf("config: TELEGRAM_WEBHOOK_SECRET must be 1-256 characters of A-Z, a-z, 0-9, _ and -")
	}

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{cfg.BaseURL}
	}
	return cfg, nil
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

// TelegramEnabled reports whether a bot token is configured.
func (c *Config) TelegramEnabled() bool { return c.TelegramBotToken != "" }

// WebhookURL is the address Telegram should deliver updates to.
func (c *Config) WebhookURL() string { return c.BaseURL + "/telegram/webhook" }

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validWebhookSecret(s string) bool {
	if len(s) == 0 || len(s) > 256 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("config: generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go durations ("90m") or a bare number of minutes.
func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
