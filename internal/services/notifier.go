package services

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/logger"
)

// OutboundTimeout bounds every call to the Bot API.
const OutboundTimeout = 10 * time.Second

// Notifier delivers text messages to Telegram chats.
type Notifier interface {
	SendText(chatID int64, text string)
}

// NopNotifier drops every message. Used when no bot token is configured.
type NopNotifier struct{}

func (NopNotifier) SendText(int64, string) {}

// TelegramNotifier sends messages and registers the webhook through the
// Bot API. Every call runs as a detached task: failures are logged and
// never returned to the caller or retried.
type TelegramNotifier struct {
	api   *tgbotapi.BotAPI
	clock clock.Clock
	wg    sync.WaitGroup
}

// NewTelegramNotifier builds a Bot API client without contacting
// Telegram. endpoint overrides the API URL format
// ("https://api.telegram.org/bot%s/%s") when non-empty.
func NewTelegramNotifier(token, endpoint string, clk clock.Clock) *TelegramNotifier {
	api := &tgbotapi.BotAPI{
		Token:  token,
		Client: &http.Client{Timeout: OutboundTimeout},
		Buffer: 100,
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api.SetAPIEndpoint(endpoint)
	if clk == nil {
		clk = clock.Real()
	}
	return &TelegramNotifier{api: api, clock: clk}
}

// API exposes the underlying client for synchronous callers.
func (n *TelegramNotifier) API() *tgbotapi.BotAPI { return n.api }

// detach runs fn in its own goroutine with a recover boundary.
func (n *TelegramNotifier) detach(task string, fn func() error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("telegram task panicked", zap.String("task", task), zap.Any("panic", r))
			}
		}()
		if err := fn(); err != nil {
			logger.Warn("telegram task failed", zap.String("task", task), zap.Error(err))
		}
	}()
}

// SendText queues a message to chatID and returns immediately.
func (n *TelegramNotifier) SendText(chatID int64, text string) {
	n.detach("send_message", func() error {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := n.api.Send(msg); err != nil {
			return fmt.Errorf("send to %d: %w", chatID, err)
		}
		return nil
	})
}

// RegisterWebhookAfter schedules a one-time setWebhook call after delay.
// Telegram echoes secret in the X-Telegram-Bot-Api-Secret-Token header of
// every delivery.
func (n *TelegramNotifier) RegisterWebhookAfter(delay time.Duration, webhookURL, secret string) *clock.Timer {
	return n.clock.AfterFunc(delay, func() {
		n.detach("set_webhook", func() error {
			// WebhookConfig predates secret_token, so the call is built by hand.
			params := tgbotapi.Params{"url": webhookURL}
			params.AddNonEmpty("secret_token", secret)
			if _, err := n.api.MakeRequest("setWebhook", params); err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			logger.Info("telegram webhook registered", zap.String("url", webhookURL))
			return nil
		})
	})
}

// CheckBot calls getMe in the background and logs the bot identity.
func (n *TelegramNotifier) CheckBot() {
	n.detach("get_me", func() error {
		me, err := n.api.GetMe()
		if err != nil {
			return fmt.Errorf("get me: %w", err)
		}
		n.api.Self = me
		logger.Info("telegram bot verified", zap.String("username", me.UserName), zap.Int64("id", me.ID))
		return nil
	})
}

// Wait blocks until all detached tasks started so far have finished.
func (n *TelegramNotifier) Wait() { n.wg.Wait() }
