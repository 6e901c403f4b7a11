package bot

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/logger"
)

// Poller feeds long-polled updates to Commands.
type Poller struct {
	api      *tgbotapi.BotAPI
	commands *Commands
}

// NewPoller authorizes against the Bot API. endpoint may be empty for
// the public Bot API.
func NewPoller(token, endpoint string, client *http.Client, commands *Commands) (*Poller, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	logger.Info("bot authorized", zap.String("account", api.Self.UserName))
	return &Poller{api: api, commands: commands}, nil
}

// API exposes the client so callers can send replies through it.
func (p *Poller) API() *tgbotapi.BotAPI { return p.api }

// Run polls until ctx is cancelled. A webhook left over from server mode
// is removed first, otherwise getUpdates is refused.
func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := p.api.GetUpdatesChan(cfg)

	logger.Info("start polling updates")
	go func() {
		<-ctx.Done()
		p.api.StopReceivingUpdates()
	}()

	for update := range updates {
		p.commands.HandleUpdate(ctx, update)
	}
	return ctx.Err()
}
