// Package bot answers the CocoCRM bot commands (/start, /help, /login).
// The same handler serves webhook updates inside the server and long
// polling in cmd/bot.
package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/models"
)

// Sender delivers a text message to a chat.
type Sender interface {
	SendText(chatID int64, text string)
}

// Commands routes bot updates to command handlers.
type Commands struct {
	links LinkIssuer
	out   Sender
}

func NewCommands(links LinkIssuer, out Sender) *Commands {
	return &Commands{links: links, out: out}
}

// HandleUpdate answers one update. Non-command messages, updates from
// groups and messages whose chat is not the sender's own are ignored.
func (c *Commands) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() || !msg.IsCommand() {
		return
	}
	// A private chat's ID is the user's ID; login links only go there.
	if msg.Chat.ID != msg.From.ID {
		logger.Warn("bot update chat does not match sender",
			zap.Int64("telegram_id", msg.From.ID),
			zap.Int64("chat_id", msg.Chat.ID))
		return
	}
	logger.Info("bot command",
		zap.String("command", msg.Command()),
		zap.Int64("telegram_id", msg.From.ID),
		zap.String("telegram_username", msg.From.UserName))

	switch msg.Command() {
	case "start":
		c.out.SendText(msg.Chat.ID, startText(msg.From))
	case "help":
		c.out.SendText(msg.Chat.ID, helpText)
	case "login":
		c.handleLogin(ctx, msg)
	default:
		c.out.SendText(msg.Chat.ID, "Unknown command. Send /help for the list of commands.")
	}
}

func (c *Commands) handleLogin(ctx context.Context, msg *tgbotapi.Message) {
	link, err := c.links.LoginLink(ctx, profileOf(msg.From))
	if err != nil {
		logger.Error("issue login link", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		c.out.SendText(msg.Chat.ID, "Could not generate a login link right now. Please try again in a few moments.")
		return
	}
	c.out.SendText(msg.Chat.ID, fmt.Sprintf(
		"Login link generated.\n\nOpen CocoCRM:\n%s\n\nValid for: %d minutes\n\nThis link is personal and temporary. Don't share it!",
		link.URL, int(link.ExpiresIn.Minutes())))
}

func profileOf(u *tgbotapi.User) models.TelegramProfile {
	return models.TelegramProfile{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

const helpText = "CocoCRM Bot Help\n\n" +
	"Commands:\n" +
	"/login - Generate a temporary login link to access the CRM\n" +
	"/help - Show this help message"

func startText(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName)
	if name == "" {
		name = u.UserName
	}
	return "Hello " + name + "!\n\n" +
		"I'm the CocoCRM bot. I can help you access the CRM system.\n\n" +
		"Available commands:\n" +
		"/login - Get a temporary login link\n" +
		"/help - Show this help message"
}
