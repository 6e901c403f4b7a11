package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/apperror"
	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/bot"
	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/middleware"
	"github.com/denverlabs/cococrm/internal/models"
)

// WebhookSecretHeader carries the secret_token given to setWebhook.
const WebhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

var errWebhookSecret = apperror.New(apperror.Unauthenticated, "Invalid webhook secret")

// TelegramWebhook receives bot updates. Requests without the webhook
// secret are refused. Authentic updates always get 200 so Telegram does
// not redeliver one that failed to process.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.webhookSecretOK(r.Header.Get(WebhookSecretHeader)) {
		logger.Warn("telegram webhook secret mismatch", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, r, errWebhookSecret)
		return
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&update); err != nil {
		logger.Warn("decode telegram update", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	if h.bot != nil {
		h.bot.HandleUpdate(r.Context(), update)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) webhookSecretOK(got string) bool {
	want := h.opts.WebhookSecret
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// GenerateTokenRequest asks for a login link for a Telegram user. The API
// key may travel in the body or in any of the usual transports.
type GenerateTokenRequest struct {
	APIKey     string `json:"api_key"`
	TelegramID flexID `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// GenerateTokenResponse carries the link. ExpiresIn is in minutes.
type GenerateTokenResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
	Username  string `json:"username"`
}

// GenerateToken issues a temporary login link for a Telegram user,
// creating the account on first contact.
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req GenerateTokenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	key := middleware.APIKeyFromRequest(r)
	if key == "" {
		key = req.APIKey
	}
	if !h.resolver.CheckAPIKey(key) {
		h.record(r, auth.MethodService, nil, auth.ErrInvalidAPIKey)
		writeError(w, r, auth.ErrInvalidAPIKey)
		return
	}
	if !req.TelegramID.set {
		writeError(w, r, &apperror.Error{Kind: apperror.Validation, Public: "telegram_id is required", Field: "telegram_id"})
		return
	}

	u, created, err := h.resolver.FindOrCreateTelegram(r.Context(), models.TelegramProfile{
		ID:        req.TelegramID.v,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, false)
	res := &auth.Resolution{User: u, Created: created, Method: auth.MethodService}
	h.record(r, auth.MethodService, res, err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	issued, err := h.tokens.Issue(u.ID, u.Username)
	if err != nil {
		writeError(w, r, apperror.Wrap(apperror.Internal, "", err))
		return
	}
	logger.Info("login link issued", zap.Int64("user_id", u.ID), zap.Bool("created", created))
	writeJSON(w, http.StatusOK, GenerateTokenResponse{
		Success:   true,
		Token:     issued.Token,
		URL:       bot.TokenURL(h.opts.BaseURL, issued.Token),
		ExpiresIn: int(h.tokens.TTL().Minutes()),
		Username:  u.Username,
	})
}
