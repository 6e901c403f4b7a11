package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/apperror"
	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/internal/services"
)

const maxBodyBytes = 1 << 20

// Sessions creates and ends login sessions.
type Sessions interface {
	Create(ctx context.Context, userID int64) (string, error)
	Invalidate(ctx context.Context, token string) error
}

// CRM is the record store behind the service API and the dashboard.
type CRM interface {
	ListContacts(ctx context.Context, userID int64, limit int) ([]models.Contact, error)
	ListDeals(ctx context.Context, userID int64, limit int) ([]models.Deal, error)
	ListTasks(ctx context.Context, userID int64, limit int) ([]models.Task, error)
	RecentActivities(ctx context.Context, userID int64, limit int) ([]models.Activity, error)
	CreateContact(ctx context.Context, c *models.Contact) error
	CreateDeal(ctx context.Context, d *models.Deal) error
	CreateTask(ctx context.Context, t *models.Task) error
}

// UpdateHandler processes Telegram updates received on the webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Deps are the collaborators a Handler needs. Audit and Bot may be nil.
type Deps struct {
	Resolver *auth.Resolver
	Tokens   *auth.TokenService
	Sessions Sessions
	CRM      CRM
	Audit    services.AuditLog
	Bot      UpdateHandler
	Clock    clock.Clock
}

// Options are the request-independent settings.
type Options struct {
	BaseURL       string
	BotUsername   string
	SecureCookies bool
	SessionTTL    time.Duration
	WebhookSecret string // expected X-Telegram-Bot-Api-Secret-Token; empty rejects every update
}

// Handler serves every HTTP endpoint.
type Handler struct {
	resolver *auth.Resolver
	tokens   *auth.TokenService
	sessions Sessions
	crm      CRM
	audit    services.AuditLog
	bot      UpdateHandler
	clock    clock.Clock
	opts     Options
}

func New(deps Deps, opts Options) *Handler {
	h := &Handler{
		resolver: deps.Resolver,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		crm:      deps.CRM,
		audit:    deps.Audit,
		bot:      deps.Bot,
		clock:    deps.Clock,
		opts:     opts,
	}
	if h.audit == nil {
		h.audit = services.NopAuditLog{}
	}
	if h.clock == nil {
		h.clock = clock.Real()
	}
	return h
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response", zap.Error(err))
	}
}

// writeError maps err to its kind's status and public message. Internal
// causes are logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperror.KindOf(err)
	if kind == apperror.Internal {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	resp := errorResponse{Error: apperror.PublicMessage(err)}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		resp.Field = ae.Field
	}
	writeJSON(w, kind.Status(), resp)
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// decodeJSON reads a JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.Wrap(apperror.Validation, "Invalid request body", err)
	}
	return nil
}

// readFields accepts either a JSON object of scalars or a form post and
// returns its values as strings.
func readFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	out := map[string]string{}
	if !isJSON(r) {
		if err := r.ParseForm(); err != nil {
			return nil, apperror.Wrap(apperror.Validation, "Invalid request body", err)
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, apperror.Wrap(apperror.Validation, "Invalid request body", err)
	}
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			out[k] = x
		case json.Number:
			out[k] = x.String()
		case bool:
			out[k] = strconv.FormatBool(x)
		}
	}
	return out, nil
}

// flexID accepts a Telegram ID as a JSON number or a numeric string.
type flexID struct {
	set bool
	v   int64
}

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram_id: %w", err)
	}
	f.set, f.v = true, n
	return nil
}

func (f flexID) ptr() *int64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
