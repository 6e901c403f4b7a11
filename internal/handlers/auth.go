package handlers

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/apperror"
	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/middleware"
	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/pkg/clientip"
)

const (
	// LoginPath accepts credentials on POST and serves the login page
	// settings on GET.
	LoginPath = "/login"
	// DashboardPath is where successful browser logins land.
	DashboardPath = "/dashboard"
	// TokenLoginPath consumes login links.
	TokenLoginPath = "/auth/token"
)

// AuthResponse is returned by the JSON login endpoints.
type AuthResponse struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message"`
	User     *models.User `json:"user,omitempty"`
	Created  bool         `json:"created,omitempty"`
	Redirect string       `json:"redirect,omitempty"`
}

// AuthConfigResponse tells the login page how to render the widget.
type AuthConfigResponse struct {
	TelegramEnabled     bool   `json:"telegram_enabled"`
	TelegramBotUsername string `json:"telegram_bot_username,omitempty"`
}

// record writes an audit entry for one authentication attempt.
func (h *Handler) record(r *http.Request, method auth.Method, res *auth.Resolution, err error) {
	ev := models.AuthEvent{
		Method:    string(method),
		Success:   err == nil,
		IPAddress: clientip.RealClientIP(r),
		UserAgent: r.UserAgent(),
		CreatedAt: h.clock.Now(),
	}
	if res != nil && res.User != nil {
		ev.UserID = res.User.ID
		ev.Username = res.User.Username
		ev.Created = res.Created
	}
	if err != nil {
		ev.Reason = apperror.KindOf(err).String()
	}
	h.audit.Record(ev)
}

// startSession replaces the user's session and sets the cookie.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, u *models.User) error {
	token, err := h.sessions.Create(r.Context(), u.ID)
	if err != nil {
		return apperror.Wrap(apperror.Internal, "", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.opts.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// login resolves cred, records the attempt and opens a session. JSON
// callers get an AuthResponse; form posts are redirected.
func (h *Handler) login(w http.ResponseWriter, r *http.Request, cred auth.Credential, redirect bool) {
	method := auth.MethodOf(cred)
	res, err := h.resolver.Resolve(r.Context(), cred)
	h.record(r, method, res, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.startSession(w, r, res.User); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("login",
		zap.String("method", string(method)),
		zap.Int64("user_id", res.User.ID),
		zap.Bool("created", res.Created))

	if redirect {
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Success:  true,
		Message:  "Logged in",
		User:     res.User,
		Created:  res.Created,
		Redirect: DashboardPath,
	})
}

// Register creates a password account from a form or JSON body. A form
// post that succeeds is sent on to the login page, as Login does with
// the dashboard.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	confirm := f["confirm_password"]
	if confirm == "" {
		confirm = f["password_confirm"]
	}
	u, err := h.resolver.Register(r.Context(), auth.RegisterInput{
		Username:        f["username"],
		Email:           f["email"],
		Password:        f["password"],
		ConfirmPassword: confirm,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	if !isJSON(r) {
		http.Redirect(w, r, LoginPath+"?registered=1", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{
		Success: true,
		Message: "Account created. You can now log in.",
		User:    u,
	})
}

// Login checks a username and password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.login(w, r, auth.PasswordCredential{Username: f["username"], Password: f["password"]}, !isJSON(r))
}

// Logout ends the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(middleware.SessionCookieName); err == nil && c.Value != "" {
		if err := h.sessions.Invalidate(r.Context(), c.Value); err != nil {
			logger.Warn("invalidate session", zap.Error(err))
		}
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Message: "Logged out"})
}

// TelegramCallback accepts the widget's JSON payload.
func (h *Handler) TelegramCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperror.Wrap(apperror.Validation, "Invalid request body", err))
		return
	}
	payload, err := auth.PayloadFromJSON(body)
	if err != nil {
		h.record(r, auth.MethodTelegram, nil, auth.ErrInvalidTelegram)
		writeError(w, r, auth.ErrInvalidTelegram)
		return
	}
	h.login(w, r, auth.TelegramCredential{Payload: payload}, false)
}

// TelegramRedirect accepts the widget's redirect mode, where the payload
// arrives as query parameters.
func (h *Handler) TelegramRedirect(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, auth.TelegramCredential{Payload: auth.PayloadFromValues(r.URL.Query())}, true)
}

// TokenLogin consumes ?token= and redirects to next (a local path) or the
// dashboard.
func (h *Handler) TokenLogin(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, auth.ErrInvalidLoginLink)
		return
	}
	if !h.redeemURLToken(w, r, token) {
		return
	}
	http.Redirect(w, r, safeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
}

// URLTokenLogin lets a login link point at any page: a GET carrying
// ?token= is consumed and redirected to the same URL without it.
func (h *Handler) URLTokenLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if r.Method != http.MethodGet || token == "" || r.URL.Path == TokenLoginPath {
			next.ServeHTTP(w, r)
			return
		}
		if !h.redeemURLToken(w, r, token) {
			return
		}
		u := *r.URL
		q := u.Query()
		q.Del("token")
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.RequestURI(), http.StatusSeeOther)
	})
}

func (h *Handler) redeemURLToken(w http.ResponseWriter, r *http.Request, token string) bool {
	cred := auth.TokenCredential{Token: token}
	res, err := h.resolver.Resolve(r.Context(), cred)
	h.record(r, auth.MethodToken, res, err)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	if err := h.startSession(w, r, res.User); err != nil {
		writeError(w, r, err)
		return false
	}
	logger.Info("login", zap.String("method", string(auth.MethodToken)), zap.Int64("user_id", res.User.ID))
	return true
}

// safeNext keeps redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return DashboardPath
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return DashboardPath
	}
	q := u.Query()
	q.Del("token")
	u.RawQuery = q.Encode()
	return u.RequestURI()
}

// AuthConfig returns the settings the login page needs.
func (h *Handler) AuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AuthConfigResponse{
		TelegramEnabled:     h.opts.BotUsername != "",
		TelegramBotUsername: h.opts.BotUsername,
	})
}

// DashboardResponse is the signed-in landing payload.
type DashboardResponse struct {
	Success    bool              `json:"success"`
	User       *models.User      `json:"user"`
	Activities []models.Activity `json:"activities"`
}

// Dashboard shows the session user and their latest activity.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	activities, err := h.crm.RecentActivities(r.Context(), u.ID, 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	writeJSON(w, http.StatusOK, DashboardResponse{Success: true, User: u, Activities: activities})
}

// Me returns the session user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

// AuthEvents lists the session user's recent authentication attempts.
func (h *Handler) AuthEvents(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	limit := parseLimit(r)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	events, err := h.audit.Recent(r.Context(), u.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": events})
}
