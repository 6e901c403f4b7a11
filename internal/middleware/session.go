package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/models"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "crm_session"

type contextKey int

const userContextKey contextKey = iota

// SessionValidator resolves a session token to a user ID.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (int64, bool, error)
}

// UserLoader fetches a user by ID.
type UserLoader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// WithUser returns ctx carrying u.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the session user, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userContextKey).(*models.User)
	return u, ok && u != nil
}

// LoadSession attaches the session user to the request context when the
// cookie names a live session. It never rejects a request.
func LoadSession(sessions SessionValidator, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok, err := sessions.Validate(r.Context(), cookie.Value)
			if err != nil {
				logger.Warn("session lookup failed", zap.Error(err))
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			u, err := users.GetByID(r.Context(), userID)
			if err != nil {
				logger.Warn("session user lookup failed", zap.Int64("user_id", userID), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// RequireUser rejects requests without a session user.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			writeJSONError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
