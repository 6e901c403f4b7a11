package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/denverlabs/cococrm/internal/handlers"
	"github.com/denverlabs/cococrm/internal/middleware"
)

// Guards are the per-group middlewares. APILimit may be nil.
type Guards struct {
	Session  func(http.Handler) http.Handler
	APIKey   func(http.Handler) http.Handler
	APILimit func(http.Handler) http.Handler
}

func SetupRoutes(r chi.Router, h *handlers.Handler, g Guards) {
	r.Get("/health", h.Health)

	// Browser auth
	r.Group(func(r chi.Router) {
		r.Use(g.Session)
		r.Use(h.URLTokenLogin)

		r.Post("/register", h.Register)
		r.Get(handlers.LoginPath, h.AuthConfig)
		r.Post(handlers.LoginPath, h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/auth/telegram/callback", h.TelegramCallback)
		r.Get("/auth/telegram", h.TelegramRedirect)
		r.Get(handlers.TokenLoginPath, h.TokenLogin)
		r.Get("/api/auth/config", h.AuthConfig)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get(handlers.DashboardPath, h.Dashboard)
			r.Get("/api/me", h.Me)
			r.Get("/api/auth/events", h.AuthEvents)
		})
	})

	// Telegram
	r.Post("/telegram/webhook", h.TelegramWebhook)

	// Service API
	r.Group(func(r chi.Router) {
		if g.APILimit != nil {
			r.Use(g.APILimit)
		}
		r.Post("/api/telegram/generate-token", h.GenerateToken)

		r.Group(func(r chi.Router) {
			r.Use(g.APIKey)
			r.Get("/api/contacts", h.ListContacts)
			r.Post("/api/contacts", h.CreateContact)
			r.Get("/api/deals", h.ListDeals)
			r.Post("/api/deals", h.CreateDeal)
			r.Get("/api/tasks", h.ListTasks)
			r.Post("/api/tasks", h.CreateTask)
		})
	})
}
