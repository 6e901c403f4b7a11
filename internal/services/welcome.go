package services

import (
	"context"
	"fmt"

	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/models"
)

// WelcomeHook returns a resolver create hook that greets new Telegram
// users in their private chat.
func WelcomeHook(n Notifier, baseURL string) auth.CreateHook {
	return func(_ context.Context, u *models.User, method auth.Method) {
		if u.TelegramID == nil {
			return
		}
		text := fmt.Sprintf("Welcome to CocoCRM, %s! Your account %q is ready.\n\nOpen %s or send /login for a one-click sign-in link.",
			u.DisplayName(), u.Username, baseURL)
		n.SendText(*u.TelegramID, text)
	}
}
