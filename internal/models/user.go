package models

import "time"

// User is a CRM account. It is reachable by password, by Telegram ID, or
// both. Service users represent automated agents created through the
// API-key path.
type User struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email,omitempty"`
	PasswordHash     string    `json:"-"`
	TelegramID       *int64    `json:"telegram_id,omitempty"`
	TelegramUsername string    `json:"telegram_username,omitempty"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	PhotoURL         string    `json:"photo_url,omitempty"`
	IsService        bool      `json:"is_service"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// DisplayName prefers the Telegram first name, then the username.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

// TelegramProfile carries the profile fields a Telegram login reports.
type TelegramProfile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	PhotoURL  string
}
