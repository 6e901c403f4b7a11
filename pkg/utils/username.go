package utils

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateUsername validates a username chosen at registration.
// Rules: 3-32 characters, letters, numbers, underscores only, must not
// start with an underscore.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)

	if len(username) < MinUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at least 3 characters"}
	}
	if len(username) > MaxUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at most 32 characters"}
	}
	if !usernameRegex.MatchString(username) {
		return &ValidationError{Field: "username", Message: "Username can only contain letters, numbers, and underscores"}
	}
	if !(unicode.IsLetter(rune(username[0])) || unicode.IsNumber(rune(username[0]))) {
		return &ValidationError{Field: "username", Message: "Username must start with a letter or number"}
	}
	return nil
}

// ValidateEmail accepts an empty address; email is optional.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "Email address is not valid"}
	}
	return nil
}

// ValidatePassword checks the registration password and its confirmation.
func ValidatePassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at least 8 characters"}
	}
	if password != confirm {
		return &ValidationError{Field: "confirm_password", Message: "Passwords do not match"}
	}
	return nil
}

// NormalizeUsername converts username to lowercase for storage
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail converts email to the stored form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TelegramUsername returns the preferred local username for a Telegram
// account: the handle when present, otherwise user_<telegram_id>.
func TelegramUsername(handle string, telegramID int64) string {
	handle = NormalizeUsername(strings.TrimPrefix(handle, "@"))
	if handle != "" {
		return handle
	}
	return "user_" + strconv.FormatInt(telegramID, 10)
}

// SuffixUsername appends the Telegram ID to base. Used once when the
// preferred username is already taken.
func SuffixUsername(base string, telegramID int64) string {
	return base + "_" + strconv.FormatInt(telegramID, 10)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
