package auth

// Method names the channel a user authenticated through.
type Method string

const (
	MethodPassword Method = "password"
	MethodTelegram Method = "telegram"
	MethodService  Method = "api_key"
	MethodToken    Method = "temp_token"
	MethodBot      Method = "telegram_bot"
)

// Credential is one of PasswordCredential, TelegramCredential,
// ServiceCredential or TokenCredential. The set is closed.
type Credential interface {
	method() Method
}

// PasswordCredential is a local username and password.
type PasswordCredential struct {
	Username string
	Password string
}

// TelegramCredential is a signed login widget payload.
type TelegramCredential struct {
	Payload TelegramPayload
}

// ServiceCredential is an API-key authenticated lookup. At least one of
// TelegramID or Username must be set. A new service identity is created
// only when TelegramID is present.
type ServiceCredential struct {
	APIKey     string
	TelegramID *int64
	Username   string
	FirstName  string
}

// TokenCredential is a temporary login token from a URL.
type TokenCredential struct {
	Token string
}

func (PasswordCredential) method() Method { return MethodPassword }
func (TelegramCredential) method() Method { return MethodTelegram }
func (ServiceCredential) method() Method  { return MethodService }
func (TokenCredential) method() Method    { return MethodToken }

// MethodOf returns the channel a credential belongs to.
func MethodOf(c Credential) Method { return c.method() }
