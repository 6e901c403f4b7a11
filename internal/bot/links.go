package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/models"
)

// LoginLink is a one-click login URL and how long it stays valid.
type LoginLink struct {
	URL       string
	ExpiresIn time.Duration
}

// LinkIssuer produces login links for Telegram users.
type LinkIssuer interface {
	LoginLink(ctx context.Context, profile models.TelegramProfile) (LoginLink, error)
}

// TokenURL builds the login URL for a temporary token.
func TokenURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/auth/token?token=" + url.QueryEscape(token)
}

// LocalIssuer issues links in-process. Used when updates arrive through
// the server's own webhook.
type LocalIssuer struct {
	resolver *auth.Resolver
	tokens   *auth.TokenService
	baseURL  string
}

func NewLocalIssuer(resolver *auth.Resolver, tokens *auth.TokenService, baseURL string) *LocalIssuer {
	return &LocalIssuer{resolver: resolver, tokens: tokens, baseURL: baseURL}
}

func (i *LocalIssuer) LoginLink(ctx context.Context, profile models.TelegramProfile) (LoginLink, error) {
	u, _, err := i.resolver.FindOrCreateTelegram(ctx, profile, false)
	if err != nil {
		return LoginLink{}, err
	}
	issued, err := i.tokens.Issue(u.ID, u.Username)
	if err != nil {
		return LoginLink{}, err
	}
	return LoginLink{URL: TokenURL(i.baseURL, issued.Token), ExpiresIn: i.tokens.TTL()}, nil
}

// RequestTimeout bounds each call to the link endpoint.
const RequestTimeout = 10 * time.Second

// HTTPIssuer asks a running server for links through the API-key
// protected generate-token endpoint. Used by the standalone polling bot.
type HTTPIssuer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPIssuer(baseURL, apiKey string, client *http.Client) *HTTPIssuer {
	if client == nil {
		client = &http.Client{Timeout: RequestTimeout}
	}
	return &HTTPIssuer{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/telegram/generate-token",
		apiKey:   apiKey,
		client:   client,
	}
}

type generateTokenRequest struct {
	TelegramID string `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
}

type generateTokenResponse struct {
	Success   bool   `json:"success"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
	Error     string `json:"error"`
}

func (i *HTTPIssuer) LoginLink(ctx context.Context, profile models.TelegramProfile) (LoginLink, error) {
	body, err := json.Marshal(generateTokenRequest{
		TelegramID: strconv.FormatInt(profile.ID, 10),
		Username:   profile.Username,
		FirstName:  profile.FirstName,
	})
	if err != nil {
		return LoginLink{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return LoginLink{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", i.apiKey)

	resp, err := i.client.Do(req)
	if err != nil {
		return LoginLink{}, fmt.Errorf("request login link: %w", err)
	}
	defer resp.Body.Close()

	var out generateTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return LoginLink{}, fmt.Errorf("decode login link (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success || out.URL == "" {
		return LoginLink{}, fmt.Errorf("login link endpoint: HTTP %d: %s", resp.StatusCode, out.Error)
	}
	return LoginLink{URL: out.URL, ExpiresIn: time.Duration(out.ExpiresIn) * time.Minute}, nil
}
