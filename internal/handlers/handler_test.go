package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/bot"
	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/handlers"
	"github.com/denverlabs/cococrm/internal/middleware"
	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/internal/routes"
	"github.com/denverlabs/cococrm/internal/testutil"
)

const (
	testBotToken      = "123456:TEST"
	testAPIKey        = "api-key-123"
	testBaseURL       = "https://crm.example"
	testWebhookSecret = "hook-secret"
)

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingAudit struct {
	mu     sync.Mutex
	events []models.AuthEvent
}

func (a *recordingAudit) Record(ev models.AuthEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) Recent(_ context.Context, userID int64, limit int) ([]models.AuthEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuthEvent
	for i := len(a.events) - 1; i >= 0 && len(out) < limit; i-- {
		if a.events[i].UserID == userID {
			out = append(out, a.events[i])
		}
	}
	return out, nil
}

type fakeCRM struct {
	mu       sync.Mutex
	contacts []models.Contact
}

func (c *fakeCRM) ListContacts(_ context.Context, userID int64, _ int) ([]models.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Contact
	for _, ct := range c.contacts {
		if ct.UserID == userID {
			out = append(out, ct)
		}
	}
	return out, nil
}

func (c *fakeCRM) ListDeals(context.Context, int64, int) ([]models.Deal, error) { return nil, nil }
func (c *fakeCRM) ListTasks(context.Context, int64, int) ([]models.Task, error) { return nil, nil }

func (c *fakeCRM) RecentActivities(context.Context, int64, int) ([]models.Activity, error) {
	return nil, nil
}

func (c *fakeCRM) CreateContact(_ context.Context, ct *models.Contact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct.ID = int64(len(c.contacts) + 1)
	c.contacts = append(c.contacts, *ct)
	return nil
}

func (c *fakeCRM) CreateDeal(_ context.Context, d *models.Deal) error { return nil }
func (c *fakeCRM) CreateTask(_ context.Context, t *models.Task) error { return nil }

type sentMessage struct {
	chatID int64
	text   string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) SendText(chatID int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID, text})
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fixture struct {
	users    *testutil.UserStore
	sessions *testutil.SessionStore
	clock    *clock.FakeClock
	tokens   *auth.TokenService
	audit    *recordingAudit
	crm      *fakeCRM
	botOut   *recordingSender
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    testutil.NewUserStore(),
		sessions: testutil.NewSessionStore(),
		clock:    clock.Fake(epoch),
		audit:    &recordingAudit{},
		crm:      &fakeCRM{},
		botOut:   &recordingSender{},
	}
	f.tokens = auth.NewTokenService("secret", time.Hour, f.clock)
	resolver := auth.NewResolver(
		f.users,
		auth.NewTelegramVerifier(testBotToken, 24*time.Hour, f.clock),
		f.tokens,
		testAPIKey,
	)
	h := handlers.New(handlers.Deps{
		Resolver: resolver,
		Tokens:   f.tokens,
		Sessions: f.sessions,
		CRM:      f.crm,
		Audit:    f.audit,
		Bot:      bot.NewCommands(bot.NewLocalIssuer(resolver, f.tokens, testBaseURL), f.botOut),
		Clock:    f.clock,
	}, handlers.Options{
		BaseURL:       testBaseURL,
		BotUsername:   "coco_crm_bot",
		SessionTTL:    time.Hour,
		WebhookSecret: testWebhookSecret,
	})

	r := chi.NewRouter()
	routes.SetupRoutes(r, h, routes.Guards{
		Session: middleware.LoadSession(f.sessions, f.users),
		APIKey:  middleware.RequireAPIKey(resolver.CheckAPIKey),
	})
	f.router = r
	return f
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func jsonRequest(method, target string, body any) *http.Request {
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(method, target, strings.NewReader(string(b)))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName && c.MaxAge >= 0 {
			return c
		}
	}
	return nil
}

func TestRegisterDuplicateLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	body := map[string]string{
		"username":         "alice",
		"email":            "alice@example.com",
		"password":         "hunter22!",
		"confirm_password": "hunter22!",
	}
	if w := f.do(jsonRequest(http.MethodPost, "/register", body)); w.Code != http.StatusCreated {
		t.Fatalf("first register status = %d, body %s", w.Code, w.Body)
	}
	before := f.users.Snapshot()

	body["email"] = "other@example.com"
	w := f.do(jsonRequest(http.MethodPost, "/register", body))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", w.Code)
	}
	if got := decode(t, w.Body)["error"]; got != "Username is already taken" {
		t.Errorf("error = %v", got)
	}
	if after := f.users.Snapshot(); len(after) != len(before) {
		t.Errorf("store changed: %d users before, %d after", len(before), len(after))
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	form := url.Values{"username": {"bob"}, "password": {"hunter22!"}, "confirm_password": {"different1"}}
	r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := f.do(r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if f.users.Len() != 0 {
		t.Error("invalid registration created a user")
	}
}

func TestRegisterFormRedirectsToLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	form := url.Values{"username": {"bob"}, "password": {"hunter22!"}, "confirm_password": {"hunter22!"}}
	r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := f.do(r)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303, body %s", w.Code, w.Body)
	}
	if loc := w.Header().Get("Location"); loc != handlers.LoginPath+"?registered=1" {
		t.Errorf("Location = %q", loc)
	}
	if f.users.Len() != 1 {
		t.Errorf("users = %d, want 1", f.users.Len())
	}

	// The login page it lands on answers GET.
	if w := f.do(httptest.NewRequest(http.MethodGet, handlers.LoginPath+"?registered=1", nil)); w.Code != http.StatusOK {
		t.Errorf("GET %s status = %d", handlers.LoginPath, w.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.do(jsonRequest(http.MethodPost, "/register", map[string]string{
		"username": "alice", "password": "hunter22!", "confirm_password": "hunter22!",
	}))

	w := f.do(jsonRequest(http.MethodPost, "/login", map[string]string{"username": "alice", "password": "wrong-pass"}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", w.Code)
	}
	if sessionCookie(w) != nil {
		t.Error("failed login set a session cookie")
	}

	w = f.do(jsonRequest(http.MethodPost, "/login", map[string]string{"username": "alice", "password": "hunter22!"}))
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body)
	}
	cookie := sessionCookie(w)
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie = %+v", cookie)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	r.AddCookie(cookie)
	w = f.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("/api/me status = %d", w.Code)
	}
	user := decode(t, w.Body)["user"].(map[string]any)
	if user["username"] != "alice" {
		t.Errorf("user = %v", user)
	}
	if _, leaked := user["PasswordHash"]; leaked {
		t.Error("password hash serialized")
	}

	if n := len(f.audit.events); n != 2 || f.audit.events[0].Success || !f.audit.events[1].Success {
		t.Errorf("audit events = %+v", f.audit.events)
	}
}

func TestTokenLoginRedirects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target func(token string) string
		want   string
	}{
		{"auth token endpoint", func(tok string) string { return "/auth/token?token=" + tok }, "/dashboard"},
		{"next path", func(tok string) string { return "/auth/token?next=%2Fapi%2Fme&token=" + tok }, "/api/me"},
		{"external next ignored", func(tok string) string { return "/auth/token?next=https%3A%2F%2Fevil.example&token=" + tok }, "/dashboard"},
		{"token on any page", func(tok string) string { return "/dashboard?token=" + tok + "&tab=deals" }, "/dashboard?tab=deals"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			u := f.users.Add(models.User{Username: "coco"})
			issued, err := f.tokens.Issue(u.ID, u.Username)
			if err != nil {
				t.Fatal(err)
			}

			w := f.do(httptest.NewRequest(http.MethodGet, tt.target(url.QueryEscape(issued.Token)), nil))
			if w.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want 303, body %s", w.Code, w.Body)
			}
			if loc := w.Header().Get("Location"); loc != tt.want {
				t.Errorf("Location = %q, want %q", loc, tt.want)
			}
			if sessionCookie(w) == nil {
				t.Error("no session cookie")
			}
		})
	}
}

func TestTokenLoginExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := f.users.Add(models.User{Username: "coco"})
	issued, err := f.tokens.Issue(u.ID, u.Username)
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Hour)

	w := f.do(httptest.NewRequest(http.MethodGet, "/auth/token?token="+url.QueryEscape(issued.Token), nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if sessionCookie(w) != nil {
		t.Error("expired token opened a session")
	}
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	w := f.do(jsonRequest(http.MethodPost, "/api/telegram/generate-token", map[string]any{
		"api_key": "wrong", "telegram_id": "777",
	}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", w.Code)
	}

	w = f.do(jsonRequest(http.MethodPost, "/api/telegram/generate-token", map[string]any{
		"api_key": testAPIKey, "telegram_id": "777", "username": "CocoBot",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	out := decode(t, w.Body)
	if out["success"] != true || out["expires_in"] != float64(60) || out["username"] != "cocobot" {
		t.Errorf("response = %v", out)
	}
	link, _ := out["url"].(string)
	if !strings.HasPrefix(link, testBaseURL+"/auth/token?token=") {
		t.Errorf("url = %q", link)
	}

	// The link logs in as the created user.
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	w = f.do(httptest.NewRequest(http.MethodGet, parsed.RequestURI(), nil))
	if w.Code != http.StatusSeeOther {
		t.Errorf("redeem status = %d", w.Code)
	}

	// A second request for the same Telegram user reuses the account.
	r := jsonRequest(http.MethodPost, "/api/telegram/generate-token", map[string]any{"telegram_id": 777})
	r.Header.Set(middleware.APIKeyHeader, testAPIKey)
	if w := f.do(r); w.Code != http.StatusOK {
		t.Fatalf("header key status = %d", w.Code)
	}
	if f.users.Len() != 1 {
		t.Errorf("users = %d, want 1", f.users.Len())
	}
}

func TestAPIKeyTransportsEquivalent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.Add(models.User{Username: "coco"})

	transports := map[string]func(r *http.Request, key string){
		"header": func(r *http.Request, key string) { r.Header.Set(middleware.APIKeyHeader, key) },
		"bearer": func(r *http.Request, key string) { r.Header.Set("Authorization", "Bearer "+key) },
		"query": func(r *http.Request, key string) {
			q := r.URL.Query()
			q.Set(middleware.APIKeyQueryParam, key)
			r.URL.RawQuery = q.Encode()
		},
	}

	for name, apply := range transports {
		r := httptest.NewRequest(http.MethodGet, "/api/contacts?username=coco", nil)
		apply(r, testAPIKey)
		if w := f.do(r); w.Code != http.StatusOK {
			t.Errorf("%s: valid key status = %d, body %s", name, w.Code, w.Body)
		}

		r = httptest.NewRequest(http.MethodGet, "/api/contacts?username=coco", nil)
		apply(r, "wrong")
		if w := f.do(r); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: wrong key status = %d, want 401", name, w.Code)
		}
	}

	if w := f.do(httptest.NewRequest(http.MethodGet, "/api/contacts?username=coco", nil)); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", w.Code)
	}
}

func TestServiceAPIUserSelection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coco := f.users.Add(models.User{Username: "coco"})

	// Unknown username without a Telegram ID is not created.
	r := httptest.NewRequest(http.MethodGet, "/api/contacts?username=ghost", nil)
	r.Header.Set(middleware.APIKeyHeader, testAPIKey)
	if w := f.do(r); w.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", w.Code)
	}

	r = jsonRequest(http.MethodPost, "/api/contacts", map[string]any{"username": "coco", "name": "Ada Lovelace"})
	r.Header.Set(middleware.APIKeyHeader, testAPIKey)
	w := f.do(r)
	if w.Code != http.StatusCreated {
		t.Fatalf("create contact status = %d, body %s", w.Code, w.Body)
	}
	if len(f.crm.contacts) != 1 || f.crm.contacts[0].UserID != coco.ID {
		t.Errorf("contacts = %+v", f.crm.contacts)
	}
	created, _ := decode(t, w.Body)["contact"].(map[string]any)
	if created["id"] != float64(1) || created["name"] != "Ada Lovelace" {
		t.Errorf("contact = %v", created)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/contacts?username=coco", nil)
	r.Header.Set(middleware.APIKeyHeader, testAPIKey)
	w = f.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("list contacts status = %d", w.Code)
	}
	list := decode(t, w.Body)
	if contacts, _ := list["contacts"].([]any); len(contacts) != 1 || list["count"] != float64(1) {
		t.Errorf("list = %v", list)
	}

	// A Telegram ID creates a service identity on first contact.
	r = httptest.NewRequest(http.MethodGet, "/api/tasks?telegram_id=9001&username=agent", nil)
	r.Header.Set(middleware.APIKeyHeader, testAPIKey)
	w = f.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("telegram id lookup status = %d, body %s", w.Code, w.Body)
	}
	if tasks, ok := decode(t, w.Body)["tasks"].([]any); !ok || len(tasks) != 0 {
		t.Errorf("tasks = %v", tasks)
	}
	u, err := f.users.GetByTelegramID(context.Background(), 9001)
	if err != nil {
		t.Fatalf("service user not created: %v", err)
	}
	if !u.IsService {
		t.Error("API-created user is not marked as a service identity")
	}
}

func webhookRequest(t *testing.T, secret string, update tgbotapi.Update) *http.Request {
	t.Helper()
	b, err := json.Marshal(update)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(string(b)))
	r.Header.Set("Content-Type", "application/json")
	if secret != "" {
		r.Header.Set(handlers.WebhookSecretHeader, secret)
	}
	return r
}

func loginUpdate(fromID, chatID int64, firstName string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: fromID, FirstName: firstName},
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "private"},
			Text:      "/login",
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
		},
	}
}

func TestTelegramWebhookAlwaysOK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("not json"))
	r.Header.Set(handlers.WebhookSecretHeader, testWebhookSecret)
	if w := f.do(r); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestTelegramWebhookRequiresSecret(t *testing.T) {
	t.Parallel()

	for name, secret := range map[string]string{
		"missing": "",
		"wrong":   "hook-secreT",
		"prefix":  "hook",
	} {
		secret := secret
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			w := f.do(webhookRequest(t, secret, loginUpdate(777, 777, "Coco")))
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if len(f.botOut.messages()) != 0 || f.users.Len() != 0 {
				t.Error("update without the webhook secret was processed")
			}
		})
	}
}

func TestTelegramWebhookLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(webhookRequest(t, testWebhookSecret, loginUpdate(777, 777, "Coco")))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	sent := f.botOut.messages()
	if len(sent) != 1 || sent[0].chatID != 777 {
		t.Fatalf("sent = %+v", sent)
	}
	if !strings.Contains(sent[0].text, testBaseURL+handlers.TokenLoginPath+"?token=") {
		t.Errorf("reply %q has no login link", sent[0].text)
	}
}

func TestTelegramWebhookIgnoresForeignChat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	victim := f.users.Add(models.User{Username: "admin", TelegramID: int64Ptr(777), FirstName: "Admin"})

	// A correctly authenticated update still cannot send 777's link to chat 999.
	w := f.do(webhookRequest(t, testWebhookSecret, loginUpdate(777, 999, "X")))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if sent := f.botOut.messages(); len(sent) != 0 {
		t.Fatalf("sent = %+v", sent)
	}
	u, err := f.users.GetByID(context.Background(), victim.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.FirstName != "Admin" {
		t.Errorf("FirstName = %q, profile was rewritten", u.FirstName)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestAuthConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := f.do(httptest.NewRequest(http.MethodGet, "/api/auth/config", nil))
	out := decode(t, w.Body)
	if out["telegram_enabled"] != true || out["telegram_bot_username"] != "coco_crm_bot" {
		t.Errorf("config = %v", out)
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if w := f.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil)); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestTelegramCallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := auth.TelegramPayload{
		"id":         "4242",
		"first_name": "Coco",
		"username":   "coco",
		"auth_date":  "1740823200",
	}
	p["hash"] = auth.TelegramHash(testBotToken, p)

	body := map[string]any{}
	for k, v := range p {
		body[k] = v
	}
	w := f.do(jsonRequest(http.MethodPost, "/auth/telegram/callback", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if out := decode(t, w.Body); out["created"] != true {
		t.Errorf("first login created = %v", out["created"])
	}

	// Same payload again resolves to the same account.
	w = f.do(jsonRequest(http.MethodPost, "/auth/telegram/callback", body))
	if w.Code != http.StatusOK || f.users.Len() != 1 {
		t.Errorf("second login status = %d, users = %d", w.Code, f.users.Len())
	}

	body["first_name"] = "Mallory"
	if w := f.do(jsonRequest(http.MethodPost, "/auth/telegram/callback", body)); w.Code != http.StatusUnauthorized {
		t.Errorf("tampered payload status = %d, want 401", w.Code)
	}
}
