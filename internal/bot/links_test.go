package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/denverlabs/cococrm/internal/models"
)

func TestTokenURL(t *testing.T) {
	t.Parallel()

	got := TokenURL("https://crm.example/", "a.b+c")
	if want := "https://crm.example/auth/token?token=a.b%2Bc"; got != want {
		t.Errorf("TokenURL() = %q, want %q", got, want)
	}
}

func TestHTTPIssuer(t *testing.T) {
	t.Parallel()

	var gotKey string
	var gotBody generateTokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/telegram/generate-token" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("X-API-Key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"token":      "tok",
			"url":        "https://crm.example/auth/token?token=tok",
			"expires_in": 180,
		})
	}))
	defer srv.Close()

	issuer := NewHTTPIssuer(srv.URL+"/", "k", srv.Client())
	link, err := issuer.LoginLink(context.Background(), models.TelegramProfile{ID: 77, Username: "coco"})
	if err != nil {
		t.Fatalf("LoginLink() error = %v", err)
	}
	if gotKey != "k" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotBody.TelegramID != "77" || gotBody.Username != "coco" {
		t.Errorf("request body = %+v", gotBody)
	}
	if link.URL != "https://crm.example/auth/token?token=tok" || link.ExpiresIn != 180*time.Minute {
		t.Errorf("link = %+v", link)
	}
}

func TestHTTPIssuerRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":"Invalid API key"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPIssuer(srv.URL, "wrong", srv.Client()).LoginLink(context.Background(), models.TelegramProfile{ID: 1})
	if err == nil {
		t.Fatal("LoginLink() succeeded against a 401")
	}
}
