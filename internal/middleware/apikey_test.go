package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		authz  string
		query  string
		want   string
	}{
		{name: "header", header: "k1", want: "k1"},
		{name: "bearer", authz: "Bearer k2", want: "k2"},
		{name: "bearer lowercase scheme", authz: "bearer k2", want: "k2"},
		{name: "query", query: "k3", want: "k3"},
		{name: "header wins over bearer and query", header: "k1", authz: "Bearer k2", query: "k3", want: "k1"},
		{name: "bearer wins over query", authz: "Bearer k2", query: "k3", want: "k2"},
		{name: "basic auth ignored", authz: "Basic dXNlcjpwdw==", want: ""},
		{name: "none", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target := "/api/contacts"
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set(APIKeyHeader, tt.header)
			}
			if tt.authz != "" {
				r.Header.Set("Authorization", tt.authz)
			}
			if got := APIKeyFromRequest(r); got != tt.want {
				t.Errorf("APIKeyFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	t.Parallel()

	check := func(k string) bool { return k == "secret" }
	h := RequireAPIKey(check)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"valid header", func(r *http.Request) { r.Header.Set(APIKeyHeader, "secret") }, http.StatusNoContent},
		{"valid bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusNoContent},
		{"wrong key", func(r *http.Request) { r.Header.Set(APIKeyHeader, "nope") }, http.StatusUnauthorized},
		{"missing key", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong header shadows valid query", func(r *http.Request) {
			r.Header.Set(APIKeyHeader, "nope")
			q := r.URL.Query()
			q.Set(APIKeyQueryParam, "secret")
			r.URL.RawQuery = q.Encode()
		}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
			tt.setup(r)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}
