package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiter(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := NewIPRateLimiter(time.Minute, 2)
	l.now = func() time.Time { return now }

	if !l.Allow("1.1.1.1") || !l.Allow("1.1.1.1") {
		t.Fatal("burst requests were rejected")
	}
	if l.Allow("1.1.1.1") {
		t.Error("third request inside the burst window was allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Error("other client was rejected")
	}

	now = now.Add(time.Minute)
	if !l.Allow("1.1.1.1") {
		t.Error("request after refill was rejected")
	}

	now = now.Add(time.Hour)
	if got := l.Cleanup(); got != 2 {
		t.Errorf("Cleanup() removed %d buckets, want 2", got)
	}
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()

	l := NewIPRateLimiter(time.Hour, 1)
	h := LoginRateLimit(l, LoginPaths)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path string) int {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		r.RemoteAddr = "198.51.100.4:1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	if got := do("/login"); got != http.StatusOK {
		t.Fatalf("first login = %d", got)
	}
	if got := do("/login"); got != http.StatusTooManyRequests {
		t.Errorf("second login = %d, want 429", got)
	}
	if got := do("/dashboard"); got != http.StatusOK {
		t.Errorf("unlimited path = %d, want 200", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := SecurityHeaders(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		headerXContentTypeOptions:     "nosniff",
		headerXFrameOptions:           "DENY",
		headerReferrerPolicy:          "no-referrer",
		headerStrictTransportSecurity: "max-age=31536000; includeSubDomains",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
