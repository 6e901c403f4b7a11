package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/testutil"
)

var tokenEpoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestTokenExpiresAfterLifetime(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(tokenEpoch)
	svc := NewTokenService("secret", time.Minute, clk)

	issued, err := svc.Issue(7, "alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !issued.ExpiresAt.Equal(tokenEpoch.Add(time.Minute)) {
		t.Fatalf("ExpiresAt = %v", issued.ExpiresAt)
	}

	claims, err := svc.Verify(issued.Token)
	if err != nil {
		t.Fatalf("Verify() immediately error = %v", err)
	}
	if claims.UserID != 7 || claims.Username != "alice" || claims.Purpose != PurposeTempLogin {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("token has no jti")
	}

	clk.Advance(59 * time.Second)
	if _, err := svc.Verify(issued.Token); err != nil {
		t.Fatalf("Verify() at 59s error = %v", err)
	}

	clk.Advance(time.Second)
	if _, err := svc.Verify(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() at exactly exp error = %v, want ErrInvalidToken", err)
	}

	clk.Advance(time.Second)
	if _, err := svc.Verify(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() at 61s error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenDefaultLifetime(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(tokenEpoch)
	svc := NewTokenService("secret", 180*time.Minute, clk)
	issued, err := svc.Issue(1, "a")
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(179 * time.Minute)
	if _, err := svc.Verify(issued.Token); err != nil {
		t.Fatalf("Verify() at 179m error = %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := svc.Verify(issued.Token); err == nil {
		t.Fatal("Verify() at 180m succeeded")
	}
}

func TestTokenWrongPurposeRejected(t *testing.T) {
	t.Parallel()

	svc := NewTokenService("secret", time.Hour, clock.Fake(tokenEpoch))
	for _, purpose := range []string{"password_reset", "", "TEMP_LOGIN"} {
		issued, err := svc.issue(7, "alice", purpose, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Verify(issued.Token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("purpose %q: Verify() error = %v, want ErrInvalidToken", purpose, err)
		}
	}
}

func TestTokenTamperingRejected(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(tokenEpoch)
	svc := NewTokenService("secret", time.Hour, clk)
	issued, err := svc.Issue(7, "alice")
	if err != nil {
		t.Fatal(err)
	}

	other := NewTokenService("other-secret", time.Hour, clk)
	if _, err := other.Verify(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret error = %v", err)
	}

	parts := strings.Split(issued.Token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := svc.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered signature error = %v", err)
	}

	for _, bad := range []string{"", "abc", "a.b.c"} {
		if _, err := svc.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q) error = %v", bad, err)
		}
	}
}

func TestTokenRejectsUnsignedAndOtherAlgorithms(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(tokenEpoch)
	svc := NewTokenService("secret", time.Hour, clk)
	claims := TempClaims{
		UserID:  7,
		Purpose: PurposeTempLogin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(tokenEpoch.Add(time.Hour)),
		},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg=none error = %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS512 error = %v", err)
	}

	noExp := claims
	noExp.ExpiresAt = nil
	unbounded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noExp).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(unbounded); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("missing exp error = %v", err)
	}
}

func TestTokenReusableByDefault(t *testing.T) {
	t.Parallel()

	svc := NewTokenService("secret", time.Hour, clock.Fake(tokenEpoch))
	issued, err := svc.Issue(7, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Redeem(context.Background(), issued.Token); err != nil {
			t.Fatalf("Redeem() #%d error = %v", i+1, err)
		}
	}
}

func TestTokenSingleUse(t *testing.T) {
	t.Parallel()

	svc := NewTokenService("secret", time.Hour, clock.Fake(tokenEpoch), WithSingleUse(testutil.NewTokenLedger()))
	issued, err := svc.Issue(7, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Redeem(context.Background(), issued.Token); err != nil {
		t.Fatalf("first Redeem() error = %v", err)
	}
	if _, err := svc.Redeem(context.Background(), issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second Redeem() error = %v, want ErrInvalidToken", err)
	}

	second, err := svc.Issue(7, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Redeem(context.Background(), second.Token); err != nil {
		t.Fatalf("fresh token Redeem() error = %v", err)
	}
}

func TestTokenFailureReason(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{jwt.ErrTokenExpired, "expired"},
		{jwt.ErrTokenMalformed, "malformed"},
		{jwt.ErrTokenSignatureInvalid, "bad_signature"},
		{errWrongPurpose, "wrong_purpose"},
	}
	for _, tc := range cases {
		if got := tokenFailureReason(tc.err); got != tc.want {
			t.Errorf("tokenFailureReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
