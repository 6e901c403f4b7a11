package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/clock"
	"github.com/denverlabs/cococrm/internal/logger"
)

// PurposeTempLogin marks tokens that may be exchanged for a session.
const PurposeTempLogin = "temp_login"

var (
	// ErrInvalidToken is the only verification error callers see.
	ErrInvalidToken = errors.New("invalid or expired token")

	errWrongPurpose = errors.New("token purpose mismatch")
	errTokenReused  = errors.New("token already used")
)

// TempClaims is the claim set of a temporary login token.
type TempClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}

// Validate runs after the standard exp check.
func (c TempClaims) Validate() error {
	if c.Purpose != PurposeTempLogin {
		return errWrongPurpose
	}
	if c.UserID <= 0 {
		return errors.New("token has no user")
	}
	return nil
}

// UsedTokenLedger records consumed token IDs. MarkUsed returns false if
// jti was already recorded.
type UsedTokenLedger interface {
	MarkUsed(ctx context.Context, jti string, until time.Time) (bool, error)
}

// IssuedToken is a signed token and its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenService issues and verifies HS256 temporary login tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	ledger UsedTokenLedger
}

type TokenOption func(*TokenService)

// WithSingleUse makes Redeem reject a token after its first success.
func WithSingleUse(ledger UsedTokenLedger) TokenOption {
	return func(s *TokenService) { s.ledger = ledger }
}

func NewTokenService(secret string, ttl time.Duration, clk clock.Clock, opts ...TokenOption) *TokenService {
	if clk == nil {
		clk = clock.Real()
	}
	s := &TokenService{secret: []byte(secret), ttl: ttl, clock: clk}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a temp_login token for the user.
func (s *TokenService) Issue(userID int64, username string) (IssuedToken, error) {
	return s.issue(userID, username, PurposeTempLogin, s.ttl)
}

func (s *TokenService) issue(userID int64, username, purpose string, ttl time.Duration) (IssuedToken, error) {
	if len(s.secret) == 0 {
		return IssuedToken{}, errors.New("token secret not configured")
	}
	now := s.clock.Now()
	expires := now.Add(ttl)
	claims := TempClaims{
		UserID:   userID,
		Username: username,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return IssuedToken{Token: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, expiry and purpose. A token is valid strictly
// before its exp instant. Every failure is reported as ErrInvalidToken;
// the cause is logged.
func (s *TokenService) Verify(tokenString string) (*TempClaims, error) {
	claims := &TempClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		logger.Debug("temp token rejected", zap.String("reason", tokenFailureReason(err)))
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Redeem verifies the token and, in single-use mode, consumes it.
func (s *TokenService) Redeem(ctx context.Context, tokenString string) (*TempClaims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return claims, nil
	}
	first, err := s.ledger.MarkUsed(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("mark token used: %w", err)
	}
	if !first {
		logger.Info("temp token rejected", zap.String("reason", errTokenReused.Error()), zap.Int64("user_id", claims.UserID))
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, errWrongPurpose):
		return "wrong_purpose"
	default:
		return err.Error()
	}
}
