package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
	// UserSessionKeyPrefix is the Redis key prefix for user->session mapping
	UserSessionKeyPrefix = "user_session:"
)

// SessionStore keeps one opaque session token per user in Redis.
// Logging in again replaces the previous session and restarts its TTL.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Create invalidates any existing session for the user and returns a new
// token.
func (s *SessionStore) Create(ctx context.Context, userID int64) (string, error) {
	if err := s.InvalidateUser(ctx, userID); err != nil {
		return "", err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)
	id := strconv.FormatInt(userID, 10)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SessionKeyPrefix+token, id, s.ttl)
		pipe.Set(ctx, UserSessionKeyPrefix+id, token, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate returns the user ID for a live session token.
func (s *SessionStore) Validate(ctx context.Context, token string) (int64, bool, error) {
	if token == "" {
		return 0, false, nil
	}
	raw, err := s.rdb.Get(ctx, SessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load session: %w", err)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt session value: %w", err)
	}
	return userID, true, nil
}

// Invalidate removes a session and the user's pointer to it.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	key := SessionKeyPrefix + token
	if id, err := s.rdb.Get(ctx, key).Result(); err == nil && id != "" {
		s.rdb.Del(ctx, UserSessionKeyPrefix+id)
	}
	return s.rdb.Del(ctx, key).Err()
}

// InvalidateUser removes whatever session the user currently has.
func (s *SessionStore) InvalidateUser(ctx context.Context, userID int64) error {
	userKey := UserSessionKeyPrefix + strconv.FormatInt(userID, 10)
	token, err := s.rdb.Get(ctx, userKey).Result()
	if err == nil && token != "" {
		s.rdb.Del(ctx, SessionKeyPrefix+token)
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load user session: %w", err)
	}
	return s.rdb.Del(ctx, userKey).Err()
}
