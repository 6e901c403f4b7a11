package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/denverlabs/cococrm/internal/clock"
)

const usedTokenKeyPrefix = "used_token:"

// TokenLedger records redeemed temporary token IDs in Redis until the
// token would have expired anyway.
type TokenLedger struct {
	rdb   *redis.Client
	clock clock.Clock
}

func NewTokenLedger(rdb *redis.Client, clk clock.Clock) *TokenLedger {
	return &TokenLedger{rdb: rdb, clock: clk}
}

// MarkUsed returns true the first time jti is seen.
func (l *TokenLedger) MarkUsed(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(l.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := l.rdb.SetNX(ctx, usedTokenKeyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record token use: %w", err)
	}
	return ok, nil
}
