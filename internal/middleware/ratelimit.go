package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/pkg/clientip"
)

const (
	// APIRateLimitWindow is the fixed window for the service API counter.
	APIRateLimitWindow = time.Minute
	// APIRateLimitMaxRequests is the per-window budget for one client.
	APIRateLimitMaxRequests = 120
	// RateLimitKeyPrefix is the Redis key prefix for request counters.
	RateLimitKeyPrefix = "ratelimit:"
)

// APIRateLimiter is a fixed-window request counter kept in Redis so the
// budget is shared by every server instance.
type APIRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewAPIRateLimiter(rdb *redis.Client, limit int, window time.Duration) *APIRateLimiter {
	if limit <= 0 {
		limit = APIRateLimitMaxRequests
	}
	if window <= 0 {
		window = APIRateLimitWindow
	}
	return &APIRateLimiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Handler counts the request against the client's window. Redis failures
// let the request through.
func (l *APIRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := l.now()
		windowStart := now.Truncate(l.window)
		key := RateLimitKeyPrefix + clientip.LimitKey(clientip.RealClientIP(r)) + ":" + strconv.FormatInt(windowStart.Unix(), 10)

		pipe := l.rdb.TxPipeline()
		incr := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, l.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			logger.Warn("rate limit counter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		count := int(incr.Val())
		reset := windowStart.Add(l.window)
		remaining := l.limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > l.limit {
			retry := int(reset.Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
