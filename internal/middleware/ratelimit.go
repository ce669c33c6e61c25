package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"qatmarket/pkg/logger"
)

// RateLimiter is a fixed-window counter per caller, shared by every instance
// through Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger logger.Logger
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration, log logger.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, limit: limit, window: window, logger: log}
}

// bucket keys authenticated callers by user and everyone else by IP.
func bucket(r *http.Request) string {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return "qatmarket:ratelimit:user:" + userID.String()
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return "qatmarket:ratelimit:ip:" + ip
}

// Limit rejects with 429 once the window's budget is spent. It fails open
// when Redis is unavailable.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bucket(r)

		var incr *redis.IntCmd
		var ttl *redis.DurationCmd
		_, err := rl.client.TxPipelined(r.Context(), func(p redis.Pipeliner) error {
			incr = p.Incr(r.Context(), key)
			p.ExpireNX(r.Context(), key, rl.window)
			ttl = p.PTTL(r.Context(), key)
			return nil
		})
		if err != nil {
			rl.logger.Warn("Rate limiter unavailable", map[string]interface{}{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		count := incr.Val()
		remaining := int64(rl.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.limit) {
			retry := int(ttl.Val().Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
