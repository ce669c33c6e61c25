package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qatmarket/pkg/logger"
)

func TestRateLimiter_PerUserWindow(t *testing.T) {
	rdb := redisOrSkip(t)
	rl := NewRateLimiter(rdb, 2, time.Minute, logger.NewNop())
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	user := uuid.New()
	call := func(id uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: id, Role: RoleBuyer}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call(user).Code)
	w := call(user)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = call(user)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call(uuid.New()).Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	rl := NewRateLimiter(rdb, 1, time.Minute, logger.NewNop())
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRedisTokenBlacklist(t *testing.T) {
	rdb := redisOrSkip(t)
	bl := NewRedisTokenBlacklist(rdb)
	ctx := context.Background()
	token := "tok-" + uuid.NewString()

	revoked, err := bl.IsBlacklisted(ctx, token)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, bl.Revoke(ctx, "expired-"+token, time.Now().Add(-time.Minute)))
	revoked, _ = bl.IsBlacklisted(ctx, "expired-"+token)
	assert.False(t, revoked)

	require.NoError(t, bl.Revoke(ctx, token, time.Now().Add(time.Minute)))
	revoked, err = bl.IsBlacklisted(ctx, token)
	require.NoError(t, err)
	assert.True(t, revoked)

	keys, err := rdb.Keys(ctx, revokedPrefix+"*").Result()
	require.NoError(t, err)
	for _, k := range keys {
		assert.False(t, strings.Contains(k, token))
	}
}

func TestCorrelationID(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\nInjected: 1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotEqual(t, "bad id\nInjected: 1", seen)
	assert.Len(t, seen, 20)
}
