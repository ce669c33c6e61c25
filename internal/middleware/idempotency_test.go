package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"qatmarket/pkg/logger"
)

func redisOrSkip(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestIdempotencyMiddleware_ConcurrentRequests(t *testing.T) {
	rdb := redisOrSkip(t)
	mw := NewIdempotencyMiddleware(rdb, 10*time.Second, logger.NewNop())

	var calls atomic.Int32
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	wrapped := mw.Require(slow)

	key := uuid.NewString()
	user := Identity{UserID: uuid.New(), Role: RoleBuyer}
	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 50 * time.Millisecond)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
			req = req.WithContext(WithIdentity(req.Context(), user))
			req.Header.Set("Idempotency-Key", key)
			w := httptest.NewRecorder()
			wrapped.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated}, codes)
	assert.EqualValues(t, 1, calls.Load())
}

func TestIdempotencyMiddleware_RequiresKey(t *testing.T) {
	mw := NewIdempotencyMiddleware(nil, time.Second, logger.NewNop())
	h := mw.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
