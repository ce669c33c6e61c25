package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"qatmarket/pkg/logger"
)

// IdempotencyMiddleware enforces Idempotency-Key usage for unsafe methods.
type IdempotencyMiddleware struct {
	cache  *redis.Client
	ttl    time.Duration
	logger logger.Logger
	// wait bounds how long a duplicate waits for the first request.
	wait time.Duration
}

// NewIdempotencyMiddleware constructs an IdempotencyMiddleware with a TTL.
func NewIdempotencyMiddleware(cache *redis.Client, ttl time.Duration, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:  cache,
		ttl:    ttl,
		logger: log,
		wait:   5 * time.Second,
	}
}

// Require blocks duplicate POST/PUT/PATCH/DELETE requests with the same key.
// It expects the header: Idempotency-Key. Keys are scoped to the caller.
func (m *IdempotencyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut &&
			r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			jsonError(w, http.StatusBadRequest, "Idempotency-Key header required")
			return
		}
		if len(key) > 128 {
			jsonError(w, http.StatusBadRequest, "Idempotency-Key too long")
			return
		}

		owner := "anon"
		if id, ok := UserIDFromContext(r.Context()); ok && id != uuid.Nil {
			owner = id.String()
		}
		dataKey := fmt.Sprintf("idempotency:data:%s:%s:%s:%s", owner, r.Method, r.URL.Path, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s:%s:%s", owner, r.Method, r.URL.Path, key)

		// Fast path: cached response exists
		if m.replayCached(w, r, dataKey) {
			return
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, RequestIDFromContext(r.Context()), m.ttl).Result()
		if err != nil {
			m.logger.Error("Idempotency store unavailable", map[string]interface{}{"error": err.Error()})
			jsonError(w, http.StatusServiceUnavailable, "Please try again")
			return
		}

		if !ok {
			// Another request with this key is in flight; wait for its response.
			deadline := time.Now().Add(m.wait)
			for time.Now().Before(deadline) {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
				if m.replayCached(w, r, dataKey) {
					return
				}
			}
			jsonError(w, http.StatusConflict, "Duplicate request still in progress")
			return
		}
		defer m.cache.Del(r.Context(), lockKey)

		cw := newCaptureWriter(w, 1<<20)
		next.ServeHTTP(cw, r)

		if err := m.cacheResponse(r, dataKey, cw); err != nil {
			m.logger.Warn("Failed to cache idempotent response", map[string]interface{}{"error": err.Error()})
		}
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey).Bytes()
	if err != nil {
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

func (m *IdempotencyMiddleware) cacheResponse(r *http.Request, dataKey string, cw *captureWriter) error {
	// Server errors and truncated bodies are not replayed.
	if cw.status == 0 || cw.status >= http.StatusInternalServerError || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	})
	if err != nil {
		return err
	}
	return m.cache.Set(r.Context(), dataKey, payload, m.ttl).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	status    int
	truncated bool
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	space := w.limit - len(w.buf)
	switch {
	case space >= len(p):
		w.buf = append(w.buf, p...)
	default:
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}
