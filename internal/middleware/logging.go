package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"qatmarket/pkg/logger"
)

type LoggingMiddleware struct {
	logger logger.Logger
}

func NewLoggingMiddleware(log logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: log}
}

// Log writes one line per request. 5xx responses log at error level, 4xx at
// warn.
func (m *LoggingMiddleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.statusCode,
			"bytes":       rec.bytes,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          r.RemoteAddr,
			"request_id":  RequestIDFromContext(r.Context()),
		}

		switch {
		case rec.statusCode >= http.StatusInternalServerError:
			m.logger.Error("HTTP request", fields)
		case rec.statusCode >= http.StatusBadRequest:
			m.logger.Warn("HTTP request", fields)
		default:
			m.logger.Info("HTTP request", fields)
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
