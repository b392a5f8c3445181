package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
)

// sensitiveParams are query/form parameter names that must never reach logs.
// Gateway callbacks carry credentials and signatures in the query string, so
// the filter runs on parameters rather than JSON bodies.
var sensitiveParams = []string{
	"key",
	"api_key",
	"passp",
	"passphrase",
	"sign",
	"signature",
	"signh",
	"token",
	"authorization",
	"secret",
}

func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := middleware.GetReqID(r.Context())

			logger.Info("incoming request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"query", filterSensitiveQuery(r.URL.Query()),
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent())

			ww := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status(),
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) status() int {
	if sw.statusCode == 0 {
		return http.StatusOK
	}
	return sw.statusCode
}

func filterSensitiveQuery(values map[string][]string) map[string]string {
	filtered := make(map[string]string, len(values))
	for k, vs := range values {
		if isSensitiveParam(k) {
			filtered[k] = "[FILTERED]"
			continue
		}
		filtered[k] = strings.Join(vs, ",")
	}
	return filtered
}

func isSensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveParams {
		if lower == s {
			return true
		}
	}
	return false
}
