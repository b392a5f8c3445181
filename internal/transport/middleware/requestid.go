package middleware

import (
	"net/http"

	"github.com/idanlevi/captionflow/pkg/logger"

	"github.com/google/uuid"
)

// RequestID threads a trace id through every request so a gateway callback
// can be correlated across the request log, the audit trail, and the
// gateway's own delivery logs. An inbound X-Trace-ID is honored, otherwise
// one is minted, and either way it is echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "trace_id", traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
