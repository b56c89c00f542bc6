package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/pkg/logger"
)

// RequestID propagates X-Trace-ID, minting one when the caller sent none, and
// binds it to the context logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" || len(traceID) > 128 {
			traceID = uuid.NewString()
		}

		ctx := internal.ContextWithTraceID(r.Context(), traceID)
		ctx = logger.With(ctx, "trace_id", traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
