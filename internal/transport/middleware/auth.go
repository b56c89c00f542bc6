package middleware

import (
	"log/slog"
	"net/http"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/auth"
	"github.com/cardvault/storefront/internal/transport"
	"github.com/cardvault/storefront/pkg/logger"
)

// Authenticate verifies the operator bearer token and puts the subject and
// permissions on the request context.
func Authenticate(validator auth.TokenValidator, lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := transport.BearerToken(r)
			if token == "" {
				auth.WriteError(w, internal.NewUnauthorizedError("missing bearer token", internal.ErrCodeInvalidToken))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				lg.Warn("operator token rejected", "error", err, "path", r.URL.Path)
				auth.WriteError(w, err)
				return
			}

			ctx := internal.ContextWithSubject(r.Context(), claims.Subject)
			ctx = internal.ContextWithPermissions(ctx, claims.Permissions)
			ctx = logger.With(ctx, "operator", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
