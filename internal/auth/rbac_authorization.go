package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cardvault/storefront/internal"
)

type RBACAuthorization struct {
	authorizer PermissionChecker
	logger     *slog.Logger
}

func NewRBACAuthorization(authorizer PermissionChecker, logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{
		authorizer: authorizer,
		logger:     logger,
	}
}

func (ra *RBACAuthorization) Check(next http.HandlerFunc, permission string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := internal.SubjectFromContext(r.Context())
		if subject == "" {
			ra.logger.Warn("authorization check failed: operator not found in context")
			WriteError(w, internal.NewUnauthorizedError("authentication required", internal.ErrCodeInvalidToken))
			return
		}

		permissions := internal.PermissionsFromContext(r.Context())
		hasAccess, err := ra.authorizer.HasPermission(r.Context(), permissions, permission)
		if err != nil {
			ra.logger.ErrorContext(r.Context(), "authorization check failed", "error", err, "subject", subject, "permission", permission)
			WriteError(w, internal.NewInternalError("authorization check failed", err))
			return
		}

		if !hasAccess {
			ra.logger.WarnContext(r.Context(), "access denied: insufficient permissions",
				"subject", subject,
				"required_permission", permission,
				"user_permissions", permissions)
			WriteError(w, internal.ErrMissingPermission)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (ra *RBACAuthorization) Middleware(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ra.Check(next.ServeHTTP, permission)
	}
}

// WriteError renders an AppError the way BaseHandler does.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := internal.IsAppError(err)
	if !ok {
		appErr = internal.ErrInvalidToken
	}
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
