package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/qrpay/internal"
)

// RequirePermissions lets the request through when the authenticated admin
// holds any of the listed permissions. It must run after the auth middleware.
func RequirePermissions(logger *slog.Logger, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := internal.PrincipalFromContext(r.Context())
			if !ok {
				writeAppError(w, internal.ErrInvalidToken)
				return
			}

			for _, required := range permissions {
				if p.HasPermission(required) {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.WarnContext(r.Context(), "access denied: insufficient permissions",
				"admin_id", p.ID,
				"role", p.Role,
				"required_permissions", permissions,
				"path", r.URL.Path)
			writeAppError(w, internal.ErrInsufficientRole)
		})
	}
}

func writeAppError(w http.ResponseWriter, err *internal.AppError) {
	status, body := err.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
