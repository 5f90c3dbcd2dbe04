// Package version tags requests with the routed API version and rejects
// tokens minted for a newer surface.
package version

import (
	"log/slog"
	"net/http"

	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// ExtractVersion records the version of the subrouter it is mounted on.
func ExtractVersion(version id.APIVersion) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithAPIVersion(r.Context(), version)))
		})
	}
}

// ValidateTokenVersion must run after ExtractVersion and the auth middleware.
// Tokens without a version claim are treated as v1.
func ValidateTokenVersion(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			route := requestcontext.APIVersion(ctx)
			if route.IsNil() {
				logger.ErrorContext(ctx, "route version not set",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "route version not configured"))
				return
			}

			tok := requestcontext.TokenAPIVersion(ctx)
			if tok.IsNil() {
				tok = id.APIVersionV1
			}
			if !route.Accepts(tok) {
				logger.WarnContext(ctx, "token version rejected",
					"token_version", tok.String(),
					"route_version", route.String(),
					"caller", requestcontext.Caller(ctx).Hex(),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token not valid for this API version"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
