// Package requesttime pins one "now" per HTTP request so every timestamp a
// request writes to the ledger and its audit lines agree.
package requesttime

import (
	"net/http"
	"time"

	"credrep/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
