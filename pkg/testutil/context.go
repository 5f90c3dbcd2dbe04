package testutil

import (
	"net/http"

	id "credrep/pkg/domain"
	"credrep/pkg/requestcontext"
)

// HeaderCaller is the header read by HeaderAuth.
const HeaderCaller = "X-Test-Caller"

// HeaderAuth stands in for the bearer token middleware in handler tests: the
// caller address comes from HeaderCaller and a missing one is a 401.
func HeaderAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := id.ParseAddress(r.Header.Get(HeaderCaller))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(r.Context(), addr)))
	})
}
