// Package requestid assigns each request a correlation ID so log lines from
// one request can be tied together across services and handlers.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/myx-labs/api-mecs/pkg/requestcontext"
)

// Header is the request/response header carrying the correlation ID.
const Header = "X-Request-Id"

// Middleware injects a request ID into the context, honoring an inbound
// header when the caller already set one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(Header, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
