// Package httptransport assembles the service's HTTP surface: middleware,
// health and metrics endpoints, and the per-area handlers.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eligibilityhandler "github.com/myx-labs/api-mecs/internal/eligibility/handler"
	reconcilehandler "github.com/myx-labs/api-mecs/internal/reconcile/handler"
	"github.com/myx-labs/api-mecs/pkg/platform/httputil"
	"github.com/myx-labs/api-mecs/pkg/platform/middleware/auth"
	"github.com/myx-labs/api-mecs/pkg/platform/middleware/requestid"
	"github.com/myx-labs/api-mecs/pkg/requestcontext"
)

// Deps are the wired handlers the router mounts. Audit may be nil when the
// reconciliation store is not configured; Auth may be nil to leave the write
// path open, which only makes sense in development.
type Deps struct {
	Eligibility *eligibilityhandler.Handler
	Audit       *reconcilehandler.Handler
	Auth        *auth.Validator
	Logger      *slog.Logger
}

// NewRouter wires all public endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestid.Middleware)
	r.Use(requestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	deps.Eligibility.Register(r)
	if deps.Audit != nil {
		deps.Audit.Register(r)
	}

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Middleware)
		}
		deps.Eligibility.RegisterProtected(r)
	})

	return r
}

// requestLogger logs one line per request with the correlation ID.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "request handled",
				"request_id", requestcontext.RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
