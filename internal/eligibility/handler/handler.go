// Package handler wires the eligibility endpoints to the evaluator service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/myx-labs/api-mecs/internal/blacklist"
	"github.com/myx-labs/api-mecs/internal/eligibility"
	"github.com/myx-labs/api-mecs/internal/roblox"
	dErrors "github.com/myx-labs/api-mecs/pkg/domain-errors"
	"github.com/myx-labs/api-mecs/pkg/platform/httputil"
	"github.com/myx-labs/api-mecs/pkg/requestcontext"
)

// Resolver turns a username into an account record.
type Resolver interface {
	ResolveUsername(ctx context.Context, name string) (*roblox.User, error)
}

// Handler wires eligibility endpoints to the evaluator service.
type Handler struct {
	service   *eligibility.Service
	resolver  Resolver
	blacklist blacklist.Provider
	logger    *slog.Logger
}

// New constructs an eligibility handler with its dependencies.
func New(service *eligibility.Service, resolver Resolver, bl blacklist.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		resolver:  resolver,
		blacklist: bl,
		logger:    logger,
	}
}

// Register mounts the read endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/user/{id}", h.HandleEvaluate)
	r.Get("/blacklist/users", h.HandleBlacklistUsers)
	r.Get("/blacklist/groups", h.HandleBlacklistGroups)
}

// RegisterProtected mounts the write endpoints; the router applies token
// authentication before these are reached.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/user/{id}/automated-review", h.HandleAutomatedReview)
}

// target resolves the {id} path parameter, which is either a numeric account
// id or a username.
func (h *Handler) target(w http.ResponseWriter, r *http.Request) (userID int64, username string, ok bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "user id is required"))
		return 0, "", false
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, "", true
	}
	user, err := h.resolver.ResolveUsername(r.Context(), raw)
	if err != nil {
		httputil.WriteError(w, err)
		return 0, "", false
	}
	return user.ID, user.Name, true
}

// HandleEvaluate handles GET /user/{id} requests.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	userID, username, ok := h.target(w, r)
	if !ok {
		return
	}
	blacklistOnly := r.URL.Query().Get("blacklistOnly") == "true"

	candidate := h.service.Candidate(userID, username, 0)
	eval, err := candidate.Evaluate(ctx, blacklistOnly)
	if err != nil {
		h.logger.ErrorContext(ctx, "evaluation failed",
			"request_id", requestID,
			"user_id", userID,
			"blacklist_only", blacklistOnly,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "candidate evaluated",
		"request_id", requestID,
		"user_id", userID,
		"username", eval.User.Username,
		"blacklist_only", blacklistOnly,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, eval)
}

// HandleAutomatedReview handles POST /user/{id}/automated-review requests.
func (h *Handler) HandleAutomatedReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	userID, username, ok := h.target(w, r)
	if !ok {
		return
	}

	candidate := h.service.Candidate(userID, username, 0)
	result, err := candidate.AutomatedReview(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "automated review failed",
			"request_id", requestID,
			"user_id", userID,
			"subject", requestcontext.Subject(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "automated review completed",
		"request_id", requestID,
		"user_id", userID,
		"subject", requestcontext.Subject(ctx),
		"changed", result.Changed,
		"passing", result.Passing,
		"exempt", result.Exempt,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleBlacklistUsers handles GET /blacklist/users requests. A refresh=true
// query forces a fetch past the cache.
func (h *Handler) HandleBlacklistUsers(w http.ResponseWriter, r *http.Request) {
	h.serveBlacklist(w, r, h.blacklist.Users)
}

// HandleBlacklistGroups handles GET /blacklist/groups requests.
func (h *Handler) HandleBlacklistGroups(w http.ResponseWriter, r *http.Request) {
	h.serveBlacklist(w, r, h.blacklist.Groups)
}

func (h *Handler) serveBlacklist(w http.ResponseWriter, r *http.Request, list func(context.Context, bool) ([]blacklist.Entry, error)) {
	ctx := r.Context()
	force := r.URL.Query().Get("refresh") == "true"

	entries, err := list(ctx, force)
	if err != nil {
		h.logger.ErrorContext(ctx, "blacklist fetch failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "blacklist unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": entries})
}
