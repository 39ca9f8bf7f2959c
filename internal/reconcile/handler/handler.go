// Package handler exposes the reconciliation store over HTTP: record
// listings and decision-accuracy statistics.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/myx-labs/api-mecs/internal/reconcile"
	dErrors "github.com/myx-labs/api-mecs/pkg/domain-errors"
	"github.com/myx-labs/api-mecs/pkg/platform/httputil"
	"github.com/myx-labs/api-mecs/pkg/requestcontext"
)

// Handler wires audit endpoints to the reconciliation store.
type Handler struct {
	store  reconcile.Store
	logger *slog.Logger
}

// New constructs an audit handler.
func New(store reconcile.Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/logs", h.HandleLogs)
	r.Get("/audit/stats", h.HandleStats)
	r.Get("/audit/stats/actors", h.HandleActorStats)
}

// HandleLogs handles GET /audit/logs requests. Filters: limit, actor,
// target, includeEvidence=true.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := reconcile.ListFilter{
		IncludeEvidence: q.Get("includeEvidence") == "true",
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer"))
		return
	}
	if filter.ActorID, err = int64Param(q.Get("actor")); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "actor must be an integer"))
		return
	}
	if filter.TargetID, err = int64Param(q.Get("target")); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "target must be an integer"))
		return
	}

	records, err := h.store.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "record listing failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "record listing failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": records})
}

// HandleStats handles GET /audit/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.store.AggregateStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "aggregate stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "aggregate stats failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleActorStats handles GET /audit/stats/actors requests. An optional
// actors=1,2,3 query restricts the listing.
func (h *Handler) HandleActorStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var actorIDs []int64
	if raw := r.URL.Query().Get("actors"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "actors must be a comma-separated list of integers"))
				return
			}
			actorIDs = append(actorIDs, id)
		}
	}

	stats, err := h.store.ActorStats(ctx, actorIDs)
	if err != nil {
		h.logger.ErrorContext(ctx, "actor stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "actor stats failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": stats})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func int64Param(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
