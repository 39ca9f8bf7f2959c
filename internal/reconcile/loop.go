package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/myx-labs/api-mecs/internal/eligibility"
	"github.com/myx-labs/api-mecs/internal/platform/config"
	"github.com/myx-labs/api-mecs/internal/reconcile/cursor"
	"github.com/myx-labs/api-mecs/internal/reconcile/metrics"
	"github.com/myx-labs/api-mecs/internal/roblox"
)

// AuditSource fetches audit-log pages. Satisfied by the platform client.
type AuditSource interface {
	AuditLogPage(ctx context.Context, groupID int64, sortOrder, cursor string, targetUserID int64) (*roblox.AuditPage, error)
}

// Loop walks the group's rank-change audit log and reconciles every
// qualifying entry. One Loop runs one mode at a time; all durable state
// lives in the record store and the cursor store.
type Loop struct {
	source    AuditSource
	evaluator *eligibility.Service
	store     Store
	cursor    cursor.Store
	policy    config.GroupPolicy

	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger attaches a logger. Nil-safe.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithMetrics attaches Prometheus metrics. Nil-safe.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithPollInterval overrides how long tail mode sleeps between passes.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.pollInterval = d }
}

// New constructs a reconciliation loop.
func New(source AuditSource, evaluator *eligibility.Service, store Store, cur cursor.Store, policy config.GroupPolicy, opts ...Option) (*Loop, error) {
	if source == nil {
		return nil, fmt.Errorf("audit source is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cur == nil {
		cur = cursor.NewMemory()
	}
	l := &Loop{
		source:       source,
		evaluator:    evaluator,
		store:        store,
		cursor:       cur,
		policy:       policy,
		pollInterval: time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run executes the configured mode until ctx is cancelled. With onlyNew set
// it tails the log for new entries; otherwise it backfills history first and
// then tails. resumeCursor controls whether backfill resumes from the
// persisted cursor or starts over.
func (l *Loop) Run(ctx context.Context, onlyNew, resumeCursor bool) error {
	if !onlyNew {
		if err := l.Backfill(ctx, resumeCursor); err != nil {
			return err
		}
	}
	return l.Tail(ctx)
}

// RunGapFill reconciles entries between two bounds and then chains into tail
// mode.
func (l *Loop) RunGapFill(ctx context.Context, lower, upper time.Time) error {
	if err := l.FillGap(ctx, lower, upper); err != nil {
		return err
	}
	return l.Tail(ctx)
}

// Backfill walks the audit log oldest-first and reconciles every qualifying
// entry whose timestamp falls inside the store's known range (everything,
// when the store is empty). The shared cursor is persisted after each page
// fetch, so a restart resumes at the next page rather than page one.
func (l *Loop) Backfill(ctx context.Context, resume bool) error {
	cur := ""
	if resume {
		persisted, err := l.cursor.Get(ctx)
		if err != nil {
			return fmt.Errorf("load audit cursor: %w", err)
		}
		cur = persisted
	}

	rng, err := l.store.TimestampRange(ctx)
	if err != nil {
		return fmt.Errorf("load timestamp range: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := l.source.AuditLogPage(ctx, l.policy.GroupID, "Asc", cur, 0)
		if err != nil {
			return fmt.Errorf("fetch audit page: %w", err)
		}
		l.metrics.CountPage("backfill")

		next := ""
		if page.NextPageCursor != nil {
			next = *page.NextPageCursor
		}
		// Cursor advancement is decoupled from per-entry reconciliation: a
		// crash mid-page never replays completed pages.
		if next != "" {
			if err := l.cursor.Set(ctx, next); err != nil {
				return fmt.Errorf("persist audit cursor: %w", err)
			}
		}

		inRange := 0
		for _, entry := range page.Data {
			if rng != nil && (entry.Created.Before(rng.Oldest) || entry.Created.After(rng.Latest)) {
				continue
			}
			inRange++
			if l.qualifies(entry) {
				l.processEntry(ctx, entry)
			}
		}
		l.logger.DebugContext(ctx, "backfill page processed",
			"entries", len(page.Data),
			"in_range", inRange,
		)

		if inRange == 0 || next == "" {
			l.logger.InfoContext(ctx, "backfill complete")
			return nil
		}
		cur = next
	}
}

// Tail polls for entries newer than the latest reconciled action timestamp.
// It never touches the shared cursor and runs until ctx is cancelled.
func (l *Loop) Tail(ctx context.Context) error {
	for {
		if err := l.tailPass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Background process: a failed pass is an observability event,
			// not a terminal fault.
			l.logger.ErrorContext(ctx, "tail pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// tailPass reconciles entries newer than the store's latest action
// timestamp, newest-first, stopping at the first page without any new ones.
func (l *Loop) tailPass(ctx context.Context) error {
	rng, err := l.store.TimestampRange(ctx)
	if err != nil {
		return fmt.Errorf("load timestamp range: %w", err)
	}

	cur := ""
	for {
		page, err := l.source.AuditLogPage(ctx, l.policy.GroupID, "Desc", cur, 0)
		if err != nil {
			return fmt.Errorf("fetch audit page: %w", err)
		}
		l.metrics.CountPage("tail")

		fresh := 0
		for _, entry := range page.Data {
			if rng != nil && !entry.Created.After(rng.Latest) {
				continue
			}
			fresh++
			if l.qualifies(entry) {
				l.processEntry(ctx, entry)
			}
		}
		if fresh == 0 || page.NextPageCursor == nil {
			return nil
		}
		cur = *page.NextPageCursor
	}
}

// FillGap reconciles entries between lower and upper, newest-first, without
// touching the shared cursor. Paging stops as soon as any entry on a page
// falls below the lower bound; with interleaved timestamps this can end a
// scan early, which matches the historical behavior.
func (l *Loop) FillGap(ctx context.Context, lower, upper time.Time) error {
	cur := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := l.source.AuditLogPage(ctx, l.policy.GroupID, "Desc", cur, 0)
		if err != nil {
			return fmt.Errorf("fetch audit page: %w", err)
		}
		l.metrics.CountPage("gapfill")

		belowRange := false
		for _, entry := range page.Data {
			if entry.Created.Before(lower) {
				belowRange = true
				continue
			}
			if entry.Created.After(upper) {
				continue
			}
			if l.qualifies(entry) {
				l.processEntry(ctx, entry)
			}
		}
		if belowRange || page.NextPageCursor == nil {
			l.logger.InfoContext(ctx, "gap fill complete")
			return nil
		}
		cur = *page.NextPageCursor
	}
}

// qualifies reports whether an entry is a rank change this system audits:
// one landing on the accept or reject role.
func (l *Loop) qualifies(entry roblox.AuditEntry) bool {
	newRole := entry.Description.NewRoleSetID
	return newRole == l.policy.CitizenRoleID || newRole == l.policy.IDCRoleID
}

// processEntry reconciles a single audit entry. Failures are logged and the
// entry skipped; one bad record never aborts the page or the run.
func (l *Loop) processEntry(ctx context.Context, entry roblox.AuditEntry) {
	key := Key{
		ActorID:         entry.Actor.User.UserID,
		TargetID:        entry.Description.TargetID,
		OldRoleID:       entry.Description.OldRoleSetID,
		NewRoleID:       entry.Description.NewRoleSetID,
		ActionTimestamp: entry.Created,
	}

	exists, err := l.store.Exists(ctx, key)
	if err != nil {
		l.metrics.CountEntry("error")
		l.logger.ErrorContext(ctx, "record lookup failed", "target_id", key.TargetID, "error", err)
		return
	}
	if exists {
		l.metrics.CountEntry("duplicate")
		return
	}

	candidate := l.evaluator.Candidate(key.TargetID, entry.Description.TargetName, key.OldRoleID)
	// The old role decides the evaluation scope: a demotion from citizen is
	// re-checked against the blacklist only, like the original review was.
	blacklistOnly := key.OldRoleID == l.policy.CitizenRoleID

	var (
		pass   bool
		status *eligibility.TestStatus
		owns   *bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pass, status, err = candidate.CriteriaPassing(gctx, blacklistOnly)
		return err
	})
	g.Go(func() error {
		// Supplementary signal; absent on failure rather than fatal.
		if owned, err := candidate.OwnsHCC(gctx); err == nil {
			owns = &owned
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		l.metrics.CountEntry("error")
		l.logger.WarnContext(ctx, "entry evaluation failed, skipping",
			"target_id", key.TargetID,
			"action_timestamp", key.ActionTimestamp,
			"error", err,
		)
		return
	}

	membership, err := candidate.Membership(ctx)
	if err != nil {
		l.metrics.CountEntry("error")
		l.logger.WarnContext(ctx, "membership fetch failed, skipping", "target_id", key.TargetID, "error", err)
		return
	}
	if membership == nil {
		// The target has since left the group; without a current role the
		// record cannot be completed.
		l.metrics.CountEntry("skipped")
		l.logger.DebugContext(ctx, "target no longer in group, skipping", "target_id", key.TargetID)
		return
	}

	username, err := candidate.Username(ctx)
	if err != nil {
		username = entry.Description.TargetName
	}
	evidence, err := json.Marshal(Evidence{
		Username:         username,
		GroupMembership:  membership,
		HCCGamepassOwned: owns,
		Exempt:           candidate.Exempt(membership.Role.ID),
		Tests:            status,
	})
	if err != nil {
		l.metrics.CountEntry("error")
		l.logger.ErrorContext(ctx, "evidence marshal failed, skipping", "target_id", key.TargetID, "error", err)
		return
	}

	rec := Record{
		ActorID:         key.ActorID,
		TargetID:        key.TargetID,
		OldRoleID:       key.OldRoleID,
		NewRoleID:       key.NewRoleID,
		ActionTimestamp: key.ActionTimestamp,
		ReviewTimestamp: time.Now(),
		ReviewPass:      pass,
		Evidence:        evidence,
	}
	if err := l.store.Add(ctx, rec); err != nil {
		l.metrics.CountEntry("error")
		l.logger.ErrorContext(ctx, "record insert failed", "target_id", key.TargetID, "error", err)
		return
	}

	l.metrics.CountEntry("recorded")
	l.metrics.SetLastProcessed(key.ActionTimestamp)
	l.logger.InfoContext(ctx, "entry reconciled",
		"actor_id", key.ActorID,
		"target_id", key.TargetID,
		"username", username,
		"old_role_id", key.OldRoleID,
		"new_role_id", key.NewRoleID,
		"action_timestamp", key.ActionTimestamp,
		"pass", pass,
	)
}
