// Package eligibility owns the per-candidate rule evaluation: six criteria
// tests, the composite verdict, and the optional rank change. A Candidate is
// constructed per evaluation request and discarded after use; it carries the
// per-evaluation response cache and no cross-request state.
package eligibility

import (
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/myx-labs/api-mecs/internal/blacklist"
	"github.com/myx-labs/api-mecs/internal/eligibility/metrics"
	"github.com/myx-labs/api-mecs/internal/platform/config"
	"github.com/myx-labs/api-mecs/internal/roblox"
	dErrors "github.com/myx-labs/api-mecs/pkg/domain-errors"
)

// Hard-abort conditions. These abort the whole evaluation rather than
// producing a failing rule.
var (
	ErrBanned             = dErrors.New(dErrors.CodeConflict, "account is banned")
	ErrProcessingDisabled = dErrors.New(dErrors.CodeConflict, "membership processing is temporarily disabled")
	ErrNotInGroup         = dErrors.New(dErrors.CodeNotFound, "account is not in the group")
)

// Service wires the evaluator's collaborators. Candidates borrow them for
// the duration of one evaluation.
type Service struct {
	client    *roblox.Client
	blacklist blacklist.Provider
	policy    config.GroupPolicy

	processPending bool

	// writeGate admits one rank-change-capable evaluation at a time
	// process-wide. The session cookie and its anti-forgery token are shared
	// mutable state; concurrent writes under one session invalidate each
	// other's tokens.
	writeGate *semaphore.Weighted

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger. Nil-safe.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches Prometheus metrics. Nil-safe.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProcessPending toggles automated processing of pending-role accounts.
func WithProcessPending(enabled bool) Option {
	return func(s *Service) { s.processPending = enabled }
}

// New constructs the evaluator service.
func New(client *roblox.Client, bl blacklist.Provider, policy config.GroupPolicy, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if bl == nil {
		return nil, fmt.Errorf("blacklist provider is required")
	}
	s := &Service{
		client:         client,
		blacklist:      bl,
		policy:         policy,
		processPending: true,
		writeGate:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the group policy the service evaluates against.
func (s *Service) Policy() config.GroupPolicy { return s.policy }

// Candidate starts an evaluation for one account. username and lastRoleID
// may be zero when unknown; both are resolved lazily.
func (s *Service) Candidate(userID int64, username string, lastRoleID int64) *Candidate {
	return &Candidate{
		svc:        s,
		userID:     userID,
		username:   username,
		lastRoleID: lastRoleID,
		fetch:      s.client.Memo(),
	}
}

// roleName returns the policy's name for a role id, for logs.
func roleName(policy config.GroupPolicy, roleID int64) string {
	switch roleID {
	case policy.PendingRoleID:
		return "pending"
	case policy.IDCRoleID:
		return "idc"
	case policy.CitizenRoleID:
		return "citizen"
	case policy.StaffRoleID:
		return "staff"
	}
	return fmt.Sprintf("role %d", roleID)
}
