// Package blacklist supplies the individually blacklisted accounts and the
// blacklisted groups. The document scraping that produces the raw lists is a
// separate collaborator; this package consumes any Source and adds the
// caching, force-refresh, and failure semantics the evaluator depends on.
package blacklist

import (
	"context"
	"sync"
	"time"
)

// Entry is one blacklisted account or group.
type Entry struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Source produces the raw blacklists. Implementations fetch from wherever
// the lists are maintained.
type Source interface {
	FetchUsers(ctx context.Context) ([]Entry, error)
	FetchGroups(ctx context.Context) ([]Entry, error)
}

// Provider is what the evaluator consumes: each list cached independently
// and force-refreshable.
type Provider interface {
	Users(ctx context.Context, force bool) ([]Entry, error)
	Groups(ctx context.Context, force bool) ([]Entry, error)
}

// cachedList holds one list with its fetch time.
type cachedList struct {
	mu        sync.Mutex
	entries   []Entry
	fetchedAt time.Time
}

// Service caches a Source with a TTL. A fetch failure with a warm cache
// does NOT fall back to stale data: the evaluator's blacklist rule fails
// closed, and serving a stale list would let it pass open instead.
type Service struct {
	source Source
	ttl    time.Duration
	clock  func() time.Time

	users  cachedList
	groups cachedList
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// NewService wraps source with per-list TTL caching.
func NewService(source Source, ttl time.Duration, opts ...Option) *Service {
	s := &Service{source: source, ttl: ttl, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Users(ctx context.Context, force bool) ([]Entry, error) {
	return s.cached(ctx, &s.users, force, s.source.FetchUsers)
}

func (s *Service) Groups(ctx context.Context, force bool) ([]Entry, error) {
	return s.cached(ctx, &s.groups, force, s.source.FetchGroups)
}

func (s *Service) cached(ctx context.Context, list *cachedList, force bool, fetch func(context.Context) ([]Entry, error)) ([]Entry, error) {
	list.mu.Lock()
	defer list.mu.Unlock()

	fresh := !list.fetchedAt.IsZero() && s.clock().Sub(list.fetchedAt) < s.ttl
	if fresh && !force {
		return list.entries, nil
	}

	entries, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	list.entries = entries
	list.fetchedAt = s.clock()
	return entries, nil
}

// Static is a fixed-list Source for tests and local development.
type Static struct {
	UserEntries  []Entry
	GroupEntries []Entry
}

func (s Static) FetchUsers(ctx context.Context) ([]Entry, error)  { return s.UserEntries, nil }
func (s Static) FetchGroups(ctx context.Context) ([]Entry, error) { return s.GroupEntries, nil }
