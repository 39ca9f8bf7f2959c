package reconcile

import "context"

// ListFilter narrows a record listing. ActorID and TargetID are mutually
// exclusive; when both are set, ActorID wins. Evidence blobs are heavy, so
// listings omit them unless asked.
type ListFilter struct {
	Limit           int
	ActorID         int64
	TargetID        int64
	IncludeEvidence bool
}

// Store persists reconciliation records. The store is interface-driven so
// the loop and handlers are testable against an in-memory implementation
// while production runs on Postgres.
type Store interface {
	// Add inserts the record unless one with the same natural key already
	// exists. Duplicate adds are silent no-ops.
	Add(ctx context.Context, rec Record) error
	// Exists reports whether a record with the given natural key is stored.
	Exists(ctx context.Context, key Key) (bool, error)
	// List returns records ordered by action timestamp, newest first.
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	// TimestampRange returns the oldest and latest action timestamps held,
	// or nil when the store is empty.
	TimestampRange(ctx context.Context) (*TimestampRange, error)
	// AggregateStats summarizes decision accuracy across the whole store.
	AggregateStats(ctx context.Context) (*AggregateStats, error)
	// ActorStats summarizes decision accuracy per actor, ordered by record
	// count descending. A non-empty actorIDs restricts the result to those
	// actors.
	ActorStats(ctx context.Context, actorIDs []int64) ([]ActorStats, error)
}
