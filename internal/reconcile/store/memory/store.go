// Package memory is the in-memory reconciliation store, used in tests and
// when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/myx-labs/api-mecs/internal/reconcile"
)

// Store keeps records in a map keyed by natural identity. It intentionally
// favors clarity over performance.
type Store struct {
	passRoleID int64
	failRoleID int64

	mu      sync.RWMutex
	records map[reconcile.Key]reconcile.Record
}

// New constructs an empty store. passRoleID and failRoleID are the roles a
// correct decision lands on for passing and failing reviews respectively.
func New(passRoleID, failRoleID int64) *Store {
	return &Store{
		passRoleID: passRoleID,
		failRoleID: failRoleID,
		records:    make(map[reconcile.Key]reconcile.Record),
	}
}

func (s *Store) Add(_ context.Context, rec reconcile.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	if _, ok := s.records[key]; ok {
		return nil
	}
	s.records[key] = rec
	return nil
}

func (s *Store) Exists(_ context.Context, key reconcile.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *Store) List(_ context.Context, filter reconcile.ListFilter) ([]reconcile.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]reconcile.Record, 0, len(s.records))
	for _, rec := range s.records {
		switch {
		case filter.ActorID != 0 && rec.ActorID != filter.ActorID:
		case filter.ActorID == 0 && filter.TargetID != 0 && rec.TargetID != filter.TargetID:
		default:
			if !filter.IncludeEvidence {
				rec.Evidence = nil
			}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActionTimestamp.After(out[j].ActionTimestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) TimestampRange(_ context.Context) (*reconcile.TimestampRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timestampRangeLocked(), nil
}

func (s *Store) timestampRangeLocked() *reconcile.TimestampRange {
	var rng *reconcile.TimestampRange
	for _, rec := range s.records {
		if rng == nil {
			rng = &reconcile.TimestampRange{Oldest: rec.ActionTimestamp, Latest: rec.ActionTimestamp}
			continue
		}
		if rec.ActionTimestamp.Before(rng.Oldest) {
			rng.Oldest = rec.ActionTimestamp
		}
		if rec.ActionTimestamp.After(rng.Latest) {
			rng.Latest = rec.ActionTimestamp
		}
	}
	return rng
}

func (s *Store) AggregateStats(_ context.Context) (*reconcile.AggregateStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &reconcile.AggregateStats{TimeRange: s.timestampRangeLocked()}
	actors := make(map[int64]struct{})
	var all []reconcile.Record
	valid := reconcile.AccuracyWindow{}
	for _, rec := range s.records {
		actors[rec.ActorID] = struct{}{}
		all = append(all, rec)
		stats.DAR.Total++
		correct := s.correct(rec)
		if correct {
			stats.DAR.Correct++
		}
		if sameDay(rec) {
			valid.Total++
			if correct {
				valid.Correct++
			}
		}
	}
	stats.Actors = int64(len(actors))
	if valid.Total > 0 {
		stats.DAR.Valid = &valid
	}
	stats.MTBDSeconds = modeGapSeconds(all)
	return stats, nil
}

func (s *Store) ActorStats(_ context.Context, actorIDs []int64) ([]reconcile.ActorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(actorIDs))
	for _, id := range actorIDs {
		wanted[id] = struct{}{}
	}
	byActor := make(map[int64][]reconcile.Record)
	for _, rec := range s.records {
		if len(wanted) > 0 {
			if _, ok := wanted[rec.ActorID]; !ok {
				continue
			}
		}
		byActor[rec.ActorID] = append(byActor[rec.ActorID], rec)
	}

	out := make([]reconcile.ActorStats, 0, len(byActor))
	for actorID, recs := range byActor {
		st := reconcile.ActorStats{ActorID: actorID, MTBDSeconds: modeGapSeconds(recs)}
		valid := reconcile.AccuracyWindow{}
		for _, rec := range recs {
			st.DAR.Total++
			correct := s.correct(rec)
			if correct {
				st.DAR.Correct++
			}
			if sameDay(rec) {
				valid.Total++
				if correct {
					valid.Correct++
				}
			}
		}
		if valid.Total > 0 {
			st.DAR.Valid = &valid
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DAR.Total != out[j].DAR.Total {
			return out[i].DAR.Total > out[j].DAR.Total
		}
		return out[i].ActorID < out[j].ActorID
	})
	return out, nil
}

// correct reports whether the recorded decision agrees with the review
// verdict.
func (s *Store) correct(rec reconcile.Record) bool {
	return (rec.ReviewPass && rec.NewRoleID == s.passRoleID) ||
		(!rec.ReviewPass && rec.NewRoleID == s.failRoleID)
}

// sameDay reports whether the review happened within a day of the action.
func sameDay(rec reconcile.Record) bool {
	d := rec.ReviewTimestamp.Sub(rec.ActionTimestamp)
	if d < 0 {
		d = -d
	}
	return d < 24*time.Hour
}

// modeGapSeconds is the most frequent gap between consecutive decisions,
// ordered by action timestamp. Ties resolve to the smaller gap. Returns nil
// with fewer than two records.
func modeGapSeconds(recs []reconcile.Record) *float64 {
	if len(recs) < 2 {
		return nil
	}
	sorted := append([]reconcile.Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ActionTimestamp.Before(sorted[j].ActionTimestamp)
	})

	counts := make(map[time.Duration]int)
	for i := 1; i < len(sorted); i++ {
		counts[sorted[i].ActionTimestamp.Sub(sorted[i-1].ActionTimestamp)]++
	}
	var mode time.Duration
	best := 0
	for gap, n := range counts {
		if n > best || (n == best && gap < mode) {
			mode = gap
			best = n
		}
	}
	seconds := mode.Seconds()
	return &seconds
}
