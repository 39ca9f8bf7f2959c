// Package postgres is the production reconciliation store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/myx-labs/api-mecs/internal/reconcile"
)

const table = "mecs.action_log"

// Store persists reconciliation records in PostgreSQL.
type Store struct {
	db         *sql.DB
	passRoleID int64
	failRoleID int64
}

// New constructs a Postgres-backed store. passRoleID and failRoleID are the
// roles a correct decision lands on for passing and failing reviews.
func New(db *sql.DB, passRoleID, failRoleID int64) *Store {
	return &Store{db: db, passRoleID: passRoleID, failRoleID: failRoleID}
}

// EnsureSchema creates the record table and its natural-key uniqueness
// constraint. The loop already checks before inserting; the constraint is a
// safety net against racing runs.
func (s *Store) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE SCHEMA IF NOT EXISTS mecs`,
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			actor_id int8 NOT NULL,
			target_id int8 NOT NULL,
			old_role_id int8 NOT NULL,
			new_role_id int8 NOT NULL,
			action_timestamp timestamptz NOT NULL,
			review_timestamp timestamptz,
			review_pass bool,
			review_data json
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS action_log_natural_key
			ON ` + table + ` (actor_id, target_id, old_role_id, new_role_id, action_timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Add(ctx context.Context, rec reconcile.Record) error {
	query := `
		INSERT INTO ` + table + `
			(actor_id, target_id, old_role_id, new_role_id, action_timestamp, review_timestamp, review_pass, review_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (actor_id, target_id, old_role_id, new_role_id, action_timestamp) DO NOTHING
	`
	var evidence any
	if len(rec.Evidence) > 0 {
		evidence = []byte(rec.Evidence)
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ActorID,
		rec.TargetID,
		rec.OldRoleID,
		rec.NewRoleID,
		rec.ActionTimestamp,
		rec.ReviewTimestamp,
		rec.ReviewPass,
		evidence,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation record: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key reconcile.Key) (bool, error) {
	query := `
		SELECT COUNT(*) FROM ` + table + `
		WHERE actor_id = $1 AND target_id = $2 AND old_role_id = $3 AND new_role_id = $4 AND action_timestamp = $5
	`
	var count int64
	err := s.db.QueryRowContext(ctx, query,
		key.ActorID, key.TargetID, key.OldRoleID, key.NewRoleID, key.ActionTimestamp,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check reconciliation record: %w", err)
	}
	return count > 0, nil
}

func (s *Store) List(ctx context.Context, filter reconcile.ListFilter) ([]reconcile.Record, error) {
	scope := "actor_id, target_id, old_role_id, new_role_id, action_timestamp, review_timestamp, review_pass"
	if filter.IncludeEvidence {
		scope += ", review_data"
	}

	query := `SELECT ` + scope + ` FROM ` + table
	var args []any
	switch {
	case filter.ActorID != 0:
		query += ` WHERE actor_id = $1`
		args = append(args, filter.ActorID)
	case filter.TargetID != 0:
		query += ` WHERE target_id = $1`
		args = append(args, filter.TargetID)
	}
	query += ` ORDER BY action_timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation records: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Record
	for rows.Next() {
		var rec reconcile.Record
		var reviewAt sql.NullTime
		var reviewPass sql.NullBool
		dest := []any{
			&rec.ActorID, &rec.TargetID, &rec.OldRoleID, &rec.NewRoleID,
			&rec.ActionTimestamp, &reviewAt, &reviewPass,
		}
		var evidence []byte
		if filter.IncludeEvidence {
			dest = append(dest, &evidence)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan reconciliation record: %w", err)
		}
		rec.ReviewTimestamp = reviewAt.Time
		rec.ReviewPass = reviewPass.Bool
		rec.Evidence = evidence
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reconciliation records: %w", err)
	}
	return out, nil
}

func (s *Store) TimestampRange(ctx context.Context) (*reconcile.TimestampRange, error) {
	query := `SELECT MIN(action_timestamp), MAX(action_timestamp) FROM ` + table
	var oldest, latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query).Scan(&oldest, &latest); err != nil {
		return nil, fmt.Errorf("timestamp range: %w", err)
	}
	if !oldest.Valid || !latest.Valid {
		return nil, nil
	}
	return &reconcile.TimestampRange{Oldest: oldest.Time, Latest: latest.Time}, nil
}

// correctCase is the SQL predicate for a decision agreeing with its review
// verdict. $1 is the pass role, $2 the fail role.
const correctCase = `(review_pass = true AND new_role_id = $1) OR (review_pass = false AND new_role_id = $2)`

// sameDayCase restricts to reviews landing within a day of the action.
const sameDayCase = `DATE_PART('day', review_timestamp - action_timestamp) = 0`

func (s *Store) AggregateStats(ctx context.Context) (*reconcile.AggregateStats, error) {
	query := `
		SELECT
			COUNT(DISTINCT actor_id) AS actors,
			COUNT(*) AS total,
			COUNT(CASE WHEN (` + correctCase + `) THEN 1 ELSE null END) AS correct,
			COUNT(CASE WHEN (` + sameDayCase + `) THEN 1 ELSE null END) AS valid_total,
			COUNT(CASE WHEN (` + correctCase + `) AND (` + sameDayCase + `) THEN 1 ELSE null END) AS valid_correct,
			(
				SELECT EXTRACT(EPOCH FROM mode() WITHIN GROUP (ORDER BY difference_action_timestamp))
				FROM (
					SELECT action_timestamp - LAG(action_timestamp) OVER (ORDER BY action_timestamp)
						AS difference_action_timestamp
					FROM ` + table + `
				) AS mtbd_table
			) AS mtbd
		FROM ` + table

	stats := &reconcile.AggregateStats{}
	var valid reconcile.AccuracyWindow
	var mtbd sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, s.passRoleID, s.failRoleID).Scan(
		&stats.Actors,
		&stats.DAR.Total,
		&stats.DAR.Correct,
		&valid.Total,
		&valid.Correct,
		&mtbd,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	if valid.Total > 0 {
		stats.DAR.Valid = &valid
	}
	if mtbd.Valid {
		stats.MTBDSeconds = &mtbd.Float64
	}

	rng, err := s.TimestampRange(ctx)
	if err != nil {
		return nil, err
	}
	stats.TimeRange = rng
	return stats, nil
}

func (s *Store) ActorStats(ctx context.Context, actorIDs []int64) ([]reconcile.ActorStats, error) {
	filter := ""
	args := []any{s.passRoleID, s.failRoleID}
	if len(actorIDs) > 0 {
		filter = ` WHERE ` + table + `.actor_id = ANY($3::int8[])`
		args = append(args, pq.Array(actorIDs))
	}

	query := `
		SELECT
			` + table + `.actor_id,
			COUNT(*) AS total,
			COUNT(CASE WHEN (` + correctCase + `) THEN 1 ELSE null END) AS correct,
			COUNT(CASE WHEN (` + sameDayCase + `) THEN 1 ELSE null END) AS valid_total,
			COUNT(CASE WHEN (` + correctCase + `) AND (` + sameDayCase + `) THEN 1 ELSE null END) AS valid_correct,
			mtbd_table.mtbd
		FROM ` + table + `
		LEFT JOIN (
			SELECT actor_id, EXTRACT(EPOCH FROM mode() WITHIN GROUP (ORDER BY difference_action_timestamp)) AS mtbd
			FROM (
				SELECT actor_id,
					action_timestamp - LAG(action_timestamp) OVER (ORDER BY action_timestamp)
						AS difference_action_timestamp
				FROM ` + table + `
			) AS gaps
			GROUP BY actor_id
		) AS mtbd_table ON ` + table + `.actor_id = mtbd_table.actor_id` + filter + `
		GROUP BY ` + table + `.actor_id, mtbd_table.mtbd
		ORDER BY total DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("actor stats: %w", err)
	}
	defer rows.Close()

	var out []reconcile.ActorStats
	for rows.Next() {
		var st reconcile.ActorStats
		var valid reconcile.AccuracyWindow
		var mtbd sql.NullFloat64
		if err := rows.Scan(&st.ActorID, &st.DAR.Total, &st.DAR.Correct, &valid.Total, &valid.Correct, &mtbd); err != nil {
			return nil, fmt.Errorf("scan actor stats: %w", err)
		}
		if valid.Total > 0 {
			st.DAR.Valid = &valid
		}
		if mtbd.Valid {
			st.MTBDSeconds = &mtbd.Float64
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("actor stats: %w", err)
	}
	return out, nil
}
