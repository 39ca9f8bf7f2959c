// Package reconcile walks the group's rank-change audit log and makes sure
// every relevant historical decision has a stored reconciliation record: a
// retroactive re-evaluation of the target against the current eligibility
// rules, keyed by the audit entry's natural identity.
package reconcile

import (
	"encoding/json"
	"time"

	"github.com/myx-labs/api-mecs/internal/eligibility"
	"github.com/myx-labs/api-mecs/internal/roblox"
)

// Key is the natural identity of one audit-log rank change. Two entries with
// the same key are the same event regardless of when they were reconciled.
type Key struct {
	ActorID         int64
	TargetID        int64
	OldRoleID       int64
	NewRoleID       int64
	ActionTimestamp time.Time
}

// Record is one reconciled rank-change event.
type Record struct {
	ActorID         int64           `json:"actorId"`
	TargetID        int64           `json:"targetId"`
	OldRoleID       int64           `json:"oldRoleId"`
	NewRoleID       int64           `json:"newRoleId"`
	ActionTimestamp time.Time       `json:"actionTimestamp"`
	ReviewTimestamp time.Time       `json:"reviewTimestamp"`
	ReviewPass      bool            `json:"reviewPass"`
	Evidence        json.RawMessage `json:"evidence,omitempty"`
}

// Key returns the record's natural identity.
func (r Record) Key() Key {
	return Key{
		ActorID:         r.ActorID,
		TargetID:        r.TargetID,
		OldRoleID:       r.OldRoleID,
		NewRoleID:       r.NewRoleID,
		ActionTimestamp: r.ActionTimestamp,
	}
}

// Evidence is the JSON blob stored with each record: everything needed to
// audit the verdict later without re-fetching the candidate.
type Evidence struct {
	Username         string                  `json:"username"`
	GroupMembership  *roblox.GroupMembership `json:"groupMembership"`
	HCCGamepassOwned *bool                   `json:"hccGamepassOwned,omitempty"`
	Exempt           bool                    `json:"exempt"`
	Tests            *eligibility.TestStatus `json:"tests"`
}

// TimestampRange is the span of action timestamps currently held in the
// store.
type TimestampRange struct {
	Oldest time.Time `json:"oldest"`
	Latest time.Time `json:"latest"`
}

// AccuracyWindow restricts accuracy counts to records reviewed on the same
// day as the action itself, where the retroactive verdict is most comparable
// to the original decision.
type AccuracyWindow struct {
	Total   int64 `json:"total"`
	Correct int64 `json:"correct"`
}

// AccuracyCounts measures how often the recorded decision agrees with the
// retroactive verdict: a decision is correct when a passing review landed on
// the accept role or a failing review landed on the reject role.
type AccuracyCounts struct {
	Total   int64           `json:"total"`
	Correct int64           `json:"correct"`
	Valid   *AccuracyWindow `json:"valid,omitempty"`
}

// AggregateStats summarizes the whole store.
type AggregateStats struct {
	Actors int64 `json:"actors"`
	// DAR is the decision-accuracy ratio material.
	DAR AccuracyCounts `json:"dar"`
	// MTBDSeconds is the mode of the gaps between consecutive decisions,
	// nil when the store holds fewer than two records.
	MTBDSeconds *float64        `json:"mtbd"`
	TimeRange   *TimestampRange `json:"timeRange"`
}

// ActorStats is AggregateStats scoped to one decision maker.
type ActorStats struct {
	ActorID     int64          `json:"actorId"`
	DAR         AccuracyCounts `json:"dar"`
	MTBDSeconds *float64       `json:"mtbd"`
}
