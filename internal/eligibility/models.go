package eligibility

import (
	"github.com/myx-labs/api-mecs/internal/roblox"
)

// Values pairs a rule's threshold with the observed value. Thresholds are
// numeric for the counting rules and boolean for the blacklist rule, so both
// sides stay untyped for JSON.
type Values struct {
	Pass    any `json:"pass"`
	Current any `json:"current"`
}

// Descriptions are the human-readable forms of a rule's threshold and
// observation, shown verbatim in review tooling.
type Descriptions struct {
	Pass    string `json:"pass"`
	Current string `json:"current"`
}

// BlacklistMetadata records which blacklist entries matched.
type BlacklistMetadata struct {
	Player bool              `json:"player"`
	Groups []blacklistedItem `json:"group"`
	Reason string            `json:"reason,omitempty"`
}

type blacklistedItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// IndividualTest is one rule's outcome. Status must be a deterministic
// function of the observed value and the fixed threshold.
type IndividualTest struct {
	Status       bool               `json:"status"`
	Values       Values             `json:"values"`
	Metadata     *BlacklistMetadata `json:"metadata,omitempty"`
	Descriptions Descriptions       `json:"descriptions"`
}

// TestStatus maps each rule to its outcome for one candidate at one point in
// evaluation. Blacklist is always present; the other five only when a full
// evaluation was requested. Field order is the serialization order.
type TestStatus struct {
	Age       *IndividualTest `json:"age,omitempty"`
	Blacklist *IndividualTest `json:"blacklist"`
	Accessory *IndividualTest `json:"accessory,omitempty"`
	Badges    *IndividualTest `json:"badges,omitempty"`
	Friends   *IndividualTest `json:"friends,omitempty"`
	Groups    *IndividualTest `json:"groups,omitempty"`
}

// SecondaryPassRatio is the share of the present non-blacklist, non-age
// rules that passed. Returns 0 when none are present.
func (ts *TestStatus) SecondaryPassRatio() float64 {
	total := 0
	passing := 0
	for _, t := range []*IndividualTest{ts.Accessory, ts.Badges, ts.Friends, ts.Groups} {
		if t == nil {
			continue
		}
		total++
		if t.Status {
			passing++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(passing) / float64(total)
}

// CandidateInfo is the membership and identity metadata returned alongside
// test results.
type CandidateInfo struct {
	UserID          int64                   `json:"userId"`
	Username        string                  `json:"username"`
	GroupMembership *roblox.GroupMembership `json:"groupMembership,omitempty"`
	Exempt          bool                    `json:"exempt"`
	HCCGamepassOwned *bool                  `json:"hccGamepassOwned,omitempty"`
}

// Evaluation is the full response for one candidate evaluation.
type Evaluation struct {
	User  CandidateInfo `json:"user"`
	Tests *TestStatus   `json:"tests"`
}

// RankResult reports the outcome of a rank-change request. Changed=false
// with a description is a benign no-op, not an error.
type RankResult struct {
	Changed     bool   `json:"changed"`
	Description string `json:"description,omitempty"`
}

// ReviewResult is the outcome of an automated review.
type ReviewResult struct {
	Changed bool `json:"changed"`
	Passing bool `json:"passing"`
	Exempt  bool `json:"exempt"`
}
