// Package config builds process configuration from the environment so main
// stays lean. Group policy constants live here too: they change rarely and
// the whole service is scoped to a single group.
package config

import (
	"os"
	"strconv"
	"time"
)

// GroupPolicy names the group, the role ids the service may transition
// accounts between, and the rule thresholds.
type GroupPolicy struct {
	GroupID int64

	// Role ids. Accounts holding a role outside this set are exempt.
	PendingRoleID int64
	IDCRoleID     int64 // insufficient-criteria rejection role
	CitizenRoleID int64
	StaffRoleID   int64

	// Supplementary ownership signal.
	HCCGamepassID int64

	// Rule thresholds.
	MinAgeDays     int
	MinAccessories int
	MinBadges      int
	MinFriends     int
	MinGroups      int
	// PassingRatio is the share of the non-gating rules (accessory, badges,
	// friends, groups) that must pass once blacklist and age have passed.
	PassingRatio float64
}

// RoleCovered reports whether roleID is one the service is authorized to
// transition accounts into or out of.
func (p GroupPolicy) RoleCovered(roleID int64) bool {
	switch roleID {
	case p.PendingRoleID, p.IDCRoleID, p.CitizenRoleID, p.StaffRoleID:
		return true
	}
	return false
}

// Flags gate optional behavior at process level.
type Flags struct {
	ProcessPending bool // false = automated review of pending accounts is disabled
	ProcessAudit   bool // true = run the audit reconciliation loop
	OnlyNewAudit   bool // true = tail mode only, skip backfill
	LoadCursor     bool // true = resume backfill from the persisted cursor
}

// Config is everything main needs to wire the process.
type Config struct {
	Addr           string
	PostgresDSN    string
	RedisURL       string
	SessionsFile   string
	AuthSigningKey string

	BlacklistUsersURL  string
	BlacklistGroupsURL string
	BlacklistTTL       time.Duration

	AuditPollInterval time.Duration

	Group GroupPolicy
	Flags Flags
}

// DefaultGroupPolicy returns the production policy for the group this
// service administers.
func DefaultGroupPolicy() GroupPolicy {
	return GroupPolicy{
		GroupID:        1143446,
		PendingRoleID:  7475347,
		IDCRoleID:      7476578,
		CitizenRoleID:  7476582,
		StaffRoleID:    7979816,
		HCCGamepassID:  1251870,
		MinAgeDays:     60,
		MinAccessories: 10,
		MinBadges:      10,
		MinFriends:     5,
		MinGroups:      3,
		PassingRatio:   0.75,
	}
}

// FromEnv builds a Config from environment variables with sane defaults.
func FromEnv() Config {
	return Config{
		Addr:           envOr("API_MECS_ADDR", ":3000"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		RedisURL:       os.Getenv("REDIS_URL"),
		SessionsFile:   envOr("SESSIONS_FILE", "cookies.json"),
		AuthSigningKey: os.Getenv("AUTH_SIGNING_KEY"),

		BlacklistUsersURL:  os.Getenv("BLACKLIST_USERS_URL"),
		BlacklistGroupsURL: os.Getenv("BLACKLIST_GROUPS_URL"),
		BlacklistTTL:       envDuration("BLACKLIST_TTL", 15*time.Minute),

		AuditPollInterval: envDuration("AUDIT_POLL_INTERVAL", time.Minute),

		Group: DefaultGroupPolicy(),
		Flags: Flags{
			ProcessPending: os.Getenv("DISABLE_PENDING_PROCESSING") != "true",
			ProcessAudit:   os.Getenv("ENABLE_AUDIT_PROCESSING") == "true",
			OnlyNewAudit:   os.Getenv("ONLY_PROCESS_LATEST_AUDITS") == "true",
			LoadCursor:     os.Getenv("LOAD_AUDIT_CURSOR") == "true",
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
