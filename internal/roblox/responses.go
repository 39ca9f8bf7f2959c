package roblox

import "time"

// The platform's JSON is not contractually stable, so every endpoint gets an
// explicit response type with optional-field handling instead of ad hoc maps.

// User is the profile record returned by the users endpoint.
type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Created     time.Time `json:"created"`
	IsBanned    bool      `json:"isBanned"`
}

// AgeDays returns the account age in whole days at the given instant,
// rounded to the nearest day.
func (u *User) AgeDays(now time.Time) int {
	return int(now.Sub(u.Created).Hours()/24 + 0.5)
}

type friendCountResponse struct {
	Count int `json:"count"`
}

// Group is the subset of group fields this service reads.
type Group struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

// Role is a role inside a group.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// GroupMembership pairs a group with the user's role in it.
type GroupMembership struct {
	Group Group `json:"group"`
	Role  Role  `json:"role"`
}

type groupRolesResponse struct {
	Data []GroupMembership `json:"data"`
}

// itemPage is the generic shape of the paged inventory/badge endpoints. Only
// the entry count matters to the rules, so entries stay opaque.
type itemPage struct {
	PreviousPageCursor *string          `json:"previousPageCursor"`
	NextPageCursor     *string          `json:"nextPageCursor"`
	Data               []map[string]any `json:"data"`
}

type usernameLookupRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usernameLookupEntry struct {
	RequestedUsername string `json:"requestedUsername"`
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	DisplayName       string `json:"displayName"`
}

type usernameLookupResponse struct {
	Data []usernameLookupEntry `json:"data"`
}

// AuditActor identifies who performed an audit-log action.
type AuditActor struct {
	User struct {
		UserID      int64  `json:"userId"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
	} `json:"user"`
	Role Role `json:"role"`
}

// AuditDescription carries the rank-change payload of a ChangeRank entry.
// Field names follow the platform's PascalCase wire format.
type AuditDescription struct {
	TargetID       int64  `json:"TargetId"`
	TargetName     string `json:"TargetName"`
	OldRoleSetID   int64  `json:"OldRoleSetId"`
	OldRoleSetName string `json:"OldRoleSetName"`
	NewRoleSetID   int64  `json:"NewRoleSetId"`
	NewRoleSetName string `json:"NewRoleSetName"`
}

// AuditEntry is one audit-log event.
type AuditEntry struct {
	Actor       AuditActor       `json:"actor"`
	ActionType  string           `json:"actionType"`
	Description AuditDescription `json:"description"`
	Created     time.Time        `json:"created"`
}

// AuditPage is one page of the group audit log.
type AuditPage struct {
	PreviousPageCursor *string      `json:"previousPageCursor"`
	NextPageCursor     *string      `json:"nextPageCursor"`
	Data               []AuditEntry `json:"data"`
}

type apiErrorEntry struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Errors []apiErrorEntry `json:"errors"`
}
