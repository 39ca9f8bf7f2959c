// Package roblox is the thin HTTP client for the platform's read and write
// APIs. Reads are plain GETs with typed responses; the single write (rank
// change) needs a capability-scoped session cookie plus a matching
// anti-forgery token from the session pool.
package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	dErrors "github.com/myx-labs/api-mecs/pkg/domain-errors"

	"github.com/myx-labs/api-mecs/internal/roblox/session"
)

// Endpoints holds the base URL per platform API host, overridable in tests.
type Endpoints struct {
	Users     string
	Friends   string
	Groups    string
	Badges    string
	Inventory string
}

// ProductionEndpoints returns the live platform hosts.
func ProductionEndpoints() Endpoints {
	return Endpoints{
		Users:     "https://users.roblox.com",
		Friends:   "https://friends.roblox.com",
		Groups:    "https://groups.roblox.com",
		Badges:    "https://badges.roblox.com",
		Inventory: "https://inventory.roblox.com",
	}
}

// ErrPrivateInventory marks an inventory fetch rejected because the target
// account keeps its inventory private. The accessory rule treats it as a pass.
var ErrPrivateInventory = errors.New("inventory is private")

// privateInventoryErrorCode is the platform's "not authorized to view
// inventory" error code.
const privateInventoryErrorCode = 4

// StatusError reports an unexpected upstream HTTP status.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Code)
}

// Client is the low-level platform client. It is safe for concurrent use;
// per-evaluation memoization lives in Memo, not here.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	sessions  *session.Pool
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithEndpoints overrides the platform hosts, mainly for tests.
func WithEndpoints(e Endpoints) Option {
	return func(cl *Client) { cl.endpoints = e }
}

// WithLogger attaches a logger. Nil-safe.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New constructs a client. The session pool may be nil when only
// unauthenticated reads are needed (most profile signals).
func New(sessions *session.Pool, opts ...Option) *Client {
	c := &Client{
		http:      http.DefaultClient,
		endpoints: ProductionEndpoints(),
		sessions:  sessions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get fetches a URL, optionally authenticated with a capability-scoped
// session, and returns the raw status and body. Non-200 statuses are not
// errors here; callers decide what each status means for their endpoint.
func (c *Client) get(ctx context.Context, rawURL string, cap session.Capability) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	if cap != session.CapabilityAny {
		if c.sessions == nil {
			return 0, nil, fmt.Errorf("authenticated fetch requires a session pool")
		}
		s, err := c.sessions.Get(cap)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Cookie", ".ROBLOSECURITY="+s.Cookie+";")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return resp.StatusCode, body, nil
}

// ResolveUsername looks up an account id by exact username, excluding banned
// accounts. Returns not_found when nothing matches.
func (c *Client) ResolveUsername(ctx context.Context, name string) (*User, error) {
	payload, err := json.Marshal(usernameLookupRequest{
		Usernames:          []string{name},
		ExcludeBannedUsers: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoints.Users+"/v1/usernames/users", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve username: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Endpoint: "username lookup", Code: resp.StatusCode}
	}

	var lookup usernameLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return nil, fmt.Errorf("decode username lookup: %w", err)
	}
	for _, entry := range lookup.Data {
		if entry.RequestedUsername == name {
			return &User{ID: entry.ID, Name: entry.Name, DisplayName: entry.DisplayName}, nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "no user found with username %q", name)
}

// AuditLogPage fetches one page of the group's ChangeRank audit log.
// sortOrder is "Asc" or "Desc"; cursor and targetUserID are optional.
func (c *Client) AuditLogPage(ctx context.Context, groupID int64, sortOrder, cursor string, targetUserID int64) (*AuditPage, error) {
	q := url.Values{}
	q.Set("actionType", "ChangeRank")
	q.Set("sortOrder", sortOrder)
	q.Set("limit", "10")
	if targetUserID != 0 {
		q.Set("userId", strconv.FormatInt(targetUserID, 10))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u := fmt.Sprintf("%s/v1/groups/%d/audit-log?%s", c.endpoints.Groups, groupID, q.Encode())

	status, body, err := c.get(ctx, u, session.CapabilityAudit)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Endpoint: "audit log", Code: status}
	}
	var page AuditPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode audit log page: %w", err)
	}
	return &page, nil
}

// SetRank changes the user's role within the group. On a write failure the
// session's anti-forgery token is invalidated so a later attempt starts with
// a fresh handshake; the call itself is not retried.
func (c *Client) SetRank(ctx context.Context, groupID, userID, roleID int64) error {
	if c.sessions == nil {
		return fmt.Errorf("rank change requires a session pool")
	}
	s, err := c.sessions.Get(session.CapabilityRank)
	if err != nil {
		return err
	}
	token, err := c.sessions.CSRF(ctx, s)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]int64{"roleId": roleID})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/v1/groups/%d/users/%d", c.endpoints.Groups, groupID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", ".ROBLOSECURITY="+s.Cookie)
	req.Header.Set("X-CSRF-TOKEN", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rank change request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.sessions.InvalidateCSRF(s)
		if c.logger != nil {
			c.logger.WarnContext(ctx, "rank change rejected, anti-forgery token invalidated",
				"user_id", userID,
				"role_id", roleID,
				"status", resp.StatusCode,
			)
		}
		return &StatusError{Endpoint: "rank change", Code: resp.StatusCode}
	}
	return nil
}
