package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/myx-labs/api-mecs/internal/roblox/session"
)

// Memo wraps the client with response memoization keyed by URL. One Memo is
// created per evaluation, so the same signal fetched by two rules costs one
// upstream call without any cross-candidate cache coherence concerns.
type Memo struct {
	client *Client

	mu    sync.Mutex
	cache map[string]memoEntry
}

type memoEntry struct {
	status int
	body   []byte
}

// Memo returns a fresh per-evaluation memoizing view of the client.
func (c *Client) Memo() *Memo {
	return &Memo{client: c, cache: make(map[string]memoEntry)}
}

// fetch returns the cached response for url or performs the fetch and caches
// it, status included, so repeated failures are remembered too.
func (m *Memo) fetch(ctx context.Context, url string, cap session.Capability) (int, []byte, error) {
	m.mu.Lock()
	if hit, ok := m.cache[url]; ok {
		m.mu.Unlock()
		return hit.status, hit.body, nil
	}
	m.mu.Unlock()

	status, body, err := m.client.get(ctx, url, cap)
	if err != nil {
		return 0, nil, err
	}

	m.mu.Lock()
	m.cache[url] = memoEntry{status: status, body: body}
	m.mu.Unlock()
	return status, body, nil
}

// User fetches the candidate's profile record.
func (m *Memo) User(ctx context.Context, userID int64) (*User, error) {
	u := fmt.Sprintf("%s/v1/users/%d", m.client.endpoints.Users, userID)
	status, body, err := m.fetch(ctx, u, session.CapabilityAny)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Endpoint: "user profile", Code: status}
	}
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode user profile: %w", err)
	}
	return &user, nil
}

// FriendCount fetches the candidate's friend count.
func (m *Memo) FriendCount(ctx context.Context, userID int64) (int, error) {
	u := fmt.Sprintf("%s/v1/users/%d/friends/count", m.client.endpoints.Friends, userID)
	status, body, err := m.fetch(ctx, u, session.CapabilityAny)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, &StatusError{Endpoint: "friend count", Code: status}
	}
	var fc friendCountResponse
	if err := json.Unmarshal(body, &fc); err != nil {
		return 0, fmt.Errorf("decode friend count: %w", err)
	}
	return fc.Count, nil
}

// BadgeCount fetches the size of the first badge page; the badge rule only
// needs to know whether the threshold page fills up.
func (m *Memo) BadgeCount(ctx context.Context, userID int64) (int, error) {
	u := fmt.Sprintf("%s/v1/users/%d/badges?limit=10&sortOrder=Asc", m.client.endpoints.Badges, userID)
	status, body, err := m.fetch(ctx, u, session.CapabilityAny)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, &StatusError{Endpoint: "badges", Code: status}
	}
	var page itemPage
	if err := json.Unmarshal(body, &page); err != nil {
		return 0, fmt.Errorf("decode badges: %w", err)
	}
	return len(page.Data), nil
}

// AccessoryCount fetches the size of the first clothing-inventory page.
// Returns ErrPrivateInventory when the platform refuses access to the
// account's inventory.
func (m *Memo) AccessoryCount(ctx context.Context, userID int64) (int, error) {
	u := fmt.Sprintf("%s/v2/users/%d/inventory?assetTypes=Shirt,Pants,Hat&limit=10&sortOrder=Asc",
		m.client.endpoints.Inventory, userID)
	status, body, err := m.fetch(ctx, u, session.CapabilityAny)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil {
			for _, e := range apiErr.Errors {
				if e.Code == privateInventoryErrorCode {
					return 0, ErrPrivateInventory
				}
			}
		}
		return 0, &StatusError{Endpoint: "inventory", Code: status}
	}
	var page itemPage
	if err := json.Unmarshal(body, &page); err != nil {
		return 0, fmt.Errorf("decode inventory: %w", err)
	}
	return len(page.Data), nil
}

// GroupRoles fetches every group membership the candidate holds.
func (m *Memo) GroupRoles(ctx context.Context, userID int64) ([]GroupMembership, error) {
	u := fmt.Sprintf("%s/v2/users/%d/groups/roles", m.client.endpoints.Groups, userID)
	status, body, err := m.fetch(ctx, u, session.CapabilityAny)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Endpoint: "group roles", Code: status}
	}
	var resp groupRolesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode group roles: %w", err)
	}
	return resp.Data, nil
}

// OwnsGamepass reports whether the candidate owns the given gamepass.
func (m *Memo) OwnsGamepass(ctx context.Context, userID, gamepassID int64) (bool, error) {
	u := fmt.Sprintf("%s/v1/users/%d/items/GamePass/%d", m.client.endpoints.Inventory, userID, gamepassID)
	status, body, err := m.fetch(ctx, u, session.CapabilityAny)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, &StatusError{Endpoint: "gamepass ownership", Code: status}
	}
	var page itemPage
	if err := json.Unmarshal(body, &page); err != nil {
		return false, fmt.Errorf("decode gamepass ownership: %w", err)
	}
	return len(page.Data) > 0, nil
}
