package reconcile_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myx-labs/api-mecs/internal/blacklist"
	"github.com/myx-labs/api-mecs/internal/eligibility"
	"github.com/myx-labs/api-mecs/internal/platform/config"
	"github.com/myx-labs/api-mecs/internal/reconcile"
	"github.com/myx-labs/api-mecs/internal/reconcile/cursor"
	"github.com/myx-labs/api-mecs/internal/reconcile/store/memory"
	"github.com/myx-labs/api-mecs/internal/roblox"
)

type fetchCall struct {
	sortOrder string
	cursor    string
}

// fakeSource scripts audit-log pages by cursor and records every fetch.
type fakeSource struct {
	mu    sync.Mutex
	calls []fetchCall
	pages map[string]*roblox.AuditPage
}

func (f *fakeSource) AuditLogPage(_ context.Context, _ int64, sortOrder, cur string, _ int64) (*roblox.AuditPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{sortOrder: sortOrder, cursor: cur})
	f.mu.Unlock()
	if page, ok := f.pages[cur]; ok {
		return page, nil
	}
	return &roblox.AuditPage{}, nil
}

func (f *fakeSource) recorded() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func strptr(s string) *string { return &s }

func auditEntry(actor, target, oldRole, newRole int64, created time.Time) roblox.AuditEntry {
	entry := roblox.AuditEntry{
		ActionType: "ChangeRank",
		Created:    created,
	}
	entry.Actor.User.UserID = actor
	entry.Actor.User.Username = fmt.Sprintf("Actor%d", actor)
	entry.Description = roblox.AuditDescription{
		TargetID:     target,
		TargetName:   fmt.Sprintf("Target%d", target),
		OldRoleSetID: oldRole,
		NewRoleSetID: newRole,
	}
	return entry
}

// newEvaluator builds an eligibility service backed by a stub platform that
// reports every account as a well-aged, fully passing group member. With
// inGroup false, accounts carry no membership in the administered group.
func newEvaluator(t *testing.T, policy config.GroupPolicy, inGroup bool) *eligibility.Service {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	page := func(n int) map[string]any {
		data := make([]map[string]any, n)
		for i := range data {
			data[i] = map[string]any{"id": i + 1}
		}
		return map[string]any{"previousPageCursor": nil, "nextPageCursor": nil, "data": data}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		_, err := fmt.Sscanf(r.PathValue("id"), "%d", &id)
		require.NoError(t, err)
		writeJSON(w, roblox.User{
			ID:      id,
			Name:    fmt.Sprintf("Target%d", id),
			Created: time.Now().AddDate(-1, 0, 0),
		})
	})
	mux.HandleFunc("GET /v1/users/{id}/friends/count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]int{"count": 9})
	})
	mux.HandleFunc("GET /v1/users/{id}/badges", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, page(10))
	})
	mux.HandleFunc("GET /v2/users/{id}/inventory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, page(10))
	})
	mux.HandleFunc("GET /v2/users/{id}/groups/roles", func(w http.ResponseWriter, r *http.Request) {
		memberships := []roblox.GroupMembership{
			{Group: roblox.Group{ID: 9001, Name: "A"}, Role: roblox.Role{ID: 1}},
			{Group: roblox.Group{ID: 9002, Name: "B"}, Role: roblox.Role{ID: 2}},
			{Group: roblox.Group{ID: 9003, Name: "C"}, Role: roblox.Role{ID: 3}},
		}
		if inGroup {
			memberships = append(memberships, roblox.GroupMembership{
				Group: roblox.Group{ID: policy.GroupID, Name: "Community"},
				Role:  roblox.Role{ID: policy.CitizenRoleID, Name: "Citizen"},
			})
		}
		writeJSON(w, map[string]any{"data": memberships})
	})
	mux.HandleFunc("GET /v1/users/{id}/items/GamePass/{gp}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, page(1))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := roblox.New(nil,
		roblox.WithHTTPClient(srv.Client()),
		roblox.WithEndpoints(roblox.Endpoints{
			Users:     srv.URL,
			Friends:   srv.URL,
			Groups:    srv.URL,
			Badges:    srv.URL,
			Inventory: srv.URL,
		}),
	)
	svc, err := eligibility.New(client, blacklist.NewService(blacklist.Static{}, time.Minute), policy)
	require.NoError(t, err)
	return svc
}

func newLoop(t *testing.T, source *fakeSource, store reconcile.Store, cur cursor.Store, inGroup bool) *reconcile.Loop {
	t.Helper()
	policy := config.DefaultGroupPolicy()
	loop, err := reconcile.New(source, newEvaluator(t, policy, inGroup), store, cur, policy,
		reconcile.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	return loop
}

func TestBackfillResumesFromPersistedCursor(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	now := time.Now().UTC().Truncate(time.Second)

	source := &fakeSource{pages: map[string]*roblox.AuditPage{
		"page-n": {
			NextPageCursor: strptr("page-n1"),
			Data: []roblox.AuditEntry{
				auditEntry(100, 200, policy.PendingRoleID, policy.CitizenRoleID, now),
			},
		},
		// page-n1 resolves to an empty page, ending the backfill.
	}}
	store := memory.New(policy.CitizenRoleID, policy.IDCRoleID)
	cur := cursor.NewMemory()
	require.NoError(t, cur.Set(context.Background(), "page-n"))

	loop := newLoop(t, source, store, cur, true)
	require.NoError(t, loop.Backfill(context.Background(), true))

	calls := source.recorded()
	require.Len(t, calls, 2)
	// Resumption: the first fetch uses the persisted cursor, not page one.
	assert.Equal(t, "page-n", calls[0].cursor)
	assert.Equal(t, "Asc", calls[0].sortOrder)
	assert.Equal(t, "page-n1", calls[1].cursor)

	persisted, err := cur.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "page-n1", persisted)

	records, err := store.List(context.Background(), reconcile.ListFilter{IncludeEvidence: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(200), records[0].TargetID)
	assert.True(t, records[0].ReviewPass)
	assert.NotEmpty(t, records[0].Evidence)
}

func TestBackfillIgnoresCursorWhenNotResuming(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	source := &fakeSource{pages: map[string]*roblox.AuditPage{}}
	cur := cursor.NewMemory()
	require.NoError(t, cur.Set(context.Background(), "stale"))

	loop := newLoop(t, source, memory.New(policy.CitizenRoleID, policy.IDCRoleID), cur, true)
	require.NoError(t, loop.Backfill(context.Background(), false))

	calls := source.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "", calls[0].cursor)
}

func TestBackfillSkipsNonQualifyingRoles(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	now := time.Now().UTC()

	source := &fakeSource{pages: map[string]*roblox.AuditPage{
		"": {
			Data: []roblox.AuditEntry{
				// Promotion to staff is outside the audited outcomes.
				auditEntry(100, 201, policy.CitizenRoleID, policy.StaffRoleID, now),
			},
		},
	}}
	store := memory.New(policy.CitizenRoleID, policy.IDCRoleID)

	loop := newLoop(t, source, store, cursor.NewMemory(), true)
	require.NoError(t, loop.Backfill(context.Background(), false))

	records, err := store.List(context.Background(), reconcile.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBackfillSkipsExistingRecords(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	now := time.Now().UTC().Truncate(time.Second)
	entry := auditEntry(100, 200, policy.PendingRoleID, policy.IDCRoleID, now)

	store := memory.New(policy.CitizenRoleID, policy.IDCRoleID)
	require.NoError(t, store.Add(context.Background(), reconcile.Record{
		ActorID:         100,
		TargetID:        200,
		OldRoleID:       policy.PendingRoleID,
		NewRoleID:       policy.IDCRoleID,
		ActionTimestamp: now,
		ReviewTimestamp: now,
		ReviewPass:      false,
		Evidence:        []byte(`{"username":"seed"}`),
	}))

	source := &fakeSource{pages: map[string]*roblox.AuditPage{
		"": {Data: []roblox.AuditEntry{entry}},
	}}
	loop := newLoop(t, source, store, cursor.NewMemory(), true)
	require.NoError(t, loop.Backfill(context.Background(), false))

	records, err := store.List(context.Background(), reconcile.ListFilter{IncludeEvidence: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	// The seeded record survives untouched.
	assert.JSONEq(t, `{"username":"seed"}`, string(records[0].Evidence))
}

func TestBackfillSkipsTargetsNoLongerInGroup(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	now := time.Now().UTC()

	source := &fakeSource{pages: map[string]*roblox.AuditPage{
		"": {Data: []roblox.AuditEntry{
			auditEntry(100, 200, policy.PendingRoleID, policy.CitizenRoleID, now),
		}},
	}}
	store := memory.New(policy.CitizenRoleID, policy.IDCRoleID)

	loop := newLoop(t, source, store, cursor.NewMemory(), false)
	require.NoError(t, loop.Backfill(context.Background(), false))

	records, err := store.List(context.Background(), reconcile.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTailStopsWhenNothingNewAndHonorsCancellation(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	latest := time.Now().UTC().Truncate(time.Second)

	store := memory.New(policy.CitizenRoleID, policy.IDCRoleID)
	require.NoError(t, store.Add(context.Background(), reconcile.Record{
		ActorID:         100,
		TargetID:        200,
		OldRoleID:       policy.PendingRoleID,
		NewRoleID:       policy.CitizenRoleID,
		ActionTimestamp: latest,
		ReviewTimestamp: latest,
		ReviewPass:      true,
	}))

	// Every entry is at or before the latest reconciled timestamp, so each
	// pass ends on its first page without writing anything.
	source := &fakeSource{pages: map[string]*roblox.AuditPage{
		"": {
			NextPageCursor: strptr("older"),
			Data: []roblox.AuditEntry{
				auditEntry(100, 201, policy.PendingRoleID, policy.CitizenRoleID, latest.Add(-time.Hour)),
			},
		},
	}}
	loop := newLoop(t, source, store, cursor.NewMemory(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := loop.Tail(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for _, call := range source.recorded() {
		assert.Equal(t, "Desc", call.sortOrder)
		// The pass never pages past the first no-news page.
		assert.Equal(t, "", call.cursor)
	}
	records, err := store.List(context.Background(), reconcile.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTailRecordsNewEntries(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	latest := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)

	store := memory.New(policy.CitizenRoleID, policy.IDCRoleID)
	require.NoError(t, store.Add(context.Background(), reconcile.Record{
		ActorID:         100,
		TargetID:        200,
		OldRoleID:       policy.PendingRoleID,
		NewRoleID:       policy.CitizenRoleID,
		ActionTimestamp: latest,
		ReviewTimestamp: latest,
		ReviewPass:      true,
	}))

	source := &fakeSource{pages: map[string]*roblox.AuditPage{
		"": {Data: []roblox.AuditEntry{
			auditEntry(101, 300, policy.PendingRoleID, policy.IDCRoleID, latest.Add(time.Hour)),
		}},
	}}
	loop := newLoop(t, source, store, cursor.NewMemory(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = loop.Tail(ctx)

	ok, err := store.Exists(context.Background(), reconcile.Key{
		ActorID:         101,
		TargetID:        300,
		OldRoleID:       policy.PendingRoleID,
		NewRoleID:       policy.IDCRoleID,
		ActionTimestamp: latest.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFillGapStopsWhenEntriesFallBelowLowerBound(t *testing.T) {
	policy := config.DefaultGroupPolicy()
	upper := time.Now().UTC().Truncate(time.Second)
	lower := upper.Add(-24 * time.Hour)

	source := &fakeSource{pages: map[string]*roblox.AuditPage{
		"": {
			NextPageCursor: strptr("more"),
			Data: []roblox.AuditEntry{
				auditEntry(100, 200, policy.PendingRoleID, policy.CitizenRoleID, upper.Add(-time.Hour)),
				// Below the lower bound: processing stops after this page
				// even though more pages exist.
				auditEntry(100, 201, policy.PendingRoleID, policy.IDCRoleID, lower.Add(-time.Hour)),
			},
		},
		"more": {Data: []roblox.AuditEntry{
			auditEntry(100, 202, policy.PendingRoleID, policy.CitizenRoleID, upper.Add(-2*time.Hour)),
		}},
	}}
	store := memory.New(policy.CitizenRoleID, policy.IDCRoleID)
	cur := cursor.NewMemory()

	loop := newLoop(t, source, store, cur, true)
	require.NoError(t, loop.FillGap(context.Background(), lower, upper))

	calls := source.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "Desc", calls[0].sortOrder)

	records, err := store.List(context.Background(), reconcile.ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(200), records[0].TargetID)

	// Gap fill never touches the shared cursor.
	persisted, err := cur.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", persisted)
}
