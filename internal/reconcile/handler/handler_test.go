package handler_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myx-labs/api-mecs/internal/reconcile"
	"github.com/myx-labs/api-mecs/internal/reconcile/handler"
	"github.com/myx-labs/api-mecs/internal/reconcile/store/memory"
)

const (
	passRole = int64(7476582)
	failRole = int64(7476578)
)

func seededRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New(passRole, failRole)
	base := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	records := []reconcile.Record{
		{ActorID: 1, TargetID: 10, OldRoleID: 7475347, NewRoleID: passRole, ActionTimestamp: base, ReviewTimestamp: base.Add(time.Hour), ReviewPass: true, Evidence: []byte(`{"username":"a"}`)},
		{ActorID: 1, TargetID: 11, OldRoleID: 7475347, NewRoleID: failRole, ActionTimestamp: base.Add(time.Hour), ReviewTimestamp: base.Add(2 * time.Hour), ReviewPass: false, Evidence: []byte(`{"username":"b"}`)},
		{ActorID: 2, TargetID: 12, OldRoleID: 7475347, NewRoleID: passRole, ActionTimestamp: base.Add(2 * time.Hour), ReviewTimestamp: base.Add(3 * time.Hour), ReviewPass: false, Evidence: []byte(`{"username":"c"}`)},
	}
	for _, rec := range records {
		require.NoError(t, store.Add(context.Background(), rec))
	}

	h := handler.New(store, slog.New(slog.DiscardHandler))
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleLogs(t *testing.T) {
	router := seededRouter(t)

	rec := get(t, router, "/audit/logs?limit=2&actor=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []reconcile.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	// Newest first, evidence omitted by default.
	assert.Equal(t, int64(11), body.Data[0].TargetID)
	assert.Empty(t, body.Data[0].Evidence)

	rec = get(t, router, "/audit/logs?target=12&includeEvidence=true")
	require.Equal(t, http.StatusOK, rec.Code)
	body.Data = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.JSONEq(t, `{"username":"c"}`, string(body.Data[0].Evidence))
}

func TestHandleLogsRejectsBadParams(t *testing.T) {
	router := seededRouter(t)

	rec := get(t, router, "/audit/logs?limit=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bad_request", body["error"])
}

func TestHandleStats(t *testing.T) {
	router := seededRouter(t)

	rec := get(t, router, "/audit/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats reconcile.AggregateStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Actors)
	assert.Equal(t, int64(3), stats.DAR.Total)
	// Two decisions agree with their verdict; actor 2's does not.
	assert.Equal(t, int64(2), stats.DAR.Correct)
	require.NotNil(t, stats.TimeRange)
}

func TestHandleActorStats(t *testing.T) {
	router := seededRouter(t)

	rec := get(t, router, "/audit/stats/actors")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []reconcile.ActorStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, int64(1), body.Data[0].ActorID)

	rec = get(t, router, "/audit/stats/actors?actors=2")
	require.Equal(t, http.StatusOK, rec.Code)
	body.Data = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, int64(2), body.Data[0].ActorID)

	rec = get(t, router, "/audit/stats/actors?actors=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
