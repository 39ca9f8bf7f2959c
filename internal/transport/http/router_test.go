package httptransport_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myx-labs/api-mecs/internal/blacklist"
	"github.com/myx-labs/api-mecs/internal/eligibility"
	eligibilityhandler "github.com/myx-labs/api-mecs/internal/eligibility/handler"
	"github.com/myx-labs/api-mecs/internal/platform/config"
	reconcilehandler "github.com/myx-labs/api-mecs/internal/reconcile/handler"
	"github.com/myx-labs/api-mecs/internal/reconcile/store/memory"
	"github.com/myx-labs/api-mecs/internal/roblox"
	httptransport "github.com/myx-labs/api-mecs/internal/transport/http"
	"github.com/myx-labs/api-mecs/pkg/platform/middleware/auth"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	policy := config.DefaultGroupPolicy()

	client := roblox.New(nil)
	bl := blacklist.NewService(blacklist.Static{}, time.Minute)
	svc, err := eligibility.New(client, bl, policy)
	require.NoError(t, err)

	validator := auth.NewValidator("test-signing-key", logger)
	router := httptransport.NewRouter(httptransport.Deps{
		Eligibility: eligibilityhandler.New(svc, client, bl, logger),
		Audit:       reconcilehandler.New(memory.New(policy.CitizenRoleID, policy.IDCRoleID), logger),
		Auth:        validator,
		Logger:      logger,
	})
	return router
}

func TestHealthz(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAutomatedReviewRequiresToken(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/user/12345/automated-review", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/user/12345/automated-review", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditRoutesMounted(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
