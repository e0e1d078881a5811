package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/auth"
	"github.com/fleetmind/acpd/internal/orchestrator"
	"github.com/fleetmind/acpd/internal/protocol"
	"github.com/fleetmind/acpd/internal/rl"
	"github.com/fleetmind/acpd/internal/store"
	"github.com/fleetmind/acpd/internal/telemetry"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.JWTManager) {
	t.Helper()

	noopHandler := func(_ context.Context, _ *acpserver.Connection, _ *protocol.Message) (*protocol.Message, error) {
		return nil, nil
	}
	server, err := acpserver.NewServer(acpserver.Config{DevAllowUnauthenticated: true}, nil, nil, noopHandler, zap.NewNop())
	require.NoError(t, err)

	engine := rl.NewEngine(zap.NewNop())
	orch := orchestrator.New(orchestrator.Config{}, server, engine, zap.NewNop())

	jwtMgr, err := auth.NewJWTManagerGenerated("acpd-admin-test")
	require.NoError(t, err)

	registry := telemetry.NewRegistry(server, engine, func() map[string]int64 { return nil }, zap.NewNop())

	db, err := store.Open(store.Config{Driver: "sqlite", DSN: "file::memory:?cache=shared&_busy_timeout=5000", Logger: zap.NewNop()})
	require.NoError(t, err)
	patterns := store.NewPatternStore(db)

	router := NewRouter(RouterConfig{
		Server:       server,
		Orchestrator: orch,
		RLEngine:     engine,
		Patterns:     patterns,
		JWTManager:   jwtMgr,
		Registry:     registry,
		Logger:       zap.NewNop(),
	})
	return router, jwtMgr
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetrics_RejectsMissingBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetrics_AllowsValidBearerToken(t *testing.T) {
	router, jwtMgr := newTestRouter(t)
	token, err := jwtMgr.GenerateOperatorToken("op1", "operator")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpsRoutes_RequireAdminRole(t *testing.T) {
	router, jwtMgr := newTestRouter(t)
	token, err := jwtMgr.GenerateOperatorToken("op1", "operator")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ops/connections", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOpsRoutes_AdminRoleSucceeds(t *testing.T) {
	router, jwtMgr := newTestRouter(t)
	token, err := jwtMgr.GenerateOperatorToken("op1", "admin")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ops/connections", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpsPatterns_EmptyStoreReturnsEmptyList(t *testing.T) {
	router, jwtMgr := newTestRouter(t)
	token, err := jwtMgr.GenerateOperatorToken("op1", "admin")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ops/patterns", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func TestOpsTasks_UnknownIDReturnsNotFound(t *testing.T) {
	router, jwtMgr := newTestRouter(t)
	token, err := jwtMgr.GenerateOperatorToken("op1", "admin")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ops/tasks/00000000-0000-0000-0000-000000000000", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
