package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korilabs/coin-ledger/internal/auth"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/middleware"
)

func newTestRouter() (http.Handler, *auth.TokenManager) {
	tm := auth.NewTokenManager("test-secret", "coin-ledger", time.Minute)
	cfg := config.Config{Env: "dev", RateRPS: 1000}
	r := NewRouter(RouterDeps{
		Cfg:  cfg,
		Auth: middleware.NewAuthMiddleware(tm, cfg.Env),
	})
	return r, tm
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	r, _ := newTestRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/wallets", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIRejectsGarbageToken(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRouteNeedsAdminRole(t *testing.T) {
	r, tm := newTestRouter()

	tok, _, err := tm.Issue(42, "user")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/confirmations/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDevTokenBypass(t *testing.T) {
	r, _ := newTestRouter()

	// malformed dev id is refused before any handler runs
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets", nil)
	req.Header.Set("Authorization", "Bearer dev-notanumber")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
