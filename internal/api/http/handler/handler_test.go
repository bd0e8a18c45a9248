package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/api/http/middleware"
	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/EternisAI/cookie-jar/internal/harvest"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router      *gin.Engine
	store       *sessions.MemoryStore
	harvests    atomic.Int32
	failHarvest atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{store: sessions.NewMemoryStore()}
	h := harvest.Func(func(ctx context.Context, site string) ([]sessions.Cookie, error) {
		n := env.harvests.Add(1)
		if env.failHarvest.Load() {
			return nil, errors.New("blocked by captcha")
		}
		return []sessions.Cookie{{Name: "sid", Value: fmt.Sprintf("%s-%d", site, n)}}, nil
	})
	p := pool.New(env.store, h, pool.Config{})

	lease := NewLeaseHandler(p)
	stats := NewStatsHandler(p)
	admin := NewAdminHandler(p, auth.NewService(auth.Config{JWTSecret: "secret", TokenTTL: time.Hour}))
	health := NewHealthHandler(p)

	r := gin.New()
	r.GET("/health", health.Check)
	r.POST("/api/v1/leases", lease.Acquire)
	r.DELETE("/api/v1/leases/:id", lease.Release)
	r.GET("/api/v1/stats", stats.All)
	r.GET("/api/v1/sites/:site/stats", stats.Site)
	r.POST("/api/v1/admin/sweep", admin.Sweep)
	r.POST("/api/v1/admin/purge", admin.Purge)
	r.POST("/api/v1/admin/sites/:site/warm", admin.Warm)
	r.POST("/api/v1/admin/tokens", admin.CreateToken)
	env.router = r
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) acquire(t *testing.T, site string) dto.LeaseResponse {
	t.Helper()
	w := e.do("POST", "/api/v1/leases", dto.AcquireLeaseRequest{Site: site})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp dto.LeaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return sessions.ErrStoreUnavailable }

func TestHealthDegraded(t *testing.T) {
	r := gin.New()
	r.GET("/health", NewHealthHandler(downStore{}).Check)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAcquireAndRelease(t *testing.T) {
	env := newTestEnv(t)

	first := env.acquire(t, "ajio")
	assert.Equal(t, "ajio", first.Site)
	assert.Equal(t, "sid=ajio-1", first.CookieHeader)

	w := env.do("DELETE", "/api/v1/leases/"+first.ID+"?outcome=success", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var released dto.ReleaseLeaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &released))
	assert.Equal(t, "success", released.Outcome)

	second := env.acquire(t, "ajio")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), env.harvests.Load())
}

func TestAcquireLogsAuthenticatedWorker(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := auth.Config{JWTSecret: "secret", TokenTTL: time.Hour}
	token, _, err := auth.GenerateToken(cfg, "worker-7", auth.RoleWorker)
	require.NoError(t, err)

	h := harvest.Func(func(context.Context, string) ([]sessions.Cookie, error) {
		return []sessions.Cookie{{Name: "sid", Value: "v"}}, nil
	})
	lease := NewLeaseHandler(pool.New(sessions.NewMemoryStore(), h, pool.Config{}))
	r := gin.New()
	r.POST("/api/v1/leases", middleware.JWTAuth(cfg.JWTSecret), lease.Acquire)

	req, _ := http.NewRequest("POST", "/api/v1/leases", bytes.NewBufferString(`{"site":"ajio"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, logs.String(), `"msg":"Lease granted"`)
	assert.Contains(t, logs.String(), `"worker_id":"worker-7"`)
}

func TestAcquireMissingSite(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/leases", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcquireInvalidSite(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/leases", dto.AcquireLeaseRequest{Site: "../../etc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcquireNotAvailable(t *testing.T) {
	env := newTestEnv(t)
	env.failHarvest.Store(true)

	w := env.do("POST", "/api/v1/leases", dto.AcquireLeaseRequest{Site: "ajio"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeNotAvailable, resp.Code)
}

func TestReleaseNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("DELETE", "/api/v1/leases/unknown?outcome=failure", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReleaseInvalidOutcome(t *testing.T) {
	env := newTestEnv(t)
	lease := env.acquire(t, "ajio")

	w := env.do("DELETE", "/api/v1/leases/"+lease.ID+"?outcome=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReleaseLegacyValidFlag(t *testing.T) {
	env := newTestEnv(t)
	lease := env.acquire(t, "ajio")

	w := env.do("DELETE", "/api/v1/leases/"+lease.ID+"?valid=false", nil)
	require.Equal(t, http.StatusOK, w.Code)

	s, err := env.store.Get(context.Background(), lease.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.FailedAttempts)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.acquire(t, "ajio")
	env.acquire(t, "myntra")

	w := env.do("GET", "/api/v1/sites/ajio/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var site dto.SiteStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &site))
	assert.Equal(t, 1, site.Total)
	assert.Equal(t, 1, site.Leased)
	require.Len(t, site.Sessions, 1)
	assert.Equal(t, 1, site.Sessions[0].UsageCount)

	w = env.do("GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all dto.AllStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)
}

func TestSweepAndPurge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, env.store.Insert(ctx, &sessions.Session{
			ID: id, Site: "myntra", CreatedAt: time.Now(), Health: sessions.HealthUnhealthy,
		}))
	}

	w := env.do("POST", "/api/v1/admin/sweep?site=myntra", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sweep dto.SweepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sweep))
	assert.Equal(t, 2, sweep.Replaced)

	require.NoError(t, env.store.Insert(ctx, &sessions.Session{
		ID: "c", Site: "myntra", CreatedAt: time.Now(), Health: sessions.HealthUnhealthy,
	}))
	w = env.do("POST", "/api/v1/admin/purge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var purge dto.PurgeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &purge))
	assert.Equal(t, 1, purge.Removed)
}

func TestWarm(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/admin/sites/ajio/warm", dto.WarmRequest{Count: 3})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.WarmResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Inserted)

	w = env.do("POST", "/api/v1/admin/sites/ajio/warm", dto.WarmRequest{Count: 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/admin/tokens", dto.CreateTokenRequest{Worker: "scraper-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.CreateTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "scraper-1", resp.WorkerID)
	assert.Equal(t, auth.RoleWorker, resp.Role)

	claims, err := auth.ValidateToken("secret", resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "scraper-1", claims.WorkerID)

	w = env.do("POST", "/api/v1/admin/tokens", dto.CreateTokenRequest{Worker: "has spaces"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
