package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/EternisAI/cookie-jar/internal/harvest"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*gin.Engine, auth.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authCfg := auth.Config{JWTSecret: "router-secret", TokenTTL: time.Hour}
	h := harvest.Func(func(context.Context, string) ([]sessions.Cookie, error) {
		return []sessions.Cookie{{Name: "sid", Value: "x"}}, nil
	})
	reg := prometheus.NewRegistry()

	engine := gin.New()
	SetupRoute(engine, &Services{
		Pool:        pool.New(sessions.NewMemoryStore(), h, pool.Config{}),
		Tokens:      auth.NewService(authCfg),
		JWTSecret:   authCfg.JWTSecret,
		AdminAPIKey: "admin-key",
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return engine, authCfg
}

func serve(engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRoutesRequireAuth(t *testing.T) {
	engine, _ := newEngine(t)

	assert.Equal(t, http.StatusOK, serve(engine, "GET", "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, serve(engine, "GET", "/metrics", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(engine, "POST", "/api/v1/leases", dto.AcquireLeaseRequest{Site: "ajio"}, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(engine, "POST", "/api/v1/admin/purge", nil, nil).Code)
}

func TestTokenThenLease(t *testing.T) {
	engine, _ := newEngine(t)

	w := serve(engine, "POST", "/api/v1/admin/tokens", dto.CreateTokenRequest{Worker: "scraper-1"},
		map[string]string{"X-API-Key": "admin-key"})
	require.Equal(t, http.StatusCreated, w.Code)
	var tok dto.CreateTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))

	bearer := map[string]string{"Authorization": "Bearer " + tok.Token}
	w = serve(engine, "POST", "/api/v1/leases", dto.AcquireLeaseRequest{Site: "ajio"}, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var lease dto.LeaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lease))

	w = serve(engine, "DELETE", "/api/v1/leases/"+lease.ID+"?outcome=failure", nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(engine, "GET", "/api/v1/sites/ajio/stats", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var st dto.SiteStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, 1, st.Sessions[0].FailedAttempts)
}
