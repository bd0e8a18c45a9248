package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// Harvester is a deterministic stand-in for the browser worker.
type Harvester struct {
	calls atomic.Int32
}

func NewHarvester() *Harvester {
	return &Harvester{}
}

func (h *Harvester) Harvest(ctx context.Context, site string) ([]sessions.Cookie, error) {
	n := h.calls.Add(1)
	return []sessions.Cookie{
		{Name: "sid", Value: fmt.Sprintf("%s-%d", site, n), Domain: "." + site + ".com", Path: "/"},
	}, nil
}

func (h *Harvester) Calls() int {
	return int(h.calls.Load())
}

func doJSON(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func workerToken(t *testing.T, router *gin.Engine, apiKey string) map[string]string {
	t.Helper()
	rr := doJSON(router, "POST", "/api/v1/admin/tokens", dto.CreateTokenRequest{Worker: "systemtest"},
		map[string]string{"X-API-Key": apiKey})
	require.Equal(t, 201, rr.Code, rr.Body.String())

	var resp dto.CreateTokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return map[string]string{"Authorization": "Bearer " + resp.Token}
}
