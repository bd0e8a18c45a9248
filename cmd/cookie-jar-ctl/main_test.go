package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/EternisAI/cookie-jar/internal/api/http"
	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/EternisAI/cookie-jar/internal/harvest"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
)

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := harvest.Func(func(ctx context.Context, site string) ([]sessions.Cookie, error) {
		return []sessions.Cookie{{Name: "sid", Value: site}}, nil
	})
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Pool:        pool.New(sessions.NewMemoryStore(), h, pool.Config{}),
		Tokens:      auth.NewService(auth.Config{JWTSecret: "ctl-secret", TokenTTL: time.Hour}),
		JWTSecret:   "ctl-secret",
		AdminAPIKey: "ctl-key",
	})
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCtlLeaseFlow(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--server", url, "--api-key", "ctl-key", "token", "scraper-1")
	require.NoError(t, err)
	var tok dto.CreateTokenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	require.NotEmpty(t, tok.Token)

	out, err = run(t, "--server", url, "--token", tok.Token, "acquire", "ajio", "--header")
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.Len(t, fields, 2)
	assert.Equal(t, "sid=ajio", fields[1])

	out, err = run(t, "--server", url, "--token", tok.Token, "release", fields[0], "--outcome", "failure")
	require.NoError(t, err)
	assert.Contains(t, out, "failure")

	out, err = run(t, "--server", url, "--token", tok.Token, "stats", "ajio")
	require.NoError(t, err)
	var st dto.SiteStatsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.Total)
}

func TestCtlAdmin(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--server", url, "--api-key", "ctl-key", "warm", "myntra", "--count", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "harvested 2/2")

	out, err = run(t, "--server", url, "--api-key", "ctl-key", "sweep", "--site", "myntra")
	require.NoError(t, err)
	assert.Contains(t, out, "replaced 0")

	out, err = run(t, "--server", url, "--api-key", "ctl-key", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0")
}

func TestCtlErrors(t *testing.T) {
	url := startServer(t)

	_, err := run(t, "--server", url, "acquire")
	assert.Error(t, err)

	_, err = run(t, "--server", url, "--token", "bogus", "acquire", "ajio")
	assert.Error(t, err)

	_, err = run(t, "--server", url, "release", "x", "--outcome", "perhaps")
	assert.Error(t, err)
}
