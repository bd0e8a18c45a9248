package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseLifecycle(t *testing.T, router *gin.Engine, apiKey string, harvester *Harvester) {
	bearer := workerToken(t, router, apiKey)
	harvestsBefore := harvester.Calls()

	acquire := func() dto.LeaseResponse {
		rr := doJSON(router, "POST", "/api/v1/leases", dto.AcquireLeaseRequest{Site: "ajio"}, bearer)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var lease dto.LeaseResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &lease))
		return lease
	}

	first := acquire()
	assert.Equal(t, harvestsBefore+1, harvester.Calls())

	rr := doJSON(router, "DELETE", "/api/v1/leases/"+first.ID+"?outcome=success", nil, bearer)
	require.Equal(t, http.StatusOK, rr.Code)

	second := acquire()
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, harvestsBefore+1, harvester.Calls())

	for i := 1; i <= 3; i++ {
		rr = doJSON(router, "DELETE", "/api/v1/leases/"+first.ID+"?outcome=failure", nil, bearer)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr = doJSON(router, "GET", "/api/v1/sites/ajio/stats", nil, bearer)
	require.Equal(t, http.StatusOK, rr.Code)
	var st dto.SiteStatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, "unhealthy", st.Sessions[0].Health)
	assert.Equal(t, 3, st.Sessions[0].FailedAttempts)
	assert.Equal(t, 2, st.Sessions[0].UsageCount)

	rr = doJSON(router, "DELETE", "/api/v1/leases/"+uuid.NewString(), nil, bearer)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(router, "POST", "/api/v1/admin/purge", nil, map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusOK, rr.Code)
	var purge dto.PurgeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &purge))
	assert.Equal(t, 1, purge.Removed)
}

func TestConcurrentAcquire(t *testing.T, p *pool.Pool, store sessions.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Insert(ctx, &sessions.Session{
			ID:        uuid.NewString(),
			Site:      "nykaa",
			Cookies:   []sessions.Cookie{{Name: "sid", Value: fmt.Sprint(i)}},
			CreatedAt: time.Now().UTC(),
			Health:    sessions.HealthHealthy,
		}))
	}

	var (
		mu      sync.Mutex
		holders = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 12; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				lease, err := p.Acquire(ctx, "nykaa")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				holders[lease.ID]++
				assert.Equal(t, 1, holders[lease.ID], "session %s leased twice", lease.ID)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				holders[lease.ID]--
				mu.Unlock()
				assert.NoError(t, p.Release(ctx, lease.ID, sessions.OutcomeSuccess))
			}
		}()
	}
	wg.Wait()

	list, err := store.List(ctx, "nykaa")
	require.NoError(t, err)
	total := 0
	for _, s := range list {
		assert.False(t, s.Leased)
		total += s.UsageCount
	}
	assert.Equal(t, 120, total)
}

func TestSweepReplacesStale(t *testing.T, router *gin.Engine, apiKey string, store sessions.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	sick := &sessions.Session{
		ID: uuid.NewString(), Site: "myntra", CreatedAt: now,
		FailedAttempts: 3, Health: sessions.HealthUnhealthy,
	}
	expired := &sessions.Session{
		ID: uuid.NewString(), Site: "myntra", CreatedAt: now,
		ExpiresAt: &past, Health: sessions.HealthHealthy,
	}
	require.NoError(t, store.Insert(ctx, sick))
	require.NoError(t, store.Insert(ctx, expired))

	admin := map[string]string{"X-API-Key": apiKey}

	rr := doJSON(router, "POST", "/api/v1/admin/sweep?site=myntra", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sweep dto.SweepResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sweep))
	assert.Equal(t, 2, sweep.Replaced)

	list, err := store.List(ctx, "myntra")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, s := range list {
		assert.NotEqual(t, sick.ID, s.ID)
		assert.NotEqual(t, expired.ID, s.ID)
		assert.Zero(t, s.UsageCount)
		assert.False(t, s.Leased)
	}

	rr = doJSON(router, "POST", "/api/v1/admin/sweep?site=myntra", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sweep))
	assert.Zero(t, sweep.Replaced)
}
