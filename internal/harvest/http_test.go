package harvest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorker(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/harvest", r.URL.Path)

		var req harvestRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "myntra", req.Site)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPHarvesterWrappedResponse(t *testing.T) {
	srv := newWorker(t, http.StatusOK, `{"cookies":[{"name":"_abck","value":"x","expires":1767225600000}]}`)

	cookies, err := NewHTTPHarvester(srv.URL+"/", time.Second).Harvest(context.Background(), "myntra")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "_abck", cookies[0].Name)
	assert.Equal(t, float64(1767225600), cookies[0].Expires)
}

func TestHTTPHarvesterBareArray(t *testing.T) {
	srv := newWorker(t, http.StatusOK, `[{"name":"a","value":"1"},{"name":"b","value":"2","expires":"1767225600"}]`)

	cookies, err := NewHTTPHarvester(srv.URL, time.Second).Harvest(context.Background(), "myntra")
	require.NoError(t, err)
	assert.Len(t, cookies, 2)
	assert.Equal(t, float64(1767225600), cookies[1].Expires)
}

func TestHTTPHarvesterErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		is     error
	}{
		{"unsupported", http.StatusNotFound, `{"error":"unknown site"}`, ErrUnsupportedSite},
		{"empty", http.StatusOK, `{"cookies":[]}`, ErrEmptyHarvest},
		{"worker error", http.StatusOK, `{"error":"captcha"}`, nil},
		{"server error", http.StatusBadGateway, `upstream down`, nil},
		{"garbage", http.StatusOK, `<html>`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newWorker(t, tt.status, tt.body)

			_, err := NewHTTPHarvester(srv.URL, time.Second).Harvest(context.Background(), "myntra")
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestHTTPHarvesterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewHTTPHarvester(srv.URL, time.Minute).Harvest(ctx, "myntra")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
