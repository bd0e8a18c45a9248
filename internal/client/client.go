// Package client talks to a cookie-jar server over HTTP. A *Client and an
// in-process *pool.Pool both satisfy Leaser, so scraper code can run
// against either.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// APIError is a non-2xx answer from the server. It unwraps to the matching
// pool or sessions sentinel where one exists.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cookie-jar: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("cookie-jar: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusServiceUnavailable && e.Code == "not_available":
		return pool.ErrNotAvailable
	case e.Status == http.StatusNotFound:
		return sessions.ErrNotFound
	case e.Code == "store_unavailable":
		return sessions.ErrStoreUnavailable
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusBadRequest:
		return ErrBadRequest
	}
	return nil
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	apiKey     string
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		// Acquire may block on a browser harvest on the server side.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Acquire(ctx context.Context, site string) (*sessions.Lease, error) {
	var resp dto.LeaseResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/leases", dto.AcquireLeaseRequest{Site: site}, &resp, false); err != nil {
		return nil, err
	}
	return resp.Lease(), nil
}

func (c *Client) Release(ctx context.Context, id string, outcome sessions.Outcome) error {
	path := "/api/v1/leases/" + url.PathEscape(id) + "?outcome=" + url.QueryEscape(outcome.String())
	return c.do(ctx, http.MethodDelete, path, nil, nil, false)
}

func (c *Client) Stats(ctx context.Context, site string) (dto.SiteStatsResponse, error) {
	var resp dto.SiteStatsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/sites/"+url.PathEscape(site)+"/stats", nil, &resp, false)
	return resp, err
}

func (c *Client) StatsAll(ctx context.Context) (dto.AllStatsResponse, error) {
	var resp dto.AllStatsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &resp, false)
	return resp, err
}

func (c *Client) Sweep(ctx context.Context, site string) (int, error) {
	path := "/api/v1/admin/sweep"
	if site != "" {
		path += "?site=" + url.QueryEscape(site)
	}
	var resp dto.SweepResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Replaced, nil
}

func (c *Client) Purge(ctx context.Context) (int, error) {
	var resp dto.PurgeResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/purge", nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (c *Client) Warm(ctx context.Context, site string, count int) (int, error) {
	var resp dto.WarmResponse
	path := "/api/v1/admin/sites/" + url.PathEscape(site) + "/warm"
	if err := c.do(ctx, http.MethodPost, path, dto.WarmRequest{Count: count}, &resp, true); err != nil {
		return 0, err
	}
	return resp.Inserted, nil
}

func (c *Client) CreateToken(ctx context.Context, worker, role string) (dto.CreateTokenResponse, error) {
	var resp dto.CreateTokenResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/admin/tokens", dto.CreateTokenRequest{Worker: worker, Role: role}, &resp, true)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, admin bool) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if admin {
		req.Header.Set("X-API-Key", c.apiKey)
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
		var e dto.ErrorResponse
		if json.Unmarshal(payload, &e) == nil && e.Error != "" {
			apiErr.Code = e.Code
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
