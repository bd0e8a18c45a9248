package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/EternisAI/cookie-jar/internal/sessions"
)

const maxHarvestResponse = 1 << 20

// HTTPHarvester asks a remote browser worker to mint cookies. The worker
// answers POST {base}/harvest with either {"cookies": [...]} or a bare
// cookie array as produced by the browser driver.
type HTTPHarvester struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPHarvester(baseURL string, timeout time.Duration) *HTTPHarvester {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPHarvester{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type harvestRequest struct {
	Site string `json:"site"`
}

type harvestResponse struct {
	Cookies []sessions.Cookie `json:"cookies"`
	Error   string            `json:"error,omitempty"`
}

func (h *HTTPHarvester) Harvest(ctx context.Context, site string) ([]sessions.Cookie, error) {
	body, err := json.Marshal(harvestRequest{Site: site})
	if err != nil {
		return nil, fmt.Errorf("failed to encode harvest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/harvest", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	slog.Debug("Requesting harvest", "site", site, "url", req.URL.String())

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute harvest request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHarvestResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read harvest response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: %s (status %d)", ErrUnsupportedSite, site, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("harvester returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	cookies, err := decodeCookies(payload)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyHarvest, site)
	}
	return cookies, nil
}

func decodeCookies(payload []byte) ([]sessions.Cookie, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '[' {
		var cookies []sessions.Cookie
		if err := json.Unmarshal(payload, &cookies); err != nil {
			return nil, fmt.Errorf("failed to decode cookie list: %w", err)
		}
		return cookies, nil
	}

	var resp harvestResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode harvest response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("harvester error: %s", resp.Error)
	}
	return resp.Cookies, nil
}
