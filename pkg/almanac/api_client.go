package almanac

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiClientLogPrefix = "almanac:api_client"

// APIClient queries an almanac over its REST API, e.g. https://agentverse.ai/v1/almanac/.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates an APIClient rooted at baseURL. A nil client uses a 10s timeout.
func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{baseURL: baseURL, http: client}
}

// BaseURL returns the API root, always ending in "/".
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// QueryRecord fetches {base}agents/{address}. A 404 yields nil, nil.
func (c *APIClient) QueryRecord(ctx context.Context, addr string) (*Record, error) {
	var rec Record
	found, err := c.get(ctx, "agents/"+url.PathEscape(addr), &rec)
	if err != nil || !found {
		return nil, err
	}
	if rec.Address == "" {
		rec.Address = addr
	}
	return &rec, nil
}

// LookupName fetches {base}names/{name}. A 404 yields "", nil.
func (c *APIClient) LookupName(ctx context.Context, name string) (string, error) {
	var out LookupNameOutput
	found, err := c.get(ctx, "names/"+url.PathEscape(name), &out)
	if err != nil || !found {
		return "", err
	}
	return out.Address, nil
}

func (c *APIClient) get(ctx context.Context, path string, out interface{}) (bool, error) {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("%s - build request: %w", apiClientLogPrefix, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s - GET %s: %w", apiClientLogPrefix, u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		slog.Debug(fmt.Sprintf("%s - %s not found", apiClientLogPrefix, u))
		return false, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%s - GET %s: status %d: %s", apiClientLogPrefix, u, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%s - decode %s: %w", apiClientLogPrefix, u, err)
	}
	return true, nil
}
