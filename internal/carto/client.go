// Package carto talks to the CARTO SQL and Maps APIs.
package carto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aqueduct_food/map-go/internal/layers"
)

// DefaultBaseURL is the per-account CARTO endpoint.
const DefaultBaseURL = "https://{account}.carto.com"

// StatusError is returned for non-2xx CARTO responses.
type StatusError struct {
	StatusCode int
	Messages   []string
}

func (e *StatusError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("carto: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("carto: status %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// Client satisfies layers.SQLRunner and layers.MapRegistrar.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A "{account}" placeholder in baseURL is
// replaced by the account of each request. A zero timeout means requests
// only end when their context does.
func New(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint(account, path string, q url.Values) string {
	base := strings.ReplaceAll(c.baseURL, "{account}", url.PathEscape(account))
	return base + path + "?" + q.Encode()
}

// TileURL is the {z}/{x}/{y} template for an instantiated layer group.
func (c *Client) TileURL(account, layerGroupID string) string {
	base := strings.ReplaceAll(c.baseURL, "{account}", url.PathEscape(account))
	return base + "/api/v1/map/" + url.PathEscape(layerGroupID) + "/{z}/{x}/{y}.png"
}

type sqlResponse struct {
	Rows []layers.Row `json:"rows"`
}

// Query runs sql against the account's SQL API.
func (c *Client) Query(ctx context.Context, account, sql string) ([]layers.Row, error) {
	var resp sqlResponse
	if err := c.get(ctx, c.endpoint(account, "/api/v2/sql", url.Values{"q": {sql}}), &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

type mapResponse struct {
	LayerGroupID string `json:"layergroupid"`
}

// Instantiate registers cfg as an anonymous map and returns its tile URL.
func (c *Client) Instantiate(ctx context.Context, account string, cfg layers.MapConfig) (string, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode map config: %w", err)
	}

	var resp mapResponse
	q := url.Values{"stat_tag": {"API"}, "config": {string(payload)}}
	if err := c.get(ctx, c.endpoint(account, "/api/v1/map", q), &resp); err != nil {
		return "", err
	}
	if resp.LayerGroupID == "" {
		return "", errors.New("carto: response has no layergroupid")
	}
	return c.TileURL(account, resp.LayerGroupID), nil
}

type errorResponse struct {
	Errors []string `json:"errors"`
	Error  any      `json:"error"`
}

func (c *Client) get(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read carto response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{StatusCode: res.StatusCode, Messages: errorMessages(body)}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode carto response: %w", err)
	}
	return nil
}

func errorMessages(body []byte) []string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return nil
	}
	msgs := append([]string(nil), e.Errors...)
	switch v := e.Error.(type) {
	case string:
		msgs = append(msgs, v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				msgs = append(msgs, s)
			}
		}
	}
	return msgs
}
