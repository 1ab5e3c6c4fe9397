// Package commands implements the ripctl CLI commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// routeView mirrors the JSON shape internal/server emits for a route.
type routeView struct {
	Prefix      string `json:"prefix"`
	NextHop     string `json:"next_hop,omitempty"`
	Metric      uint8  `json:"metric"`
	Tag         uint16 `json:"tag"`
	Interface   string `json:"interface"`
	Source      string `json:"source"`
	LearnedFrom string `json:"learned_from,omitempty"`
	Changed     bool   `json:"changed"`
}

// neighborView mirrors the JSON shape internal/server emits for a neighbor.
type neighborView struct {
	Address    string    `json:"address"`
	Interface  string    `json:"interface"`
	LastHeard  time.Time `json:"last_heard"`
	BadPackets uint64    `json:"bad_packets"`
	BadRoutes  uint64    `json:"bad_routes"`
}

// apiError mirrors the JSON error envelope internal/server emits.
type apiError struct {
	Error string `json:"error"`
}

// apiClient is a thin JSON client for the ripd daemon's HTTP inspection API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) listRoutes(ctx context.Context) ([]routeView, error) {
	var routes []routeView
	if err := c.getJSON(ctx, "/api/v1/routes", &routes); err != nil {
		return nil, err
	}

	return routes, nil
}

func (c *apiClient) getRoute(ctx context.Context, prefix string) (routeView, error) {
	var route routeView
	path := "/api/v1/routes/" + url.PathEscape(prefix)

	if err := c.getJSON(ctx, path, &route); err != nil {
		return routeView{}, err
	}

	return route, nil
}

func (c *apiClient) listNeighbors(ctx context.Context) ([]neighborView, error) {
	var neighbors []neighborView
	if err := c.getJSON(ctx, "/api/v1/neighbors", &neighbors); err != nil {
		return nil, err
	}

	return neighbors, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s (status %d)", path, apiErr.Error, resp.StatusCode)
		}

		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}

	return nil
}
