// Package geo resolves rounded coordinates to human-readable place names
// through the reverse-geocoding proxy, caching results for the lifetime of
// the run.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"mue/importer/internal/config"
)

type place struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type Client struct {
	endpoint string
	http     *http.Client

	mu    sync.Mutex
	cache map[string]string
}

func New(cfg config.GeoConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
		cache:    make(map[string]string),
	}
}

// Resolve maps a rounded coordinate pair to a place name, or "" when the
// service knows nothing about the spot. Results, including empty ones, are
// cached by coordinate key; entries are never evicted. Two workers racing
// on a cold key may both hit the network, which is harmless since they
// converge on the same value.
func (c *Client) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	key := cacheKey(lat, lon)

	c.mu.Lock()
	if name, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return name, nil
	}
	c.mu.Unlock()

	name, err := c.lookup(ctx, lat, lon)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[key] = name
	c.mu.Unlock()

	return name, nil
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) (string, error) {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', 1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', 1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build geocode request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode %s: %w", cacheKey(lat, lon), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode %s: unexpected status %s", cacheKey(lat, lon), resp.Status)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return "", fmt.Errorf("decode geocode response: %w", err)
	}

	if len(places) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%s, %s", places[0].Name, places[0].State), nil
}

func cacheKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 1, 64) + "," + strconv.FormatFloat(lon, 'f', 1, 64)
}
