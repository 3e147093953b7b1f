// Package geocode resolves coordinates to a short human-readable address
// through a Nominatim-compatible reverse geocoder. Lookups are best effort:
// submission never fails because the geocoder is down.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const userAgent = "civicdesk/1.0"

type Client struct {
	// BaseURL of the Nominatim-compatible service. Empty disables lookups.
	BaseURL string
	// Parts limits the returned address to the first N comma-separated
	// components of display_name. Zero keeps the full name.
	Parts      int
	HTTPClient *http.Client
}

func New(baseURL string, parts int) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Parts:      parts,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ReverseLookup returns a short address for the coordinates, or an error
// the caller is expected to swallow.
func (c *Client) ReverseLookup(ctx context.Context, lat, lng float64) (string, error) {
	if c == nil || c.BaseURL == "" {
		return "", fmt.Errorf("geocoder disabled")
	}
	url := fmt.Sprintf("%s/reverse?format=json&lat=%f&lon=%f&zoom=18&addressdetails=1", c.BaseURL, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("geocoder status %d", resp.StatusCode)
	}
	var payload struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.DisplayName == "" {
		return "", fmt.Errorf("geocoder returned no display_name")
	}
	return Shorten(payload.DisplayName, c.Parts), nil
}

// Shorten keeps the first n comma-separated components of a display name.
func Shorten(displayName string, n int) string {
	if n <= 0 {
		return displayName
	}
	parts := strings.Split(displayName, ", ")
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, ", ")
}
