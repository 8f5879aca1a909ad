package onemap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type themeFeature struct {
	Name      string
	Latitude  float64
	Longitude float64
}

type themeResponse struct {
	SrchResults []map[string]interface{} `json:"SrchResults"`
}

// queryTheme fetches the theme features inside a square box around a point.
// The first SrchResults element is provider metadata (FeatCount etc.) and
// is skipped; a not-found status means zero features.
func (c *Client) queryTheme(ctx context.Context, theme string, coords Coordinates, offset float64) ([]themeFeature, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	extents := fmt.Sprintf("%f,%f,%f,%f",
		coords.Latitude-offset, coords.Longitude-offset,
		coords.Latitude+offset, coords.Longitude+offset)

	params := url.Values{
		"queryName": []string{theme},
		"extents":   []string{extents},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/public/themesvc/retrieveTheme?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("theme %q request failed: %w", theme, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("theme %q returned status %d", theme, resp.StatusCode)
	}

	var payload themeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse theme %q response: %w", theme, err)
	}

	var features []themeFeature
	for _, raw := range payload.SrchResults {
		// Metadata rows carry FeatCount/Theme_Name instead of a location
		latlng, ok := raw["LatLng"].(string)
		if !ok {
			continue
		}
		parts := strings.Split(latlng, ",")
		if len(parts) != 2 {
			continue
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if latErr != nil || lonErr != nil {
			continue
		}

		name, _ := raw["NAME"].(string)
		features = append(features, themeFeature{Name: name, Latitude: lat, Longitude: lon})
	}

	return features, nil
}
