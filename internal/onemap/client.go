package onemap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/sirupsen/logrus"

	"hdblens/server/internal/cache"
)

// ErrRateLimited signals a 429 from the enrichment provider; the caller
// soft-stops the backlog and resumes on the next invocation.
var ErrRateLimited = errors.New("enrichment provider rate limit reached")

// Sentinel transit distance when no station is found near a unit.
const FarTransitDistance = 2000.0

// Refresh the bearer token when it is within this margin of expiry. The
// provider issues ~3-day tokens, so one fetch normally covers a whole run.
const tokenExpiryMargin = 24 * time.Hour

// Amenity bounding box: roughly 500m in degrees at Singapore's latitude.
const amenityBoxOffset = 0.0045

// Transit search box is wider so a unit between stations still finds one.
const transitBoxOffset = 0.018

// Theme query names per amenity category.
const (
	themeSchools = "kindergartens"
	themeMalls   = "shopping_malls"
	themeParks   = "nationalparks"
	themeHawkers = "hawkercentre"
	themeTransit = "mrt_station"
)

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Transit struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

type Amenities struct {
	Schools int `json:"schools"`
	Malls   int `json:"malls"`
	Parks   int `json:"parks"`
	Hawkers int `json:"hawkers"`
}

// Client talks to the OneMap API. The bearer token is owned here, acquired
// lazily and refreshed when it approaches expiry; it is never shared
// implicitly across call sites.
type Client struct {
	baseURL   string
	email     string
	password  string
	callDelay time.Duration
	client    *http.Client
	cache     *cache.Cache
	logger    *logrus.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(baseURL, email, password string, callDelay time.Duration, c *cache.Cache, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		email:     email,
		password:  password,
		callDelay: callDelay,
		client:    &http.Client{Timeout: 15 * time.Second},
		cache:     c,
		logger:    logger,
	}
}

type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	ExpiryTimestamp string `json:"expiry_timestamp"`
}

// Token returns a valid bearer token, fetching or refreshing as needed.
// A token fetch failure is fatal for the whole enrichment phase.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Now().Add(tokenExpiryMargin).Before(c.tokenExpiry) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/auth/post/getToken", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	expiry := time.Now().Add(72 * time.Hour)
	if secs, err := strconv.ParseInt(tok.ExpiryTimestamp, 10, 64); err == nil {
		expiry = time.Unix(secs, 0)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = expiry
	c.logger.WithField("expires_at", expiry.Format(time.RFC3339)).Info("Acquired enrichment token")
	return c.token, nil
}

type searchResponse struct {
	Found   int `json:"found"`
	Results []struct {
		SearchVal string `json:"SEARCHVAL"`
		Latitude  string `json:"LATITUDE"`
		Longitude string `json:"LONGITUDE"`
	} `json:"results"`
}

// Geocode resolves "{block} {street}" to coordinates. Results are cached
// without expiry since addresses do not move; a cache hit bypasses the
// network entirely. A miss returns (nil, nil) so the caller can skip the
// unit without treating it as a failure.
func (c *Client) Geocode(ctx context.Context, block, street string) (*Coordinates, error) {
	address := strings.TrimSpace(block + " " + street)
	key := cache.Key("geocode", address)

	var cached Coordinates
	if hit, err := c.cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	time.Sleep(c.callDelay)

	params := url.Values{
		"searchVal":      []string{address},
		"returnGeom":     []string{"Y"},
		"getAddrDetails": []string{"Y"},
		"pageNum":        []string{"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/common/elastic/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse geocode response: %w", err)
	}

	if payload.Found == 0 || len(payload.Results) == 0 {
		c.logger.WithField("address", address).Warn("No geocoding result for address")
		return nil, nil
	}

	lat, latErr := strconv.ParseFloat(payload.Results[0].Latitude, 64)
	lon, lonErr := strconv.ParseFloat(payload.Results[0].Longitude, 64)
	if latErr != nil || lonErr != nil {
		return nil, fmt.Errorf("geocode returned unparseable coordinates for %q", address)
	}

	coords := &Coordinates{Latitude: lat, Longitude: lon}
	c.cache.SetJSON(ctx, key, coords, cache.TTLGeocode)

	c.logger.WithFields(logrus.Fields{
		"address":   address,
		"latitude":  lat,
		"longitude": lon,
	}).Debug("Geocoded address")
	return coords, nil
}

// NearestTransit locates the closest station to a point. Distance is
// great-circle, rounded to whole meters. When nothing is found the far
// sentinel is returned instead of an error so scoring can proceed.
func (c *Client) NearestTransit(ctx context.Context, coords Coordinates) (*Transit, error) {
	features, err := c.queryTheme(ctx, themeTransit, coords, transitBoxOffset)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		c.logger.WithError(err).Warn("Transit lookup failed, using far sentinel")
		return &Transit{Distance: FarTransitDistance}, nil
	}

	nearest := &Transit{Distance: FarTransitDistance}
	from := orb.Point{coords.Longitude, coords.Latitude}
	for _, f := range features {
		d := geo.Distance(from, orb.Point{f.Longitude, f.Latitude})
		if d < nearest.Distance {
			nearest = &Transit{Name: f.Name, Distance: float64(int(d + 0.5))}
		}
	}
	return nearest, nil
}

// AmenityCounts queries the four amenity themes around a point. The themes
// are independent, so they are issued concurrently for the same unit. An
// absent theme or a not-found response counts as zero, but a rate limit is
// propagated: persisting zero counts for a throttled unit would pin a
// wrong score until it goes stale.
func (c *Client) AmenityCounts(ctx context.Context, coords Coordinates) (Amenities, error) {
	counts := [4]int{}
	errs := [4]error{}
	themes := [4]string{themeSchools, themeMalls, themeParks, themeHawkers}

	var wg sync.WaitGroup
	for i, theme := range themes {
		wg.Add(1)
		go func(i int, theme string) {
			defer wg.Done()
			features, err := c.queryTheme(ctx, theme, coords, amenityBoxOffset)
			if errors.Is(err, ErrRateLimited) {
				errs[i] = err
				return
			}
			if err != nil {
				c.logger.WithError(err).WithField("theme", theme).Warn("Amenity lookup failed, counting zero")
				return
			}
			counts[i] = len(features)
		}(i, theme)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return Amenities{}, err
		}
	}
	return Amenities{
		Schools: counts[0],
		Malls:   counts[1],
		Parks:   counts[2],
		Hawkers: counts[3],
	}, nil
}

// Pace sleeps the configured inter-call delay. The orchestrator calls it
// between units when draining the backlog sequentially.
func (c *Client) Pace() {
	time.Sleep(c.callDelay)
}
