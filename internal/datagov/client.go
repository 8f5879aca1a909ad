package datagov

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRateLimited signals an upstream 429. It is a soft stop: the caller
// keeps already-fetched pages and resumes on the next invocation.
var ErrRateLimited = errors.New("upstream rate limit reached")

// Client pages through the resale transaction feed, newest month first.
type Client struct {
	baseURL    string
	resourceID string
	pageDelay  time.Duration
	client     *http.Client
	logger     *logrus.Logger

	firstPageDone bool
}

func NewClient(baseURL, resourceID string, pageDelay time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		resourceID: resourceID,
		pageDelay:  pageDelay,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type searchResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []rawRecord `json:"records"`
		Total   int         `json:"total"`
	} `json:"result"`
}

type rawRecord struct {
	Month             string `json:"month"`
	Town              string `json:"town"`
	FlatType          string `json:"flat_type"`
	Block             string `json:"block"`
	StreetName        string `json:"street_name"`
	StoreyRange       string `json:"storey_range"`
	FloorAreaSqm      string `json:"floor_area_sqm"`
	FlatModel         string `json:"flat_model"`
	LeaseCommenceDate string `json:"lease_commence_date"`
	RemainingLease    string `json:"remaining_lease"`
	ResalePrice       string `json:"resale_price"`
}

// FetchPage retrieves one page sorted by month descending, returning the
// normalized records plus the raw upstream record count. The raw count is
// what pagination must compare against the page size: malformed records
// are dropped during normalization, so the normalized slice can be short
// even when the upstream page was full. A 429 is reported as
// ErrRateLimited; any other non-success status is an error.
func (c *Client) FetchPage(offset, limit int) ([]ResaleRecord, int, error) {
	// Respect the informal rate limit between consecutive pages
	if c.firstPageDone && c.pageDelay > 0 {
		time.Sleep(c.pageDelay)
	}
	c.firstPageDone = true

	params := url.Values{
		"resource_id": []string{c.resourceID},
		"limit":       []string{strconv.Itoa(limit)},
		"offset":      []string{strconv.Itoa(offset)},
		"sort":        []string{"month desc"},
	}

	req, err := http.NewRequest(http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()

	c.logger.WithFields(logrus.Fields{
		"offset": offset,
		"limit":  limit,
	}).Debug("Fetching transaction page")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("transaction page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.WithField("offset", offset).Warn("Upstream rate limit hit, stopping fetch")
		return nil, 0, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if !payload.Success {
		return nil, 0, errors.New("upstream reported failure")
	}

	records := make([]ResaleRecord, 0, len(payload.Result.Records))
	for _, raw := range payload.Result.Records {
		rec, ok := normalizeRecord(raw)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"month":  raw.Month,
				"block":  raw.Block,
				"street": raw.StreetName,
			}).Warn("Skipping malformed upstream record")
			continue
		}
		records = append(records, rec)
	}

	return records, len(payload.Result.Records), nil
}
