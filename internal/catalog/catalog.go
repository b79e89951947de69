// Package catalog talks to the satellite imagery catalog: authenticated
// scene search over STAC and pixel retrieval through the processing
// endpoint. All outbound calls share one rate limiter and the same retry
// policy, with timing routed through a Clock so tests run instantly.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/cropwatch/internal/config"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/httputil"
	"github.com/banshee-data/cropwatch/internal/monitoring"
	"github.com/banshee-data/cropwatch/internal/timeutil"
)

// Scene is one catalog entry for a search footprint.
type Scene struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Acquired   time.Time `json:"acquired"`
	CloudCover float64   `json:"cloud_cover"`
}

// TimeWindow is a half-open [From, To) acquisition interval.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Key is the window's stable identity in stores and file names.
func (w TimeWindow) Key() string {
	return w.From.UTC().Format("2006-01-02") + "_" + w.To.UTC().Format("2006-01-02")
}

// ParseWindowKey inverts Key. Sub-day precision is lost; a reparsed window
// spans whole UTC days.
func ParseWindowKey(key string) (TimeWindow, error) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return TimeWindow{}, fmt.Errorf("malformed window key %q", key)
	}
	from, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return TimeWindow{}, fmt.Errorf("malformed window key %q: %w", key, err)
	}
	to, err := time.Parse("2006-01-02", parts[1])
	if err != nil {
		return TimeWindow{}, fmt.Errorf("malformed window key %q: %w", key, err)
	}
	return TimeWindow{From: from, To: to}, nil
}

// Client searches and fetches from the imagery catalog.
type Client struct {
	http    httputil.HTTPClient
	clock   timeutil.Clock
	limiter *rate.Limiter
	tokens  *tokenSource

	baseURL         string
	collection      string
	radarCollection string
	cloudCeiling    float64
	maxAttempts     int
	backoffBase     time.Duration
}

// NewClient builds a catalog client from pipeline configuration.
func NewClient(cfg *config.PipelineConfig, creds Credentials, h httputil.HTTPClient, clock timeutil.Clock) *Client {
	if h == nil {
		h = httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Minute})
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	base := cfg.GetCatalogURL()
	return &Client{
		http:            h,
		clock:           clock,
		limiter:         rate.NewLimiter(rate.Limit(cfg.GetCatalogRatePerSec()), cfg.GetCatalogBurst()),
		tokens:          newTokenSource(h, clock, base+"/oauth/token", creds),
		baseURL:         base,
		collection:      cfg.GetCatalogCollection(),
		radarCollection: cfg.GetRadarCollection(),
		cloudCeiling:    cfg.GetCloudCeilingPct(),
		maxAttempts:     cfg.GetMaxAttempts(),
		backoffBase:     cfg.GetBackoffBase(),
	}
}

type searchRequest struct {
	BBox        [4]float64   `json:"bbox"`
	Datetime    string       `json:"datetime"`
	Collections []string     `json:"collections"`
	Limit       int          `json:"limit"`
	Query       *searchQuery `json:"query,omitempty"`
}

type searchQuery struct {
	CloudCover cloudFilter `json:"eo:cloud_cover"`
}

type cloudFilter struct {
	LT float64 `json:"lt"`
}

type searchResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Collection string `json:"collection"`
		Properties struct {
			Datetime   time.Time `json:"datetime"`
			CloudCover *float64  `json:"eo:cloud_cover"`
		} `json:"properties"`
	} `json:"features"`
}

// SearchScenes lists scenes covering bounds inside the window, best first:
// lowest cloud cover, newest on ties. When no optical scene clears the cloud
// ceiling the radar collection is searched as a cloud-independent fallback.
// An empty result from both collections is ErrNoScenes.
func (c *Client) SearchScenes(ctx context.Context, bounds geo.BBox, window TimeWindow) ([]Scene, error) {
	scenes, err := c.searchCollection(ctx, bounds, window, c.collection, &c.cloudCeiling)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		monitoring.Logf("catalog: no optical scenes under %.0f%% cloud for %s, trying %s",
			c.cloudCeiling, window.Key(), c.radarCollection)
		scenes, err = c.searchCollection(ctx, bounds, window, c.radarCollection, nil)
		if err != nil {
			return nil, err
		}
	}
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}

	sort.SliceStable(scenes, func(i, j int) bool {
		if scenes[i].CloudCover != scenes[j].CloudCover {
			return scenes[i].CloudCover < scenes[j].CloudCover
		}
		if !scenes[i].Acquired.Equal(scenes[j].Acquired) {
			return scenes[i].Acquired.After(scenes[j].Acquired)
		}
		return scenes[i].ID < scenes[j].ID
	})
	return scenes, nil
}

func (c *Client) searchCollection(ctx context.Context, bounds geo.BBox, window TimeWindow, collection string, cloudLT *float64) ([]Scene, error) {
	req := searchRequest{
		BBox: [4]float64{bounds.West, bounds.South, bounds.East, bounds.North},
		Datetime: window.From.UTC().Format(time.RFC3339) + "/" +
			window.To.UTC().Format(time.RFC3339),
		Collections: []string{collection},
		Limit:       100,
	}
	if cloudLT != nil {
		req.Query = &searchQuery{CloudCover: cloudFilter{LT: *cloudLT}}
	}

	body, err := c.post(ctx, c.baseURL+"/api/v1/catalog/search", req, "application/json")
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("catalog search: parse response: %w", err)
	}

	scenes := make([]Scene, 0, len(sr.Features))
	for _, f := range sr.Features {
		s := Scene{ID: f.ID, Collection: f.Collection, Acquired: f.Properties.Datetime}
		if s.Collection == "" {
			s.Collection = collection
		}
		if f.Properties.CloudCover != nil {
			s.CloudCover = *f.Properties.CloudCover
		}
		scenes = append(scenes, s)
	}
	return scenes, nil
}

// post sends an authenticated request with rate limiting and bounded
// exponential backoff on transient failures.
func (c *Client) post(ctx context.Context, url string, payload any, accept string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := timeutil.SleepContext(ctx, c.clock, c.backoffBase<<(attempt-2)); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, url, data, accept)
		if err == nil {
			return body, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		monitoring.Logf("catalog: attempt %d/%d failed: %v", attempt, c.maxAttempts, err)
	}
	return nil, fmt.Errorf("catalog: %d attempts exhausted: %w", c.maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, url string, data []byte, accept string) ([]byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
		if retryableStatus(resp.StatusCode) {
			return nil, &TransientError{Op: "request", Err: err}
		}
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
