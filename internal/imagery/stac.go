package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const (
	defaultCollection = "sentinel-2-l2a"
	defaultTimeout    = 30 * time.Second
	searchLimit       = 50
)

var _ Provider = (*STACClient)(nil)

// STACClient queries a STAC API search endpoint (e.g. Earth Search).
// Calls run behind a circuit breaker so a degraded archive fails fast
// instead of stacking up timed-out runs.
type STACClient struct {
	searchURL  string
	collection string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewSTACClient creates a STACClient from config.
func NewSTACClient(cfg types.ImageryConfig, logger *slog.Logger) *STACClient {
	if logger == nil {
		logger = slog.Default()
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}

	timeout := defaultTimeout
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "stac-search",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("imagery breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &STACClient{
		searchURL:  cfg.SearchURL,
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

type searchRequest struct {
	Collections []string       `json:"collections"`
	Intersects  types.Geometry `json:"intersects"`
	Datetime    string         `json:"datetime"`
	Limit       int            `json:"limit"`
	Query       map[string]any `json:"query,omitempty"`
}

type searchResponse struct {
	Features []stacItem `json:"features"`
}

type stacItem struct {
	ID         string               `json:"id"`
	Collection string               `json:"collection"`
	Properties stacProperties       `json:"properties"`
	Assets     map[string]stacAsset `json:"assets"`
}

type stacProperties struct {
	Datetime   time.Time `json:"datetime"`
	CloudCover float64   `json:"eo:cloud_cover"`
}

type stacAsset struct {
	Href string `json:"href"`
}

// FindScenes searches for scenes acquired on date over geom with cloud cover
// at or below maxCloudCover percent. An empty result is not an error.
func (c *STACClient) FindScenes(ctx context.Context, geom types.Geometry, date time.Time, maxCloudCover int) ([]types.SceneRef, error) {
	// Search window is the full UTC day, end exclusive.
	dayStart := date.UTC().Truncate(24 * time.Hour)
	req := searchRequest{
		Collections: []string{c.collection},
		Intersects:  geom,
		Datetime:    fmt.Sprintf("%s/%s", dayStart.Format(time.RFC3339), dayStart.Add(24*time.Hour).Format(time.RFC3339)),
		Limit:       searchLimit,
		Query: map[string]any{
			"eo:cloud_cover": map[string]any{"lte": maxCloudCover},
		},
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.search(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, types.Transientf("imagery search circuit open", err)
		}
		return nil, err
	}

	items := result.([]stacItem)
	scenes := make([]types.SceneRef, 0, len(items))
	for _, item := range items {
		bands := make(map[string]string, len(item.Assets))
		for name, asset := range item.Assets {
			bands[name] = asset.Href
		}
		scenes = append(scenes, types.SceneRef{
			ID:         item.ID,
			Collection: item.Collection,
			CloudCover: item.Properties.CloudCover,
			AcquiredAt: item.Properties.Datetime,
			Bands:      bands,
		})
	}
	SortScenes(scenes)
	return scenes, nil
}

func (c *STACClient) search(ctx context.Context, req searchRequest) ([]stacItem, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.Transientf("searching imagery archive", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, types.Transientf("reading search response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.Transientf("imagery search",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(payload, 200)))
	default:
		return nil, fmt.Errorf("imagery search returned status %d: %s", resp.StatusCode, truncate(payload, 200))
	}

	var sr searchResponse
	if err := json.Unmarshal(payload, &sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return sr.Features, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
