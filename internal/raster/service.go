package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

var _ Computer = (*ServiceComputer)(nil)

// ServiceComputer delegates index computation to a raster statistics
// service (a titiler-style endpoint). The service clips the band rasters to
// the geometry and evaluates the normalized-difference expression; this
// client just carries the request and interprets the summary.
type ServiceComputer struct {
	statsURL   string
	httpClient *http.Client
}

// NewServiceComputer creates a ServiceComputer from config.
func NewServiceComputer(cfg types.RasterConfig) *ServiceComputer {
	return &ServiceComputer{
		statsURL:   cfg.StatsURL,
		httpClient: &http.Client{Timeout: parseTimeout(cfg.Timeout, 60 * time.Second)},
	}
}

type statsRequest struct {
	Expression string            `json:"expression"`
	Assets     map[string]string `json:"assets"`
	Geometry   types.Geometry    `json:"geometry"`
}

type statsResponse struct {
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Std        float64 `json:"std"`
	ValidCount int     `json:"valid_count"`
}

// ComputeIndex runs one statistics request for scene × geometry × kind.
func (c *ServiceComputer) ComputeIndex(ctx context.Context, scene types.SceneRef, geom types.Geometry, kind types.IndexKind) (types.IndexStats, error) {
	first, second, err := Bands(kind)
	if err != nil {
		return types.IndexStats{}, err
	}

	firstHref, ok := scene.Bands[first]
	if !ok {
		return types.IndexStats{}, &types.DataUnavailableError{
			Reason: fmt.Sprintf("scene %s is missing band asset %q", scene.ID, first),
		}
	}
	secondHref, ok := scene.Bands[second]
	if !ok {
		return types.IndexStats{}, &types.DataUnavailableError{
			Reason: fmt.Sprintf("scene %s is missing band asset %q", scene.ID, second),
		}
	}

	expression, err := Expression(kind)
	if err != nil {
		return types.IndexStats{}, err
	}

	body, err := json.Marshal(statsRequest{
		Expression: expression,
		Assets:     map[string]string{first: firstHref, second: secondHref},
		Geometry:   geom,
	})
	if err != nil {
		return types.IndexStats{}, fmt.Errorf("encoding stats request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statsURL, bytes.NewReader(body))
	if err != nil {
		return types.IndexStats{}, fmt.Errorf("building stats request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.IndexStats{}, types.Transientf("calling raster stats service", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.IndexStats{}, types.Transientf("reading stats response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return types.IndexStats{}, &types.DataUnavailableError{
			Reason: fmt.Sprintf("scene %s band data not found", scene.ID),
		}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return types.IndexStats{}, types.Transientf("raster stats service",
			fmt.Errorf("status %d", resp.StatusCode))
	default:
		return types.IndexStats{}, fmt.Errorf("raster stats service returned status %d", resp.StatusCode)
	}

	var sr statsResponse
	if err := json.Unmarshal(payload, &sr); err != nil {
		return types.IndexStats{}, fmt.Errorf("decoding stats response: %w", err)
	}

	if sr.ValidCount == 0 {
		return types.IndexStats{NoData: true}, nil
	}
	return types.IndexStats{
		Mean:            sr.Mean,
		Min:             sr.Min,
		Max:             sr.Max,
		Std:             sr.Std,
		ValidPixelCount: sr.ValidCount,
	}, nil
}
