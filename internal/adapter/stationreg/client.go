package stationreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/climatescope/climate-analytics/internal/config"
	"github.com/climatescope/climate-analytics/internal/pipeline"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client resolves station metadata from the station registry API.
// It implements pipeline.StationDirectory. Successful lookups are cached;
// a rate limiter and a circuit breaker sit between the pipeline and the
// registry so a slow or failing registry cannot stall ingestion.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *lruCache
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a registry client from config.
func NewClient(cfg config.RegistryConfig, logger *slog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "station-registry",
		// A missing station is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, pipeline.ErrStationNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      newLRUCache(cfg.CacheSize),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		breaker:    breaker,
		logger:     logger,
	}
}

// Lookup fetches one station's metadata. Cache hits skip the limiter and
// the breaker entirely; not-found responses are never cached, so a station
// registered later is picked up.
func (c *Client) Lookup(ctx context.Context, stationID string) (pipeline.Station, error) {
	if station, ok := c.cache.get(stationID); ok {
		return station, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return pipeline.Station{}, fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, stationID)
	})
	if err != nil {
		return pipeline.Station{}, err
	}

	station := result.(pipeline.Station)
	c.cache.put(stationID, station)
	return station, nil
}

func (c *Client) fetch(ctx context.Context, stationID string) (pipeline.Station, error) {
	u := fmt.Sprintf("%s/stations/%s", c.baseURL, url.PathEscape(stationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return pipeline.Station{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.Station{}, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pipeline.Station{}, pipeline.ErrStationNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return pipeline.Station{}, fmt.Errorf("registry error: status %d: %s", resp.StatusCode, body)
	}

	var station pipeline.Station
	if err := json.NewDecoder(resp.Body).Decode(&station); err != nil {
		return pipeline.Station{}, fmt.Errorf("decode response: %w", err)
	}
	return station, nil
}
