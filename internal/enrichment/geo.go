// Package enrichment adds geo and device metadata to incoming events. Every
// failure degrades to "Unknown" values and is never returned to the caller.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"auth-security/internal/config"
	"auth-security/internal/metrics"
	"auth-security/internal/models"
)

// Location is the output contract of a geo lookup
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

var UnknownLocation = Location{Country: Unknown, City: Unknown}

// Locator resolves an IP address to a location. Implementations never fail;
// they return UnknownLocation instead.
type Locator interface {
	Locate(ctx context.Context, ip string) Location
}

// GeoCache stores resolved locations between lookups
type GeoCache interface {
	Get(ctx context.Context, ip string) (Location, bool, error)
	Set(ctx context.Context, ip string, loc Location, ttl time.Duration) error
}

type GeoClient struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	cacheTTL time.Duration
	cache    GeoCache
	cb       *gobreaker.CircuitBreaker[Location]
	logger   *zap.Logger
}

var _ Locator = (*GeoClient)(nil)

// NewGeoClient builds an ipapi-style client. cache may be nil.
func NewGeoClient(cfg config.GeoConfig, cache GeoCache, logger *zap.Logger) *GeoClient {
	c := &GeoClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		timeout:  cfg.Timeout,
		cacheTTL: cfg.CacheTTL,
		cache:    cache,
		logger:   logger,
	}

	c.cb = gobreaker.NewCircuitBreaker[Location](gobreaker.Settings{
		Name:        "geo-lookup",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Geo lookup circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// Locate never blocks longer than the configured timeout
func (c *GeoClient) Locate(ctx context.Context, ip string) Location {
	if !Routable(ip) {
		metrics.RecordGeoLookup("skipped")
		return UnknownLocation
	}

	if c.cache != nil {
		if loc, ok, err := c.cache.Get(ctx, ip); err == nil && ok {
			metrics.RecordGeoLookup("cache_hit")
			return loc
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	loc, err := c.cb.Execute(func() (Location, error) {
		return c.fetch(ctx, ip)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		metrics.RecordGeoLookup(result)
		c.logger.Debug("Geo lookup degraded", zap.Error(err))
		return UnknownLocation
	}

	metrics.RecordGeoLookup("success")
	if c.cache != nil {
		if err := c.cache.Set(ctx, ip, loc, c.cacheTTL); err != nil {
			c.logger.Debug("Failed to cache geo location", zap.Error(err))
		}
	}
	return loc
}

type ipapiResponse struct {
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

func (c *GeoClient) fetch(ctx context.Context, ip string) (Location, error) {
	endpoint := fmt.Sprintf("%s/%s/json/", c.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo service returned %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.Error {
		return Location{}, fmt.Errorf("geo service error: %s", body.Reason)
	}

	loc := Location{Country: body.CountryName, City: body.City}
	if loc.Country == "" {
		loc.Country = Unknown
	}
	if loc.City == "" {
		loc.City = Unknown
	}
	return loc, nil
}

// Routable reports whether an address is worth a lookup. Loopback, private,
// link-local and unparseable addresses are not.
func Routable(ip string) bool {
	if ip == "" || strings.EqualFold(ip, models.UnknownIP) {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast())
}

// StaticLocator returns the same location for every address. It stands in
// for the geo service when enrichment is disabled.
type StaticLocator Location

func (s StaticLocator) Locate(context.Context, string) Location {
	return Location(s)
}
