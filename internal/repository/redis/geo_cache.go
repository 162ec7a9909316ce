package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auth-security/internal/client"
	"auth-security/internal/enrichment"
	"auth-security/internal/util"
)

const geoPrefix = "geo:"

// GeoCache keeps resolved locations keyed by raw client IP
type GeoCache struct {
	client *client.RedisClient
}

var _ enrichment.GeoCache = (*GeoCache)(nil)

func NewGeoCache(client *client.RedisClient) *GeoCache {
	return &GeoCache{client: client}
}

func (c *GeoCache) Get(ctx context.Context, ip string) (enrichment.Location, bool, error) {
	raw, err := c.client.Get(ctx, geoPrefix+ip)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return enrichment.Location{}, false, nil
		}
		return enrichment.Location{}, false, fmt.Errorf("failed to read geo cache: %w", err)
	}

	var loc enrichment.Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		util.Warn("Dropping malformed geo cache entry", util.String("ip", ip), util.ErrorField(err))
		_ = c.client.Del(ctx, geoPrefix+ip)
		return enrichment.Location{}, false, nil
	}
	return loc, true, nil
}

func (c *GeoCache) Set(ctx context.Context, ip string, loc enrichment.Location, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to encode geo location: %w", err)
	}
	if err := c.client.Set(ctx, geoPrefix+ip, data, ttl); err != nil {
		return fmt.Errorf("failed to write geo cache: %w", err)
	}
	return nil
}
