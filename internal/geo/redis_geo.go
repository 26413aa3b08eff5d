package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo using a Redis GEO set for positions and one hash
// per driver for metadata.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if d.Updated.IsZero() {
		d.Updated = time.Now()
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID})
		p.HSet(ctx, MetaKey(d.ID), MetaFields(d))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert driver %s: %w", d.ID, err)
	}
	return nil
}

// ListAvailable scans the whole GEO set. Errors are returned, never turned
// into an empty result.
func (r *RedisGeo) ListAvailable(ctx context.Context, class *models.VehicleClass) ([]models.Driver, error) {
	names, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list drivers: %w", err)
	}
	if len(names) == 0 {
		return []models.Driver{}, nil
	}
	positions, err := r.client.GeoPos(ctx, r.key, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis driver positions: %w", err)
	}
	metas := make([]*redis.MapStringStringCmd, len(names))
	if _, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, name := range names {
			metas[i] = p.HGetAll(ctx, MetaKey(name))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("redis driver metadata: %w", err)
	}

	out := make([]models.Driver, 0, len(names))
	for i, name := range names {
		if i >= len(positions) || positions[i] == nil {
			continue
		}
		d := driverFromMeta(name, metas[i].Val())
		d.Loc = models.Coord{Lat: positions[i].Latitude, Lng: positions[i].Longitude}
		if !d.Available {
			continue
		}
		if class != nil && d.VehicleClass != *class {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func MetaKey(id string) string { return "driver:meta:" + id }

// MetaFields is the hash layout shared by the API and the location consumer.
func MetaFields(d models.Driver) map[string]interface{} {
	return map[string]interface{}{
		"name":          d.DisplayName,
		"vehicle_class": string(d.VehicleClass),
		"rating":        strconv.FormatFloat(d.Rating, 'f', -1, 64),
		"plate":         d.Plate,
		"available":     strconv.FormatBool(d.Available),
		"updated":       d.Updated.UTC().Format(time.RFC3339),
	}
}

func driverFromMeta(id string, m map[string]string) models.Driver {
	d := models.Driver{ID: id, DisplayName: m["name"], Plate: m["plate"]}
	if v, err := models.ParseVehicleClass(m["vehicle_class"]); err == nil {
		d.VehicleClass = v
	}
	if f, err := strconv.ParseFloat(m["rating"], 64); err == nil {
		d.Rating = f
	}
	d.Available = m["available"] == "true"
	if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
		d.Updated = ts
	}
	return d
}
