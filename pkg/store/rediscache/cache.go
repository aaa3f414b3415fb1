// Package rediscache puts a read-through Redis cache in front of reference
// data lookups.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/store"
)

const (
	keyPrefix  = "dispatch:"
	DefaultTTL = 5 * time.Minute
)

// Client is the subset of redis.UniversalClient the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Client = (redis.UniversalClient)(nil)

// Cache wraps a store.References. Redis failures are logged and the lookup
// falls through to the wrapped store.
type Cache struct {
	client Client
	next   store.References
	ttl    time.Duration
	log    *slog.Logger
}

var _ store.References = (*Cache)(nil)

func New(client Client, next store.References, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{client: client, next: next, ttl: ttl, log: log}
}

func EndpointsKey(orgID string, categoryIDs []string) string {
	ids := slices.Clone(categoryIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return fmt.Sprintf("%sendpoints:%s:%s", keyPrefix, orgID, strings.Join(ids, ","))
}

func TargetKey(orgID, id string) string {
	return fmt.Sprintf("%starget:%s:%s", keyPrefix, orgID, id)
}

func CategoryKey(orgID, id string) string {
	return fmt.Sprintf("%scategory:%s:%s", keyPrefix, orgID, id)
}

func (c *Cache) FindEndpoints(ctx context.Context, categoryIDs []string, orgID string) ([]alerts.Endpoint, error) {
	key := EndpointsKey(orgID, categoryIDs)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var eps []alerts.Endpoint
		if err := json.Unmarshal(raw, &eps); err == nil {
			return eps, nil
		}
		c.log.Warn("discarding corrupt cache entry", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	eps, err := c.next.FindEndpoints(ctx, categoryIDs, orgID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, eps)
	return eps, nil
}

func (c *Cache) Targets(ctx context.Context, orgID string, ids []string) ([]alerts.Target, error) {
	return cachedByID(ctx, c, orgID, ids, TargetKey, c.next.Targets, func(t alerts.Target) string { return t.ID })
}

func (c *Cache) Categories(ctx context.Context, orgID string, ids []string) ([]alerts.Category, error) {
	return cachedByID(ctx, c, orgID, ids, CategoryKey, c.next.Categories, func(cat alerts.Category) string { return cat.ID })
}

// Invalidate drops every cached entry of orgID.
func (c *Cache) Invalidate(ctx context.Context, orgID string) error {
	var keys []string
	for _, kind := range []string{"endpoints", "target", "category"} {
		iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s%s:%s:*", keyPrefix, kind, orgID), 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan cache keys: %w", err)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func cachedByID[T any](
	ctx context.Context,
	c *Cache,
	orgID string,
	ids []string,
	keyFn func(org, id string) string,
	load func(context.Context, string, []string) ([]T, error),
	idOf func(T) string,
) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFn(orgID, id)
	}

	var (
		out     []T
		missing []string
	)
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("cache read failed", slog.Int("keys", len(keys)), slog.Any("error", err))
		missing = ids
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var rec T
			if err := json.Unmarshal([]byte(s), &rec); err != nil {
				missing = append(missing, ids[i])
				continue
			}
			out = append(out, rec)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := load(ctx, orgID, missing)
	if err != nil {
		return nil, err
	}
	for _, rec := range loaded {
		c.set(ctx, keyFn(orgID, idOf(rec)), rec)
	}
	return append(out, loaded...), nil
}
