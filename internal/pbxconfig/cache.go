package pbxconfig

import (
	"context"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"pbx-routing/internal/routing"
)

const DefaultCacheTTL = 30 * time.Second

type CacheOptions struct {
	TTL time.Duration
	// LocalSize > 0 adds an in-process TinyLFU tier in front of Redis. Entries in
	// it are not invalidated across workers, so keep LocalTTL short.
	LocalSize int
	LocalTTL  time.Duration
}

// CachedSource decorates a ConfigSource with a Redis read-through cache.
// Lookups that fail (including not found) are never cached.
type CachedSource struct {
	next  routing.ConfigSource
	cache *cache.Cache
	ttl   time.Duration
}

var _ routing.ConfigSource = (*CachedSource)(nil)

func NewCachedSource(next routing.ConfigSource, rdb redis.UniversalClient, opts CacheOptions) *CachedSource {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	co := &cache.Options{Redis: rdb}
	if opts.LocalSize > 0 {
		localTTL := opts.LocalTTL
		if localTTL <= 0 {
			localTTL = time.Second
		}
		co.LocalCache = cache.NewTinyLFU(opts.LocalSize, localTTL)
	}
	return &CachedSource{next: next, cache: cache.New(co), ttl: opts.TTL}
}

func cacheKey(kind, id string) string { return "pbx:cfg:" + kind + ":" + id }

// once is the read-through step shared by every lookup.
func once[T any](ctx context.Context, c *CachedSource, kind, id string, load func(context.Context, string) (T, error)) (T, error) {
	var out T
	err := c.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   cacheKey(kind, id),
		Value: &out,
		TTL:   c.ttl,
		Do: func(item *cache.Item) (interface{}, error) {
			return load(item.Ctx, id)
		},
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (c *CachedSource) GetDID(ctx context.Context, number string) (routing.DID, error) {
	return once(ctx, c, "did", number, c.next.GetDID)
}

func (c *CachedSource) GetRingGroup(ctx context.Context, id string) (routing.RingGroup, error) {
	return once(ctx, c, "ring_group", id, c.next.GetRingGroup)
}

func (c *CachedSource) GetSchedule(ctx context.Context, id string) (routing.Schedule, error) {
	return once(ctx, c, "schedule", id, c.next.GetSchedule)
}

func (c *CachedSource) GetMenu(ctx context.Context, id string) (routing.Menu, error) {
	return once(ctx, c, "menu", id, c.next.GetMenu)
}

// Invalidate drops one cached entity. kind is did, ring_group, schedule or menu.
func (c *CachedSource) Invalidate(ctx context.Context, kind, id string) error {
	err := c.cache.Delete(ctx, cacheKey(kind, id))
	if err == cache.ErrCacheMiss {
		return nil
	}
	return err
}
