package feature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/model"
)

const defaultKeyPrefix = "feature_switch"

// RedisCache shares cached switches between workers.
type RedisCache struct {
	client *red.Client
	prefix string
}

// NewRedisCache constructs a cache under keyPrefix.
func NewRedisCache(client *red.Client, keyPrefix string) *RedisCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(name string) string { return fmt.Sprintf("%s:%s", c.prefix, name) }

func (c *RedisCache) Get(ctx context.Context, name string) (*model.FeatureSwitch, bool, error) {
	raw, err := c.client.Get(ctx, c.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get feature switch: %w", err)
	}
	var fs model.FeatureSwitch
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, false, fmt.Errorf("decode cached feature switch: %w", err)
	}
	return &fs, true, nil
}

func (c *RedisCache) Set(ctx context.Context, fs *model.FeatureSwitch, ttl time.Duration) error {
	raw, err := json.Marshal(fs)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(fs.Name), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set feature switch: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, c.key(name)).Err(); err != nil {
		return fmt.Errorf("redis delete feature switch: %w", err)
	}
	return nil
}

// LocalCache is a per-process cache used when Redis is not configured.
type LocalCache struct {
	mu  sync.Mutex
	m   map[string]localEntry
	clk clock.Clock
}

type localEntry struct {
	fs  model.FeatureSwitch
	exp time.Time
}

// NewLocalCache returns an empty in-process cache.
func NewLocalCache() *LocalCache { return NewLocalCacheWithClock(clock.System{}) }

// NewLocalCacheWithClock returns an in-process cache that expires entries by clk.
func NewLocalCacheWithClock(clk clock.Clock) *LocalCache {
	return &LocalCache{m: map[string]localEntry{}, clk: clk}
}

func (c *LocalCache) Get(_ context.Context, name string) (*model.FeatureSwitch, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[name]
	if !ok || !c.clk.Now().Before(e.exp) {
		delete(c.m, name)
		return nil, false, nil
	}
	fs := e.fs
	fs.Allowed = append([]int64(nil), e.fs.Allowed...)
	return &fs, true, nil
}

func (c *LocalCache) Set(_ context.Context, fs *model.FeatureSwitch, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *fs
	cp.Allowed = append([]int64(nil), fs.Allowed...)
	c.m[fs.Name] = localEntry{fs: cp, exp: c.clk.Now().Add(ttl)}
	return nil
}

func (c *LocalCache) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	delete(c.m, name)
	c.mu.Unlock()
	return nil
}
