package builtin

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/lifecycle"
	"github.com/moolen/ordo/internal/logging"
	"github.com/moolen/ordo/internal/manifest"
)

// DefaultCacheSize is the capacity of an lru-cache without a size option.
const DefaultCacheSize = 128

// CacheOptions are the options of the lru-cache kind.
type CacheOptions struct {
	Size int `yaml:"size"`
}

// Cache is a string-keyed LRU cache. It holds no entries until started and
// drops them all when stopped.
type Cache struct {
	id     component.ID
	size   int
	logger *logging.Logger

	mu  sync.RWMutex
	lru *lru.Cache[string, string]
}

// NewCache creates a cache with the given capacity.
func NewCache(id component.ID, size int) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	return &Cache{
		id:     id,
		size:   size,
		logger: logging.GetLogger("builtin.cache").WithField("component", string(id)),
	}, nil
}

func cacheKind() manifest.Kind {
	return manifest.Kind{
		Name:        KindLRUCache,
		Version:     Version,
		Description: "in-memory string LRU cache",
		New: func(spec manifest.Spec) (component.Factory, error) {
			opts := CacheOptions{Size: DefaultCacheSize}
			if err := spec.Decode(&opts); err != nil {
				return nil, err
			}
			if opts.Size <= 0 {
				return nil, fmt.Errorf("size must be positive, got %d", opts.Size)
			}
			return func(*component.Scope) (lifecycle.Component, error) {
				c, err := NewCache(spec.ID, opts.Size)
				if err != nil {
					return nil, err
				}
				return c, nil
			}, nil
		},
	}
}

// Start allocates the cache.
func (c *Cache) Start(ctx context.Context) error {
	cache, err := lru.New[string, string](c.size)
	if err != nil {
		return fmt.Errorf("failed to create LRU cache: %w", err)
	}

	c.mu.Lock()
	c.lru = cache
	c.mu.Unlock()

	c.logger.Debug("Cache started with capacity %d", c.size)
	return nil
}

// Stop purges the cache.
func (c *Cache) Stop(ctx context.Context) error {
	c.mu.Lock()
	cache := c.lru
	c.lru = nil
	c.mu.Unlock()

	if cache != nil {
		n := cache.Len()
		cache.Purge()
		c.logger.Debug("Cache stopped, purged %d entries", n)
	}
	return nil
}

// Get returns the value stored under key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lru == nil {
		return "", false
	}
	return c.lru.Get(key)
}

// Add stores value under key and reports whether an entry was evicted.
// Adding to a stopped cache does nothing.
func (c *Cache) Add(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru == nil {
		return false
	}
	return c.lru.Add(key, value)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Size returns the capacity.
func (c *Cache) Size() int {
	return c.size
}

// Name implements lifecycle.Namer.
func (c *Cache) Name() string {
	return fmt.Sprintf("lru-cache %s", c.id)
}
