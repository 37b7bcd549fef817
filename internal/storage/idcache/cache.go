// Package idcache remembers which person ids are already persisted so that
// relationship inserts can skip redundant endpoint upserts.
package idcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// DefaultSize is the capacity used when none is configured.
const DefaultSize = 10000

// UpsertFunc inserts a bare person row.
type UpsertFunc func(ctx context.Context, id string) (crawler.UpsertResult, error)

// Cache is a bounded LRU set of person ids known to exist. A nil *Cache is
// valid and remembers nothing.
type Cache struct {
	ids *lru.Cache[string, struct{}]
}

// New creates a Cache holding up to size ids. A size of zero or less
// disables caching.
func New(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	ids, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create id cache: %w", err)
	}
	return &Cache{ids: ids}, nil
}

// Known reports whether id was remembered and not yet evicted.
func (c *Cache) Known(id string) bool {
	if c == nil {
		return false
	}
	return c.ids.Contains(id)
}

// Remember records ids as persisted.
func (c *Cache) Remember(ids ...string) {
	if c == nil {
		return
	}
	for _, id := range ids {
		c.ids.Add(id, struct{}{})
	}
}

// Purge forgets everything, e.g. after the tables were dropped.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.ids.Purge()
}

// Len returns the number of remembered ids.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.ids.Len()
}

// Ensure upserts every id not already known and remembers it afterwards.
func (c *Cache) Ensure(ctx context.Context, upsert UpsertFunc, ids ...string) error {
	for _, id := range ids {
		if c.Known(id) {
			continue
		}
		if _, err := upsert(ctx, id); err != nil {
			return fmt.Errorf("ensure person %s: %w", id, err)
		}
		c.Remember(id)
	}
	return nil
}
