package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/gosimple/slug"
)

// GenreCache caches the sorted distinct genre list with a TTL. It is an
// explicit service object constructed once at startup and handed to request
// handlers; the clock is injected so expiry is testable.
type GenreCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	genres  []string
	expires time.Time
}

// NewGenreCache creates a GenreCache. A nil now falls back to time.Now.
func NewGenreCache(store Store, ttl time.Duration, now func() time.Time) *GenreCache {
	if now == nil {
		now = time.Now
	}
	return &GenreCache{store: store, ttl: ttl, now: now}
}

// Genres returns the cached genre list, refreshing it from the store when
// the TTL has lapsed or nothing is cached yet.
func (c *GenreCache) Genres(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.genres != nil && c.now().Before(c.expires) {
		return c.genres, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh unconditionally re-warms the cache from the store.
func (c *GenreCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.refreshLocked(ctx)
	return err
}

func (c *GenreCache) refreshLocked(ctx context.Context) ([]string, error) {
	genres, err := c.store.DistinctGenres(ctx)
	if err != nil {
		// Serve stale data over failing the request when we have any.
		if c.genres != nil {
			return c.genres, nil
		}
		return nil, err
	}

	c.genres = genres
	c.expires = c.now().Add(c.ttl)
	return c.genres, nil
}

// ResolveSlug maps a genre slug back to the stored genre name by slugifying
// each cached genre and comparing. Returns "" and false when no genre matches.
func (c *GenreCache) ResolveSlug(ctx context.Context, genreSlug string) (string, bool, error) {
	genres, err := c.Genres(ctx)
	if err != nil {
		return "", false, err
	}
	for _, g := range genres {
		if slug.Make(g) == genreSlug {
			return g, true, nil
		}
	}
	return "", false, nil
}
