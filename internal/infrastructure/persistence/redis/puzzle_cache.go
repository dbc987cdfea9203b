package redis

import (
	"context"
	"errors"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
)

// PuzzleCache is a read-through cache in front of a puzzle.Repository.
// Writes go to the repository first and then drop every catalog key.
// Cache failures never fail a call: the breaker trips and reads fall back
// to the repository.
type PuzzleCache struct {
	repo    puzzle.Repository
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
	ttl     time.Duration
	enabled func() bool
	log     *logger.Logger
}

// PuzzleCacheConfig contains cache configuration.
type PuzzleCacheConfig struct {
	TTL time.Duration

	// Enabled is consulted on every call; nil means always on.
	Enabled func() bool

	Breaker *circuitbreaker.CircuitBreaker
	Logger  *logger.Logger
}

// NewPuzzleCache wraps repo with a Redis cache.
func NewPuzzleCache(repo puzzle.Repository, cache *Cache, cfg PuzzleCacheConfig) *PuzzleCache {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLCatalogCache
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.CatalogCacheBreaker(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	return &PuzzleCache{
		repo:    repo,
		cache:   cache,
		breaker: cfg.Breaker,
		ttl:     cfg.TTL,
		enabled: cfg.Enabled,
		log:     cfg.Logger.With(logger.Component("catalog_cache")),
	}
}

// List returns the cached listing or loads and caches it.
func (c *PuzzleCache) List(ctx context.Context, filter puzzle.Filter) ([]*puzzle.Puzzle, error) {
	if !c.enabled() {
		return c.repo.List(ctx, filter)
	}

	key := CatalogListKey(filter.Difficulty.String())
	var cached []*puzzle.Puzzle
	if c.read(ctx, key, &cached) {
		return cached, nil
	}

	puzzles, err := c.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	c.write(ctx, key, puzzles)
	return puzzles, nil
}

// GetByID returns the cached puzzle or loads and caches it.
// Misses (NotFound) are not cached.
func (c *PuzzleCache) GetByID(ctx context.Context, id string) (*puzzle.Puzzle, error) {
	if !c.enabled() {
		return c.repo.GetByID(ctx, id)
	}

	key := CatalogPuzzleKey(id)
	var cached puzzle.Puzzle
	if c.read(ctx, key, &cached) {
		return &cached, nil
	}

	p, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.write(ctx, key, p)
	return p, nil
}

// Create inserts into the repository and invalidates the cache.
func (c *PuzzleCache) Create(ctx context.Context, p *puzzle.Puzzle) error {
	if err := c.repo.Create(ctx, p); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Update updates the repository and invalidates the cache.
func (c *PuzzleCache) Update(ctx context.Context, p *puzzle.Puzzle) error {
	if err := c.repo.Update(ctx, p); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Delete deletes from the repository and invalidates the cache.
func (c *PuzzleCache) Delete(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Count is always answered by the repository.
func (c *PuzzleCache) Count(ctx context.Context) (int, error) {
	return c.repo.Count(ctx)
}

// DeleteAll clears the underlying catalog when it supports bulk deletes.
func (c *PuzzleCache) DeleteAll(ctx context.Context) error {
	bulk, ok := c.repo.(interface {
		DeleteAll(ctx context.Context) error
	})
	if !ok {
		return errors.New("catalog cache: repository does not support DeleteAll")
	}
	if err := bulk.DeleteAll(ctx); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Invalidate drops every catalog key. Failures are logged only; entries
// expire by TTL anyway.
func (c *PuzzleCache) Invalidate(ctx context.Context) {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.DeleteByPattern(ctx, PrefixCatalog+"*")
	})
	if err != nil {
		c.log.Warn("catalog cache invalidation failed", logger.Err(err))
	}
}

func (c *PuzzleCache) read(ctx context.Context, key string, dest any) bool {
	hit := false
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.cache.Get(ctx, key, dest)
		if errors.Is(err, ErrCacheMiss) {
			// A miss is a healthy answer.
			return nil
		}
		hit = err == nil
		return err
	})
	if err != nil {
		c.log.Debug("catalog cache read skipped", logger.String("key", key), logger.Err(err))
		return false
	}
	return hit
}

func (c *PuzzleCache) write(ctx context.Context, key string, value any) {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, key, value, c.ttl)
	})
	if err != nil {
		c.log.Debug("catalog cache write skipped", logger.String("key", key), logger.Err(err))
	}
}
