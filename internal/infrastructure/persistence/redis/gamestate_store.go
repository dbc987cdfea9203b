package redis

import (
	"context"
	"errors"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
)

// GameStateStore implements gamestate.Store on top of Cache.
// Snapshots are stored as JSON and expire after the configured TTL.
type GameStateStore struct {
	cache *Cache
	ttl   time.Duration
}

// NewGameStateStore creates a store. ttl <= 0 uses gamestate.DefaultTTL.
func NewGameStateStore(cache *Cache, ttl time.Duration) *GameStateStore {
	if ttl <= 0 {
		ttl = gamestate.DefaultTTL
	}
	return &GameStateStore{cache: cache, ttl: ttl}
}

// Save replaces the snapshot and resets its TTL.
func (s *GameStateStore) Save(ctx context.Context, state *gamestate.GameState) error {
	if err := s.cache.Set(ctx, GameStateKey(state.UserID, state.PuzzleID), state, s.ttl); err != nil {
		return shared.StorageError("gamestate", "Save", err)
	}
	return nil
}

// Load returns the snapshot or gamestate.ErrGameStateNotFound.
func (s *GameStateStore) Load(ctx context.Context, key gamestate.Key) (*gamestate.GameState, error) {
	var state gamestate.GameState
	err := s.cache.Get(ctx, GameStateKey(key.UserID, key.PuzzleID), &state)
	if errors.Is(err, ErrCacheMiss) {
		return nil, gamestate.ErrGameStateNotFound
	}
	if err != nil {
		return nil, shared.StorageError("gamestate", "Load", err)
	}
	return &state, nil
}

// Delete removes the snapshot. Deleting a missing key is not an error.
func (s *GameStateStore) Delete(ctx context.Context, key gamestate.Key) error {
	if err := s.cache.Delete(ctx, GameStateKey(key.UserID, key.PuzzleID)); err != nil {
		return shared.StorageError("gamestate", "Delete", err)
	}
	return nil
}
