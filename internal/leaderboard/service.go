// service.go

package leaderboard

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/rating"
)

// MaxPageSize bounds the limit parameter of leaderboard queries.
const MaxPageSize = 100

// Service serves ranked leaderboard pages with a cached read path.
type Service struct {
	store rating.Store
	cache Cache
	ttl   time.Duration
}

// NewService creates the leaderboard service. cache may be nil, in
// which case every query goes to the store.
func NewService(store rating.Store, cache Cache, ttl time.Duration) *Service {
	return &Service{store: store, cache: cache, ttl: ttl}
}

// GetLeaderboard returns one page sorted descending by rating.
// Cache failures are non-fatal; the store is the fallback.
func (s *Service) GetLeaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	if s.cache != nil {
		if entries, ok := s.cache.GetPage(ctx, limit, offset); ok {
			return entries, nil
		}
	}

	players, err := s.store.TopPlayers(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("leaderboard query: %w", err)
	}

	entries := make([]models.LeaderboardEntry, 0, len(players))
	for i, player := range players {
		entries = append(entries, models.LeaderboardEntry{
			Position:      offset + i + 1,
			PlayerID:      player.ID,
			Username:      player.Username,
			Rating:        player.Rating,
			Rank:          player.Rank,
			TotalWins:     player.TotalWins,
			TotalGames:    player.TotalGames,
			WinRate:       player.WinRate(),
			CurrentStreak: player.CurrentStreak,
		})
	}

	if s.cache != nil {
		s.cache.SetPage(ctx, limit, offset, entries, s.ttl)
	}
	return entries, nil
}

// InvalidateAll clears every cached page after a rating commit.
func (s *Service) InvalidateAll(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		log.Printf("leaderboard cache invalidation error: %v", err)
		return err
	}
	return nil
}
