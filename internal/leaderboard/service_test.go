// service_test.go

package leaderboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/rating"
)

// pageStore is a canned rating.Store that counts leaderboard reads.
type pageStore struct {
	mu         sync.Mutex
	players    []models.Player
	calls      int
	lastLimit  int
	lastOffset int
	err        error
}

func (s *pageStore) TopPlayers(_ context.Context, limit, offset int) ([]models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.lastLimit = limit
	s.lastOffset = offset
	if s.err != nil {
		return nil, s.err
	}

	if offset >= len(s.players) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.players) {
		end = len(s.players)
	}
	return s.players[offset:end], nil
}

func (s *pageStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *pageStore) GetPlayer(context.Context, string) (*models.Player, error) {
	return nil, rating.ErrPlayerNotFound
}

func (s *pageStore) EnsurePlayer(context.Context, string, string, int) (*models.Player, error) {
	return nil, errors.New("not implemented")
}

func (s *pageStore) CommitUpdate(context.Context, *rating.PairUpdate) error {
	return errors.New("not implemented")
}

func (s *pageStore) RankHistory(context.Context, string) ([]models.RankAchievement, error) {
	return nil, nil
}

func rankedPlayers(n int) []models.Player {
	players := make([]models.Player, 0, n)
	for i := 0; i < n; i++ {
		players = append(players, models.Player{
			ID:         string(rune('a' + i)),
			Username:   string(rune('A' + i)),
			Rating:     1500 - i*10,
			Rank:       "Sapling",
			TotalGames: 10,
			TotalWins:  5,
		})
	}
	return players
}

func TestPageDerivation(t *testing.T) {
	store := &pageStore{players: rankedPlayers(5)}
	s := NewService(store, nil, time.Minute)

	entries, err := s.GetLeaderboard(context.Background(), 3, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, "a", entries[0].PlayerID)
	assert.Equal(t, 1500, entries[0].Rating)
	assert.InDelta(t, 50.0, entries[0].WinRate, 0.001)
	assert.Equal(t, 3, entries[2].Position)
}

func TestPositionsFollowOffset(t *testing.T) {
	store := &pageStore{players: rankedPlayers(10)}
	s := NewService(store, nil, time.Minute)

	entries, err := s.GetLeaderboard(context.Background(), 3, 4)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 5, entries[0].Position)
	assert.Equal(t, 7, entries[2].Position)
}

func TestCacheHitSkipsStore(t *testing.T) {
	store := &pageStore{players: rankedPlayers(5)}
	s := NewService(store, NewMemoryCache(), time.Minute)

	first, err := s.GetLeaderboard(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, store.callCount())

	second, err := s.GetLeaderboard(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, store.callCount(), "the second read must come from cache")
	assert.Equal(t, first, second)

	// A different page misses.
	_, err = s.GetLeaderboard(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, store.callCount())
}

func TestInvalidateAllForcesRefresh(t *testing.T) {
	store := &pageStore{players: rankedPlayers(5)}
	s := NewService(store, NewMemoryCache(), time.Minute)

	_, err := s.GetLeaderboard(context.Background(), 3, 0)
	require.NoError(t, err)

	// Simulate a rating commit reordering the board.
	store.mu.Lock()
	store.players[0], store.players[4] = store.players[4], store.players[0]
	store.mu.Unlock()
	require.NoError(t, s.InvalidateAll(context.Background()))

	entries, err := s.GetLeaderboard(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, store.callCount())
	assert.Equal(t, "e", entries[0].PlayerID)
}

func TestLimitClamping(t *testing.T) {
	store := &pageStore{players: rankedPlayers(5)}
	s := NewService(store, nil, time.Minute)

	_, err := s.GetLeaderboard(context.Background(), 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, store.lastLimit)

	_, err = s.GetLeaderboard(context.Background(), 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 20, store.lastLimit)
	assert.Equal(t, 0, store.lastOffset)
}

func TestStoreErrorPropagates(t *testing.T) {
	store := &pageStore{err: errors.New("db down")}
	s := NewService(store, nil, time.Minute)

	_, err := s.GetLeaderboard(context.Background(), 10, 0)
	assert.Error(t, err)
}

func TestNilCacheInvalidateIsNoop(t *testing.T) {
	s := NewService(&pageStore{}, nil, time.Minute)
	assert.NoError(t, s.InvalidateAll(context.Background()))
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	entries := []models.LeaderboardEntry{{Position: 1, PlayerID: "a"}}
	cache.SetPage(ctx, 10, 0, entries, 10*time.Millisecond)

	got, ok := cache.GetPage(ctx, 10, 0)
	require.True(t, ok)
	assert.Equal(t, entries, got)

	require.Eventually(t, func() bool {
		_, ok := cache.GetPage(ctx, 10, 0)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryCacheInvalidateAll(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	cache.SetPage(ctx, 10, 0, []models.LeaderboardEntry{{Position: 1}}, time.Minute)
	cache.SetPage(ctx, 20, 0, []models.LeaderboardEntry{{Position: 1}}, time.Minute)
	require.NoError(t, cache.InvalidateAll(ctx))

	_, ok := cache.GetPage(ctx, 10, 0)
	assert.False(t, ok)
	_, ok = cache.GetPage(ctx, 20, 0)
	assert.False(t, ok)
}
