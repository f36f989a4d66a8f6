// engine_test.go

package rating

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Game: config.GameConfig{
			KFactor:       32,
			InitialRating: 1000,
			RankBands:     config.DefaultRankBands(),
			WinnerReward:  100,
			LoserReward:   20,
		},
	}
}

// memStore is an in-memory Store with injectable commit failures.
type memStore struct {
	mu          sync.Mutex
	players     map[string]models.Player
	commits     []*PairUpdate
	failCommits int
	attempts    int
}

func newMemStore(players ...models.Player) *memStore {
	s := &memStore{players: make(map[string]models.Player)}
	for _, p := range players {
		s.players[p.ID] = p
	}
	return s
}

func (s *memStore) GetPlayer(_ context.Context, id string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	copy := p
	return &copy, nil
}

func (s *memStore) EnsurePlayer(_ context.Context, id, username string, initialRating int) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		p = models.Player{ID: id, Username: username, Rating: initialRating, Rank: "Seedling"}
		s.players[id] = p
	}
	copy := p
	return &copy, nil
}

func (s *memStore) CommitUpdate(_ context.Context, update *PairUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.failCommits > 0 {
		s.failCommits--
		return errors.New("injected commit failure")
	}

	for _, player := range update.Players {
		s.players[player.ID] = *player
	}
	s.commits = append(s.commits, update)
	return nil
}

func (s *memStore) TopPlayers(_ context.Context, limit, offset int) ([]models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]models.Player, 0, len(s.players))
	for _, p := range s.players {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Rating != all[j].Rating {
			return all[i].Rating > all[j].Rating
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *memStore) RankHistory(_ context.Context, playerID string) ([]models.RankAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []models.RankAchievement
	for _, update := range s.commits {
		for _, change := range update.RankChanges {
			if change.PlayerID == playerID {
				history = append(history, models.RankAchievement{Rank: change.Rank, Rating: change.Rating})
			}
		}
	}
	return history, nil
}

func (s *memStore) rating(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players[id].Rating
}

func (s *memStore) player(id string) models.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players[id]
}

// countingInvalidator counts cache invalidations.
type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingEmitter captures emitted rewards.
type recordingEmitter struct {
	mu      sync.Mutex
	rewards map[string]int
	reasons map[string]string
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{rewards: make(map[string]int), reasons: make(map[string]string)}
}

func (r *recordingEmitter) EmitReward(_ context.Context, playerID string, amount int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rewards[playerID] += amount
	r.reasons[playerID] = reason
	return nil
}

func outcome(winner, loser string) *models.SessionOutcome {
	return &models.SessionOutcome{
		SessionID: "session-1",
		WinnerID:  winner,
		LoserID:   loser,
		Scores:    map[string]int{winner: 3, loser: 2},
		Stats: map[string]models.PlayerBattleStats{
			winner: {CorrectAnswers: 3, RoundsPlayed: 5, AnswersSubmitted: 5, TotalResponseMs: 21000},
			loser:  {CorrectAnswers: 2, RoundsPlayed: 5, AnswersSubmitted: 4, TotalResponseMs: 30000},
		},
		RoundsPlayed: 5,
	}
}

func newTestEngine(store Store) *Engine {
	e := NewEngine(testConfig(), store, nil, nil)
	e.baseBackoff = time.Millisecond
	return e
}

func TestEloEqualRatingsZeroSum(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1000, Rank: "Seedling"},
	)
	e := newTestEngine(store)

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))

	assert.Equal(t, 1016, store.rating("a"))
	assert.Equal(t, 984, store.rating("b"))
}

func TestEloFavorsUnderdog(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1020, Rank: "Seedling"},
	)
	e := newTestEngine(store)

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))

	// Expected score of the 1000 player against 1020 is ~0.471, so the
	// upset transfers 17 points.
	assert.Equal(t, 1017, store.rating("a"))
	assert.Equal(t, 1003, store.rating("b"))
	assert.Equal(t, 2020, store.rating("a")+store.rating("b"), "the pair total is preserved")
}

func TestExpectedScore(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1200, 1200), 1e-9)
	assert.InDelta(t, 0.9090, ExpectedScore(1400, 1000), 0.001)
	assert.InDelta(t, 0.0909, ExpectedScore(1000, 1400), 0.001)
	assert.InDelta(t, 1.0, ExpectedScore(1200, 1200)+ExpectedScore(1200, 1200), 1e-9)
}

func TestLoserRatingFloor(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1400, Rank: "Blossom"},
		models.Player{ID: "b", Rating: 5, Rank: "Seedling"},
	)
	e := newTestEngine(store)

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))
	assert.Equal(t, 0, store.rating("b"))
}

func TestStreaksAndTotals(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling", CurrentStreak: 2, LongestStreak: 2},
		models.Player{ID: "b", Rating: 1000, Rank: "Seedling", CurrentStreak: 3, LongestStreak: 3},
	)
	e := newTestEngine(store)

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))

	a := store.player("a")
	b := store.player("b")

	assert.Equal(t, 3, a.CurrentStreak)
	assert.Equal(t, 3, a.LongestStreak)
	assert.Equal(t, 1, a.TotalGames)
	assert.Equal(t, 1, a.TotalWins)
	assert.Equal(t, 3, a.PlantsIdentified)
	assert.Equal(t, 5, a.TotalAnswers)
	assert.Equal(t, int64(21000), a.TotalResponseMs)

	// The loss flips b's win streak to -1.
	assert.Equal(t, -1, b.CurrentStreak)
	assert.Equal(t, 3, b.LongestStreak)
	assert.Equal(t, 1, b.TotalLosses)
}

func TestLossStreakExtends(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1000, Rank: "Seedling", CurrentStreak: -2, LongestStreak: 4},
	)
	e := newTestEngine(store)

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))

	b := store.player("b")
	assert.Equal(t, -3, b.CurrentStreak)
	assert.Equal(t, 4, b.LongestStreak, "longest tracks magnitude")
}

func TestRankChangeRecorded(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1090, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1090, Rank: "Seedling"},
	)
	e := newTestEngine(store)

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))

	// 1090 + 16 crosses the Sprout line at 1100.
	a := store.player("a")
	assert.Equal(t, "Sprout", a.Rank)

	history, err := store.RankHistory(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Sprout", history[0].Rank)

	// The loser dropped within the same band: no history entry.
	history, err = store.RankHistory(context.Background(), "b")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRetryAfterCommitConflict(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1000, Rank: "Seedling"},
	)
	store.failCommits = 2
	e := newTestEngine(store)

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))

	assert.Equal(t, 3, store.attempts)
	// The final state reflects exactly one applied update.
	assert.Equal(t, 1016, store.rating("a"))
	assert.Equal(t, 984, store.rating("b"))
	assert.Equal(t, 1, store.player("a").TotalGames)
}

func TestRetriesExhausted(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1000, Rank: "Seedling"},
	)
	store.failCommits = 100
	e := newTestEngine(store)

	err := e.ProcessOutcome(context.Background(), outcome("a", "b"))
	assert.ErrorIs(t, err, ErrUpdateConflict)

	// Nothing was applied.
	assert.Equal(t, 1000, store.rating("a"))
	assert.Equal(t, 1000, store.rating("b"))
}

func TestAfterCommitSideEffects(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1000, Rank: "Seedling"},
	)
	invalidator := &countingInvalidator{}
	emitter := newRecordingEmitter()

	e := NewEngine(testConfig(), store, invalidator, emitter)
	e.baseBackoff = time.Millisecond

	require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))

	assert.Equal(t, 1, invalidator.count())
	assert.Equal(t, 100, emitter.rewards["a"])
	assert.Equal(t, 20, emitter.rewards["b"])
	assert.Equal(t, "battle_won", emitter.reasons["a"])
	assert.Equal(t, "battle_played", emitter.reasons["b"])
}

func TestSubmitThroughLoop(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1000, Rank: "Seedling"},
		models.Player{ID: "b", Rating: 1000, Rank: "Seedling"},
	)
	e := newTestEngine(store)
	require.NoError(t, e.Start())

	e.Submit(outcome("a", "b"))

	require.Eventually(t, func() bool {
		return store.rating("a") == 1016
	}, time.Second, 5*time.Millisecond)

	e.Stop()
}

func TestConcurrentOutcomesStaySerialized(t *testing.T) {
	store := newMemStore(
		models.Player{ID: "a", Rating: 1200, Rank: "Sapling"},
		models.Player{ID: "b", Rating: 1200, Rank: "Sapling"},
		models.Player{ID: "c", Rating: 1200, Rank: "Sapling"},
	)
	e := newTestEngine(store)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			require.NoError(t, e.ProcessOutcome(context.Background(), outcome("a", "b")))
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, e.ProcessOutcome(context.Background(), outcome("c", "b")))
		}()
	}
	wg.Wait()

	// Every game is accounted for exactly once.
	games := store.player("a").TotalGames + store.player("c").TotalGames
	assert.Equal(t, 20, games)
	assert.Equal(t, 20, store.player("b").TotalGames)
	assert.Equal(t, 20, store.player("b").TotalLosses)
}
