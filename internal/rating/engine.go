// engine.go

package rating

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/economy"
	"github.com/verdantlab/BotanyBattle-Server/internal/models"
)

// ErrUpdateConflict marks a rating commit that failed to persist.
// The outcome is retried; it is never partially applied.
var ErrUpdateConflict = errors.New("rating update conflict")

// Invalidator clears derived leaderboard reads after a rating commit.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Engine consumes completed sessions and applies ELO updates.
type Engine struct {
	cfg         *config.Config
	store       Store
	invalidator Invalidator
	rewards     economy.RewardEmitter

	outcomes chan *models.SessionOutcome

	// Per-player serialization. Locks are acquired in ascending player
	// id order so symmetric updates cannot deadlock.
	locks     map[string]*sync.Mutex
	locksLock sync.Mutex

	shutdown  chan struct{}
	done      chan struct{}
	isRunning bool

	maxAttempts int
	baseBackoff time.Duration
}

// NewEngine creates the rating engine.
func NewEngine(cfg *config.Config, store Store, invalidator Invalidator, rewards economy.RewardEmitter) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       store,
		invalidator: invalidator,
		rewards:     rewards,
		outcomes:    make(chan *models.SessionOutcome, 64),
		locks:       make(map[string]*sync.Mutex),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		maxAttempts: 5,
		baseBackoff: 100 * time.Millisecond,
	}
}

// Start launches the outcome consumer loop.
func (e *Engine) Start() error {
	if e.isRunning {
		return fmt.Errorf("rating engine already running")
	}
	e.isRunning = true

	go e.loop()
	log.Println("rating engine started")
	return nil
}

// Stop drains the loop.
func (e *Engine) Stop() {
	if !e.isRunning {
		return
	}
	close(e.shutdown)
	<-e.done
	e.isRunning = false
	log.Println("rating engine stopped")
}

// Submit hands a completed session to the engine exactly once.
func (e *Engine) Submit(outcome *models.SessionOutcome) {
	e.outcomes <- outcome
}

// loop processes outcomes until shutdown.
func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case outcome := <-e.outcomes:
			if err := e.ProcessOutcome(context.Background(), outcome); err != nil {
				log.Printf("rating update dropped after retries: session=%s: %v", outcome.SessionID, err)
			}
		case <-e.shutdown:
			// Drain anything already queued before exiting.
			for {
				select {
				case outcome := <-e.outcomes:
					if err := e.ProcessOutcome(context.Background(), outcome); err != nil {
						log.Printf("rating update dropped on shutdown: session=%s: %v", outcome.SessionID, err)
					}
				default:
					return
				}
			}
		}
	}
}

// ProcessOutcome applies one session's rating effect with retries.
func (e *Engine) ProcessOutcome(ctx context.Context, outcome *models.SessionOutcome) error {
	unlock := e.lockPair(outcome.WinnerID, outcome.LoserID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(e.baseBackoff * time.Duration(1<<(attempt-1)))
		}

		if err := e.applyOnce(ctx, outcome); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUpdateConflict, err)
			log.Printf("rating update attempt %d failed: session=%s: %v", attempt+1, outcome.SessionID, err)
			continue
		}

		e.afterCommit(ctx, outcome)
		return nil
	}
	return lastErr
}

// applyOnce loads both players, computes the update and commits it.
func (e *Engine) applyOnce(ctx context.Context, outcome *models.SessionOutcome) error {
	winner, err := e.store.GetPlayer(ctx, outcome.WinnerID)
	if err != nil {
		return err
	}
	loser, err := e.store.GetPlayer(ctx, outcome.LoserID)
	if err != nil {
		return err
	}

	update := e.buildUpdate(winner, loser, outcome)
	return e.store.CommitUpdate(ctx, update)
}

// buildUpdate computes the post-battle state of both players.
func (e *Engine) buildUpdate(winner, loser *models.Player, outcome *models.SessionOutcome) *PairUpdate {
	k := float64(e.cfg.Game.KFactor)

	expWinner := ExpectedScore(winner.Rating, loser.Rating)
	expLoser := ExpectedScore(loser.Rating, winner.Rating)

	winner.Rating += int(math.Round(k * (1 - expWinner)))
	loser.Rating += int(math.Round(k * (0 - expLoser)))
	if loser.Rating < 0 {
		loser.Rating = 0
	}

	winner.TotalGames++
	winner.TotalWins++
	loser.TotalGames++
	loser.TotalLosses++

	// Streaks: extend a same-sign streak, flip otherwise.
	if winner.CurrentStreak > 0 {
		winner.CurrentStreak++
	} else {
		winner.CurrentStreak = 1
	}
	if loser.CurrentStreak < 0 {
		loser.CurrentStreak--
	} else {
		loser.CurrentStreak = -1
	}
	if winner.CurrentStreak > winner.LongestStreak {
		winner.LongestStreak = winner.CurrentStreak
	}
	if -loser.CurrentStreak > loser.LongestStreak {
		loser.LongestStreak = -loser.CurrentStreak
	}

	applyStats(winner, outcome.Stats[winner.ID])
	applyStats(loser, outcome.Stats[loser.ID])

	update := &PairUpdate{Outcome: outcome}
	for i, player := range []*models.Player{winner, loser} {
		newRank := models.RankFor(e.cfg.Game.RankBands, player.Rating)
		if newRank != player.Rank {
			player.Rank = newRank
			update.RankChanges = append(update.RankChanges, RankChange{
				PlayerID: player.ID,
				Rank:     newRank,
				Rating:   player.Rating,
			})
		}
		update.Players[i] = player
	}
	return update
}

// afterCommit invalidates leaderboard reads and emits rewards.
func (e *Engine) afterCommit(ctx context.Context, outcome *models.SessionOutcome) {
	if e.invalidator != nil {
		if err := e.invalidator.InvalidateAll(ctx); err != nil {
			// Non-fatal: the cache TTL bounds staleness.
			log.Printf("leaderboard invalidation failed: %v", err)
		}
	}

	if e.rewards != nil {
		if err := e.rewards.EmitReward(ctx, outcome.WinnerID, e.cfg.Game.WinnerReward, "battle_won"); err != nil {
			log.Printf("reward emission failed: player=%s: %v", outcome.WinnerID, err)
		}
		if err := e.rewards.EmitReward(ctx, outcome.LoserID, e.cfg.Game.LoserReward, "battle_played"); err != nil {
			log.Printf("reward emission failed: player=%s: %v", outcome.LoserID, err)
		}
	}
}

// lockPair serializes updates touching either player. Lock order is
// the ascending player id, never the winner/loser role.
func (e *Engine) lockPair(a, b string) func() {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	firstLock := e.playerLock(first)
	secondLock := e.playerLock(second)

	firstLock.Lock()
	secondLock.Lock()
	return func() {
		secondLock.Unlock()
		firstLock.Unlock()
	}
}

// playerLock returns the mutex guarding one player's rating.
func (e *Engine) playerLock(playerID string) *sync.Mutex {
	e.locksLock.Lock()
	defer e.locksLock.Unlock()

	lock, ok := e.locks[playerID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[playerID] = lock
	}
	return lock
}

// applyStats folds a session summary into the player aggregates.
func applyStats(player *models.Player, stats models.PlayerBattleStats) {
	player.PlantsIdentified += stats.CorrectAnswers
	player.TotalAnswers += stats.AnswersSubmitted
	player.TotalResponseMs += stats.TotalResponseMs
}

// ExpectedScore is the ELO expected score of self against opponent.
func ExpectedScore(selfRating, opponentRating int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponentRating-selfRating)/400.0))
}
