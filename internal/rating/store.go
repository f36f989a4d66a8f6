// store.go

package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
)

// ErrPlayerNotFound marks a lookup for an unknown player id.
var ErrPlayerNotFound = errors.New("player not found")

// Store is the authoritative player/rating persistence contract.
type Store interface {
	GetPlayer(ctx context.Context, id string) (*models.Player, error)
	EnsurePlayer(ctx context.Context, id, username string, initialRating int) (*models.Player, error)
	CommitUpdate(ctx context.Context, update *PairUpdate) error
	TopPlayers(ctx context.Context, limit, offset int) ([]models.Player, error)
	RankHistory(ctx context.Context, playerID string) ([]models.RankAchievement, error)
}

// RankChange is a rank label achievement to append to history.
type RankChange struct {
	PlayerID string
	Rank     string
	Rating   int
}

// PairUpdate carries the post-battle state of both players plus the
// match record. Persisted all-or-nothing.
type PairUpdate struct {
	Players     [2]*models.Player
	RankChanges []RankChange
	Outcome     *models.SessionOutcome
}

// PostgresStore implements Store on the players schema.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the PostgreSQL-backed player store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const playerColumns = `
	id, username, created_at, updated_at,
	rating, rank, total_games, total_wins, total_losses,
	current_streak, longest_streak,
	plants_identified, total_answers, total_response_ms
`

// GetPlayer loads a player by id.
func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id)

	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	return player, err
}

// EnsurePlayer creates the player row on first sight and returns it.
func (s *PostgresStore) EnsurePlayer(ctx context.Context, id, username string, initialRating int) (*models.Player, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, username, rating)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, updated_at = CURRENT_TIMESTAMP
	`, id, username, initialRating)
	if err != nil {
		return nil, fmt.Errorf("ensure player: %w", err)
	}
	return s.GetPlayer(ctx, id)
}

// CommitUpdate persists both players, any rank achievements and the
// match record in a single transaction.
func (s *PostgresStore) CommitUpdate(ctx context.Context, update *PairUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rating update: %w", err)
	}
	defer tx.Rollback()

	for _, player := range update.Players {
		res, err := tx.ExecContext(ctx, `
			UPDATE players SET
				rating = $2, rank = $3,
				total_games = $4, total_wins = $5, total_losses = $6,
				current_streak = $7, longest_streak = $8,
				plants_identified = $9, total_answers = $10, total_response_ms = $11,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = $1
		`, player.ID, player.Rating, player.Rank,
			player.TotalGames, player.TotalWins, player.TotalLosses,
			player.CurrentStreak, player.LongestStreak,
			player.PlantsIdentified, player.TotalAnswers, player.TotalResponseMs)
		if err != nil {
			return fmt.Errorf("update player %s: %w", player.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update player %s: %w", player.ID, ErrPlayerNotFound)
		}
	}

	for _, change := range update.RankChanges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rank_history (player_id, rank, rating) VALUES ($1, $2, $3)
		`, change.PlayerID, change.Rank, change.Rating); err != nil {
			return fmt.Errorf("append rank history: %w", err)
		}
	}

	if o := update.Outcome; o != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_records
				(id, player_a, player_b, winner, score_a, score_b, rounds_played, difficulty, forfeited, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
		`, o.SessionID, o.WinnerID, o.LoserID, o.WinnerID,
			o.Scores[o.WinnerID], o.Scores[o.LoserID], o.RoundsPlayed,
			string(o.Difficulty), o.Forfeited, nullableTime(o.StartedAt), o.EndedAt); err != nil {
			return fmt.Errorf("insert match record: %w", err)
		}
	}

	return tx.Commit()
}

// TopPlayers returns players ordered by rating descending.
func (s *PostgresStore) TopPlayers(ctx context.Context, limit, offset int) ([]models.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players ORDER BY rating DESC, id ASC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query top players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *player)
	}
	return players, rows.Err()
}

// RankHistory returns a player's rank achievements, oldest first.
func (s *PostgresStore) RankHistory(ctx context.Context, playerID string) ([]models.RankAchievement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rank, rating, achieved_at FROM rank_history
		WHERE player_id = $1 ORDER BY achieved_at ASC
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("query rank history: %w", err)
	}
	defer rows.Close()

	var history []models.RankAchievement
	for rows.Next() {
		var entry models.RankAchievement
		if err := rows.Scan(&entry.Rank, &entry.Rating, &entry.AchievedAt); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPlayer reads one player row.
func scanPlayer(row rowScanner) (*models.Player, error) {
	var p models.Player
	err := row.Scan(
		&p.ID, &p.Username, &p.CreatedAt, &p.UpdatedAt,
		&p.Rating, &p.Rank, &p.TotalGames, &p.TotalWins, &p.TotalLosses,
		&p.CurrentStreak, &p.LongestStreak,
		&p.PlantsIdentified, &p.TotalAnswers, &p.TotalResponseMs,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
