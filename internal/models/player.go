// player.go

package models

import (
	"time"

	"github.com/verdantlab/BotanyBattle-Server/config"
)

// Player holds a player's identity and rating state.
type Player struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Rating state
	Rating        int    `json:"rating"`
	Rank          string `json:"rank"`
	TotalGames    int    `json:"total_games"`
	TotalWins     int    `json:"total_wins"`
	TotalLosses   int    `json:"total_losses"`
	CurrentStreak int    `json:"current_streak"` // positive = win streak, negative = loss streak
	LongestStreak int    `json:"longest_streak"`

	// Aggregate per-game statistics
	PlantsIdentified int   `json:"plants_identified"`
	TotalAnswers     int   `json:"total_answers"`
	TotalResponseMs  int64 `json:"total_response_ms"`
}

// RankAchievement is one entry of a player's rank history.
type RankAchievement struct {
	Rank       string    `json:"rank"`
	Rating     int       `json:"rating"`
	AchievedAt time.Time `json:"achieved_at"`
}

// WinRate returns the win percentage across all games.
func (p *Player) WinRate() float64 {
	if p.TotalGames == 0 {
		return 0
	}
	return float64(p.TotalWins) * 100.0 / float64(p.TotalGames)
}

// AvgResponseMs returns the average answer latency in milliseconds.
func (p *Player) AvgResponseMs() int64 {
	if p.TotalAnswers == 0 {
		return 0
	}
	return p.TotalResponseMs / int64(p.TotalAnswers)
}

// RankFor derives the rank label for a rating from the band table.
// Bands are matched by the highest min_rating not exceeding the rating.
func RankFor(bands []config.RankBand, rating int) string {
	label := ""
	best := -1
	for _, band := range bands {
		if rating >= band.MinRating && band.MinRating > best {
			best = band.MinRating
			label = band.Label
		}
	}
	if label == "" && len(bands) > 0 {
		label = bands[0].Label
	}
	return label
}
