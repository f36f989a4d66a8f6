// leaderboard.go

package models

// LeaderboardEntry is one row of the ranked leaderboard.
type LeaderboardEntry struct {
	Position      int     `json:"position"`
	PlayerID      string  `json:"player_id"`
	Username      string  `json:"username"`
	Rating        int     `json:"rating"`
	Rank          string  `json:"rank"`
	TotalWins     int     `json:"total_wins"`
	TotalGames    int     `json:"total_games"`
	WinRate       float64 `json:"win_rate"`
	CurrentStreak int     `json:"current_streak"`
}
