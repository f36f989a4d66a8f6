// session.go

package models

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of a battle session.
type SessionState string

const (
	// SessionWaiting one player, awaiting a match
	SessionWaiting SessionState = "waiting"
	// SessionMatched two players bound, pre-round warm-up
	SessionMatched SessionState = "matched"
	// SessionInProgress rounds executing
	SessionInProgress SessionState = "in_progress"
	// SessionCompleted winner determined
	SessionCompleted SessionState = "completed"
	// SessionAbandoned disconnect beyond grace, or matchmaking/readiness timeout
	SessionAbandoned SessionState = "abandoned"
)

// Terminal reports whether no further transition may leave the state.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// SessionEvent drives a state transition.
type SessionEvent string

const (
	// EventPlayerBound second player bound by the matchmaker
	EventPlayerBound SessionEvent = "player_bound"
	// EventBattleStarted both players ready, rounds begin
	EventBattleStarted SessionEvent = "battle_started"
	// EventBattleWon a decisive winner emerged
	EventBattleWon SessionEvent = "battle_won"
	// EventAbandoned timeout, disconnect past grace, or internal fault
	EventAbandoned SessionEvent = "abandoned"
)

// NextState returns the state an event leads to, as a pure function.
func NextState(state SessionState, event SessionEvent) (SessionState, error) {
	switch event {
	case EventPlayerBound:
		if state == SessionWaiting {
			return SessionMatched, nil
		}
	case EventBattleStarted:
		if state == SessionMatched {
			return SessionInProgress, nil
		}
	case EventBattleWon:
		if state == SessionInProgress {
			return SessionCompleted, nil
		}
	case EventAbandoned:
		if !state.Terminal() {
			return SessionAbandoned, nil
		}
	}
	return state, fmt.Errorf("illegal transition: %s on %s", event, state)
}

// SessionPlayer is the slice of player identity a session needs.
type SessionPlayer struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

// AnswerRecord captures one player's answer within a round.
type AnswerRecord struct {
	SelectedIndex int       `json:"selected_index"`
	ReceivedAt    time.Time `json:"received_at"`
	Correct       bool      `json:"correct"`
}

// Round is one question of a battle. Immutable once resolved.
type Round struct {
	Index        int                      `json:"index"`
	Plant        PlantRecord              `json:"plant"`
	Options      []string                 `json:"options"`
	CorrectIndex int                      `json:"correct_index"`
	Answers      map[string]*AnswerRecord `json:"answers"` // player id -> answer
	Winner       string                   `json:"winner"`  // player id, empty for no winner
	Resolved     bool                     `json:"resolved"`
	ResolvedAt   time.Time                `json:"resolved_at"`
	SuddenDeath  bool                     `json:"sudden_death"`
	StartedAt    time.Time                `json:"started_at"`
	Deadline     time.Time                `json:"deadline"`
}

// Session is one two-player battle owned by the registry.
type Session struct {
	ID           string         `json:"id"`
	Players      [2]*SessionPlayer `json:"players"` // Players[1] is nil while waiting
	State        SessionState   `json:"state"`
	Rounds       []*Round       `json:"rounds"` // append-only
	CurrentRound int            `json:"current_round"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`
	Difficulty   DifficultyBand `json:"difficulty"`
	Scores       map[string]int `json:"scores"` // player id -> round wins
	WinnerID     string         `json:"winner_id"`
	Forfeited    bool           `json:"forfeited"`
}

// Opponent returns the other bound player, or nil.
func (s *Session) Opponent(playerID string) *SessionPlayer {
	for _, p := range s.Players {
		if p != nil && p.ID != playerID {
			return p
		}
	}
	return nil
}

// HasPlayer reports whether the player is bound to this session.
func (s *Session) HasPlayer(playerID string) bool {
	for _, p := range s.Players {
		if p != nil && p.ID == playerID {
			return true
		}
	}
	return false
}

// UsedPlantIDs lists the plants already asked in this session.
func (s *Session) UsedPlantIDs() map[int]bool {
	used := make(map[int]bool, len(s.Rounds))
	for _, round := range s.Rounds {
		used[round.Plant.ID] = true
	}
	return used
}

// PlayerBattleStats summarizes one player's performance in a session.
type PlayerBattleStats struct {
	CorrectAnswers   int   `json:"correct_answers"`
	RoundsPlayed     int   `json:"rounds_played"`
	AnswersSubmitted int   `json:"answers_submitted"`
	TotalResponseMs  int64 `json:"total_response_ms"`
}

// AvgResponseMs returns the average answer latency for the session.
func (s PlayerBattleStats) AvgResponseMs() int64 {
	if s.AnswersSubmitted == 0 {
		return 0
	}
	return s.TotalResponseMs / int64(s.AnswersSubmitted)
}

// SessionOutcome is the completed session handed to the rating engine.
type SessionOutcome struct {
	SessionID    string                       `json:"session_id"`
	WinnerID     string                       `json:"winner_id"`
	LoserID      string                       `json:"loser_id"`
	Scores       map[string]int               `json:"scores"`
	RoundsPlayed int                          `json:"rounds_played"`
	Difficulty   DifficultyBand               `json:"difficulty"`
	Forfeited    bool                         `json:"forfeited"`
	StartedAt    time.Time                    `json:"started_at"`
	EndedAt      time.Time                    `json:"ended_at"`
	Stats        map[string]PlayerBattleStats `json:"stats"` // player id -> stats
}
