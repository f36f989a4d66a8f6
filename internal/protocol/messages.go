// messages.go

package protocol

import (
	"encoding/json"
	"time"
)

// Message is the envelope for every websocket frame, inbound and outbound.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound message kinds.
const (
	MsgEnqueueMatch    = "enqueue_match"
	MsgCancelMatch     = "cancel_match"
	MsgChallengeCreate = "challenge_create"
	MsgChallengeAccept = "challenge_accept"
	MsgSubmitAnswer    = "submit_answer"
	MsgLeaveSession    = "leave_session"
	MsgRejoinSession   = "rejoin_session"
)

// Outbound message kinds.
const (
	MsgMatchFound           = "match_found"
	MsgChallengeCode        = "challenge_code"
	MsgRoundStart           = "round_start"
	MsgRoundResult          = "round_result"
	MsgSessionComplete      = "session_complete"
	MsgOpponentDisconnected = "opponent_disconnected"
	MsgOpponentReconnected  = "opponent_reconnected"
	MsgError                = "error"
)

// Error codes carried by the error message.
const (
	CodeMatchmakingTimeout = "MATCHMAKING_TIMEOUT"
	CodeSessionFull        = "SESSION_FULL"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeInvalidAnswer      = "INVALID_ANSWER"
	CodeSessionCancelled   = "SESSION_CANCELLED"
	CodeInvalidMessage     = "INVALID_MESSAGE"
)

// ChallengeAcceptRequest presents an invite code.
type ChallengeAcceptRequest struct {
	Code string `json:"code"`
}

// SubmitAnswerRequest carries one player's answer for a round.
type SubmitAnswerRequest struct {
	SessionID     string `json:"session_id"`
	RoundIndex    int    `json:"round_index"`
	SelectedIndex int    `json:"selected_index"`
}

// SessionRef names a session in leave/rejoin requests.
type SessionRef struct {
	SessionID string `json:"session_id"`
}

// MatchFoundEvent tells a player they have been paired.
type MatchFoundEvent struct {
	SessionID string `json:"session_id"`
	Opponent  string `json:"opponent"`
	Rating    int    `json:"opponent_rating"`
}

// ChallengeCodeEvent returns a freshly created invite code.
type ChallengeCodeEvent struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RoundStartEvent broadcasts a new question to both players.
type RoundStartEvent struct {
	SessionID  string    `json:"session_id"`
	RoundIndex int       `json:"round_index"`
	ImageRef   string    `json:"image_ref"`
	Options    []string  `json:"options"`
	Deadline   time.Time `json:"deadline"`
	SuddenDeath bool     `json:"sudden_death,omitempty"`
}

// RoundResultEvent closes a round for both players.
type RoundResultEvent struct {
	SessionID    string         `json:"session_id"`
	RoundIndex   int            `json:"round_index"`
	Winner       string         `json:"winner"` // player id, empty for no winner
	CorrectIndex int            `json:"correct_index"`
	CorrectName  string         `json:"correct_name"`
	Fact         string         `json:"fact"`
	Scores       map[string]int `json:"scores"`
}

// SessionCompleteEvent reports the final outcome and reward.
type SessionCompleteEvent struct {
	SessionID   string         `json:"session_id"`
	Winner      string         `json:"winner"`
	FinalScores map[string]int `json:"final_scores"`
	Reward      int            `json:"reward"`
	Forfeited   bool           `json:"forfeited,omitempty"`
}

// OpponentPresenceEvent reports a disconnect or reconnect of the opponent.
type OpponentPresenceEvent struct {
	SessionID    string `json:"session_id"`
	PlayerID     string `json:"player_id"`
	GraceSeconds int    `json:"grace_seconds,omitempty"`
}

// ErrorEvent surfaces a protocol or service error to the client.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage marshals a payload into a typed envelope.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: data}, nil
}

// NewErrorMessage builds an error envelope; marshal cannot fail here.
func NewErrorMessage(code, text string) *Message {
	msg, _ := NewMessage(MsgError, ErrorEvent{Code: code, Message: text})
	return msg
}
