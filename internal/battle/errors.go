// errors.go

package battle

import "errors"

var (
	// ErrSessionNotFound no session with that id in the registry
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull both player slots already bound
	ErrSessionFull = errors.New("session full")
	// ErrSelfPairing a session must hold two distinct player ids
	ErrSelfPairing = errors.New("self-pairing is forbidden")
	// ErrRoundResolved the round has already been resolved
	ErrRoundResolved = errors.New("round already resolved")
	// ErrInvalidAnswer out-of-range option index
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrDuplicateAnswer a player may submit at most one answer per round
	ErrDuplicateAnswer = errors.New("answer already submitted")
	// ErrNotInSession the player is not bound to that session
	ErrNotInSession = errors.New("player not in session")
	// ErrPlayerBusy the player is already bound to a live session
	ErrPlayerBusy = errors.New("player already in a session")
)
