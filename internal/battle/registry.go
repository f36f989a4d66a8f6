// registry.go

package battle

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/models"
)

// sessionTimers are the cancellable timers owned by one session.
// They are armed and cancelled only while holding the session lock.
type sessionTimers struct {
	warmup *time.Timer
	answer *time.Timer
	grace  map[string]*time.Timer // player id -> disconnect grace timer
}

// cancelAll stops every pending timer.
func (t *sessionTimers) cancelAll() {
	if t.warmup != nil {
		t.warmup.Stop()
		t.warmup = nil
	}
	if t.answer != nil {
		t.answer.Stop()
		t.answer = nil
	}
	for id, timer := range t.grace {
		timer.Stop()
		delete(t.grace, id)
	}
}

// sessionEntry pairs a session with its exclusive lock and timers.
type sessionEntry struct {
	mu        sync.Mutex
	session   *models.Session
	timers    sessionTimers
	handedOff bool      // outcome submitted to the rating engine
	holdUntil time.Time // waiting sessions survive the sweep until here
}

// Registry owns every active battle session and its state machine.
// Operations on distinct sessions run in parallel; operations on one
// session serialize through that session's lock.
type Registry struct {
	cfg      *config.Config
	sessions map[string]*sessionEntry
	byPlayer map[string]string // player id -> session id
	mutex    sync.RWMutex

	shutdown  chan struct{}
	isRunning bool
}

// NewRegistry creates the session registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*sessionEntry),
		byPlayer: make(map[string]string),
		shutdown: make(chan struct{}),
	}
}

// Start launches the expiry/retention sweep.
func (r *Registry) Start() {
	if r.isRunning {
		return
	}
	r.isRunning = true
	go r.sweepLoop()
}

// Stop halts the sweep.
func (r *Registry) Stop() {
	if !r.isRunning {
		return
	}
	close(r.shutdown)
	r.isRunning = false
}

// CreateWaitingSession opens a session holding a single player. A
// player still bound to a live session cannot open another one; the
// old binding would be clobbered and its forfeit path lost.
func (r *Registry) CreateWaitingSession(player *models.SessionPlayer) (*models.Session, error) {
	if existing, ok := r.SessionForPlayer(player.ID); ok && !existing.State.Terminal() {
		return nil, ErrPlayerBusy
	}

	session := &models.Session{
		ID:        uuid.New().String(),
		Players:   [2]*models.SessionPlayer{player, nil},
		State:     models.SessionWaiting,
		CreatedAt: time.Now(),
		Scores:    make(map[string]int),
	}

	entry := &sessionEntry{
		session: session,
		timers:  sessionTimers{grace: make(map[string]*time.Timer)},
	}

	r.mutex.Lock()
	r.sessions[session.ID] = entry
	r.byPlayer[player.ID] = session.ID
	r.mutex.Unlock()

	log.Printf("session %s created: waiting for opponent of %s", session.ID, player.ID)
	return session, nil
}

// HoldOpen keeps a waiting session alive past the ready timeout, up
// to the given deadline. Invite-backed sessions live as long as their
// code does; their expiry is driven by the invite sweep instead.
func (r *Registry) HoldOpen(sessionID string, until time.Time) error {
	entry, err := r.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	entry.holdUntil = until
	entry.mu.Unlock()
	return nil
}

// BindPlayer binds the second player and moves the session to matched.
func (r *Registry) BindPlayer(sessionID string, player *models.SessionPlayer) error {
	entry, err := r.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	session := entry.session
	if session.Players[1] != nil || session.State != models.SessionWaiting {
		return ErrSessionFull
	}
	if session.Players[0].ID == player.ID {
		return ErrSelfPairing
	}

	next, err := models.NextState(session.State, models.EventPlayerBound)
	if err != nil {
		return err
	}

	session.Players[1] = player
	session.State = next
	avg := (session.Players[0].Rating + session.Players[1].Rating) / 2
	session.Difficulty = models.DifficultyForRating(avg)

	r.mutex.Lock()
	r.byPlayer[player.ID] = session.ID
	r.mutex.Unlock()

	log.Printf("session %s matched: %s vs %s (difficulty %s)",
		session.ID, session.Players[0].ID, player.ID, session.Difficulty)
	return nil
}

// Transition applies an event to the session state machine.
func (r *Registry) Transition(sessionID string, event models.SessionEvent) (models.SessionState, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return "", err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return r.transitionLocked(entry, event)
}

// transitionLocked applies an event under an already-held session lock.
func (r *Registry) transitionLocked(entry *sessionEntry, event models.SessionEvent) (models.SessionState, error) {
	session := entry.session
	next, err := models.NextState(session.State, event)
	if err != nil {
		return session.State, err
	}

	session.State = next
	switch next {
	case models.SessionInProgress:
		session.StartedAt = time.Now()
	case models.SessionCompleted, models.SessionAbandoned:
		session.EndedAt = time.Now()
		entry.timers.cancelAll()
	}

	log.Printf("session %s: %s -> %s", session.ID, event, next)
	return next, nil
}

// GetSession returns the live session for an id.
func (r *Registry) GetSession(sessionID string) (*models.Session, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	return entry.session, nil
}

// SessionForPlayer returns the session a player is currently bound to.
func (r *Registry) SessionForPlayer(playerID string) (*models.Session, bool) {
	r.mutex.RLock()
	sessionID, ok := r.byPlayer[playerID]
	r.mutex.RUnlock()
	if !ok {
		return nil, false
	}

	session, err := r.GetSession(sessionID)
	if err != nil {
		return nil, false
	}
	return session, true
}

// Remove drops a session and its player bindings immediately.
func (r *Registry) Remove(sessionID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.removeLocked(sessionID)
}

func (r *Registry) removeLocked(sessionID string) {
	entry, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	entry.timers.cancelAll()
	for _, p := range entry.session.Players {
		if p != nil && r.byPlayer[p.ID] == sessionID {
			delete(r.byPlayer, p.ID)
		}
	}
	delete(r.sessions, sessionID)
}

// Do runs fn with the session entry exclusively locked. All round
// resolver mutation goes through here so that two answer submissions,
// a timeout and a disconnect can never race on one session.
func (r *Registry) Do(sessionID string, fn func(*sessionEntry) error) error {
	entry, err := r.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry)
}

// ActiveCount returns the number of sessions in the registry.
func (r *Registry) ActiveCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// entry looks up the guarded session entry.
func (r *Registry) entry(sessionID string) (*sessionEntry, error) {
	r.mutex.RLock()
	entry, ok := r.sessions[sessionID]
	r.mutex.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// sweepLoop expires stale waiting sessions and drops terminal ones
// after the retention window.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.shutdown:
			return
		}
	}
}

// Sweep performs one expiry pass over all sessions. The background
// loop calls it every 10 seconds.
func (r *Registry) Sweep() {
	readyTimeout := time.Duration(r.cfg.Game.ReadyTimeoutSeconds) * time.Second
	retention := time.Duration(r.cfg.Game.RetentionSeconds) * time.Second
	now := time.Now()

	r.mutex.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mutex.RUnlock()

	for _, id := range ids {
		entry, err := r.entry(id)
		if err != nil {
			continue
		}

		entry.mu.Lock()
		session := entry.session
		expired := false
		waitingDeadline := session.CreatedAt.Add(readyTimeout)
		if entry.holdUntil.After(waitingDeadline) {
			waitingDeadline = entry.holdUntil
		}
		switch {
		case session.State == models.SessionWaiting && now.After(waitingDeadline):
			// Never matched within the bound: abandon and drop.
			r.transitionLocked(entry, models.EventAbandoned)
			expired = true
		case session.State.Terminal() && !session.EndedAt.IsZero() && now.Sub(session.EndedAt) > retention:
			expired = true
		}
		entry.mu.Unlock()

		if expired {
			log.Printf("session %s swept (%s)", id, session.State)
			r.Remove(id)
		}
	}
}
