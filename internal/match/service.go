// service.go

package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/battle"
	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/protocol"
)

var (
	// ErrAlreadyQueued the player is already waiting for an opponent
	ErrAlreadyQueued = errors.New("already waiting for a match")
	// ErrInviteNotFound no invite with that code
	ErrInviteNotFound = errors.New("invite code not found")
	// ErrInviteExpired the invite outlived its TTL
	ErrInviteExpired = errors.New("invite code expired")
)

// codeAlphabet excludes easily-confused characters.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// codeLength of generated invite codes.
const codeLength = 8

// Notifier pushes an event to a connected player.
type Notifier interface {
	Send(playerID string, msg *protocol.Message) bool
}

// Starter kicks off a freshly paired session.
type Starter interface {
	ScheduleStart(sessionID string)
}

// poolEntry is one player waiting in the open queue.
type poolEntry struct {
	player     *models.SessionPlayer
	sessionID  string
	enqueuedAt time.Time
}

// invite is one outstanding challenge code.
type invite struct {
	code      string
	sessionID string
	hostID    string
	expiresAt time.Time
}

// Service pairs players by rating proximity and redeems invite codes.
type Service struct {
	config   *config.Config
	registry *battle.Registry
	notifier Notifier
	starter  Starter

	pool    map[string]*poolEntry // player id -> queue entry
	invites map[string]*invite    // code -> invite
	mutex   sync.Mutex

	httpServer *http.Server
	handler    *Handler
	extra      []func(mux *http.ServeMux)

	shutdown  chan struct{}
	isRunning bool
}

// NewService creates the matchmaking service.
func NewService(cfg *config.Config, registry *battle.Registry, notifier Notifier, starter Starter) *Service {
	service := &Service{
		config:   cfg,
		registry: registry,
		notifier: notifier,
		starter:  starter,
		pool:     make(map[string]*poolEntry),
		invites:  make(map[string]*invite),
		shutdown: make(chan struct{}),
	}

	service.handler = NewHandler(service)
	return service
}

// Handler returns the HTTP handler for additional wiring.
func (s *Service) Handler() *Handler {
	return s.handler
}

// AddRoutes registers extra routes on the match HTTP server. Must be
// called before Start.
func (s *Service) AddRoutes(register func(mux *http.ServeMux)) {
	s.extra = append(s.extra, register)
}

// Start launches the HTTP status server and the pairing loop.
func (s *Service) Start() error {
	if s.isRunning {
		return fmt.Errorf("match service already running")
	}

	mux := http.NewServeMux()
	s.handler.RegisterHandlers(mux)
	for _, register := range s.extra {
		register(mux)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Server.MatchPort),
		Handler: mux,
	}

	go func() {
		log.Printf("match service listening on port %d", s.config.Server.MatchPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("match HTTP server error: %v", err)
		}
	}()

	go s.matchLoop()

	s.isRunning = true
	return nil
}

// Stop halts the pairing loop and the HTTP server.
func (s *Service) Stop() {
	if !s.isRunning {
		return
	}

	close(s.shutdown)
	s.isRunning = false

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}

	log.Println("match service stopped")
}

// Enqueue puts a player into the open queue with a fresh waiting
// session behind it.
func (s *Service) Enqueue(player *models.SessionPlayer) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.pool[player.ID]; ok {
		return ErrAlreadyQueued
	}
	for _, inv := range s.invites {
		if inv.hostID == player.ID {
			return ErrAlreadyQueued
		}
	}

	session, err := s.registry.CreateWaitingSession(player)
	if err != nil {
		return err
	}
	s.pool[player.ID] = &poolEntry{
		player:     player,
		sessionID:  session.ID,
		enqueuedAt: time.Now(),
	}

	log.Printf("player %s (rating %d) queued for a match", player.ID, player.Rating)
	return nil
}

// Cancel removes a player from the open queue. A no-op for players
// who are not queued.
func (s *Service) Cancel(playerID string) {
	s.mutex.Lock()
	entry, ok := s.pool[playerID]
	if ok {
		delete(s.pool, playerID)
	}
	s.mutex.Unlock()

	if ok {
		s.abandonSession(entry.sessionID)
		log.Printf("player %s left the match queue", playerID)
	}
}

// CreateChallenge opens a private session behind a single-use code.
func (s *Service) CreateChallenge(player *models.SessionPlayer) (string, time.Time, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.pool[player.ID]; ok {
		return "", time.Time{}, ErrAlreadyQueued
	}
	for _, inv := range s.invites {
		if inv.hostID == player.ID {
			return "", time.Time{}, ErrAlreadyQueued
		}
	}

	session, err := s.registry.CreateWaitingSession(player)
	if err != nil {
		return "", time.Time{}, err
	}
	code := s.generateCode()
	expiresAt := time.Now().Add(time.Duration(s.config.Game.InviteTTLSeconds) * time.Second)

	// The session lives as long as the code; the registry's ready
	// timeout must not reap it while the invite can still be redeemed.
	s.registry.HoldOpen(session.ID, expiresAt)

	s.invites[code] = &invite{
		code:      code,
		sessionID: session.ID,
		hostID:    player.ID,
		expiresAt: expiresAt,
	}

	log.Printf("player %s created invite %s", player.ID, code)
	return code, expiresAt, nil
}

// AcceptChallenge redeems an invite code. The code is consumed only
// when the join succeeds; a failed join leaves it open for another
// challenger until the TTL runs out.
func (s *Service) AcceptChallenge(code string, player *models.SessionPlayer) error {
	s.mutex.Lock()
	inv, ok := s.invites[code]
	if !ok {
		s.mutex.Unlock()
		return ErrInviteNotFound
	}
	if time.Now().After(inv.expiresAt) {
		delete(s.invites, code)
		s.mutex.Unlock()
		s.abandonSession(inv.sessionID)
		return ErrInviteExpired
	}
	if inv.hostID == player.ID {
		s.mutex.Unlock()
		return battle.ErrSelfPairing
	}
	if _, queued := s.pool[player.ID]; queued {
		s.mutex.Unlock()
		return ErrAlreadyQueued
	}
	s.mutex.Unlock()

	if current, ok := s.registry.SessionForPlayer(player.ID); ok && !current.State.Terminal() {
		return battle.ErrPlayerBusy
	}

	if err := s.registry.BindPlayer(inv.sessionID, player); err != nil {
		return err
	}

	s.mutex.Lock()
	delete(s.invites, code)
	s.mutex.Unlock()

	s.announcePair(inv.sessionID)
	return nil
}

// QueueLength returns the number of players in the open queue.
func (s *Service) QueueLength() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.pool)
}

// OpenInvites returns the number of outstanding invite codes.
func (s *Service) OpenInvites() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.invites)
}

// matchLoop drives pairing, queue timeouts and invite expiry.
func (s *Service) matchLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expireInvites()
			s.processQueue()
		case <-s.shutdown:
			return
		}
	}
}

// processQueue times out stale entries and pairs the rest by rating
// proximity, oldest waiters first.
func (s *Service) processQueue() {
	timeout := time.Duration(s.config.Game.MatchTimeoutSeconds) * time.Second
	now := time.Now()

	s.mutex.Lock()

	var timedOut []*poolEntry
	for id, entry := range s.pool {
		if now.Sub(entry.enqueuedAt) > timeout {
			delete(s.pool, id)
			timedOut = append(timedOut, entry)
		}
	}

	entries := make([]*poolEntry, 0, len(s.pool))
	for _, entry := range s.pool {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].enqueuedAt.Before(entries[j].enqueuedAt)
	})

	var pairs [][2]*poolEntry
	paired := make(map[string]bool)
	for _, entry := range entries {
		if paired[entry.player.ID] {
			continue
		}

		best := s.closestCandidate(entry, entries, paired, now)
		if best == nil {
			continue
		}

		paired[entry.player.ID] = true
		paired[best.player.ID] = true
		delete(s.pool, entry.player.ID)
		delete(s.pool, best.player.ID)
		pairs = append(pairs, [2]*poolEntry{entry, best})
	}

	s.mutex.Unlock()

	for _, entry := range timedOut {
		s.abandonSession(entry.sessionID)
		s.notifier.Send(entry.player.ID, protocol.NewErrorMessage(
			protocol.CodeMatchmakingTimeout, "no opponent found, try again or share an invite code"))
		log.Printf("player %s timed out of the match queue", entry.player.ID)
	}

	for _, pair := range pairs {
		s.pairPlayers(pair[0], pair[1])
	}
}

// closestCandidate returns the unpaired entry with the smallest rating
// gap that fits inside the widened allowance, or nil.
func (s *Service) closestCandidate(entry *poolEntry, entries []*poolEntry, paired map[string]bool, now time.Time) *poolEntry {
	var best *poolEntry
	bestGap := 0

	for _, other := range entries {
		if other == entry || paired[other.player.ID] {
			continue
		}

		gap := entry.player.Rating - other.player.Rating
		if gap < 0 {
			gap = -gap
		}

		// The longer-waiting side's window decides.
		allowance := s.allowance(entry, now)
		if a := s.allowance(other, now); a > allowance {
			allowance = a
		}
		if gap > allowance {
			continue
		}

		if best == nil || gap < bestGap {
			best = other
			bestGap = gap
		}
	}
	return best
}

// allowance is the rating window of one entry: the base threshold
// widened stepwise with waiting time, up to the ceiling.
func (s *Service) allowance(entry *poolEntry, now time.Time) int {
	g := s.config.Game
	waited := int(now.Sub(entry.enqueuedAt).Seconds())

	allowance := g.MatchRatingThreshold
	if g.MatchWidenInterval > 0 {
		allowance += g.MatchWidenStep * (waited / g.MatchWidenInterval)
	}
	if allowance > g.MatchRatingCeiling {
		allowance = g.MatchRatingCeiling
	}
	return allowance
}

// pairPlayers merges the two waiting sessions: the longer-waiting
// player's session survives, the other is dropped.
func (s *Service) pairPlayers(host, guest *poolEntry) {
	if err := s.registry.BindPlayer(host.sessionID, guest.player); err != nil {
		log.Printf("pairing %s vs %s failed: %v", host.player.ID, guest.player.ID, err)
		s.abandonSession(host.sessionID)
		s.abandonSession(guest.sessionID)
		for _, entry := range []*poolEntry{host, guest} {
			s.notifier.Send(entry.player.ID, protocol.NewErrorMessage(
				protocol.CodeSessionCancelled, "pairing failed, please queue again"))
		}
		return
	}
	s.registry.Remove(guest.sessionID)

	log.Printf("paired %s (%d) vs %s (%d)",
		host.player.ID, host.player.Rating, guest.player.ID, guest.player.Rating)
	s.announcePair(host.sessionID)
}

// announcePair notifies both players and schedules the battle start.
func (s *Service) announcePair(sessionID string) {
	session, err := s.registry.GetSession(sessionID)
	if err != nil {
		log.Printf("announce pairing failed: %v", err)
		return
	}

	for _, p := range session.Players {
		if p == nil {
			continue
		}
		opponent := session.Opponent(p.ID)
		if opponent == nil {
			continue
		}
		msg, err := protocol.NewMessage(protocol.MsgMatchFound, &protocol.MatchFoundEvent{
			SessionID: session.ID,
			Opponent:  opponent.Username,
			Rating:    opponent.Rating,
		})
		if err != nil {
			log.Printf("encode match_found failed: %v", err)
			continue
		}
		s.notifier.Send(p.ID, msg)
	}

	s.starter.ScheduleStart(sessionID)
}

// expireInvites drops invites past their TTL.
func (s *Service) expireInvites() {
	now := time.Now()

	s.mutex.Lock()
	var expired []*invite
	for code, inv := range s.invites {
		if now.After(inv.expiresAt) {
			delete(s.invites, code)
			expired = append(expired, inv)
		}
	}
	s.mutex.Unlock()

	for _, inv := range expired {
		// An accept that won the race already matched the session.
		if session, err := s.registry.GetSession(inv.sessionID); err == nil && session.State != models.SessionWaiting {
			continue
		}
		s.abandonSession(inv.sessionID)
		s.notifier.Send(inv.hostID, protocol.NewErrorMessage(
			protocol.CodeSessionCancelled, "invite code expired"))
		log.Printf("invite %s expired", inv.code)
	}
}

// abandonSession closes and drops a waiting session.
func (s *Service) abandonSession(sessionID string) {
	if _, err := s.registry.Transition(sessionID, models.EventAbandoned); err != nil && err != battle.ErrSessionNotFound {
		log.Printf("abandon session %s: %v", sessionID, err)
	}
	s.registry.Remove(sessionID)
}

// generateCode returns a fresh invite code. Caller holds the mutex.
func (s *Service) generateCode() string {
	buf := make([]byte, codeLength)
	for {
		for i := range buf {
			buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := s.invites[code]; !taken {
			return code
		}
	}
}
