// resolver.go

package battle

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/plants"
	"github.com/verdantlab/BotanyBattle-Server/internal/protocol"
)

const (
	// warmupDelay between match_found and the first round
	warmupDelay = 3 * time.Second

	// optionCount answers presented per round, one of them correct
	optionCount = 4

	// providerAttempts fetch retries per difficulty band
	providerAttempts = 3

	// providerBackoff delay between fetch retries
	providerBackoff = 200 * time.Millisecond
)

// Sender pushes an outbound message to a connected player.
type Sender interface {
	Send(playerID string, msg *protocol.Message) bool
}

// OutcomeSink receives each completed session exactly once.
type OutcomeSink interface {
	Submit(outcome *models.SessionOutcome)
}

// Resolver drives sessions through their rounds: question selection,
// answer collection, winner rules and sudden death.
type Resolver struct {
	cfg      *config.Config
	registry *Registry
	provider plants.Provider
	sender   Sender
	sink     OutcomeSink
}

// NewResolver creates the round resolver.
func NewResolver(cfg *config.Config, registry *Registry, provider plants.Provider, sender Sender, sink OutcomeSink) *Resolver {
	return &Resolver{
		cfg:      cfg,
		registry: registry,
		provider: provider,
		sender:   sender,
		sink:     sink,
	}
}

// ScheduleStart arms the warm-up timer after a successful pairing.
func (r *Resolver) ScheduleStart(sessionID string) {
	err := r.registry.Do(sessionID, func(entry *sessionEntry) error {
		entry.timers.warmup = time.AfterFunc(warmupDelay, func() {
			if err := r.StartBattle(sessionID); err != nil {
				log.Printf("session %s start failed: %v", sessionID, err)
			}
		})
		return nil
	})
	if err != nil {
		log.Printf("session %s warm-up scheduling failed: %v", sessionID, err)
	}
}

// StartBattle moves a matched session into its first round.
func (r *Resolver) StartBattle(sessionID string) error {
	return r.registry.Do(sessionID, func(entry *sessionEntry) error {
		if entry.session.State != models.SessionMatched {
			return nil // already started or abandoned meanwhile
		}
		if _, err := r.registry.transitionLocked(entry, models.EventBattleStarted); err != nil {
			return err
		}
		return r.startRoundLocked(entry, false)
	})
}

// SubmitAnswer records one player's answer for the current round.
func (r *Resolver) SubmitAnswer(playerID string, req *protocol.SubmitAnswerRequest) error {
	return r.registry.Do(req.SessionID, func(entry *sessionEntry) error {
		session := entry.session
		if !session.HasPlayer(playerID) {
			return ErrNotInSession
		}
		if session.State != models.SessionInProgress {
			return ErrRoundResolved
		}
		if req.RoundIndex != session.CurrentRound || req.RoundIndex >= len(session.Rounds) {
			return ErrRoundResolved
		}

		round := session.Rounds[req.RoundIndex]
		if round.Resolved {
			return ErrRoundResolved
		}
		if req.SelectedIndex < 0 || req.SelectedIndex >= len(round.Options) {
			return ErrInvalidAnswer
		}
		if _, dup := round.Answers[playerID]; dup {
			return ErrDuplicateAnswer
		}

		now := time.Now()
		if now.After(round.Deadline) {
			// Late answers count as unanswered, not as protocol errors.
			// The expiry timer will resolve the round.
			return nil
		}

		round.Answers[playerID] = &models.AnswerRecord{
			SelectedIndex: req.SelectedIndex,
			ReceivedAt:    now,
			Correct:       req.SelectedIndex == round.CorrectIndex,
		}

		if len(round.Answers) == 2 {
			if entry.timers.answer != nil {
				entry.timers.answer.Stop()
				entry.timers.answer = nil
			}
			return r.resolveRoundLocked(entry, req.RoundIndex)
		}
		return nil
	})
}

// expireRound resolves a round whose answer window elapsed. Firing is
// idempotent: an already-resolved round is left untouched.
func (r *Resolver) expireRound(sessionID string, roundIndex int) {
	err := r.registry.Do(sessionID, func(entry *sessionEntry) error {
		session := entry.session
		if session.State != models.SessionInProgress || roundIndex >= len(session.Rounds) {
			return nil
		}
		if session.Rounds[roundIndex].Resolved {
			return nil
		}
		return r.resolveRoundLocked(entry, roundIndex)
	})
	if err != nil && err != ErrSessionNotFound {
		log.Printf("session %s round %d expiry failed: %v", sessionID, roundIndex, err)
	}
}

// resolveRoundLocked applies the winner rules and advances the battle.
func (r *Resolver) resolveRoundLocked(entry *sessionEntry, roundIndex int) error {
	session := entry.session
	round := session.Rounds[roundIndex]
	if round.Resolved {
		return ErrRoundResolved
	}

	round.Winner = roundWinner(round, session)
	round.Resolved = true
	round.ResolvedAt = time.Now()
	if round.Winner != "" {
		session.Scores[round.Winner]++
	}

	log.Printf("session %s round %d resolved: winner=%q", session.ID, roundIndex, round.Winner)
	r.broadcast(session, protocol.MsgRoundResult, &protocol.RoundResultEvent{
		SessionID:    session.ID,
		RoundIndex:   roundIndex,
		Winner:       round.Winner,
		CorrectIndex: round.CorrectIndex,
		CorrectName:  round.Plant.Name,
		Fact:         round.Plant.Fact,
		Scores:       copyScores(session.Scores),
	})

	session.CurrentRound++
	return r.advanceLocked(entry)
}

// advanceLocked decides between next round, sudden death and completion.
func (r *Resolver) advanceLocked(entry *sessionEntry) error {
	session := entry.session
	played := len(session.Rounds)
	scoreA := session.Scores[session.Players[0].ID]
	scoreB := session.Scores[session.Players[1].ID]

	if played < r.cfg.Game.RoundsPerBattle {
		return r.startRoundLocked(entry, false)
	}

	if scoreA != scoreB {
		winner := session.Players[0].ID
		if scoreB > scoreA {
			winner = session.Players[1].ID
		}
		return r.completeLocked(entry, winner, false)
	}

	// Level after the regulation rounds: sudden death, fresh plant each
	// time, until a decisive round or the cap.
	suddenDeathPlayed := played - r.cfg.Game.RoundsPerBattle
	if suddenDeathPlayed >= r.cfg.Game.MaxSuddenDeathRounds {
		return r.completeLocked(entry, capWinner(session), false)
	}
	return r.startRoundLocked(entry, true)
}

// startRoundLocked selects a plant, builds the options and opens the
// answer window.
func (r *Resolver) startRoundLocked(entry *sessionEntry, suddenDeath bool) error {
	session := entry.session

	round, err := r.buildRound(session, suddenDeath)
	if err != nil {
		log.Printf("session %s cancelled: %v", session.ID, err)
		return r.cancelLocked(entry, protocol.CodeSessionCancelled,
			"plant content unavailable, battle cancelled")
	}

	window := r.cfg.Game.AnswerWindow(string(session.Difficulty))
	round.StartedAt = time.Now()
	round.Deadline = round.StartedAt.Add(window)
	session.Rounds = append(session.Rounds, round)

	r.broadcast(session, protocol.MsgRoundStart, &protocol.RoundStartEvent{
		SessionID:   session.ID,
		RoundIndex:  round.Index,
		ImageRef:    round.Plant.ImageRef,
		Options:     round.Options,
		Deadline:    round.Deadline,
		SuddenDeath: round.SuddenDeath,
	})

	index := round.Index
	sessionID := session.ID
	entry.timers.answer = time.AfterFunc(window, func() {
		r.expireRound(sessionID, index)
	})
	return nil
}

// buildRound fetches candidates and assembles the four options. An
// empty or short batch narrows the difficulty before giving up.
func (r *Resolver) buildRound(session *models.Session, suddenDeath bool) (*models.Round, error) {
	used := session.UsedPlantIDs()
	band := session.Difficulty

	for {
		candidates, err := r.fetchWithRetry(band)
		if err == nil {
			if round := assembleRound(session, candidates, used, suddenDeath); round != nil {
				return round, nil
			}
			err = fmt.Errorf("band %s exhausted", band)
		}

		narrower, ok := models.Narrower(band)
		if !ok {
			return nil, fmt.Errorf("%w: %v", plants.ErrProviderUnavailable, err)
		}
		log.Printf("session %s: narrowing difficulty %s -> %s", session.ID, band, narrower)
		band = narrower
	}
}

// fetchWithRetry asks the provider with bounded backoff.
func (r *Resolver) fetchWithRetry(band models.DifficultyBand) ([]models.PlantRecord, error) {
	var lastErr error
	for attempt := 0; attempt < providerAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(providerBackoff * time.Duration(attempt))
		}
		candidates, err := r.provider.FetchCandidatePlants(context.Background(), band)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// assembleRound picks an unused correct plant plus three distractor
// names, or nil when the batch cannot support a round.
func assembleRound(session *models.Session, candidates []models.PlantRecord, used map[int]bool, suddenDeath bool) *models.Round {
	var fresh []models.PlantRecord
	names := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		names[c.Name] = true
		if !used[c.ID] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 || len(names) < optionCount {
		return nil
	}

	correct := fresh[rand.Intn(len(fresh))]

	var distractors []string
	for name := range names {
		if name != correct.Name {
			distractors = append(distractors, name)
		}
	}
	rand.Shuffle(len(distractors), func(i, j int) {
		distractors[i], distractors[j] = distractors[j], distractors[i]
	})

	options := append([]string{correct.Name}, distractors[:optionCount-1]...)
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	correctIndex := 0
	for i, name := range options {
		if name == correct.Name {
			correctIndex = i
			break
		}
	}

	return &models.Round{
		Index:        len(session.Rounds),
		Plant:        correct,
		Options:      options,
		CorrectIndex: correctIndex,
		Answers:      make(map[string]*models.AnswerRecord),
		SuddenDeath:  suddenDeath,
	}
}

// roundWinner applies the winner precedence: sole correct answer,
// then earliest correct answer, then none. Equal timestamps resolve
// deterministically to the lexicographically smaller player id.
func roundWinner(round *models.Round, session *models.Session) string {
	var correct []string
	for _, p := range session.Players {
		if answer, ok := round.Answers[p.ID]; ok && answer.Correct {
			correct = append(correct, p.ID)
		}
	}

	switch len(correct) {
	case 1:
		return correct[0]
	case 2:
		a, b := round.Answers[correct[0]], round.Answers[correct[1]]
		if a.ReceivedAt.Before(b.ReceivedAt) {
			return correct[0]
		}
		if b.ReceivedAt.Before(a.ReceivedAt) {
			return correct[1]
		}
		if correct[0] < correct[1] {
			return correct[0]
		}
		return correct[1]
	default:
		return ""
	}
}

// capWinner breaks a sudden-death stalemate: the higher pre-match
// rating wins, rating ties go to the smaller player id.
func capWinner(session *models.Session) string {
	a, b := session.Players[0], session.Players[1]
	if a.Rating != b.Rating {
		if a.Rating > b.Rating {
			return a.ID
		}
		return b.ID
	}
	if a.ID < b.ID {
		return a.ID
	}
	return b.ID
}

// completeLocked finishes the battle and hands the outcome off.
func (r *Resolver) completeLocked(entry *sessionEntry, winnerID string, forfeited bool) error {
	session := entry.session

	event := models.EventBattleWon
	if forfeited {
		event = models.EventAbandoned
	}
	if _, err := r.registry.transitionLocked(entry, event); err != nil {
		return err
	}

	session.WinnerID = winnerID
	session.Forfeited = forfeited

	outcome := buildOutcome(session)
	for _, p := range session.Players {
		if p == nil {
			continue
		}
		reward := r.cfg.Game.LoserReward
		if p.ID == winnerID {
			reward = r.cfg.Game.WinnerReward
		}
		r.send(p.ID, protocol.MsgSessionComplete, &protocol.SessionCompleteEvent{
			SessionID:   session.ID,
			Winner:      winnerID,
			FinalScores: copyScores(session.Scores),
			Reward:      reward,
			Forfeited:   forfeited,
		})
	}

	// Hand off to the rating engine exactly once.
	if !entry.handedOff {
		entry.handedOff = true
		r.sink.Submit(outcome)
	}
	return nil
}

// cancelLocked abandons a session with no rating impact.
func (r *Resolver) cancelLocked(entry *sessionEntry, code, message string) error {
	if entry.session.State.Terminal() {
		return nil
	}
	if _, err := r.registry.transitionLocked(entry, models.EventAbandoned); err != nil {
		return err
	}
	for _, p := range entry.session.Players {
		if p != nil {
			r.sender.Send(p.ID, protocol.NewErrorMessage(code, message))
		}
	}
	return nil
}

// CancelSession abandons a session from outside the round flow.
func (r *Resolver) CancelSession(sessionID, code, message string) error {
	return r.registry.Do(sessionID, func(entry *sessionEntry) error {
		return r.cancelLocked(entry, code, message)
	})
}

// HandleDisconnect starts the grace timer for a mid-battle drop.
func (r *Resolver) HandleDisconnect(playerID string) {
	session, ok := r.registry.SessionForPlayer(playerID)
	if !ok {
		return
	}

	grace := time.Duration(r.cfg.Game.DisconnectGraceSeconds) * time.Second
	err := r.registry.Do(session.ID, func(entry *sessionEntry) error {
		s := entry.session
		if s.State != models.SessionInProgress && s.State != models.SessionMatched {
			return nil
		}

		if opponent := s.Opponent(playerID); opponent != nil {
			r.send(opponent.ID, protocol.MsgOpponentDisconnected, &protocol.OpponentPresenceEvent{
				SessionID:    s.ID,
				PlayerID:     playerID,
				GraceSeconds: r.cfg.Game.DisconnectGraceSeconds,
			})
		}

		sessionID := s.ID
		entry.timers.grace[playerID] = time.AfterFunc(grace, func() {
			r.forfeit(sessionID, playerID)
		})
		return nil
	})
	if err != nil {
		log.Printf("disconnect handling failed: player=%s: %v", playerID, err)
	}
}

// HandleReconnect resumes a session in place before the grace expires.
func (r *Resolver) HandleReconnect(playerID string) {
	session, ok := r.registry.SessionForPlayer(playerID)
	if !ok {
		return
	}

	err := r.registry.Do(session.ID, func(entry *sessionEntry) error {
		s := entry.session
		if timer, ok := entry.timers.grace[playerID]; ok {
			timer.Stop()
			delete(entry.timers.grace, playerID)
		}

		if opponent := s.Opponent(playerID); opponent != nil {
			r.send(opponent.ID, protocol.MsgOpponentReconnected, &protocol.OpponentPresenceEvent{
				SessionID: s.ID,
				PlayerID:  playerID,
			})
		}

		// Re-deliver where the battle stands.
		switch {
		case s.State == models.SessionInProgress && s.CurrentRound < len(s.Rounds):
			round := s.Rounds[s.CurrentRound]
			r.send(playerID, protocol.MsgRoundStart, &protocol.RoundStartEvent{
				SessionID:   s.ID,
				RoundIndex:  round.Index,
				ImageRef:    round.Plant.ImageRef,
				Options:     round.Options,
				Deadline:    round.Deadline,
				SuddenDeath: round.SuddenDeath,
			})
		case s.State.Terminal() && s.WinnerID != "":
			reward := r.cfg.Game.LoserReward
			if playerID == s.WinnerID {
				reward = r.cfg.Game.WinnerReward
			}
			r.send(playerID, protocol.MsgSessionComplete, &protocol.SessionCompleteEvent{
				SessionID:   s.ID,
				Winner:      s.WinnerID,
				FinalScores: copyScores(s.Scores),
				Reward:      reward,
				Forfeited:   s.Forfeited,
			})
		}
		return nil
	})
	if err != nil {
		log.Printf("reconnect handling failed: player=%s: %v", playerID, err)
	}
}

// LeaveSession forfeits immediately on an explicit leave.
func (r *Resolver) LeaveSession(playerID, sessionID string) error {
	session, err := r.registry.GetSession(sessionID)
	if err != nil {
		return err
	}
	if !session.HasPlayer(playerID) {
		return ErrNotInSession
	}
	r.forfeit(sessionID, playerID)
	return nil
}

// forfeit ends the battle in favor of the remaining player. Idempotent
// against a racing resolution or a second grace expiry.
func (r *Resolver) forfeit(sessionID, leaverID string) {
	err := r.registry.Do(sessionID, func(entry *sessionEntry) error {
		s := entry.session
		if s.State.Terminal() {
			return nil
		}

		remaining := s.Opponent(leaverID)
		if remaining == nil {
			// Nobody left to award the match to.
			return r.cancelLocked(entry, protocol.CodeSessionCancelled, "session abandoned")
		}
		return r.completeLocked(entry, remaining.ID, true)
	})
	if err != nil && err != ErrSessionNotFound {
		log.Printf("forfeit failed: session=%s: %v", sessionID, err)
	}
}

// buildOutcome derives the rating-engine summary from the rounds.
func buildOutcome(session *models.Session) *models.SessionOutcome {
	stats := make(map[string]models.PlayerBattleStats, 2)
	for _, p := range session.Players {
		if p == nil {
			continue
		}
		var s models.PlayerBattleStats
		s.RoundsPlayed = len(session.Rounds)
		for _, round := range session.Rounds {
			answer, ok := round.Answers[p.ID]
			if !ok {
				continue
			}
			s.AnswersSubmitted++
			s.TotalResponseMs += answer.ReceivedAt.Sub(round.StartedAt).Milliseconds()
			if answer.Correct {
				s.CorrectAnswers++
			}
		}
		stats[p.ID] = s
	}

	loserID := ""
	if opponent := session.Opponent(session.WinnerID); opponent != nil {
		loserID = opponent.ID
	}

	return &models.SessionOutcome{
		SessionID:    session.ID,
		WinnerID:     session.WinnerID,
		LoserID:      loserID,
		Scores:       copyScores(session.Scores),
		RoundsPlayed: len(session.Rounds),
		Difficulty:   session.Difficulty,
		Forfeited:    session.Forfeited,
		StartedAt:    session.StartedAt,
		EndedAt:      session.EndedAt,
		Stats:        stats,
	}
}

// broadcast sends one event to both players.
func (r *Resolver) broadcast(session *models.Session, msgType string, payload interface{}) {
	for _, p := range session.Players {
		if p != nil {
			r.send(p.ID, msgType, payload)
		}
	}
}

// send marshals and pushes one event to one player.
func (r *Resolver) send(playerID, msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		log.Printf("encode %s failed: %v", msgType, err)
		return
	}
	r.sender.Send(playerID, msg)
}

// copyScores snapshots the score map for an outbound message.
func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for id, score := range scores {
		out[id] = score
	}
	return out
}
