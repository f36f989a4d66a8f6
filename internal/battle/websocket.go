// websocket.go

package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/protocol"
)

const (
	// write timeout
	writeWait = 10 * time.Second

	// read timeout
	pongWait = 60 * time.Second

	// ping interval
	pingPeriod = (pongWait * 9) / 10

	// maximum inbound frame size
	maxMessageSize = 64 * 1024 // 64KB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// playerConn is one authenticated websocket connection.
type playerConn struct {
	playerID string
	username string
	rating   int
	send     chan []byte
	conn     *websocket.Conn
}

// wsClaims is the token payload the gateway accepts.
type wsClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// handleWSConnection authenticates and upgrades a client connection.
func (s *Server) handleWSConnection(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		log.Printf("websocket auth rejected: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	playerID := claims.Subject
	username := claims.Username
	if username == "" {
		username = playerID
	}

	// First sight of a player creates their persistent record.
	player, err := s.store.EnsurePlayer(r.Context(), playerID, username, s.config.Game.InitialRating)
	if err != nil {
		log.Printf("ensure player %s failed: %v", playerID, err)
		http.Error(w, "player lookup failed", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	pc := &playerConn{
		playerID: playerID,
		username: player.Username,
		rating:   player.Rating,
		send:     make(chan []byte, 256),
		conn:     conn,
	}

	s.connMutex.Lock()
	if old, ok := s.connections[playerID]; ok {
		// A second connection supersedes the first.
		close(old.send)
		old.conn.Close()
	}
	s.connections[playerID] = pc
	s.connMutex.Unlock()

	log.Printf("player %s connected", playerID)

	go s.readPump(pc)
	go s.writePump(pc)

	// A player returning inside the grace window resumes in place.
	if _, ok := s.registry.SessionForPlayer(playerID); ok {
		s.resolver.HandleReconnect(playerID)
	}
}

// authenticate extracts and verifies the HS256 bearer token.
func (s *Server) authenticate(r *http.Request) (*wsClaims, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		header := r.Header.Get("Authorization")
		tokenString = strings.TrimPrefix(header, "Bearer ")
	}
	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &wsClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.config.Server.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*wsClaims)
	if !ok || claims.Subject == "" {
		return nil, errors.New("token missing subject")
	}
	return claims, nil
}

// readPump reads frames until the connection drops.
func (s *Server) readPump(pc *playerConn) {
	defer func() {
		s.closeConnection(pc)
		pc.conn.Close()
	}()

	pc.conn.SetReadLimit(maxMessageSize)
	pc.conn.SetReadDeadline(time.Now().Add(pongWait))
	pc.conn.SetPongHandler(func(string) error {
		pc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := pc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		s.handleMessage(pc, message)
	}
}

// writePump flushes outbound frames and keeps the connection alive.
func (s *Server) writePump(pc *playerConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		pc.conn.Close()
	}()

	for {
		select {
		case message, ok := <-pc.send:
			pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				pc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := pc.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush whatever else is queued.
			n := len(pc.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-pc.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := pc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeConnection removes the connection and starts the disconnect
// grace for any battle the player is in.
func (s *Server) closeConnection(pc *playerConn) {
	s.connMutex.Lock()
	current, ok := s.connections[pc.playerID]
	if !ok || current != pc {
		// Already replaced by a newer connection.
		s.connMutex.Unlock()
		return
	}
	close(pc.send)
	delete(s.connections, pc.playerID)
	s.connMutex.Unlock()

	log.Printf("player %s disconnected", pc.playerID)

	s.matchmaker.Cancel(pc.playerID)
	s.resolver.HandleDisconnect(pc.playerID)
}

// handleMessage routes one inbound frame.
func (s *Server) handleMessage(pc *playerConn, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("parse message failed: %v", err)
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "malformed message"))
		return
	}

	switch msg.Type {
	case protocol.MsgEnqueueMatch:
		s.handleEnqueue(pc)
	case protocol.MsgCancelMatch:
		s.matchmaker.Cancel(pc.playerID)
	case protocol.MsgChallengeCreate:
		s.handleChallengeCreate(pc)
	case protocol.MsgChallengeAccept:
		s.handleChallengeAccept(pc, msg.Payload)
	case protocol.MsgSubmitAnswer:
		s.handleSubmitAnswer(pc, msg.Payload)
	case protocol.MsgLeaveSession:
		s.handleLeaveSession(pc, msg.Payload)
	case protocol.MsgRejoinSession:
		s.resolver.HandleReconnect(pc.playerID)
	default:
		log.Printf("unknown message type: %s", msg.Type)
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage,
			fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

// sessionPlayer builds the pairing identity with the player's current
// rating.
func (s *Server) sessionPlayer(pc *playerConn) (*models.SessionPlayer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	player, err := s.store.GetPlayer(ctx, pc.playerID)
	if err != nil {
		return nil, err
	}
	return &models.SessionPlayer{
		ID:       player.ID,
		Username: player.Username,
		Rating:   player.Rating,
	}, nil
}

// handleEnqueue puts the player into the matchmaking pool.
func (s *Server) handleEnqueue(pc *playerConn) {
	player, err := s.sessionPlayer(pc)
	if err != nil {
		log.Printf("enqueue lookup failed for %s: %v", pc.playerID, err)
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "player lookup failed"))
		return
	}

	if err := s.matchmaker.Enqueue(player); err != nil {
		s.Send(pc.playerID, protocol.NewErrorMessage(errorCode(err), err.Error()))
	}
}

// handleChallengeCreate issues an invite code.
func (s *Server) handleChallengeCreate(pc *playerConn) {
	player, err := s.sessionPlayer(pc)
	if err != nil {
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "player lookup failed"))
		return
	}

	code, expiresAt, err := s.matchmaker.CreateChallenge(player)
	if err != nil {
		s.Send(pc.playerID, protocol.NewErrorMessage(errorCode(err), err.Error()))
		return
	}

	msg, err := protocol.NewMessage(protocol.MsgChallengeCode, &protocol.ChallengeCodeEvent{
		Code:      code,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		log.Printf("encode challenge code failed: %v", err)
		return
	}
	s.Send(pc.playerID, msg)
}

// handleChallengeAccept redeems an invite code.
func (s *Server) handleChallengeAccept(pc *playerConn, payload json.RawMessage) {
	var req protocol.ChallengeAcceptRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Code == "" {
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "missing invite code"))
		return
	}

	player, err := s.sessionPlayer(pc)
	if err != nil {
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "player lookup failed"))
		return
	}

	if err := s.matchmaker.AcceptChallenge(req.Code, player); err != nil {
		s.Send(pc.playerID, protocol.NewErrorMessage(errorCode(err), err.Error()))
	}
}

// handleSubmitAnswer forwards an answer to the resolver.
func (s *Server) handleSubmitAnswer(pc *playerConn, payload json.RawMessage) {
	var req protocol.SubmitAnswerRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "malformed answer"))
		return
	}

	err := s.resolver.SubmitAnswer(pc.playerID, &req)
	switch {
	case err == nil:
	case errors.Is(err, ErrRoundResolved):
		// The round moved on; nothing for the client to act on.
	default:
		s.Send(pc.playerID, protocol.NewErrorMessage(errorCode(err), err.Error()))
	}
}

// handleLeaveSession forfeits the named session.
func (s *Server) handleLeaveSession(pc *playerConn, payload json.RawMessage) {
	var ref protocol.SessionRef
	if err := json.Unmarshal(payload, &ref); err != nil || ref.SessionID == "" {
		s.Send(pc.playerID, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "missing session id"))
		return
	}

	if err := s.resolver.LeaveSession(pc.playerID, ref.SessionID); err != nil {
		s.Send(pc.playerID, protocol.NewErrorMessage(errorCode(err), err.Error()))
	}
}

// errorCode maps service errors to protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return protocol.CodeSessionNotFound
	case errors.Is(err, ErrSessionFull), errors.Is(err, ErrSelfPairing), errors.Is(err, ErrPlayerBusy):
		return protocol.CodeSessionFull
	case errors.Is(err, ErrInvalidAnswer), errors.Is(err, ErrDuplicateAnswer), errors.Is(err, ErrNotInSession):
		return protocol.CodeInvalidAnswer
	default:
		return protocol.CodeInvalidMessage
	}
}
