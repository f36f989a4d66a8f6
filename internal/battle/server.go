// server.go

package battle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/protocol"
	"github.com/verdantlab/BotanyBattle-Server/internal/rating"
)

// Matchmaker is the pairing surface the gateway dispatches to.
type Matchmaker interface {
	Enqueue(player *models.SessionPlayer) error
	Cancel(playerID string)
	CreateChallenge(player *models.SessionPlayer) (code string, expiresAt time.Time, err error)
	AcceptChallenge(code string, player *models.SessionPlayer) error
}

// Server is the websocket battle gateway. It owns the player
// connections and routes inbound messages to the matchmaker and the
// round resolver.
type Server struct {
	config   *config.Config
	registry *Registry
	store    rating.Store

	resolver   *Resolver
	matchmaker Matchmaker

	httpServer  *http.Server
	connections map[string]*playerConn // player id -> live connection
	connMutex   sync.RWMutex

	shutdown  chan struct{}
	isRunning bool
}

// NewServer creates the battle gateway. The resolver and matchmaker
// are attached after construction because they send through it.
func NewServer(cfg *config.Config, registry *Registry, store rating.Store) *Server {
	return &Server{
		config:      cfg,
		registry:    registry,
		store:       store,
		connections: make(map[string]*playerConn),
		shutdown:    make(chan struct{}),
	}
}

// AttachResolver wires the round resolver in.
func (s *Server) AttachResolver(resolver *Resolver) {
	s.resolver = resolver
}

// AttachMatchmaker wires the matchmaker in.
func (s *Server) AttachMatchmaker(matchmaker Matchmaker) {
	s.matchmaker = matchmaker
}

// Start launches the HTTP server and the session registry sweep.
func (s *Server) Start() error {
	if s.isRunning {
		return fmt.Errorf("battle server already running")
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Server.BattlePort),
		Handler: s.createHandler(),
	}

	go func() {
		log.Printf("battle server listening on port %d", s.config.Server.BattlePort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	s.registry.Start()
	s.isRunning = true
	return nil
}

// Stop closes every connection and shuts the HTTP server down.
func (s *Server) Stop() error {
	if !s.isRunning {
		return nil
	}

	close(s.shutdown)
	s.registry.Stop()

	s.connMutex.Lock()
	for _, pc := range s.connections {
		close(pc.send)
		pc.conn.Close()
	}
	s.connections = make(map[string]*playerConn)
	s.connMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.isRunning = false
	log.Println("battle server stopped")
	return nil
}

// createHandler builds the route table.
func (s *Server) createHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWSConnection)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

// Send pushes one message to a player. Returns false when the player
// has no live connection or its queue is full.
func (s *Server) Send(playerID string, msg *protocol.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("encode message failed: %v", err)
		return false
	}

	// The send queue is only closed under the write lock, so pushing
	// while holding the read lock can never hit a closed channel.
	s.connMutex.RLock()
	pc, ok := s.connections[playerID]
	if !ok {
		s.connMutex.RUnlock()
		return false
	}

	select {
	case pc.send <- data:
		s.connMutex.RUnlock()
		return true
	default:
		s.connMutex.RUnlock()
		// Queue full, the connection is stuck. Drop it.
		go s.closeConnection(pc)
		return false
	}
}

// ConnectedCount returns the number of live connections.
func (s *Server) ConnectedCount() int {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return len(s.connections)
}
