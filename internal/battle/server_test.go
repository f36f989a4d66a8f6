// server_test.go

package battle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/plants"
	"github.com/verdantlab/BotanyBattle-Server/internal/protocol"
)

// stubMatchmaker records cancellations.
type stubMatchmaker struct {
	mu        sync.Mutex
	cancelled []string
}

func (m *stubMatchmaker) Enqueue(*models.SessionPlayer) error { return nil }

func (m *stubMatchmaker) Cancel(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, playerID)
}

func (m *stubMatchmaker) CreateChallenge(*models.SessionPlayer) (string, time.Time, error) {
	return "", time.Time{}, nil
}

func (m *stubMatchmaker) AcceptChallenge(string, *models.SessionPlayer) error { return nil }

func newTestGateway(t *testing.T) *Server {
	t.Helper()

	cfg := testConfig()
	registry := NewRegistry(cfg)
	server := NewServer(cfg, registry, nil)
	server.AttachResolver(NewResolver(cfg, registry, &plants.StaticProvider{}, server, &captureSink{}))
	server.AttachMatchmaker(&stubMatchmaker{})
	return server
}

func addConn(server *Server, pc *playerConn) {
	server.connMutex.Lock()
	server.connections[pc.playerID] = pc
	server.connMutex.Unlock()
}

func TestSendToUnknownPlayer(t *testing.T) {
	server := newTestGateway(t)
	assert.False(t, server.Send("ghost", protocol.NewErrorMessage(protocol.CodeInvalidMessage, "x")))
}

func TestSendQueuesToLiveConnection(t *testing.T) {
	server := newTestGateway(t)

	pc := &playerConn{playerID: "alice", send: make(chan []byte, 4)}
	addConn(server, pc)

	require.True(t, server.Send("alice", protocol.NewErrorMessage(protocol.CodeInvalidMessage, "x")))
	assert.Len(t, pc.send, 1)
}

func TestSendDropsStuckConnection(t *testing.T) {
	server := newTestGateway(t)

	// One-slot queue, already full: the connection is stuck.
	pc := &playerConn{playerID: "alice", send: make(chan []byte, 1)}
	pc.send <- []byte("stale")
	addConn(server, pc)

	assert.False(t, server.Send("alice", protocol.NewErrorMessage(protocol.CodeInvalidMessage, "x")))

	// The drop closes and removes the connection; later sends miss
	// cleanly instead of hitting a closed queue.
	require.Eventually(t, func() bool {
		return server.ConnectedCount() == 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, server.Send("alice", protocol.NewErrorMessage(protocol.CodeInvalidMessage, "x")))
}

func TestSendRacesCloseSafely(t *testing.T) {
	server := newTestGateway(t)

	pc := &playerConn{playerID: "alice", send: make(chan []byte, 1)}
	addConn(server, pc)

	msg := protocol.NewErrorMessage(protocol.CodeInvalidMessage, "x")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				server.Send("alice", msg)
			}
		}()
	}
	go server.closeConnection(pc)
	wg.Wait()

	assert.Equal(t, 0, server.ConnectedCount())
}
