// handler_test.go

package leaderboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *pageStore) {
	t.Helper()

	store := &pageStore{players: rankedPlayers(10)}
	service := NewService(store, NewMemoryCache(), time.Minute)

	mux := http.NewServeMux()
	NewHandler(service).RegisterHandlers(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

func TestLeaderboardEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/leaderboard?limit=3&offset=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body LeaderboardResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Data, 3)
	assert.Equal(t, 3, body.Data[0].Position)
}

func TestLeaderboardEndpointDefaults(t *testing.T) {
	server, store := newTestServer(t)

	resp, err := http.Get(server.URL + "/leaderboard?limit=banana&offset=-3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 20, store.lastLimit)
	assert.Equal(t, 0, store.lastOffset)
}

func TestLeaderboardEndpointRejectsPost(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/leaderboard", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
