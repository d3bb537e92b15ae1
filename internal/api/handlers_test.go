package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-lobby/internal/auth"
	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/irc"
	"github.com/game-lobby/internal/kafka"
	"github.com/game-lobby/internal/lifecycle"
	"github.com/game-lobby/internal/lobby"
	"github.com/game-lobby/internal/storage"
)

type fakeArchive struct {
	games map[string][]game.Entry
	err   error
}

func (f *fakeArchive) GetGame(_ context.Context, id string) (*storage.ArchivedGame, []game.Entry, error) {
	history, ok := f.games[id]
	if !ok {
		return nil, nil, game.ErrGameNotFound
	}
	return &storage.ArchivedGame{ID: id, Status: game.StatusFinished}, history, nil
}

func (f *fakeArchive) GetLeaderboard(_ context.Context, gameType game.Type, limit int) ([]storage.LeaderboardEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []storage.LeaderboardEntry{{Rank: 1, Address: "0xa", Wins: limit}}, nil
}

func (f *fakeArchive) GetPlayerStats(_ context.Context, address string) (*storage.PlayerStats, error) {
	return &storage.PlayerStats{Address: address, TotalGames: 3}, nil
}

func (f *fakeArchive) GetAnalytics(_ context.Context, _ time.Time) (*storage.GameAnalytics, error) {
	return &storage.GameAnalytics{TotalGames: 5}, nil
}

type conns int

func (c conns) Count() int { return int(c) }

type server struct {
	lc     *lifecycle.Manager
	router chi.Router
}

func newServer(t *testing.T, archive Archive) *server {
	t.Helper()
	lobbyManager := lobby.NewManager()
	verifier := auth.VerifierFunc(func(address, message, signature string) bool {
		return signature == "sig:"+address
	})
	lc := lifecycle.NewManager(verifier, irc.NewRelay(irc.DefaultCapacity), lobbyManager, nil, lifecycle.Options{})
	t.Cleanup(lc.Close)

	h := NewHandlers(archive, lc, lobbyManager, conns(2), kafka.NewProducer(nil), nil)
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return &server{lc: lc, router: r}
}

func (s *server) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func signed(addr string) game.Signed {
	return game.Signed{Address: addr, Nonce: "n", Sig: "sig:" + addr}
}

// playedGame creates a two player game with one accepted submission
func (s *server) playedGame(t *testing.T) string {
	t.Helper()
	v, err := s.lc.CreateGame(signed("0xa"), game.TypeBullRun, game.Config{MaxPlayers: 2})
	require.NoError(t, err)
	_, err = s.lc.JoinGame(signed("0xb"), v.ID)
	require.NoError(t, err)
	score := 5.0
	_, applied, err := s.lc.SubmitState(signed("0xa"), v.ID, game.PartialPlayerState{Score: &score}, nil)
	require.NoError(t, err)
	require.True(t, applied)
	return v.ID
}

func TestStatusAndLobby(t *testing.T) {
	s := newServer(t, nil)
	s.playedGame(t)

	var status map[string]any
	assert.Equal(t, http.StatusOK, s.get(t, "/api/status", &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, 1.0, status["games"])
	assert.Equal(t, 2.0, status["connections"])
	assert.Equal(t, false, status["archiveEnabled"])

	var state lobby.State
	assert.Equal(t, http.StatusOK, s.get(t, "/api/lobby", &state))
	assert.Len(t, state.GamesByStatus[game.StatusOngoing], 1)
}

func TestGetGameAndHistory(t *testing.T) {
	s := newServer(t, nil)
	id := s.playedGame(t)

	var v game.View
	assert.Equal(t, http.StatusOK, s.get(t, "/api/games/"+id, &v))
	assert.Equal(t, game.StatusOngoing, v.Status)
	assert.Equal(t, 1, v.HistoryLen)

	var history HistoryResponse
	assert.Equal(t, http.StatusOK, s.get(t, "/api/games/"+id+"/history", &history))
	assert.True(t, history.Verified)
	assert.Equal(t, -1, history.BrokenAt)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, "0xa", history.Entries[0].Player)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/games/nope", &errBody))
	assert.Equal(t, "game not found", errBody["error"])
}

func TestHistoryFromArchiveDetectsTampering(t *testing.T) {
	live := newServer(t, nil)
	id := live.playedGame(t)
	entries, err := live.lc.History(id)
	require.NoError(t, err)

	entries[0].Player = "0xmallory"
	s := newServer(t, &fakeArchive{games: map[string][]game.Entry{"old": entries}})

	var history HistoryResponse
	assert.Equal(t, http.StatusOK, s.get(t, "/api/games/old/history", &history))
	assert.False(t, history.Verified)
	assert.Equal(t, 0, history.BrokenAt)

	var archived storage.ArchivedGame
	assert.Equal(t, http.StatusOK, s.get(t, "/api/games/old", &archived))
	assert.Equal(t, game.StatusFinished, archived.Status)
}

func TestLeaderboard(t *testing.T) {
	s := newServer(t, nil)

	var boards map[game.Type]lobby.Board
	assert.Equal(t, http.StatusOK, s.get(t, "/api/leaderboard", &boards))
	assert.Empty(t, boards)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/leaderboard?gameType=Chess", nil))

	archived := newServer(t, &fakeArchive{})
	var entries []storage.LeaderboardEntry
	assert.Equal(t, http.StatusOK, archived.get(t, "/api/leaderboard?gameType=Ethris&limit=7", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 7, entries[0].Wins)
	assert.Equal(t, http.StatusBadRequest, archived.get(t, "/api/leaderboard?limit=0", nil))

	failing := newServer(t, &fakeArchive{err: errors.New("boom")})
	assert.Equal(t, http.StatusInternalServerError, failing.get(t, "/api/leaderboard", nil))
}

func TestGetPlayer(t *testing.T) {
	s := newServer(t, nil)
	s.playedGame(t)

	var body struct {
		Address string      `json:"address"`
		Player  game.Player `json:"player"`
	}
	assert.Equal(t, http.StatusOK, s.get(t, "/api/players/0xA", &body))
	assert.Equal(t, "0xa", body.Address)
	assert.Equal(t, "0xa", body.Player.Address)

	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/players/0xz", nil))

	archived := newServer(t, &fakeArchive{})
	var withArchive map[string]any
	assert.Equal(t, http.StatusOK, archived.get(t, "/api/players/0xz", &withArchive))
	assert.Contains(t, withArchive, "archive")
}

func TestAnalytics(t *testing.T) {
	s := newServer(t, &fakeArchive{})

	var body map[string]json.RawMessage
	assert.Equal(t, http.StatusOK, s.get(t, "/api/analytics", &body))
	assert.Contains(t, body, "realtime")
	assert.JSONEq(t, `5`, string(mustField(t, body["database"], "totalGames")))
	assert.NotContains(t, body, "kafka")
}

func mustField(t *testing.T, raw json.RawMessage, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m[field]
}
