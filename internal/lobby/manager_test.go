package lobby

import (
	"fmt"
	"testing"

	"github.com/game-lobby/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func view(id string, status game.Status, stake string, players ...string) *game.View {
	v := &game.View{
		ID:      id,
		Type:    game.TypeBullRun,
		Status:  status,
		Config:  game.Config{MaxPlayers: 4},
		Players: players,
	}
	if stake != "" {
		v.Config.Stakes = &game.Stakes{Token: "0xtoken", Amount: stake}
	}
	return v
}

func TestManager_FollowsGameThroughLifecycle(t *testing.T) {
	m := NewManager()

	m.OnGameStatusChanged(view("g1", game.StatusPending, "10", "0xa"), "", game.StatusPending)
	m.OnGameStatusChanged(view("g1", game.StatusPending, "10", "0xa", "0xb"), game.StatusPending, game.StatusPending)

	s := m.Snapshot()
	stats := s.ProtocolStats.StatsByGameType[game.TypeBullRun]
	assert.Equal(t, []string{"g1"}, s.GamesByStatus[game.StatusPending])
	assert.Equal(t, 1, stats.CountByStatus[game.StatusPending])
	assert.Equal(t, 2, stats.PlayerCountByStatus[game.StatusPending])
	assert.Equal(t, 2, stats.TotalPlayers)
	assert.Equal(t, 2, stats.CurrentPlayers)
	assert.Equal(t, "20", stats.CurrentStakes)
	assert.Equal(t, "0", stats.TotalStaked)

	ongoing := view("g1", game.StatusOngoing, "10", "0xa", "0xb")
	ongoing.StartedAt = 1_000
	m.OnGameStatusChanged(ongoing, game.StatusPending, game.StatusOngoing)

	stats = m.Snapshot().ProtocolStats.StatsByGameType[game.TypeBullRun]
	assert.Equal(t, "20", stats.TotalStaked)
	assert.Equal(t, 0, stats.CountByStatus[game.StatusPending])
	assert.Equal(t, 1, stats.CountByStatus[game.StatusOngoing])

	done := view("g1", game.StatusFinished, "10", "0xa", "0xb")
	done.StartedAt = 1_000
	done.EndedAt = 31_000
	done.Winners = []string{"0xb"}
	done.Deltas = map[string]string{"0xa": "-10", "0xb": "10"}
	m.OnGameStatusChanged(done, game.StatusOngoing, game.StatusFinished)

	s = m.Snapshot()
	stats = s.ProtocolStats.StatsByGameType[game.TypeBullRun]
	assert.Empty(t, s.GamesByStatus[game.StatusOngoing])
	assert.Equal(t, []string{"g1"}, s.GamesByStatus[game.StatusFinished])
	assert.Equal(t, 0, stats.CurrentPlayers)
	assert.Equal(t, "0", stats.CurrentStakes)
	assert.Equal(t, "20", stats.TotalStaked)
	assert.Equal(t, int64(60), stats.TotalPlayTime)
	assert.Equal(t, 2, stats.TotalPlayers)
	assert.Equal(t, []string{"0xb", "0xa"}, stats.WinLeaderboard)
	assert.Equal(t, []string{"0xb", "0xa"}, stats.StakeWinLeaderboard)
}

func TestManager_StatusIndexPartitionsGames(t *testing.T) {
	m := NewManager()
	m.OnGameStatusChanged(view("g1", game.StatusPending, "", "0xa"), "", game.StatusPending)
	m.OnGameStatusChanged(view("g2", game.StatusPending, "", "0xb"), "", game.StatusPending)
	m.OnGameStatusChanged(view("g2", game.StatusCancelled, "", "0xb"), game.StatusPending, game.StatusCancelled)

	s := m.Snapshot()
	seen := make(map[string]int)
	for _, ids := range s.GamesByStatus {
		for _, id := range ids {
			seen[id]++
		}
	}
	assert.Equal(t, map[string]int{"g1": 1, "g2": 1}, seen)
	assert.Equal(t, []string{"g2"}, s.GamesByStatus[game.StatusCancelled])
}

func TestManager_Presence(t *testing.T) {
	m := NewManager()
	m.OnPlayerPresenceChanged("0xa", true)
	m.OnPlayerPresenceChanged("0xb", true)
	m.OnPlayerPresenceChanged("0xc", true)
	m.OnGameStatusChanged(view("g1", game.StatusPending, "", "0xa", "0xb"), "", game.StatusPending)

	ps := m.Snapshot().ProtocolStats
	assert.Equal(t, 3, ps.OnlinePlayers)
	assert.Equal(t, 2, ps.InGamePlayers)
	assert.Equal(t, 1, ps.PlayersInLobby)

	m.OnPlayerPresenceChanged("0xc", false)
	m.OnPlayerPresenceChanged("0xc", false)
	m.OnGameStatusChanged(view("g1", game.StatusCancelled, "", "0xa", "0xb"), game.StatusPending, game.StatusCancelled)

	ps = m.Snapshot().ProtocolStats
	assert.Equal(t, 2, ps.OnlinePlayers)
	assert.Equal(t, 0, ps.InGamePlayers)
	assert.Equal(t, 2, ps.PlayersInLobby)
}

func TestManager_OnChangeDeliversSnapshots(t *testing.T) {
	m := NewManager()
	var got []State
	m.SetOnChange(func(s State) { got = append(got, s) })

	m.OnPlayerPresenceChanged("0xa", true)
	m.OnPlayerPresenceChanged("0xa", true)
	m.OnGameStatusChanged(view("g1", game.StatusPending, "", "0xa"), "", game.StatusPending)

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ProtocolStats.PlayersInLobby)
	assert.Equal(t, 0, got[1].ProtocolStats.PlayersInLobby)
	assert.Equal(t, "LOBBY", got[1].Channel)
}

func TestManager_SnapshotIsACopy(t *testing.T) {
	m := NewManager()
	m.OnGameStatusChanged(view("g1", game.StatusPending, "", "0xa"), "", game.StatusPending)

	s := m.Snapshot()
	s.GamesByStatus[game.StatusPending][0] = "mutated"
	s.ProtocolStats.StatsByGameType[game.TypeBullRun].CountByStatus[game.StatusPending] = 42

	again := m.Snapshot()
	assert.Equal(t, []string{"g1"}, again.GamesByStatus[game.StatusPending])
	assert.Equal(t, 1, again.ProtocolStats.StatsByGameType[game.TypeBullRun].CountByStatus[game.StatusPending])
}

func TestRank_OrderAndTruncation(t *testing.T) {
	m := NewManager()
	for i := 0; i < LeaderboardSize+5; i++ {
		p := fmt.Sprintf("0x%03d", i)
		v := view(fmt.Sprintf("g%d", i), game.StatusFinished, "", p, "0xloser")
		v.Winners = []string{p}
		m.OnGameStatusChanged(v, game.StatusOngoing, game.StatusFinished)
	}

	b := m.Leaderboard(game.TypeBullRun)
	require.Len(t, b.ByWins, LeaderboardSize)
	assert.Equal(t, "0x000", b.ByWins[0].Address, "ties break on address")
	assert.Equal(t, 1, b.ByWins[0].Rank)
	assert.Equal(t, 1.0, b.ByWinRate[0].WinRate)

	assert.Empty(t, m.Leaderboard(game.TypeEthris).ByWins)
	assert.Contains(t, m.Leaderboards(), game.TypeBullRun)
}
