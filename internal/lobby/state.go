package lobby

import (
	"github.com/game-lobby/internal/game"
)

// LeaderboardSize is how many addresses each leaderboard keeps
const LeaderboardSize = 100

// GlobalGameStats aggregates one game type. Stake amounts are base-unit integer strings.
type GlobalGameStats struct {
	TotalPlayers        int                 `json:"totalPlayers"`
	CurrentPlayers      int                 `json:"currentPlayers"`
	TotalStaked         string              `json:"totalStaked"`
	CurrentStakes       string              `json:"currentStakes"`
	WinRateLeaderboard  []string            `json:"winRateLeaderboard"`
	WinLeaderboard      []string            `json:"winLeaderboard"`
	StakeWinLeaderboard []string            `json:"stakeWinLeaderboard"`
	TotalPlayTime       int64               `json:"totalPlayTime"` // seconds, summed over players
	CountByStatus       map[game.Status]int `json:"countByStatus"`
	PlayerCountByStatus map[game.Status]int `json:"playerCountByStatus"`
}

func newGlobalGameStats() *GlobalGameStats {
	s := &GlobalGameStats{
		TotalStaked:         "0",
		CurrentStakes:       "0",
		WinRateLeaderboard:  []string{},
		WinLeaderboard:      []string{},
		StakeWinLeaderboard: []string{},
		CountByStatus:       make(map[game.Status]int, len(game.Statuses)),
		PlayerCountByStatus: make(map[game.Status]int, len(game.Statuses)),
	}
	for _, st := range game.Statuses {
		s.CountByStatus[st] = 0
		s.PlayerCountByStatus[st] = 0
	}
	return s
}

func (s *GlobalGameStats) clone() GlobalGameStats {
	out := *s
	out.WinRateLeaderboard = append([]string{}, s.WinRateLeaderboard...)
	out.WinLeaderboard = append([]string{}, s.WinLeaderboard...)
	out.StakeWinLeaderboard = append([]string{}, s.StakeWinLeaderboard...)
	out.CountByStatus = make(map[game.Status]int, len(s.CountByStatus))
	for k, v := range s.CountByStatus {
		out.CountByStatus[k] = v
	}
	out.PlayerCountByStatus = make(map[game.Status]int, len(s.PlayerCountByStatus))
	for k, v := range s.PlayerCountByStatus {
		out.PlayerCountByStatus[k] = v
	}
	return out
}

// ProtocolStats aggregates the whole server
type ProtocolStats struct {
	PlayersInLobby  int                           `json:"playersInLobby"`
	InGamePlayers   int                           `json:"inGamePlayers"`
	OnlinePlayers   int                           `json:"onlinePlayers"` // lobby + in-game
	StatsByGameType map[game.Type]GlobalGameStats `json:"statsByGameType"`
}

// State is a read-only copy of the lobby
type State struct {
	ProtocolStats ProtocolStats            `json:"protocolStats"`
	GamesByStatus map[game.Status][]string `json:"gamesByStatus"`
	Channel       string                   `json:"channel"`
}

// Entry is one leaderboard row
type Entry struct {
	Rank     int     `json:"rank"`
	Address  string  `json:"address"`
	Games    int     `json:"games"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"winRate"`
	StakeWon string  `json:"stakeWon"`
}

// Board holds the three rankings of a game type
type Board struct {
	ByWinRate  []Entry `json:"byWinRate"`
	ByWins     []Entry `json:"byWins"`
	ByStakeWin []Entry `json:"byStakeWin"`
}
