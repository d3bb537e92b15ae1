package storage

import (
	"time"

	"github.com/game-lobby/internal/game"
)

// ArchivedGame is a game row as stored in the database
type ArchivedGame struct {
	ID              string            `json:"id"`
	Type            game.Type         `json:"type"`
	Status          game.Status       `json:"status"`
	Creator         string            `json:"creator"`
	Players         []string          `json:"players"`
	Winners         []string          `json:"winners"`
	Deltas          map[string]string `json:"deltas,omitempty"`
	Config          game.Config       `json:"config"`
	DurationSeconds int64             `json:"durationSeconds"`
	HistoryLength   int               `json:"historyLength"`
	HistoryHead     string            `json:"historyHead,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"createdAt"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	EndedAt         *time.Time        `json:"endedAt,omitempty"`
}

// LeaderboardEntry represents a player's ranking
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	Address  string  `json:"address"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	Games    int     `json:"games"`
	WinRate  float64 `json:"winRate"`
	StakeWon string  `json:"stakeWon"`
}

// PlayerStats represents detailed player statistics
type PlayerStats struct {
	Address       string  `json:"address"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	Cancelled     int     `json:"cancelled"`
	TotalGames    int     `json:"totalGames"`
	WinRate       float64 `json:"winRate"`
	AvgGameLength float64 `json:"avgGameLength"`
	NetStake      string  `json:"netStake"`
}

// GameAnalytics represents aggregated game analytics
type GameAnalytics struct {
	TotalGames         int               `json:"totalGames"`
	FinishedGames      int               `json:"finishedGames"`
	CancelledGames     int               `json:"cancelledGames"`
	TotalPlayers       int               `json:"totalPlayers"`
	AvgGameDuration    float64           `json:"avgGameDuration"`
	GamesToday         int               `json:"gamesToday"`
	GamesThisHour      int               `json:"gamesThisHour"`
	MostFrequentWinner string            `json:"mostFrequentWinner"`
	GamesByType        map[game.Type]int `json:"gamesByType"`
}

// archiveRow flattens a game view for the games table
func archiveRow(v *game.View) ArchivedGame {
	row := ArchivedGame{
		ID:            v.ID,
		Type:          v.Type,
		Status:        v.Status,
		Creator:       v.Creator,
		Players:       nonNil(v.Players),
		Winners:       nonNil(v.Winners),
		Deltas:        v.Deltas,
		Config:        v.Config,
		HistoryLength: v.HistoryLen,
		HistoryHead:   v.HistoryHead,
		Version:       v.Version,
		CreatedAt:     time.UnixMilli(v.CreatedAt).UTC(),
	}
	if v.StartedAt > 0 {
		t := time.UnixMilli(v.StartedAt).UTC()
		row.StartedAt = &t
	}
	if v.EndedAt > 0 {
		t := time.UnixMilli(v.EndedAt).UTC()
		row.EndedAt = &t
		if row.StartedAt != nil {
			row.DurationSeconds = int64(t.Sub(*row.StartedAt) / time.Second)
		}
	}
	return row
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
