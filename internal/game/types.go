package game

import (
	"encoding/json"
	"math/big"
)

// Status represents where a game is in its lifecycle
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOngoing   Status = "ONGOING"
	StatusFinished  Status = "FINISHED"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every status in lifecycle order
var Statuses = []Status{StatusPending, StatusOngoing, StatusFinished, StatusCancelled}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// CanTransition reports whether from -> to is an allowed status transition
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusOngoing || to == StatusCancelled
	case StatusOngoing:
		return to == StatusFinished || to == StatusCancelled
	}
	return false
}

// Type identifies which game is being played; it selects the settlement evaluator
type Type string

const (
	TypeBullRun    Type = "Bull Run"
	TypeBluePill   Type = "Blue Pill"
	TypeCoinect4   Type = "Coinect 4"
	TypeEthris     Type = "Ethris"
	TypePacmoon    Type = "Pacmoon"
	TypeBombermoon Type = "Bombermoon"
)

// Types lists the supported game types
var Types = []Type{TypeBullRun, TypeBluePill, TypeCoinect4, TypeEthris, TypePacmoon, TypeBombermoon}

// Valid reports whether t is a supported game type
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Stakes describes an optional wager; Amount is an integer in the token's base unit
type Stakes struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Value parses Amount
func (s *Stakes) Value() (*big.Int, bool) {
	if s == nil {
		return new(big.Int), true
	}
	v, ok := new(big.Int).SetString(s.Amount, 10)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// Config holds the immutable settings chosen when the game is created
type Config struct {
	MapSize    string  `json:"mapSize"`
	GameSpeed  string  `json:"gameSpeed"`
	MaxPlayers int     `json:"maxPlayers"`
	Theme      string  `json:"theme"`
	Stakes     *Stakes `json:"stakes,omitempty"`
}

// DefaultMaxPlayersLimit caps Config.MaxPlayers unless configured otherwise
const DefaultMaxPlayersLimit = 64

var (
	mapSizes   = []string{"SMALL", "MEDIUM", "LARGE", "XLARGE"}
	gameSpeeds = []string{"SLOW", "NORMAL", "FAST"}
	themes     = []string{"DEFAULT", "DEGEN"}
)

// WithDefaults fills the zero-valued fields
func (c Config) WithDefaults() Config {
	if c.MapSize == "" {
		c.MapSize = "MEDIUM"
	}
	if c.GameSpeed == "" {
		c.GameSpeed = "SLOW"
	}
	if c.MaxPlayers == 0 {
		c.MaxPlayers = 2
	}
	if c.Theme == "" {
		c.Theme = "DEFAULT"
	}
	if c.Stakes != nil {
		s := *c.Stakes
		c.Stakes = &s
	}
	return c
}

// Validate checks the config against the supported values
func (c Config) Validate(maxPlayersLimit int) error {
	if c.MaxPlayers < 1 || c.MaxPlayers > maxPlayersLimit {
		return Validationf("maxPlayers must be between 1 and %d", maxPlayersLimit)
	}
	if !oneOf(c.MapSize, mapSizes) {
		return Validationf("unknown mapSize %q", c.MapSize)
	}
	if !oneOf(c.GameSpeed, gameSpeeds) {
		return Validationf("unknown gameSpeed %q", c.GameSpeed)
	}
	if !oneOf(c.Theme, themes) {
		return Validationf("unknown theme %q", c.Theme)
	}
	if c.Stakes != nil {
		if c.Stakes.Token == "" {
			return Validationf("stakes token required")
		}
		if _, ok := c.Stakes.Value(); !ok {
			return Validationf("stakes amount must be a positive integer")
		}
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// PlayerStatus is a player's in-game status
type PlayerStatus string

const (
	PlayerObserver   PlayerStatus = "OBSERVER"
	PlayerAlive      PlayerStatus = "ALIVE"
	PlayerDead       PlayerStatus = "DEAD"
	PlayerEliminated PlayerStatus = "ELIMINATED"
)

// Valid reports whether s is a known player status
func (s PlayerStatus) Valid() bool {
	switch s {
	case PlayerObserver, PlayerAlive, PlayerDead, PlayerEliminated:
		return true
	}
	return false
}

// Vec3 is an x, y, z triple
type Vec3 [3]float64

// PlayerGameState is one player's entry in a snapshot
type PlayerGameState struct {
	Time     int64           `json:"time"` // epoch ms
	Pos      Vec3            `json:"pos"`
	Rot      Vec3            `json:"rot"`
	Vel      Vec3            `json:"vel"`
	Health   float64         `json:"health"`
	Energy   float64         `json:"energy"`
	Status   PlayerStatus    `json:"status"`
	Score    float64         `json:"score"`
	LagScore float64         `json:"lagScore"`
	BotScore float64         `json:"botScore"`
	Ext      json.RawMessage `json:"ext,omitempty"`
}

// NewPlayerGameState seeds a player entry
func NewPlayerGameState(now int64) PlayerGameState {
	return PlayerGameState{
		Time:   now,
		Health: 100,
		Energy: 100,
		Status: PlayerObserver,
	}
}

// PartialPlayerState is a GAME_STATE submission; nil fields are left untouched
type PartialPlayerState struct {
	Time     *int64          `json:"time,omitempty"`
	Pos      *Vec3           `json:"pos,omitempty"`
	Rot      *Vec3           `json:"rot,omitempty"`
	Vel      *Vec3           `json:"vel,omitempty"`
	Health   *float64        `json:"health,omitempty"`
	Energy   *float64        `json:"energy,omitempty"`
	Status   *PlayerStatus   `json:"status,omitempty"`
	Score    *float64        `json:"score,omitempty"`
	LagScore *float64        `json:"lagScore,omitempty"`
	BotScore *float64        `json:"botScore,omitempty"`
	Ext      json.RawMessage `json:"ext,omitempty"`
}

// State is a full snapshot of a game: every player's entry plus the game's opaque extension
type State struct {
	ByPlayer map[string]PlayerGameState `json:"byPlayer"`
	Ext      json.RawMessage            `json:"ext,omitempty"`
}

// NewState returns an empty snapshot
func NewState() State {
	return State{ByPlayer: make(map[string]PlayerGameState)}
}

// Clone deep-copies the snapshot. Ext blobs are shared; they are replaced, never mutated.
func (s State) Clone() State {
	out := State{ByPlayer: make(map[string]PlayerGameState, len(s.ByPlayer)), Ext: s.Ext}
	for k, v := range s.ByPlayer {
		out.ByPlayer[k] = v
	}
	return out
}

// PlayerStats accumulates a player's results; amounts are base-unit integer strings
type PlayerStats struct {
	GamesPlayed        int             `json:"gamesPlayed"`
	Wins               int             `json:"wins"`
	Losses             int             `json:"losses"`
	WinsByGameType     map[Type]int    `json:"winsByGameType"`
	LossesByGameType   map[Type]int    `json:"lossesByGameType"`
	TotalStaked        string          `json:"totalStaked"`
	StakedByGameType   map[Type]string `json:"stakedByGameType"`
	TotalWon           string          `json:"totalWon"`
	TotalWonByGameType map[Type]string `json:"totalWonByGameType"`
}

// NewPlayerStats returns zeroed stats
func NewPlayerStats() PlayerStats {
	return PlayerStats{
		WinsByGameType:     make(map[Type]int),
		LossesByGameType:   make(map[Type]int),
		TotalStaked:        "0",
		StakedByGameType:   make(map[Type]string),
		TotalWon:           "0",
		TotalWonByGameType: make(map[Type]string),
	}
}

// Clone deep-copies the stats maps
func (s PlayerStats) Clone() PlayerStats {
	out := s
	out.WinsByGameType = make(map[Type]int, len(s.WinsByGameType))
	for k, v := range s.WinsByGameType {
		out.WinsByGameType[k] = v
	}
	out.LossesByGameType = make(map[Type]int, len(s.LossesByGameType))
	for k, v := range s.LossesByGameType {
		out.LossesByGameType[k] = v
	}
	out.StakedByGameType = make(map[Type]string, len(s.StakedByGameType))
	for k, v := range s.StakedByGameType {
		out.StakedByGameType[k] = v
	}
	out.TotalWonByGameType = make(map[Type]string, len(s.TotalWonByGameType))
	for k, v := range s.TotalWonByGameType {
		out.TotalWonByGameType[k] = v
	}
	return out
}

// Player is an address-keyed participant, created on first authenticated action
type Player struct {
	Address   string      `json:"address"`
	Signature string      `json:"signature"`
	JoinedAt  int64       `json:"joinedAt"`
	IsReady   bool        `json:"isReady"`
	IsOnline  bool        `json:"isOnline"`
	Stats     PlayerStats `json:"stats"`
	Game      string      `json:"game,omitempty"`
}

// AddAmount adds two base-unit integer strings
func AddAmount(a, b string) string {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		x = new(big.Int)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		y = new(big.Int)
	}
	return x.Add(x, y).String()
}
