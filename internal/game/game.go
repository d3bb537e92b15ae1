package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Signed is an address together with the nonce and signature that prove it
type Signed struct {
	Address string `json:"address"`
	Nonce   string `json:"nonce"`
	Sig     string `json:"sig"`
}

// Game is a single game session. All mutations go through the methods below,
// which the lifecycle manager calls while holding Lock.
type Game struct {
	ID        string
	Type      Type
	Status    Status
	Config    Config
	Creator   Signed
	Players   []string
	PlayerSig map[string]string
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Winners   []string
	Deltas    map[string]string
	Channel   string
	State     State
	History   History
	Version   int64
	mu        sync.Mutex
}

// NewGame creates a PENDING game with the creator seated as an observer.
// The creator's signature must have been verified by the caller.
func NewGame(gameType Type, cfg Config, creator Signed, now time.Time) *Game {
	id := uuid.New().String()
	g := &Game{
		ID:        id,
		Type:      gameType,
		Status:    StatusPending,
		Config:    cfg,
		Creator:   creator,
		Players:   []string{creator.Address},
		PlayerSig: map[string]string{creator.Address: creator.Sig},
		CreatedAt: now,
		Channel:   ChannelFor(id),
		State:     NewState(),
	}
	g.State.ByPlayer[creator.Address] = NewPlayerGameState(now.UnixMilli())
	return g
}

// ChannelFor returns the chat channel name of a game
func ChannelFor(id string) string {
	return "GAME:" + id
}

// Lock serialises every mutation of the game
func (g *Game) Lock() { g.mu.Lock() }

// Unlock releases the game
func (g *Game) Unlock() { g.mu.Unlock() }

// HasPlayer reports whether address has joined
func (g *Game) HasPlayer(address string) bool {
	for _, p := range g.Players {
		if p == address {
			return true
		}
	}
	return false
}

// Full reports whether the roster reached maxPlayers
func (g *Game) Full() bool {
	return len(g.Players) >= g.Config.MaxPlayers
}

// AddPlayer seats a player and records its join signature. A full roster is reported
// as ErrGameFull even after the game has started.
func (g *Game) AddPlayer(address, sig string, now time.Time) error {
	if g.HasPlayer(address) {
		return ErrAlreadyJoined
	}
	if g.Full() {
		return ErrGameFull
	}
	if g.Status != StatusPending {
		return ErrNotPending
	}
	g.Players = append(g.Players, address)
	g.PlayerSig[address] = sig
	g.State.ByPlayer[address] = NewPlayerGameState(now.UnixMilli())
	g.Version++
	return nil
}

// RemovePlayer drops a non-creator player from a pending game
func (g *Game) RemovePlayer(address string) error {
	if !g.HasPlayer(address) {
		return ErrNotJoined
	}
	if g.Status != StatusPending {
		return ErrNotPending
	}
	players := g.Players[:0:0]
	for _, p := range g.Players {
		if p != address {
			players = append(players, p)
		}
	}
	g.Players = players
	delete(g.PlayerSig, address)
	delete(g.State.ByPlayer, address)
	g.Version++
	return nil
}

// Transition moves the game to a new status, enforcing the lifecycle table
func (g *Game) Transition(to Status, now time.Time) error {
	if !CanTransition(g.Status, to) {
		return Statef("cannot move game from %s to %s", g.Status, to)
	}
	switch to {
	case StatusOngoing:
		g.StartedAt = now
		for p, st := range g.State.ByPlayer {
			if st.Status == PlayerObserver {
				st.Status = PlayerAlive
				g.State.ByPlayer[p] = st
			}
		}
	case StatusFinished, StatusCancelled:
		g.EndedAt = now
	}
	g.Status = to
	g.Version++
	return nil
}

// Forfeit marks a player of an ongoing game as eliminated without removing it from the roster
func (g *Game) Forfeit(address string, now time.Time) error {
	if !g.HasPlayer(address) {
		return ErrNotJoined
	}
	if g.Status != StatusOngoing {
		return ErrNotOngoing
	}
	st := g.State.ByPlayer[address]
	if st.Status == PlayerEliminated {
		return nil
	}
	st.Status = PlayerEliminated
	g.State.ByPlayer[address] = st
	g.History.Append(address, g.State, now.UnixMilli())
	g.Version++
	return nil
}

// Duration returns the played time
func (g *Game) Duration() time.Duration {
	if g.StartedAt.IsZero() {
		return 0
	}
	if g.EndedAt.IsZero() {
		return time.Since(g.StartedAt)
	}
	return g.EndedAt.Sub(g.StartedAt)
}

// View returns a serialisable copy of the game. Must be called with the lock held.
func (g *Game) View() *View {
	v := &View{
		ID:         g.ID,
		Type:       g.Type,
		Status:     g.Status,
		Config:     g.Config,
		Creator:    g.Creator.Address,
		Players:    append([]string(nil), g.Players...),
		PlayerSig:  make(map[string]string, len(g.PlayerSig)),
		CreatedAt:  g.CreatedAt.UnixMilli(),
		Winners:    append([]string(nil), g.Winners...),
		Channel:    g.Channel,
		State:      g.State.Clone(),
		HistoryLen: g.History.Len(),
		Version:    g.Version,
	}
	for k, s := range g.PlayerSig {
		v.PlayerSig[k] = s
	}
	if !g.StartedAt.IsZero() {
		v.StartedAt = g.StartedAt.UnixMilli()
	}
	if !g.EndedAt.IsZero() {
		v.EndedAt = g.EndedAt.UnixMilli()
	}
	if g.Deltas != nil {
		v.Deltas = make(map[string]string, len(g.Deltas))
		for k, d := range g.Deltas {
			v.Deltas[k] = d
		}
	}
	if last, ok := g.History.Last(); ok {
		v.HistoryHead = last.Hash
	}
	return v
}

// View is the wire representation of a game
type View struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	Status      Status            `json:"status"`
	Config      Config            `json:"config"`
	Creator     string            `json:"creator"`
	Players     []string          `json:"players"`
	PlayerSig   map[string]string `json:"playerSig"`
	CreatedAt   int64             `json:"createdAt"`
	StartedAt   int64             `json:"startedAt,omitempty"`
	EndedAt     int64             `json:"endedAt,omitempty"`
	Winners     []string          `json:"winners,omitempty"`
	Deltas      map[string]string `json:"deltas,omitempty"`
	Channel     string            `json:"channel"`
	State       State             `json:"state"`
	HistoryLen  int               `json:"historyLength"`
	HistoryHead string            `json:"historyHead,omitempty"`
	Version     int64             `json:"version"`
}
