package lobby

import (
	"math/big"
	"sort"
	"sync"

	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/irc"
)

// tracked is the last contribution of a game to the counters
type tracked struct {
	typ     game.Type
	status  game.Status
	players []string
	stake   *big.Int
}

// record is a player's tally for one game type
type record struct {
	games    int
	wins     int
	stakeWon *big.Int
}

type presence struct {
	inLobby int
	inGame  int
	online  int
}

// Manager maintains the lobby aggregate. It never decides game status itself;
// it only reacts to the lifecycle's events.
type Manager struct {
	byType   map[game.Type]*GlobalGameStats
	staked   map[game.Type]*big.Int
	current  map[game.Type]*big.Int
	games    map[string]*tracked
	byStatus map[game.Status]map[string]struct{}
	online   map[string]bool
	inGame   map[string]int
	records  map[game.Type]map[string]*record
	boards   map[game.Type]Board
	presence presence
	onChange func(State)
	mu       sync.Mutex
}

// NewManager creates an empty lobby
func NewManager() *Manager {
	m := &Manager{
		byType:   make(map[game.Type]*GlobalGameStats),
		staked:   make(map[game.Type]*big.Int),
		current:  make(map[game.Type]*big.Int),
		games:    make(map[string]*tracked),
		byStatus: make(map[game.Status]map[string]struct{}),
		online:   make(map[string]bool),
		inGame:   make(map[string]int),
		records:  make(map[game.Type]map[string]*record),
		boards:   make(map[game.Type]Board),
	}
	for _, t := range game.Types {
		m.statsFor(t)
	}
	for _, st := range game.Statuses {
		m.byStatus[st] = make(map[string]struct{})
	}
	return m
}

// SetOnChange sets the callback invoked with a fresh snapshot after every mutation.
// It runs while the lobby is locked so snapshots are delivered in mutation order.
func (m *Manager) SetOnChange(callback func(State)) {
	m.onChange = callback
}

func (m *Manager) statsFor(t game.Type) *GlobalGameStats {
	s, ok := m.byType[t]
	if !ok {
		s = newGlobalGameStats()
		m.byType[t] = s
		m.staked[t] = new(big.Int)
		m.current[t] = new(big.Int)
		m.records[t] = make(map[string]*record)
	}
	return s
}

// OnGameStatusChanged folds a game event into the counters. oldStatus is "" for a new
// game; oldStatus == newStatus signals a roster change.
func (m *Manager) OnGameStatusChanged(v *game.View, oldStatus, newStatus game.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.statsFor(v.Type)
	prev := m.games[v.ID]

	if prev != nil {
		m.withdraw(stats, prev)
	}

	stake, _ := v.Config.Stakes.Value()
	if stake == nil {
		stake = new(big.Int)
	}
	next := &tracked{typ: v.Type, status: newStatus, players: append([]string(nil), v.Players...), stake: stake}

	seen := make(map[string]bool)
	if prev != nil {
		for _, p := range prev.players {
			seen[p] = true
		}
	}
	for _, p := range next.players {
		if !seen[p] {
			stats.TotalPlayers++
		}
	}

	m.deposit(stats, next)
	m.games[v.ID] = next

	if oldStatus != newStatus {
		delete(m.byStatus[oldStatus], v.ID)
		m.byStatus[newStatus][v.ID] = struct{}{}
	}

	if oldStatus == game.StatusPending && newStatus == game.StatusOngoing {
		total := new(big.Int).Mul(stake, big.NewInt(int64(len(next.players))))
		m.staked[v.Type].Add(m.staked[v.Type], total)
		stats.TotalStaked = m.staked[v.Type].String()
	}
	if oldStatus == game.StatusOngoing && newStatus.Terminal() && v.StartedAt > 0 && v.EndedAt > v.StartedAt {
		stats.TotalPlayTime += (v.EndedAt - v.StartedAt) / 1000 * int64(len(next.players))
	}
	if newStatus == game.StatusFinished && oldStatus != newStatus {
		m.settle(v)
	}

	m.refreshPresence()
	m.changed()
}

// withdraw removes a game's previous contribution
func (m *Manager) withdraw(stats *GlobalGameStats, t *tracked) {
	stats.CountByStatus[t.status]--
	stats.PlayerCountByStatus[t.status] -= len(t.players)
	if t.status.Terminal() {
		return
	}
	stats.CurrentPlayers -= len(t.players)
	cur := m.current[t.typ]
	cur.Sub(cur, new(big.Int).Mul(t.stake, big.NewInt(int64(len(t.players)))))
	stats.CurrentStakes = cur.String()
	for _, p := range t.players {
		m.inGame[p]--
		if m.inGame[p] <= 0 {
			delete(m.inGame, p)
		}
	}
}

// deposit adds a game's current contribution
func (m *Manager) deposit(stats *GlobalGameStats, t *tracked) {
	stats.CountByStatus[t.status]++
	stats.PlayerCountByStatus[t.status] += len(t.players)
	if t.status.Terminal() {
		return
	}
	stats.CurrentPlayers += len(t.players)
	cur := m.current[t.typ]
	cur.Add(cur, new(big.Int).Mul(t.stake, big.NewInt(int64(len(t.players)))))
	stats.CurrentStakes = cur.String()
	for _, p := range t.players {
		m.inGame[p]++
	}
}

// settle records the result of a finished game and re-ranks that type's leaderboards
func (m *Manager) settle(v *game.View) {
	recs := m.records[v.Type]
	winners := make(map[string]bool, len(v.Winners))
	for _, w := range v.Winners {
		winners[w] = true
	}
	for _, p := range v.Players {
		r, ok := recs[p]
		if !ok {
			r = &record{stakeWon: new(big.Int)}
			recs[p] = r
		}
		r.games++
		if winners[p] {
			r.wins++
		}
		if d, ok := new(big.Int).SetString(v.Deltas[p], 10); ok && d.Sign() > 0 {
			r.stakeWon.Add(r.stakeWon, d)
		}
	}

	board := rank(recs)
	m.boards[v.Type] = board
	stats := m.byType[v.Type]
	stats.WinRateLeaderboard = addresses(board.ByWinRate)
	stats.WinLeaderboard = addresses(board.ByWins)
	stats.StakeWinLeaderboard = addresses(board.ByStakeWin)
}

// OnPlayerPresenceChanged records a player coming online or going offline
func (m *Manager) OnPlayerPresenceChanged(address string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online {
		if m.online[address] {
			return
		}
		m.online[address] = true
	} else {
		if !m.online[address] {
			return
		}
		delete(m.online, address)
	}
	m.refreshPresence()
	m.changed()
}

func (m *Manager) refreshPresence() {
	inLobby := 0
	for p := range m.online {
		if m.inGame[p] == 0 {
			inLobby++
		}
	}
	m.presence = presence{inLobby: inLobby, inGame: len(m.inGame), online: len(m.online)}
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange(m.snapshotLocked())
	}
}

// Snapshot returns a deep copy of the lobby state
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	s := State{
		ProtocolStats: ProtocolStats{
			PlayersInLobby:  m.presence.inLobby,
			InGamePlayers:   m.presence.inGame,
			OnlinePlayers:   m.presence.online,
			StatsByGameType: make(map[game.Type]GlobalGameStats, len(m.byType)),
		},
		GamesByStatus: make(map[game.Status][]string, len(m.byStatus)),
		Channel:       irc.Lobby,
	}
	for t, st := range m.byType {
		s.ProtocolStats.StatsByGameType[t] = st.clone()
	}
	for st, ids := range m.byStatus {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		s.GamesByStatus[st] = list
	}
	return s
}

// Leaderboard returns the rankings of a game type
func (m *Manager) Leaderboard(t game.Type) Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[t]
	if !ok {
		return Board{ByWinRate: []Entry{}, ByWins: []Entry{}, ByStakeWin: []Entry{}}
	}
	return b
}

// Leaderboards returns the rankings of every game type that has a finished game
func (m *Manager) Leaderboards() map[game.Type]Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[game.Type]Board, len(m.boards))
	for t, b := range m.boards {
		out[t] = b
	}
	return out
}
