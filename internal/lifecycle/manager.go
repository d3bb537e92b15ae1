package lifecycle

import (
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/auth"
	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/irc"
	"github.com/game-lobby/internal/lobby"
	"github.com/game-lobby/internal/settlement"
)

// EventType names a lifecycle event. The values double as outbound frame types.
type EventType string

const (
	EventGameCreated   EventType = "gameCreated"
	EventGameJoined    EventType = "gameJoined"
	EventGameLeft      EventType = "gameLeft"
	EventGameStarted   EventType = "gameStarted"
	EventGameState     EventType = "gameState"
	EventGameFinished  EventType = "gameFinished"
	EventGameCancelled EventType = "gameCancelled"
)

// Event describes one accepted mutation of a game
type Event struct {
	Type   EventType  `json:"type"`
	Game   *game.View `json:"game"`
	Player string     `json:"player,omitempty"`
	Time   int64      `json:"time"`
}

// disconnectTimer is one armed grace period. expire compares pointers so a
// superseded timer firing late does nothing.
type disconnectTimer struct {
	timer *time.Timer
}

// Manager is the only authority over game status. It owns every game and player
// of the process; each game is mutated under its own lock so different games
// proceed concurrently.
type Manager struct {
	verifier   auth.Verifier
	relay      *irc.Relay
	lobby      *lobby.Manager
	evaluators *settlement.Registry
	opts       Options

	games   map[string]*game.Game
	players map[string]*game.Player
	timers  map[string]*disconnectTimer
	mu      sync.RWMutex

	onGameStart func(v *game.View)
	onGameEnd   func(v *game.View, history []game.Entry)
	onEvent     func(ev Event)
}

// NewManager creates a lifecycle manager
func NewManager(verifier auth.Verifier, relay *irc.Relay, lobbyManager *lobby.Manager, evaluators *settlement.Registry, opts Options) *Manager {
	if evaluators == nil {
		evaluators = settlement.NewRegistry(nil)
	}
	return &Manager{
		verifier:   verifier,
		relay:      relay,
		lobby:      lobbyManager,
		evaluators: evaluators,
		opts:       opts.withDefaults(),
		games:      make(map[string]*game.Game),
		players:    make(map[string]*game.Player),
		timers:     make(map[string]*disconnectTimer),
	}
}

// SetOnGameStart sets the callback for when a game starts.
// Callbacks run while the game is locked and must not call back into the manager.
func (m *Manager) SetOnGameStart(callback func(v *game.View)) {
	m.onGameStart = callback
}

// SetOnGameEnd sets the callback for when a game reaches a terminal status
func (m *Manager) SetOnGameEnd(callback func(v *game.View, history []game.Entry)) {
	m.onGameEnd = callback
}

// SetOnEvent sets the callback invoked, in order, for every event of a game
func (m *Manager) SetOnEvent(callback func(ev Event)) {
	m.onEvent = callback
}

// Thresholds returns the configured elimination thresholds
func (m *Manager) Thresholds() game.Thresholds {
	return m.opts.Thresholds
}

// Authenticate checks a signed action and returns the normalised sender address
func (m *Manager) Authenticate(s game.Signed) (string, error) {
	addr := auth.NormalizeAddress(s.Address)
	if addr == "" || s.Nonce == "" || s.Sig == "" {
		return "", game.Authenticationf("sender, nonce and sig are required")
	}
	if !m.verifier.Verify(addr, s.Nonce, s.Sig) {
		return "", game.ErrBadSignature
	}
	return addr, nil
}

func (m *Manager) lookup(id string) (*game.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, game.ErrGameNotFound
	}
	return g, nil
}

// playerLocked returns the player record, creating it on first use. m.mu must be held.
func (m *Manager) playerLocked(addr string, now time.Time) *game.Player {
	p, ok := m.players[addr]
	if !ok {
		p = &game.Player{Address: addr, JoinedAt: now.UnixMilli(), Stats: game.NewPlayerStats()}
		m.players[addr] = p
	}
	return p
}

func (m *Manager) seat(addr, sig, gameID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.playerLocked(addr, now)
	p.Signature = sig
	p.Game = gameID
}

func (m *Manager) unseat(addr, gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[addr]; ok && p.Game == gameID {
		p.Game = ""
	}
}

func (m *Manager) emit(t EventType, v *game.View, player string) {
	if m.onEvent == nil {
		return
	}
	m.onEvent(Event{Type: t, Game: v, Player: player, Time: m.opts.Now().UnixMilli()})
}

// CreateGame verifies the creator and opens a new PENDING game
func (m *Manager) CreateGame(creator game.Signed, gameType game.Type, cfg game.Config) (*game.View, error) {
	addr, err := m.Authenticate(creator)
	if err != nil {
		return nil, err
	}
	if !gameType.Valid() {
		return nil, game.Validationf("unknown game type %q", gameType)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(m.opts.MaxPlayersLimit); err != nil {
		return nil, err
	}

	now := m.opts.Now()
	creator.Address = addr
	g := game.NewGame(gameType, cfg, creator, now)

	g.Lock()
	defer g.Unlock()

	m.mu.Lock()
	m.games[g.ID] = g
	m.mu.Unlock()
	m.seat(addr, creator.Sig, g.ID, now)

	m.relay.SetEnabled(g.Channel, true)
	v := g.View()
	m.lobby.OnGameStatusChanged(v, "", g.Status)
	m.emit(EventGameCreated, v, addr)

	log.Info().Str("game", g.ID).Str("type", string(gameType)).Str("creator", addr).Int("maxPlayers", cfg.MaxPlayers).Msg("game created")

	if err := m.maybeStart(g); err != nil {
		return nil, err
	}
	return g.View(), nil
}

// JoinGame seats a verified player in a pending game
func (m *Manager) JoinGame(player game.Signed, gameID string) (*game.View, error) {
	addr, err := m.Authenticate(player)
	if err != nil {
		return nil, err
	}
	g, err := m.lookup(gameID)
	if err != nil {
		return nil, err
	}

	g.Lock()
	defer g.Unlock()

	now := m.opts.Now()
	if err := g.AddPlayer(addr, player.Sig, now); err != nil {
		return nil, err
	}
	m.seat(addr, player.Sig, g.ID, now)

	v := g.View()
	m.lobby.OnGameStatusChanged(v, g.Status, g.Status)
	m.emit(EventGameJoined, v, addr)

	log.Info().Str("game", g.ID).Str("player", addr).Int("players", len(g.Players)).Msg("player joined")

	if err := m.maybeStart(g); err != nil {
		return nil, err
	}
	return g.View(), nil
}

// LeaveGame removes a player from a pending game, cancels it when the creator
// leaves, and counts as a forfeit once the game is under way
func (m *Manager) LeaveGame(player game.Signed, gameID string) (*game.View, error) {
	addr, err := m.Authenticate(player)
	if err != nil {
		return nil, err
	}
	g, err := m.lookup(gameID)
	if err != nil {
		return nil, err
	}

	g.Lock()
	defer g.Unlock()
	return m.leave(g, addr)
}

func (m *Manager) leave(g *game.Game, addr string) (*game.View, error) {
	if !g.HasPlayer(addr) {
		return nil, game.ErrNotJoined
	}

	now := m.opts.Now()
	switch g.Status {
	case game.StatusPending:
		if addr == g.Creator.Address {
			log.Info().Str("game", g.ID).Msg("creator left, cancelling")
			if err := m.end(g, game.StatusCancelled, nil); err != nil {
				return nil, err
			}
			return g.View(), nil
		}
		if err := g.RemovePlayer(addr); err != nil {
			return nil, err
		}
		m.unseat(addr, g.ID)
		v := g.View()
		m.lobby.OnGameStatusChanged(v, g.Status, g.Status)
		m.emit(EventGameLeft, v, addr)

	case game.StatusOngoing:
		if err := g.Forfeit(addr, now); err != nil {
			return nil, err
		}
		m.unseat(addr, g.ID)
		m.emit(EventGameLeft, g.View(), addr)

	default:
		return nil, game.Statef("game %s is %s", g.ID, g.Status)
	}

	log.Info().Str("game", g.ID).Str("player", addr).Str("status", string(g.Status)).Msg("player left")
	return g.View(), nil
}

// StartGame lets the creator start a pending game before it is full
func (m *Manager) StartGame(player game.Signed, gameID string) (*game.View, error) {
	addr, err := m.Authenticate(player)
	if err != nil {
		return nil, err
	}
	g, err := m.lookup(gameID)
	if err != nil {
		return nil, err
	}

	g.Lock()
	defer g.Unlock()

	if addr != g.Creator.Address {
		return nil, game.ErrNotCreator
	}
	if g.Status != game.StatusPending {
		return nil, game.ErrNotPending
	}
	if err := m.start(g); err != nil {
		return nil, err
	}
	return g.View(), nil
}

func (m *Manager) maybeStart(g *game.Game) error {
	if m.opts.StartPolicy != StartAuto || g.Status != game.StatusPending || !g.Full() {
		return nil
	}
	return m.start(g)
}

func (m *Manager) start(g *game.Game) error {
	from := g.Status
	if err := g.Transition(game.StatusOngoing, m.opts.Now()); err != nil {
		return err
	}
	v := g.View()
	m.lobby.OnGameStatusChanged(v, from, g.Status)
	m.emit(EventGameStarted, v, "")
	if m.onGameStart != nil {
		m.onGameStart(v)
	}

	log.Info().Str("game", g.ID).Strs("players", g.Players).Msg("game started")
	return nil
}

// SubmitState merges a player's state submission into an ongoing game. applied is
// false when the submission was older than the stored state and nothing changed.
func (m *Manager) SubmitState(player game.Signed, gameID string, state game.PartialPlayerState, ext []byte) (snapshot game.State, applied bool, err error) {
	addr, err := m.Authenticate(player)
	if err != nil {
		return game.State{}, false, err
	}
	g, err := m.lookup(gameID)
	if err != nil {
		return game.State{}, false, err
	}

	g.Lock()
	defer g.Unlock()

	snapshot, applied, err = g.ApplyStateUpdate(addr, state, ext, m.opts.Thresholds, m.opts.Now())
	if err != nil {
		return game.State{}, false, err
	}
	if applied {
		m.emit(EventGameState, g.View(), addr)
	}
	return snapshot, applied, nil
}

// SettleGame evaluates an ongoing game and closes it. The creator may settle at
// any time; other players only once the evaluator reports the game as decided.
func (m *Manager) SettleGame(player game.Signed, gameID string) (*game.View, error) {
	addr, err := m.Authenticate(player)
	if err != nil {
		return nil, err
	}
	g, err := m.lookup(gameID)
	if err != nil {
		return nil, err
	}

	g.Lock()
	defer g.Unlock()

	switch {
	case g.Status == game.StatusPending:
		return nil, game.ErrNotOngoing
	case g.Status.Terminal():
		return nil, game.Statef("game %s is already %s", g.ID, g.Status)
	case addr != g.Creator.Address && !g.HasPlayer(addr):
		return nil, game.ErrNotJoined
	}

	res, err := m.evaluators.Evaluate(settlement.Input{
		GameID:     g.ID,
		Type:       g.Type,
		Config:     g.Config,
		Players:    append([]string(nil), g.Players...),
		Final:      g.State.Clone(),
		History:    g.History.Entries(),
		Thresholds: m.opts.Thresholds,
	})
	if err != nil {
		return nil, err
	}
	if addr != g.Creator.Address && !res.Decided {
		return nil, game.Statef("game %s is not decided yet", g.ID)
	}

	if g.History.Len() == 0 || len(res.Winners) == 0 {
		err = m.end(g, game.StatusCancelled, nil)
	} else {
		err = m.end(g, game.StatusFinished, &res)
	}
	if err != nil {
		return nil, err
	}
	return g.View(), nil
}

// ForceEnd cancels a non-terminal game without a signed request
func (m *Manager) ForceEnd(gameID string) (*game.View, error) {
	g, err := m.lookup(gameID)
	if err != nil {
		return nil, err
	}

	g.Lock()
	defer g.Unlock()
	if err := m.forceEnd(g); err != nil {
		return nil, err
	}
	return g.View(), nil
}

// forceEnd cancels g, which must be locked
func (m *Manager) forceEnd(g *game.Game) error {
	if g.Status.Terminal() {
		return game.Statef("game %s is already %s", g.ID, g.Status)
	}
	return m.end(g, game.StatusCancelled, nil)
}

// end moves a game to a terminal status. A nil result refunds every stake.
func (m *Manager) end(g *game.Game, to game.Status, res *settlement.Result) error {
	from := g.Status
	if err := g.Transition(to, m.opts.Now()); err != nil {
		return err
	}

	if res != nil {
		g.Winners = append([]string(nil), res.Winners...)
		g.Deltas = res.Deltas
	} else {
		g.Deltas = make(map[string]string, len(g.Players))
		for _, p := range g.Players {
			g.Deltas[p] = "0"
		}
	}

	m.mu.Lock()
	for _, addr := range g.Players {
		if p, ok := m.players[addr]; ok && p.Game == g.ID {
			p.Game = ""
		}
	}
	if to == game.StatusFinished {
		m.recordLocked(g)
	}
	m.mu.Unlock()

	v := g.View()
	m.lobby.OnGameStatusChanged(v, from, to)
	if to == game.StatusFinished {
		m.emit(EventGameFinished, v, "")
	} else {
		m.emit(EventGameCancelled, v, "")
	}
	m.relay.SetEnabled(g.Channel, false)

	if m.onGameEnd != nil {
		m.onGameEnd(v, g.History.Entries())
	}

	log.Info().Str("game", g.ID).Str("status", string(to)).Strs("winners", g.Winners).Dur("duration", g.Duration()).Msg("game ended")
	return nil
}

// recordLocked folds a finished game into every participant's stats. m.mu must be held.
func (m *Manager) recordLocked(g *game.Game) {
	stake, _ := g.Config.Stakes.Value()
	winners := make(map[string]bool, len(g.Winners))
	for _, w := range g.Winners {
		winners[w] = true
	}

	now := m.opts.Now()
	for _, addr := range g.Players {
		s := &m.playerLocked(addr, now).Stats
		s.GamesPlayed++
		if winners[addr] {
			s.Wins++
			s.WinsByGameType[g.Type]++
		} else {
			s.Losses++
			s.LossesByGameType[g.Type]++
		}
		if stake != nil && stake.Sign() > 0 {
			s.TotalStaked = game.AddAmount(s.TotalStaked, stake.String())
			s.StakedByGameType[g.Type] = game.AddAmount(s.StakedByGameType[g.Type], stake.String())
		}
		if d, ok := new(big.Int).SetString(g.Deltas[addr], 10); ok && d.Sign() > 0 {
			s.TotalWon = game.AddAmount(s.TotalWon, d.String())
			s.TotalWonByGameType[g.Type] = game.AddAmount(s.TotalWonByGameType[g.Type], d.String())
		}
	}
}

// Game returns a view of one game
func (m *Manager) Game(gameID string) (*game.View, error) {
	g, err := m.lookup(gameID)
	if err != nil {
		return nil, err
	}
	g.Lock()
	defer g.Unlock()
	return g.View(), nil
}

// History returns a copy of a game's state history
func (m *Manager) History(gameID string) ([]game.Entry, error) {
	g, err := m.lookup(gameID)
	if err != nil {
		return nil, err
	}
	g.Lock()
	defer g.Unlock()
	return g.History.Entries(), nil
}

// ActiveChannels returns the channels of every pending or ongoing game the
// address is seated in
func (m *Manager) ActiveChannels(address string) []string {
	var out []string
	for _, g := range m.all() {
		g.Lock()
		if !g.Status.Terminal() && g.HasPlayer(address) {
			out = append(out, g.Channel)
		}
		g.Unlock()
	}
	return out
}

func (m *Manager) all() []*game.Game {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*game.Game, 0, len(m.games))
	for _, g := range m.games {
		out = append(out, g)
	}
	return out
}

// Games returns a view of every game
func (m *Manager) Games() []*game.View {
	games := m.all()
	out := make([]*game.View, 0, len(games))
	for _, g := range games {
		g.Lock()
		out = append(out, g.View())
		g.Unlock()
	}
	return out
}

// GameCount returns how many games were ever created
func (m *Manager) GameCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}

// Player returns a copy of a player record
func (m *Manager) Player(address string) (game.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[auth.NormalizeAddress(address)]
	if !ok {
		return game.Player{}, game.ErrPlayerNotFound
	}
	out := *p
	out.Stats = p.Stats.Clone()
	return out, nil
}

// PlayerOnline marks a player online and cancels a pending disconnect timer
func (m *Manager) PlayerOnline(address string) {
	m.mu.Lock()
	p := m.playerLocked(address, m.opts.Now())
	was := p.IsOnline
	p.IsOnline = true
	if dt, ok := m.timers[address]; ok {
		dt.timer.Stop()
		delete(m.timers, address)
	}
	m.mu.Unlock()

	if !was {
		m.lobby.OnPlayerPresenceChanged(address, true)
	}
}

// PlayerOffline marks a player offline. When the disconnect policy is not none
// the player's games are handled after the grace period unless it comes back.
func (m *Manager) PlayerOffline(address string) {
	m.mu.Lock()
	p, ok := m.players[address]
	if !ok || !p.IsOnline {
		m.mu.Unlock()
		return
	}
	p.IsOnline = false
	if m.opts.DisconnectPolicy != DisconnectNone {
		if dt, ok := m.timers[address]; ok {
			dt.timer.Stop()
		}
		dt := &disconnectTimer{}
		dt.timer = time.AfterFunc(m.opts.DisconnectGrace, func() { m.expire(address, dt) })
		m.timers[address] = dt
	}
	m.mu.Unlock()

	m.lobby.OnPlayerPresenceChanged(address, false)
}

// expire applies the disconnect policy to a player that did not come back.
// Only the timer currently armed for the address counts.
func (m *Manager) expire(address string, dt *disconnectTimer) {
	m.mu.Lock()
	if dt == nil || m.timers[address] != dt {
		m.mu.Unlock()
		return
	}
	delete(m.timers, address)
	p, ok := m.players[address]
	offline := ok && !p.IsOnline
	m.mu.Unlock()
	if !offline {
		return
	}

	for _, g := range m.all() {
		g.Lock()
		if g.HasPlayer(address) && !g.Status.Terminal() {
			m.applyDisconnect(g, address)
		}
		g.Unlock()
	}
}

func (m *Manager) applyDisconnect(g *game.Game, address string) {
	switch m.opts.DisconnectPolicy {
	case DisconnectLeave:
		if _, err := m.leave(g, address); err != nil {
			log.Warn().Err(err).Str("game", g.ID).Str("player", address).Msg("forced leave failed")
		}
	case DisconnectCancel:
		if !m.allOffline(g) {
			return
		}
		log.Info().Str("game", g.ID).Msg("all players gone, cancelling")
		if err := m.forceEnd(g); err != nil {
			log.Warn().Err(err).Str("game", g.ID).Msg("forced cancel failed")
		}
	}
}

func (m *Manager) allOffline(g *game.Game) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, addr := range g.Players {
		if p, ok := m.players[addr]; ok && p.IsOnline {
			return false
		}
	}
	return true
}

// Close stops the pending disconnect timers
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, dt := range m.timers {
		dt.timer.Stop()
		delete(m.timers, addr)
	}
}
