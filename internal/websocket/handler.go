package websocket

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/auth"
	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/irc"
	"github.com/game-lobby/internal/lifecycle"
	"github.com/game-lobby/internal/lobby"
	"github.com/game-lobby/internal/signaling"
)

// MaxChatMessageLength bounds a single IRC message
const MaxChatMessageLength = 2000

// Handler processes WebSocket messages
type Handler struct {
	hub       *Hub
	lifecycle *lifecycle.Manager
	lobby     *lobby.Manager
	relay     *irc.Relay
	signals   *signaling.Relay
	now       func() time.Time
}

// NewHandler creates a new message handler
func NewHandler(hub *Hub, lc *lifecycle.Manager, lobbyManager *lobby.Manager, relay *irc.Relay) *Handler {
	return &Handler{
		hub:       hub,
		lifecycle: lc,
		lobby:     lobbyManager,
		relay:     relay,
		signals:   signaling.NewRelay(hub),
		now:       time.Now,
	}
}

// HandleMessage processes an incoming message. Failures are reported to the
// sending client only.
func (h *Handler) HandleMessage(client *Client, data []byte) {
	cmd, err := Decode(data)
	if err != nil {
		client.sendError(err, nil)
		return
	}

	switch cmd := cmd.(type) {
	case *CreateGame:
		h.handleCreateGame(client, cmd)
	case *JoinGame:
		h.handleJoinGame(client, cmd)
	case *LeaveGame:
		h.handleLeaveGame(client, cmd)
	case *StartGame:
		h.handleGameAction(client, cmd.Envelope, cmd.Game, h.lifecycle.StartGame)
	case *SettleGame:
		h.handleGameAction(client, cmd.Envelope, cmd.Game, h.lifecycle.SettleGame)
	case *GameState:
		h.handleGameState(client, cmd)
	case *GetLobbyState:
		client.sendMessage(Message{Type: TypeLobbyState, State: h.lobby.Snapshot()})
	case *GetGameState:
		h.handleGetGameState(client, cmd)
	case *GetLeaderboard:
		h.handleGetLeaderboard(client, cmd)
	case *IRCMessage:
		h.handleIRCMessage(client, cmd)
	case *GetIRC:
		h.handleGetIRC(client, cmd)
	case *Signaling:
		h.handleSignaling(client, cmd)
	case *Unknown:
		log.Debug().Str("client", client.id).Str("type", cmd.Type).Msg("ignoring unknown message type")
	}
}

// checkBinding rejects a sender that differs from the identity the connection already proved
func (h *Handler) checkBinding(client *Client, env Envelope) bool {
	bound := client.Address()
	if bound == "" || bound == auth.NormalizeAddress(env.Sender) {
		return true
	}
	client.sendError(game.Authenticationf("connection is bound to %s", bound), nil)
	return false
}

// bindAfter binds the connection once a signed action got past authentication
func (h *Handler) bindAfter(client *Client, env Envelope, err error) {
	if game.KindOf(err) == game.KindAuthentication {
		return
	}
	h.hub.Bind(client, auth.NormalizeAddress(env.Sender))
}

// fail reports err, attaching the game's view to state errors
func (h *Handler) fail(client *Client, err error, gameID string) {
	var current *game.View
	if game.KindOf(err) == game.KindState && gameID != "" {
		current, _ = h.lifecycle.Game(gameID)
	}
	client.sendError(err, current)
}

// knownChannel rejects the channel of a game this process does not hold
func (h *Handler) knownChannel(channel string) error {
	id, ok := strings.CutPrefix(channel, game.ChannelFor(""))
	if !ok {
		return nil
	}
	_, err := h.lifecycle.Game(id)
	return err
}

func (h *Handler) handleCreateGame(client *Client, cmd *CreateGame) {
	if !h.checkBinding(client, cmd.Envelope) {
		return
	}
	v, err := h.lifecycle.CreateGame(cmd.signed(), cmd.GameType, cmd.Config)
	h.bindAfter(client, cmd.Envelope, err)
	if err != nil {
		client.sendError(err, nil)
		return
	}
	h.hub.SubscribeAddress(v.Creator, v.Channel)
}

func (h *Handler) handleJoinGame(client *Client, cmd *JoinGame) {
	if !h.checkBinding(client, cmd.Envelope) {
		return
	}
	if cmd.PlayerAddress != "" && auth.NormalizeAddress(cmd.PlayerAddress) != auth.NormalizeAddress(cmd.Sender) {
		client.sendError(game.Authenticationf("playerAddress must be the sender"), nil)
		return
	}
	v, err := h.lifecycle.JoinGame(cmd.signed(), cmd.Game)
	h.bindAfter(client, cmd.Envelope, err)
	if err != nil {
		h.fail(client, err, cmd.Game)
		return
	}
	h.hub.SubscribeAddress(auth.NormalizeAddress(cmd.Sender), v.Channel)
}

func (h *Handler) handleLeaveGame(client *Client, cmd *LeaveGame) {
	if !h.checkBinding(client, cmd.Envelope) {
		return
	}
	v, err := h.lifecycle.LeaveGame(cmd.signed(), cmd.Game)
	h.bindAfter(client, cmd.Envelope, err)
	if err != nil {
		h.fail(client, err, cmd.Game)
		return
	}
	if v.Status == game.StatusPending {
		h.hub.UnsubscribeAddress(auth.NormalizeAddress(cmd.Sender), v.Channel)
	}
}

// handleGameAction runs a signed action whose outcome is broadcast as a lifecycle event
func (h *Handler) handleGameAction(client *Client, env Envelope, gameID string, action func(game.Signed, string) (*game.View, error)) {
	if !h.checkBinding(client, env) {
		return
	}
	_, err := action(env.signed(), gameID)
	h.bindAfter(client, env, err)
	if err != nil {
		h.fail(client, err, gameID)
	}
}

func (h *Handler) handleGameState(client *Client, cmd *GameState) {
	if !h.checkBinding(client, cmd.Envelope) {
		return
	}
	_, applied, err := h.lifecycle.SubmitState(cmd.signed(), cmd.Game, cmd.State, cmd.Ext)
	h.bindAfter(client, cmd.Envelope, err)
	if err != nil {
		h.fail(client, err, cmd.Game)
		return
	}
	if !applied {
		// stale submission: hand the sender the authoritative state
		if v, err := h.lifecycle.Game(cmd.Game); err == nil {
			client.sendMessage(Message{Type: TypeGameView, Game: v})
		}
	}
}

func (h *Handler) handleGetGameState(client *Client, cmd *GetGameState) {
	v, err := h.lifecycle.Game(cmd.Game)
	if err != nil {
		client.sendError(err, nil)
		return
	}
	client.sendMessage(Message{Type: TypeGameView, Game: v})
}

func (h *Handler) handleGetLeaderboard(client *Client, cmd *GetLeaderboard) {
	if cmd.GameType == "" {
		client.sendMessage(Message{Type: TypeLeaderboard, Leaderboard: h.lobby.Leaderboards()})
		return
	}
	if !cmd.GameType.Valid() {
		client.sendError(game.Validationf("unknown game type %q", cmd.GameType), nil)
		return
	}
	client.sendMessage(Message{
		Type:        TypeLeaderboard,
		GameType:    cmd.GameType,
		Leaderboard: map[game.Type]lobby.Board{cmd.GameType: h.lobby.Leaderboard(cmd.GameType)},
	})
}

func (h *Handler) handleIRCMessage(client *Client, cmd *IRCMessage) {
	if !h.checkBinding(client, cmd.Envelope) {
		return
	}
	addr, err := h.lifecycle.Authenticate(cmd.signed())
	if err != nil {
		client.sendError(err, nil)
		return
	}
	h.hub.Bind(client, addr)

	channel, err := irc.NormalizeChannel(cmd.Channel)
	if err == nil {
		err = h.knownChannel(channel)
	}
	if err != nil {
		client.sendError(err, nil)
		return
	}
	text := strings.TrimSpace(cmd.Message)
	if text == "" || len(text) > MaxChatMessageLength {
		client.sendError(game.Validationf("message must be 1 to %d bytes", MaxChatMessageLength), nil)
		return
	}

	err = h.relay.Publish(channel, irc.Message{Time: h.now().UnixMilli(), Sender: addr, Message: text})
	if err != nil {
		client.sendError(err, nil)
	}
}

func (h *Handler) handleGetIRC(client *Client, cmd *GetIRC) {
	channel, err := irc.NormalizeChannel(cmd.Channel)
	if err == nil {
		err = h.knownChannel(channel)
	}
	if err != nil {
		client.sendError(err, nil)
		return
	}
	if auth.IsAddress(channel) && channel != client.Address() {
		client.sendError(game.Authenticationf("direct channels are private"), nil)
		return
	}

	// fetching a channel also follows it
	h.relay.Subscribe(client, channel)
	history := h.relay.History(channel)
	client.sendFrame(irc.TypeUpdate, irc.Update{
		Type:     irc.TypeUpdate,
		Channel:  channel,
		Messages: history.Messages,
	})
}

func (h *Handler) handleSignaling(client *Client, cmd *Signaling) {
	sender := client.Address()
	if sender == "" {
		sender = auth.NormalizeAddress(cmd.Sender)
	}
	if cmd.Game != "" {
		if _, err := h.lifecycle.Game(cmd.Game); err != nil {
			client.sendError(err, nil)
			return
		}
	}
	n, err := h.signals.Relay(client, signaling.Signal{
		Sender:     sender,
		SignalType: cmd.SignalType,
		Game:       cmd.Game,
		Target:     auth.NormalizeAddress(cmd.Target),
		Payload:    cmd.Payload,
	})
	if err != nil {
		client.sendError(err, nil)
		return
	}
	log.Debug().Str("client", client.id).Str("signalType", cmd.SignalType).Int("peers", n).Msg("signal relayed")
}
