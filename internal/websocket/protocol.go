package websocket

import (
	"encoding/json"

	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/lobby"
)

// Inbound message types
const (
	TypeCreateGame     = "CREATE_GAME"
	TypeJoinGame       = "JOIN_GAME"
	TypeLeaveGame      = "LEAVE_GAME"
	TypeStartGame      = "START_GAME"
	TypeGameState      = "GAME_STATE"
	TypeSettleGame     = "SETTLE_GAME"
	TypeGetLobbyState  = "GET_LOBBY_STATE"
	TypeGetGameState   = "GET_GAME_STATE"
	TypeGetLeaderboard = "GET_LEADERBOARD"
	TypeIRCMessage     = "IRC_MESSAGE"
	TypeGetIRC         = "GET_IRC"
	TypeSignaling      = "SIGNALING"
)

// Outbound frame types that are not lifecycle events
const (
	TypeLobbyUpdate = "lobbyUpdate"
	TypeLobbyState  = "lobbyState"
	TypeGameView    = "gameState"
	TypeLeaderboard = "leaderboard"
	TypeError       = "error"
)

// Envelope holds the fields every inbound message may carry
type Envelope struct {
	Type   string `json:"type"`
	Time   int64  `json:"time,omitempty"`
	Sender string `json:"sender,omitempty"`
	Nonce  string `json:"nonce,omitempty"`
	Sig    string `json:"sig,omitempty"`
}

func (e Envelope) signed() game.Signed {
	return game.Signed{Address: e.Sender, Nonce: e.Nonce, Sig: e.Sig}
}

// Command is a decoded inbound message. The set of implementations is closed.
type Command interface {
	envelope() Envelope
	isCommand()
}

type CreateGame struct {
	Envelope
	GameType game.Type   `json:"gameType"`
	Config   game.Config `json:"config"`
}

type JoinGame struct {
	Envelope
	Game          string `json:"game"`
	PlayerAddress string `json:"playerAddress"`
}

type LeaveGame struct {
	Envelope
	Game string `json:"game"`
}

type StartGame struct {
	Envelope
	Game string `json:"game"`
}

type GameState struct {
	Envelope
	Game  string                  `json:"game"`
	State game.PartialPlayerState `json:"state"`
	Ext   json.RawMessage         `json:"ext,omitempty"`
}

type SettleGame struct {
	Envelope
	Game string `json:"game"`
}

type GetLobbyState struct {
	Envelope
}

type GetGameState struct {
	Envelope
	Game string `json:"game"`
}

type GetLeaderboard struct {
	Envelope
	GameType game.Type `json:"gameType,omitempty"`
}

type IRCMessage struct {
	Envelope
	Channel string `json:"channel"`
	Message string `json:"message"`
}

type GetIRC struct {
	Envelope
	Channel string `json:"channel"`
}

type Signaling struct {
	Envelope
	SignalType string          `json:"signalType"`
	Game       string          `json:"game,omitempty"`
	Target     string          `json:"target,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Unknown is any message whose type is not recognised
type Unknown struct {
	Envelope
}

func (e Envelope) envelope() Envelope { return e }

func (*CreateGame) isCommand()     {}
func (*JoinGame) isCommand()       {}
func (*LeaveGame) isCommand()      {}
func (*StartGame) isCommand()      {}
func (*GameState) isCommand()      {}
func (*SettleGame) isCommand()     {}
func (*GetLobbyState) isCommand()  {}
func (*GetGameState) isCommand()   {}
func (*GetLeaderboard) isCommand() {}
func (*IRCMessage) isCommand()     {}
func (*GetIRC) isCommand()         {}
func (*Signaling) isCommand()      {}
func (*Unknown) isCommand()        {}

// Decode parses a raw frame into its command. Malformed JSON is a ValidationError;
// an unrecognised type decodes to *Unknown.
func Decode(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, game.Validationf("invalid message format")
	}

	var cmd Command
	switch env.Type {
	case TypeCreateGame:
		cmd = &CreateGame{}
	case TypeJoinGame:
		cmd = &JoinGame{}
	case TypeLeaveGame:
		cmd = &LeaveGame{}
	case TypeStartGame:
		cmd = &StartGame{}
	case TypeGameState:
		cmd = &GameState{}
	case TypeSettleGame:
		cmd = &SettleGame{}
	case TypeGetLobbyState:
		cmd = &GetLobbyState{}
	case TypeGetGameState:
		cmd = &GetGameState{}
	case TypeGetLeaderboard:
		cmd = &GetLeaderboard{}
	case TypeIRCMessage:
		cmd = &IRCMessage{}
	case TypeGetIRC:
		cmd = &GetIRC{}
	case TypeSignaling:
		cmd = &Signaling{}
	default:
		return &Unknown{Envelope: env}, nil
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, game.Validationf("malformed %s message", env.Type)
	}
	return cmd, nil
}

// Message is an outbound frame
type Message struct {
	Type        string                    `json:"type"`
	Time        int64                     `json:"time,omitempty"`
	Game        *game.View                `json:"game,omitempty"`
	Player      string                    `json:"player,omitempty"`
	State       any                       `json:"state,omitempty"`
	GameType    game.Type                 `json:"gameType,omitempty"`
	Leaderboard map[game.Type]lobby.Board `json:"leaderboard,omitempty"`
	Kind        game.Kind                 `json:"kind,omitempty"`
	Message     string                    `json:"message,omitempty"`
}
