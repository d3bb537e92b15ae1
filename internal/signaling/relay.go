package signaling

import (
	"encoding/json"

	"github.com/game-lobby/internal/game"
	"github.com/rs/zerolog/log"
)

const TypeSignaling = "SIGNALING"

// Signal types accepted by the relay
const (
	Offer        = "offer"
	Answer       = "answer"
	ICECandidate = "ice-candidate"
)

// Peer is a connection that can receive relayed frames
type Peer interface {
	ID() string
	Deliver(frame []byte) bool
}

// Directory finds the peers a signal should reach
type Directory interface {
	// BroadcastOthers sends frame to every open peer except the one with excludeID
	// and returns how many took it
	BroadcastOthers(excludeID string, frame []byte) int
	// ByAddress returns the peers bound to a player address
	ByAddress(address string) []Peer
	// InChannel returns the peers subscribed to a channel
	InChannel(channel string) []Peer
}

// Signal is a WebRTC negotiation message. Payload is forwarded untouched.
type Signal struct {
	Type       string          `json:"type"`
	Sender     string          `json:"sender,omitempty"`
	SignalType string          `json:"signalType"`
	Game       string          `json:"game,omitempty"`
	Target     string          `json:"target,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Relay forwards signals between peers
type Relay struct {
	dir Directory
}

// NewRelay creates a relay over a peer directory
func NewRelay(dir Directory) *Relay {
	return &Relay{dir: dir}
}

// Relay forwards sig from the sending peer and returns how many peers received it
func (r *Relay) Relay(from Peer, sig Signal) (int, error) {
	switch sig.SignalType {
	case Offer, Answer, ICECandidate:
	default:
		return 0, game.Validationf("unknown signalType %q", sig.SignalType)
	}
	sig.Type = TypeSignaling

	frame, err := json.Marshal(sig)
	if err != nil {
		// a payload that is not valid JSON cannot be framed
		return 0, game.Validationf("payload must be valid JSON")
	}

	var peers []Peer
	switch {
	case sig.Target != "":
		peers = r.dir.ByAddress(sig.Target)
	case sig.Game != "":
		peers = r.dir.InChannel(game.ChannelFor(sig.Game))
	default:
		return r.dir.BroadcastOthers(from.ID(), frame), nil
	}

	sent := 0
	for _, p := range peers {
		if p.ID() == from.ID() {
			continue
		}
		if !p.Deliver(frame) {
			log.Warn().Str("peer", p.ID()).Str("signalType", sig.SignalType).Msg("signal not delivered")
			continue
		}
		sent++
	}
	return sent, nil
}
