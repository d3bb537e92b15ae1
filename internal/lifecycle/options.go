package lifecycle

import (
	"fmt"
	"time"

	"github.com/game-lobby/internal/game"
)

// StartPolicy decides when a pending game starts
type StartPolicy string

const (
	// StartAuto starts a game as soon as its roster is full
	StartAuto StartPolicy = "auto"
	// StartManual waits for the creator's START_GAME
	StartManual StartPolicy = "manual"
)

// DisconnectPolicy decides what happens to the games of a player that went offline
type DisconnectPolicy string

const (
	DisconnectNone   DisconnectPolicy = "none"
	DisconnectLeave  DisconnectPolicy = "leave"
	DisconnectCancel DisconnectPolicy = "cancel"
)

// DefaultDisconnectGrace is how long a player may stay offline before the policy applies
const DefaultDisconnectGrace = 30 * time.Second

// ParseStartPolicy parses a GAME_START_POLICY value
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch p := StartPolicy(s); p {
	case StartAuto, StartManual:
		return p, nil
	case "":
		return StartAuto, nil
	}
	return "", fmt.Errorf("unknown start policy %q", s)
}

// ParseDisconnectPolicy parses a DISCONNECT_POLICY value
func ParseDisconnectPolicy(s string) (DisconnectPolicy, error) {
	switch p := DisconnectPolicy(s); p {
	case DisconnectNone, DisconnectLeave, DisconnectCancel:
		return p, nil
	case "":
		return DisconnectCancel, nil
	}
	return "", fmt.Errorf("unknown disconnect policy %q", s)
}

// Options tune the lifecycle manager
type Options struct {
	StartPolicy      StartPolicy
	DisconnectPolicy DisconnectPolicy
	DisconnectGrace  time.Duration
	Thresholds       game.Thresholds
	MaxPlayersLimit  int
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StartPolicy == "" {
		o.StartPolicy = StartAuto
	}
	if o.DisconnectPolicy == "" {
		o.DisconnectPolicy = DisconnectCancel
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = DefaultDisconnectGrace
	}
	if o.Thresholds == (game.Thresholds{}) {
		o.Thresholds = game.DefaultThresholds
	}
	if o.MaxPlayersLimit <= 0 {
		o.MaxPlayersLimit = game.DefaultMaxPlayersLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
