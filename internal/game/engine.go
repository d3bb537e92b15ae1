package game

import (
	"bytes"
	"encoding/json"
	"time"
)

// Thresholds are the suspicion scores at which a player is eliminated
type Thresholds struct {
	Lag float64
	Bot float64
}

// DefaultThresholds are used when none are configured
var DefaultThresholds = Thresholds{Lag: 100, Bot: 100}

// ApplyStateUpdate merges a player's submission into the live snapshot and records it in
// the history. It returns the resulting snapshot and whether anything was recorded;
// a submission that is not newer than the stored entry for that player is a no-op.
func (g *Game) ApplyStateUpdate(player string, p PartialPlayerState, gameExt json.RawMessage, th Thresholds, now time.Time) (State, bool, error) {
	if g.Status != StatusOngoing {
		return State{}, false, ErrNotOngoing
	}
	cur, ok := g.State.ByPlayer[player]
	if !ok || !g.HasPlayer(player) {
		return State{}, false, ErrNotJoined
	}

	ts := now.UnixMilli()
	if p.Time != nil {
		ts = *p.Time
	}
	if ts <= cur.Time {
		return g.State.Clone(), false, nil
	}

	ext, err := compactBlob(p.Ext)
	if err != nil {
		return State{}, false, err
	}
	gext, err := compactBlob(gameExt)
	if err != nil {
		return State{}, false, err
	}
	if p.Status != nil && !p.Status.Valid() {
		return State{}, false, Validationf("unknown player status %q", *p.Status)
	}

	next := merge(cur, p, ext, th)
	next.Time = ts

	g.State.ByPlayer[player] = next
	if gext != nil {
		g.State.Ext = gext
	}
	g.History.Append(player, g.State, now.UnixMilli())
	g.Version++
	return g.State.Clone(), true, nil
}

func merge(cur PlayerGameState, p PartialPlayerState, ext json.RawMessage, th Thresholds) PlayerGameState {
	next := cur
	eliminated := cur.Status == PlayerEliminated

	// suspicion scores only ever go up
	if p.LagScore != nil && *p.LagScore > next.LagScore {
		next.LagScore = *p.LagScore
	}
	if p.BotScore != nil && *p.BotScore > next.BotScore {
		next.BotScore = *p.BotScore
	}
	if p.Score != nil {
		next.Score = *p.Score
	}

	if !eliminated {
		if p.Pos != nil {
			next.Pos = *p.Pos
		}
		if p.Rot != nil {
			next.Rot = *p.Rot
		}
		if p.Vel != nil {
			next.Vel = *p.Vel
		}
		if p.Health != nil {
			next.Health = *p.Health
		}
		if p.Energy != nil {
			next.Energy = *p.Energy
		}
		if p.Status != nil {
			next.Status = *p.Status
		}
		if ext != nil {
			next.Ext = ext
		}
	}

	if (th.Lag > 0 && next.LagScore >= th.Lag) || (th.Bot > 0 && next.BotScore >= th.Bot) {
		next.Status = PlayerEliminated
	}
	return next
}

// compactBlob normalises an opaque JSON blob so its hash is stable across re-encoding
func compactBlob(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, Validationf("ext must be valid JSON")
	}
	return json.RawMessage(buf.Bytes()), nil
}
