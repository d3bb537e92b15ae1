package settlement

import (
	"math/big"
	"sort"

	"github.com/game-lobby/internal/game"
)

// ScoreEvaluator is the default evaluator: highest score among the players that were
// never eliminated wins, ties share the pot.
type ScoreEvaluator struct{}

func NewScoreEvaluator() *ScoreEvaluator {
	return &ScoreEvaluator{}
}

func (ScoreEvaluator) Evaluate(in Input) (Result, error) {
	res := Result{Deltas: make(map[string]string, len(in.Players))}

	disqualified := replay(in)
	for _, p := range in.Players {
		if disqualified[p] {
			res.Disqualified = append(res.Disqualified, p)
		}
	}
	sort.Strings(res.Disqualified)

	alive := 0
	for _, p := range in.Players {
		if in.Final.ByPlayer[p].Status == game.PlayerAlive {
			alive++
		}
	}
	res.Decided = alive <= 1

	if len(in.History) > 0 {
		res.Winners = topScorers(in, disqualified)
	}

	stake, ok := in.Config.Stakes.Value()
	if !ok {
		return Result{}, game.Validationf("invalid stake amount")
	}
	for p, d := range Distribute(stake, in.Players, res.Winners) {
		res.Deltas[p] = d.String()
	}
	return res, nil
}

// replay walks the history and flags every player whose suspicion scores ever
// crossed a threshold or who ended up eliminated
func replay(in Input) map[string]bool {
	out := make(map[string]bool)
	check := func(p string, st game.PlayerGameState) {
		if st.Status == game.PlayerEliminated ||
			(in.Thresholds.Lag > 0 && st.LagScore >= in.Thresholds.Lag) ||
			(in.Thresholds.Bot > 0 && st.BotScore >= in.Thresholds.Bot) {
			out[p] = true
		}
	}
	for _, e := range in.History {
		for p, st := range e.State.ByPlayer {
			check(p, st)
		}
	}
	for p, st := range in.Final.ByPlayer {
		check(p, st)
	}
	return out
}

func topScorers(in Input, disqualified map[string]bool) []string {
	var (
		best    float64
		winners []string
	)
	for _, p := range in.Players {
		if disqualified[p] {
			continue
		}
		st, ok := in.Final.ByPlayer[p]
		if !ok {
			continue
		}
		switch {
		case winners == nil || st.Score > best:
			best = st.Score
			winners = []string{p}
		case st.Score == best:
			winners = append(winners, p)
		}
	}
	sort.Strings(winners)
	return winners
}

// Distribute splits the pot (stake per player) evenly between winners, the remainder
// going to the first winner. Without winners every delta is zero.
func Distribute(stake *big.Int, players, winners []string) map[string]*big.Int {
	out := make(map[string]*big.Int, len(players))
	for _, p := range players {
		out[p] = new(big.Int)
	}
	if len(winners) == 0 || stake.Sign() == 0 {
		return out
	}

	pot := new(big.Int).Mul(stake, big.NewInt(int64(len(players))))
	share, rem := new(big.Int).QuoRem(pot, big.NewInt(int64(len(winners))), new(big.Int))

	for _, p := range players {
		out[p].Neg(stake)
	}
	for i, w := range winners {
		payout := new(big.Int).Set(share)
		if i == 0 {
			payout.Add(payout, rem)
		}
		out[w] = payout.Sub(payout, stake)
	}
	return out
}
