package lobby

import (
	"math/big"
	"sort"
)

// rank builds the three rankings of a game type from its player records.
// Ties fall back to the address so the order is stable between snapshots.
func rank(recs map[string]*record) Board {
	all := make([]Entry, 0, len(recs))
	won := make(map[string]*big.Int, len(recs))
	for addr, r := range recs {
		e := Entry{
			Address:  addr,
			Games:    r.games,
			Wins:     r.wins,
			Losses:   r.games - r.wins,
			StakeWon: r.stakeWon.String(),
		}
		if r.games > 0 {
			e.WinRate = float64(r.wins) / float64(r.games)
		}
		all = append(all, e)
		won[addr] = r.stakeWon
	}

	byWinRate := sorted(all, func(a, b Entry) int {
		switch {
		case a.WinRate > b.WinRate:
			return -1
		case a.WinRate < b.WinRate:
			return 1
		}
		return b.Games - a.Games
	})
	byWins := sorted(all, func(a, b Entry) int {
		return b.Wins - a.Wins
	})
	byStakeWin := sorted(all, func(a, b Entry) int {
		return won[b.Address].Cmp(won[a.Address])
	})

	return Board{ByWinRate: byWinRate, ByWins: byWins, ByStakeWin: byStakeWin}
}

func sorted(all []Entry, cmp func(a, b Entry) int) []Entry {
	out := append([]Entry(nil), all...)
	sort.Slice(out, func(i, j int) bool {
		if c := cmp(out[i], out[j]); c != 0 {
			return c < 0
		}
		return out[i].Address < out[j].Address
	})
	if len(out) > LeaderboardSize {
		out = out[:LeaderboardSize]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func addresses(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Address
	}
	return out
}
