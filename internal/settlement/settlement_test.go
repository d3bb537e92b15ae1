package settlement

import (
	"math/big"
	"testing"

	"github.com/game-lobby/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateOf(entries map[string]game.PlayerGameState) game.State {
	s := game.NewState()
	for p, st := range entries {
		s.ByPlayer[p] = st
	}
	return s
}

func input(final game.State, stake string, history ...game.State) Input {
	in := Input{
		GameID:     "g1",
		Type:       game.TypeBullRun,
		Config:     game.Config{MaxPlayers: 3},
		Players:    []string{"0xa", "0xb", "0xc"},
		Final:      final,
		Thresholds: game.DefaultThresholds,
	}
	if stake != "" {
		in.Config.Stakes = &game.Stakes{Token: "0xtoken", Amount: stake}
	}
	var h game.History
	for i, s := range history {
		h.Append("0xa", s, int64(i))
	}
	in.History = h.Entries()
	return in
}

func TestScoreEvaluator_HighestScoreWins(t *testing.T) {
	final := stateOf(map[string]game.PlayerGameState{
		"0xa": {Status: game.PlayerDead, Score: 10},
		"0xb": {Status: game.PlayerAlive, Score: 30},
		"0xc": {Status: game.PlayerDead, Score: 20},
	})

	res, err := NewScoreEvaluator().Evaluate(input(final, "100", final))
	require.NoError(t, err)

	assert.Equal(t, []string{"0xb"}, res.Winners)
	assert.True(t, res.Decided)
	assert.Equal(t, map[string]string{"0xa": "-100", "0xb": "200", "0xc": "-100"}, res.Deltas)
}

func TestScoreEvaluator_TieSharesPotWithRemainder(t *testing.T) {
	final := stateOf(map[string]game.PlayerGameState{
		"0xa": {Status: game.PlayerAlive, Score: 5},
		"0xb": {Status: game.PlayerAlive, Score: 5},
		"0xc": {Status: game.PlayerAlive, Score: 1},
	})

	res, err := NewScoreEvaluator().Evaluate(input(final, "1", final))
	require.NoError(t, err)

	assert.Equal(t, []string{"0xa", "0xb"}, res.Winners)
	assert.False(t, res.Decided)
	// pot 3 split in two: 2 for the first winner, 1 for the second
	assert.Equal(t, map[string]string{"0xa": "1", "0xb": "0", "0xc": "-1"}, res.Deltas)
}

func TestScoreEvaluator_ReplayDisqualifiesCheaters(t *testing.T) {
	cheating := stateOf(map[string]game.PlayerGameState{
		"0xa": {Status: game.PlayerAlive, Score: 1, BotScore: 150},
		"0xb": {Status: game.PlayerAlive, Score: 2},
		"0xc": {Status: game.PlayerAlive, Score: 3},
	})
	final := stateOf(map[string]game.PlayerGameState{
		"0xa": {Status: game.PlayerAlive, Score: 99},
		"0xb": {Status: game.PlayerAlive, Score: 50},
		"0xc": {Status: game.PlayerEliminated, Score: 70},
	})

	res, err := NewScoreEvaluator().Evaluate(input(final, "", cheating, final))
	require.NoError(t, err)

	assert.Equal(t, []string{"0xb"}, res.Winners)
	assert.Equal(t, []string{"0xa", "0xc"}, res.Disqualified)
	assert.Equal(t, "0", res.Deltas["0xb"], "free to play games move no stake")
}

func TestScoreEvaluator_EmptyHistoryHasNoWinner(t *testing.T) {
	final := stateOf(map[string]game.PlayerGameState{
		"0xa": {Status: game.PlayerAlive},
		"0xb": {Status: game.PlayerAlive},
		"0xc": {Status: game.PlayerAlive},
	})

	res, err := NewScoreEvaluator().Evaluate(input(final, "10"))
	require.NoError(t, err)

	assert.Empty(t, res.Winners)
	for _, d := range res.Deltas {
		assert.Equal(t, "0", d)
	}
}

func TestScoreEvaluator_Deterministic(t *testing.T) {
	final := stateOf(map[string]game.PlayerGameState{
		"0xa": {Status: game.PlayerAlive, Score: 7},
		"0xb": {Status: game.PlayerAlive, Score: 7},
		"0xc": {Status: game.PlayerAlive, Score: 7},
	})
	in := input(final, "7", final, final)

	first, err := NewScoreEvaluator().Evaluate(in)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := NewScoreEvaluator().Evaluate(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDistribute_ConservesPot(t *testing.T) {
	stake := big.NewInt(1_000_003)
	players := []string{"a", "b", "c", "d", "e"}
	deltas := Distribute(stake, players, []string{"b", "d", "e"})

	sum := new(big.Int)
	for _, d := range deltas {
		sum.Add(sum, d)
	}
	assert.Equal(t, 0, sum.Sign())
}

func TestRegistry_SelectsByType(t *testing.T) {
	called := ""
	r := NewRegistry(nil)
	r.Register(game.TypeEthris, EvaluatorFunc(func(in Input) (Result, error) {
		called = "ethris"
		return Result{Winners: []string{"0xc"}}, nil
	}))

	res, err := r.Evaluate(Input{Type: game.TypeEthris})
	require.NoError(t, err)
	assert.Equal(t, "ethris", called)
	assert.Equal(t, []string{"0xc"}, res.Winners)

	assert.IsType(t, &ScoreEvaluator{}, r.For(game.TypePacmoon))
}
