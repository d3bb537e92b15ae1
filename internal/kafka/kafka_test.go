package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/lifecycle"
)

var t0 = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func view(status game.Status) *game.View {
	return &game.View{
		ID:         "g1",
		Type:       game.TypeEthris,
		Status:     status,
		Config:     game.Config{MaxPlayers: 2, Stakes: &game.Stakes{Token: "0xtoken", Amount: "100"}},
		Creator:    "0xa",
		Players:    []string{"0xa", "0xb"},
		StartedAt:  t0.UnixMilli(),
		EndedAt:    t0.Add(90 * time.Second).UnixMilli(),
		Winners:    []string{"0xb"},
		Deltas:     map[string]string{"0xa": "-100", "0xb": "100"},
		HistoryLen: 4,
	}
}

func event(t *testing.T, typ lifecycle.EventType, v *game.View, player string) GameEvent {
	t.Helper()
	ev, err := NewGameEvent(lifecycle.Event{Type: typ, Game: v, Player: player, Time: t0.UnixMilli()})
	require.NoError(t, err)
	return ev
}

func TestNewGameEvent(t *testing.T) {
	ev := event(t, lifecycle.EventGameStarted, view(game.StatusOngoing), "")
	assert.Equal(t, "g1", ev.GameID)
	assert.Equal(t, game.TypeEthris, ev.GameType)
	assert.True(t, ev.Timestamp.Equal(t0))
	assert.JSONEq(t, `{"players":["0xa","0xb"],"stake":"100","token":"0xtoken"}`, string(ev.Data))

	ev = event(t, lifecycle.EventGameFinished, view(game.StatusFinished), "")
	var end GameEndData
	require.NoError(t, json.Unmarshal(ev.Data, &end))
	assert.Equal(t, int64(90), end.DurationSeconds)
	assert.Equal(t, []string{"0xb"}, end.Winners)
	assert.Equal(t, 4, end.HistoryLength)
}

func TestConsumer_Aggregates(t *testing.T) {
	c := newAggregator()
	finished := view(game.StatusFinished)
	cancelled := view(game.StatusCancelled)
	cancelled.ID = "g2"

	for _, ev := range []GameEvent{
		event(t, lifecycle.EventGameCreated, finished, "0xa"),
		event(t, lifecycle.EventGameStarted, finished, ""),
		event(t, lifecycle.EventGameState, finished, "0xa"),
		event(t, lifecycle.EventGameState, finished, "0xa"),
		event(t, lifecycle.EventGameFinished, finished, ""),
		event(t, lifecycle.EventGameCreated, cancelled, "0xa"),
		event(t, lifecycle.EventGameCancelled, cancelled, ""),
	} {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		c.processMessage(raw)
	}
	c.processMessage([]byte("not json"))

	m := c.GetMetrics()
	assert.Equal(t, int64(2), m.GamesCreated)
	assert.Equal(t, int64(1), m.GamesStarted)
	assert.Equal(t, int64(1), m.GamesFinished)
	assert.Equal(t, int64(1), m.GamesCancelled)
	assert.Equal(t, int64(2), m.StateUpdates)
	assert.Equal(t, 2, m.GamesByType[game.TypeEthris])
	assert.Equal(t, &PlayerMetrics{Losses: 1, TotalGames: 1, StateUpdates: 2}, m.PlayerStats["0xa"])
	assert.Equal(t, &PlayerMetrics{Wins: 1, TotalGames: 1}, m.PlayerStats["0xb"])

	assert.Equal(t, 90.0, c.GetAverageGameDuration())
	assert.Equal(t, "0xb", c.GetMostFrequentWinner())

	perHour := c.GetGamesPerHour(t0)
	assert.Len(t, perHour, 24)
	assert.Equal(t, 1, perHour["2024-03-01-12"])

	// the copy is detached
	m.PlayerStats["0xb"].Wins = 99
	assert.Equal(t, 1, c.GetMetrics().PlayerStats["0xb"].Wins)
}

// failingGroup is a consumer group whose sessions always fail
type failingGroup struct {
	sarama.ConsumerGroup
	calls  int
	closed bool
}

func (g *failingGroup) Consume(context.Context, []string, sarama.ConsumerGroupHandler) error {
	g.calls++
	return sarama.ErrOutOfBrokers
}

func (g *failingGroup) Close() error {
	g.closed = true
	return nil
}

func TestConsumer_BacksOffAfterFailedSession(t *testing.T) {
	group := &failingGroup{}
	c := newAggregator()
	c.consumer = group
	c.retry = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	assert.GreaterOrEqual(t, group.calls, 1)
	assert.LessOrEqual(t, group.calls, 4)
	assert.True(t, group.closed)
}

func TestProducer_SendsQueuedEvents(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)

	var sent []GameEvent
	collect := func(val []byte) error {
		var ev GameEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		sent = append(sent, ev)
		return nil
	}
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(collect)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(collect)

	p := newProducer(sp)
	require.True(t, p.IsEnabled())
	p.Emit(lifecycle.Event{Type: lifecycle.EventGameStarted, Game: view(game.StatusOngoing), Time: t0.UnixMilli()})
	p.Emit(lifecycle.Event{Type: lifecycle.EventGameFinished, Game: view(game.StatusFinished), Time: t0.UnixMilli()})
	p.Emit(lifecycle.Event{Type: lifecycle.EventGameState})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	require.NoError(t, p.Close())

	require.Len(t, sent, 2)
	assert.Equal(t, lifecycle.EventGameStarted, sent[0].Type)
	assert.Equal(t, lifecycle.EventGameFinished, sent[1].Type)
}

func TestProducer_Disabled(t *testing.T) {
	p := NewProducer(nil)
	assert.False(t, p.IsEnabled())
	p.Emit(lifecycle.Event{Type: lifecycle.EventGameStarted, Game: view(game.StatusOngoing)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, p.Run(ctx))
	assert.NoError(t, p.Close())
}
