package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/lifecycle"
)

const consumerGroup = "analytics-consumer"

// retryDelay is the pause after a failed session before the group is joined again
const retryDelay = 5 * time.Second

// AnalyticsMetrics holds aggregated analytics data
type AnalyticsMetrics struct {
	GamesCreated   int64                     `json:"gamesCreated"`
	GamesStarted   int64                     `json:"gamesStarted"`
	GamesFinished  int64                     `json:"gamesFinished"`
	GamesCancelled int64                     `json:"gamesCancelled"`
	StateUpdates   int64                     `json:"stateUpdates"`
	TotalDuration  int64                     `json:"totalDuration"`
	GamesByType    map[game.Type]int         `json:"gamesByType"`
	WinCounts      map[string]int            `json:"winCounts"`
	GamesPerHour   map[string]int            `json:"gamesPerHour"`
	GamesPerDay    map[string]int            `json:"gamesPerDay"`
	PlayerStats    map[string]*PlayerMetrics `json:"playerStats"`
}

// PlayerMetrics holds per-player analytics
type PlayerMetrics struct {
	Wins         int   `json:"wins"`
	Losses       int   `json:"losses"`
	TotalGames   int   `json:"totalGames"`
	StateUpdates int64 `json:"stateUpdates"`
}

func newMetrics() *AnalyticsMetrics {
	return &AnalyticsMetrics{
		GamesByType:  make(map[game.Type]int),
		WinCounts:    make(map[string]int),
		GamesPerHour: make(map[string]int),
		GamesPerDay:  make(map[string]int),
		PlayerStats:  make(map[string]*PlayerMetrics),
	}
}

func (m *AnalyticsMetrics) player(addr string) *PlayerMetrics {
	p, ok := m.PlayerStats[addr]
	if !ok {
		p = &PlayerMetrics{}
		m.PlayerStats[addr] = p
	}
	return p
}

// Consumer aggregates the game event stream for the analytics endpoint
type Consumer struct {
	consumer sarama.ConsumerGroup
	metrics  *AnalyticsMetrics
	retry    time.Duration
	mu       sync.RWMutex
}

// NewConsumer joins the analytics consumer group
func NewConsumer(brokers []string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, consumerGroup, config)
	if err != nil {
		return nil, err
	}
	return &Consumer{consumer: group, metrics: newMetrics(), retry: retryDelay}, nil
}

// newAggregator is a consumer without a group, fed through apply
func newAggregator() *Consumer {
	return &Consumer{metrics: newMetrics(), retry: retryDelay}
}

// Run consumes events until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().Msg("kafka consumer started")
	defer c.consumer.Close()
	for {
		if err := c.consumer.Consume(ctx, []string{TopicGameEvents}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Error().Err(err).Dur("retry", c.retry).Msg("kafka consumer error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retry):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Setup is called at the beginning of a new session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is called at the end of a session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		c.processMessage(msg.Value)
		session.MarkMessage(msg, "")
	}
	return nil
}

// processMessage handles a single event message
func (c *Consumer) processMessage(value []byte) {
	var event GameEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Warn().Err(err).Msg("skipping malformed game event")
		return
	}
	if err := c.apply(event); err != nil {
		log.Warn().Err(err).Str("game", event.GameID).Str("type", string(event.Type)).Msg("skipping game event")
	}
}

func (c *Consumer) apply(event GameEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics

	switch event.Type {
	case lifecycle.EventGameCreated:
		m.GamesCreated++
		m.GamesByType[event.GameType]++

	case lifecycle.EventGameStarted:
		var data GameStartData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		m.GamesStarted++
		m.GamesPerHour[event.Timestamp.Format("2006-01-02-15")]++
		m.GamesPerDay[event.Timestamp.Format("2006-01-02")]++
		for _, p := range data.Players {
			m.player(p).TotalGames++
		}

	case lifecycle.EventGameState:
		var data StateData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		m.StateUpdates++
		m.player(data.Player).StateUpdates++

	case lifecycle.EventGameFinished, lifecycle.EventGameCancelled:
		var data GameEndData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if data.Status == game.StatusCancelled {
			m.GamesCancelled++
			return nil
		}
		m.GamesFinished++
		m.TotalDuration += data.DurationSeconds
		won := make(map[string]bool, len(data.Winners))
		for _, w := range data.Winners {
			won[w] = true
			m.WinCounts[w]++
			m.player(w).Wins++
		}
		for _, p := range data.Players {
			if !won[p] {
				m.player(p).Losses++
			}
		}
	}
	return nil
}

// GetMetrics returns a copy of the current metrics
func (c *Consumer) GetMetrics() *AnalyticsMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := *c.metrics
	out.GamesByType = make(map[game.Type]int, len(c.metrics.GamesByType))
	for k, v := range c.metrics.GamesByType {
		out.GamesByType[k] = v
	}
	out.WinCounts = copyCounts(c.metrics.WinCounts)
	out.GamesPerHour = copyCounts(c.metrics.GamesPerHour)
	out.GamesPerDay = copyCounts(c.metrics.GamesPerDay)
	out.PlayerStats = make(map[string]*PlayerMetrics, len(c.metrics.PlayerStats))
	for k, v := range c.metrics.PlayerStats {
		p := *v
		out.PlayerStats[k] = &p
	}
	return &out
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetAverageGameDuration returns the average length of finished games in seconds
func (c *Consumer) GetAverageGameDuration() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.metrics.GamesFinished == 0 {
		return 0
	}
	return float64(c.metrics.TotalDuration) / float64(c.metrics.GamesFinished)
}

// GetMostFrequentWinner returns the player with most wins, lowest address on ties
func (c *Consumer) GetMostFrequentWinner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	maxWins := 0
	winner := ""
	for player, wins := range c.metrics.WinCounts {
		if wins > maxWins || (wins == maxWins && player < winner) {
			maxWins = wins
			winner = player
		}
	}
	return winner
}

// GetGamesPerHour returns games started in the 24 hours before now, by hour
func (c *Consumer) GetGamesPerHour(now time.Time) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int, 24)
	for i := 0; i < 24; i++ {
		key := now.UTC().Add(-time.Duration(i) * time.Hour).Format("2006-01-02-15")
		result[key] = c.metrics.GamesPerHour[key]
	}
	return result
}
