package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/lifecycle"
)

const (
	TopicGameEvents = "game-events"

	// queueSize bounds the events waiting to be sent
	queueSize = 1024
)

// GameEvent represents a game event for analytics
type GameEvent struct {
	Type      lifecycle.EventType `json:"type"`
	GameID    string              `json:"gameId"`
	GameType  game.Type           `json:"gameType"`
	Timestamp time.Time           `json:"timestamp"`
	Data      json.RawMessage     `json:"data,omitempty"`
}

// PlayerData is carried by created, joined and left events
type PlayerData struct {
	Player  string `json:"player"`
	Players int    `json:"players"`
}

// GameStartData contains data for game start events
type GameStartData struct {
	Players []string `json:"players"`
	Stake   string   `json:"stake,omitempty"`
	Token   string   `json:"token,omitempty"`
}

// StateData contains data for accepted state submissions
type StateData struct {
	Player        string `json:"player"`
	HistoryLength int    `json:"historyLength"`
}

// GameEndData contains data for finished and cancelled games
type GameEndData struct {
	Status          game.Status       `json:"status"`
	Players         []string          `json:"players"`
	Winners         []string          `json:"winners,omitempty"`
	Deltas          map[string]string `json:"deltas,omitempty"`
	DurationSeconds int64             `json:"durationSeconds"`
	HistoryLength   int               `json:"historyLength"`
}

// NewGameEvent converts a lifecycle event into its analytics form
func NewGameEvent(ev lifecycle.Event) (GameEvent, error) {
	v := ev.Game
	out := GameEvent{
		Type:      ev.Type,
		GameID:    v.ID,
		GameType:  v.Type,
		Timestamp: time.UnixMilli(ev.Time).UTC(),
	}

	var data any
	switch ev.Type {
	case lifecycle.EventGameCreated, lifecycle.EventGameJoined, lifecycle.EventGameLeft:
		data = PlayerData{Player: ev.Player, Players: len(v.Players)}
	case lifecycle.EventGameStarted:
		d := GameStartData{Players: v.Players}
		if v.Config.Stakes != nil {
			d.Stake, d.Token = v.Config.Stakes.Amount, v.Config.Stakes.Token
		}
		data = d
	case lifecycle.EventGameState:
		data = StateData{Player: ev.Player, HistoryLength: v.HistoryLen}
	case lifecycle.EventGameFinished, lifecycle.EventGameCancelled:
		d := GameEndData{
			Status:        v.Status,
			Players:       v.Players,
			Winners:       v.Winners,
			Deltas:        v.Deltas,
			HistoryLength: v.HistoryLen,
		}
		if v.StartedAt > 0 && v.EndedAt >= v.StartedAt {
			d.DurationSeconds = (v.EndedAt - v.StartedAt) / 1000
		}
		data = d
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return GameEvent{}, fmt.Errorf("marshal %s data: %w", ev.Type, err)
		}
		out.Data = raw
	}
	return out, nil
}

// Producer handles Kafka event production. Events are queued by Emit and sent
// by Run so that a slow broker never holds up a game.
type Producer struct {
	producer sarama.SyncProducer
	queue    chan GameEvent
	enabled  bool
}

// NewProducer creates a new Kafka producer. Without brokers, or when they cannot
// be reached, the producer is disabled and every Emit is a no-op.
func NewProducer(brokers []string) *Producer {
	if len(brokers) == 0 {
		return &Producer{}
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		log.Warn().Err(err).Strs("brokers", brokers).Msg("kafka producer not available, analytics disabled")
		return &Producer{}
	}

	log.Info().Strs("brokers", brokers).Msg("kafka producer connected")
	return newProducer(producer)
}

func newProducer(sp sarama.SyncProducer) *Producer {
	return &Producer{producer: sp, queue: make(chan GameEvent, queueSize), enabled: true}
}

// Emit queues a lifecycle event. It never blocks; events are dropped when the
// queue is full.
func (p *Producer) Emit(ev lifecycle.Event) {
	if !p.enabled || ev.Game == nil {
		return
	}
	event, err := NewGameEvent(ev)
	if err != nil {
		log.Error().Err(err).Msg("build game event")
		return
	}
	select {
	case p.queue <- event:
	default:
		log.Warn().Str("game", event.GameID).Str("type", string(event.Type)).Msg("kafka queue full, dropping event")
	}
}

// Run sends queued events until ctx is cancelled, then flushes what is left
func (p *Producer) Run(ctx context.Context) error {
	if !p.enabled {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case event := <-p.queue:
			p.send(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-p.queue:
					p.send(event)
				default:
					return nil
				}
			}
		}
	}
}

// send sends an event to Kafka
func (p *Producer) send(event GameEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("marshal game event")
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: TopicGameEvents,
		Key:   sarama.StringEncoder(event.GameID),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		log.Error().Err(err).Str("game", event.GameID).Msg("send event to kafka")
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// IsEnabled returns whether Kafka is enabled
func (p *Producer) IsEnabled() bool {
	return p.enabled
}
