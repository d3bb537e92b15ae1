package irc

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/game-lobby/internal/auth"
	"github.com/game-lobby/internal/game"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// Lobby is the channel every connection is subscribed to
	Lobby = "LOBBY"

	// DefaultCapacity is how many messages a channel keeps
	DefaultCapacity = 100

	TypeMessage = "IRC_MESSAGE"
	TypeUpdate  = "IRC_UPDATE"
)

// Subscriber receives frames published on a channel. Deliver must not block;
// returning false means the subscriber could not keep up and is dropped.
type Subscriber interface {
	ID() string
	Deliver(frame []byte) bool
}

// Message is one chat line
type Message struct {
	Type    string `json:"type"`
	Time    int64  `json:"time"`
	Sender  string `json:"sender"`
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// Update is the IRC_UPDATE frame
type Update struct {
	Type     string    `json:"type"`
	Channel  string    `json:"channel"`
	Messages []Message `json:"messages"`
}

// Channel is a read-only copy of a channel's log
type Channel struct {
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
	Enabled  bool      `json:"enabled"`
}

type channel struct {
	name    string
	log     []Message
	enabled bool
	subs    map[string]Subscriber
	mu      sync.Mutex
}

// Relay owns every channel and its subscribers. Only writes create a channel.
type Relay struct {
	channels map[string]*channel
	capacity int
	onDrop   func(Subscriber)
	mu       sync.Mutex
}

// NewRelay creates a relay whose channels keep capacity messages
func NewRelay(capacity int) *Relay {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Relay{
		channels: make(map[string]*channel),
		capacity: capacity,
	}
	r.channel(Lobby)
	return r
}

// SetOnDrop sets the callback for subscribers removed because they could not keep up
func (r *Relay) SetOnDrop(callback func(Subscriber)) {
	r.onDrop = callback
}

// NormalizeChannel validates a channel name and returns its canonical form
func NormalizeChannel(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case strings.EqualFold(name, Lobby):
		return Lobby, nil
	case strings.HasPrefix(name, "GAME:") && len(name) > len("GAME:"):
		return name, nil
	case auth.IsAddress(name):
		return auth.NormalizeAddress(name), nil
	}
	// a bare game id names that game's channel
	if id, err := uuid.Parse(name); err == nil {
		return game.ChannelFor(id.String()), nil
	}
	return "", game.Validationf("invalid channel %q", name)
}

// channel returns the named channel, creating it on first reference
func (r *Relay) channel(name string) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		ch = &channel{
			name:    name,
			log:     make([]Message, 0, r.capacity),
			enabled: true,
			subs:    make(map[string]Subscriber),
		}
		r.channels[name] = ch
	}
	return ch
}

// existing returns the named channel without creating it
func (r *Relay) existing(name string) (*channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Subscribe adds sub to the channel's fanout
func (r *Relay) Subscribe(sub Subscriber, name string) {
	ch := r.channel(name)
	ch.mu.Lock()
	ch.subs[sub.ID()] = sub
	ch.mu.Unlock()
}

// Unsubscribe removes sub from the channel's fanout
func (r *Relay) Unsubscribe(sub Subscriber, name string) {
	ch, ok := r.existing(name)
	if !ok {
		return
	}
	ch.mu.Lock()
	delete(ch.subs, sub.ID())
	ch.mu.Unlock()
}

// UnsubscribeAll removes sub from every channel
func (r *Relay) UnsubscribeAll(sub Subscriber) {
	r.mu.Lock()
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		ch.mu.Lock()
		delete(ch.subs, sub.ID())
		ch.mu.Unlock()
	}
}

// Subscribers returns the current subscribers of a channel
func (r *Relay) Subscribers(name string) []Subscriber {
	ch, ok := r.existing(name)
	if !ok {
		return nil
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	out := make([]Subscriber, 0, len(ch.subs))
	for _, s := range ch.subs {
		out = append(out, s)
	}
	return out
}

// Publish appends msg to the channel log, evicting the oldest entry past capacity,
// and sends an IRC_UPDATE carrying it to every current subscriber
func (r *Relay) Publish(name string, msg Message) error {
	ch := r.channel(name)
	msg.Type = TypeMessage
	msg.Channel = name

	frame, err := json.Marshal(Update{Type: TypeUpdate, Channel: name, Messages: []Message{msg}})
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.enabled {
		return game.Statef("channel %s is disabled", name)
	}
	if len(ch.log) >= r.capacity {
		// shift in place so the backing array is reused
		n := copy(ch.log, ch.log[len(ch.log)-r.capacity+1:])
		ch.log = ch.log[:n]
	}
	ch.log = append(ch.log, msg)
	r.fanout(ch, frame)
	return nil
}

// Notify sends a system frame to the channel's subscribers without logging it
func (r *Relay) Notify(name string, frame []byte) {
	ch, ok := r.existing(name)
	if !ok {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	r.fanout(ch, frame)
}

// fanout must be called with ch.mu held so per-channel order is the publish order
func (r *Relay) fanout(ch *channel, frame []byte) {
	for id, sub := range ch.subs {
		if sub.Deliver(frame) {
			continue
		}
		log.Warn().Str("channel", ch.name).Str("subscriber", id).Msg("subscriber too slow, dropping")
		delete(ch.subs, id)
		if r.onDrop != nil {
			go r.onDrop(sub)
		}
	}
}

// History returns a copy of the channel's log, oldest first. A channel nobody
// has used yet is empty and enabled.
func (r *Relay) History(name string) Channel {
	ch, ok := r.existing(name)
	if !ok {
		return Channel{Name: name, Messages: []Message{}, Enabled: true}
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	msgs := make([]Message, len(ch.log))
	copy(msgs, ch.log)
	return Channel{Name: name, Messages: msgs, Enabled: ch.enabled}
}

// SetEnabled turns publishing on or off for a channel
func (r *Relay) SetEnabled(name string, enabled bool) {
	ch := r.channel(name)
	ch.mu.Lock()
	ch.enabled = enabled
	ch.mu.Unlock()
}
