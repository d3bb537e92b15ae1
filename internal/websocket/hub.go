package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/game-lobby/internal/irc"
	"github.com/game-lobby/internal/lifecycle"
	"github.com/game-lobby/internal/lobby"
	"github.com/game-lobby/internal/signaling"
)

// Options tune the connection layer
type Options struct {
	// RateLimit is the sustained number of inbound messages per second per connection
	RateLimit rate.Limit
	// RateBurst is the token bucket size
	RateBurst int
}

// DefaultOptions allow short bursts of state updates
var DefaultOptions = Options{RateLimit: 50, RateBurst: 100}

// Presence is told when an address gains its first or loses its last connection
type Presence interface {
	PlayerOnline(address string)
	PlayerOffline(address string)
	// ActiveChannels lists the channels of the games the address still sits in
	ActiveChannels(address string) []string
}

// Hub maintains the set of active clients and the identities bound to them
type Hub struct {
	// Registered clients by connection id
	clients map[string]*Client

	// Clients by bound address
	byAddress map[string]map[string]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done chan struct{}

	relay    *irc.Relay
	presence Presence
	opts     Options

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(relay *irc.Relay, presence Presence, opts Options) *Hub {
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultOptions.RateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultOptions.RateBurst
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		byAddress:  make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		relay:      relay,
		presence:   presence,
		opts:       opts,
	}
	relay.SetOnDrop(h.drop)
	return h
}

// Run starts the hub's main loop. It returns when ctx is cancelled, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.relay.Subscribe(client, irc.Lobby)
			log.Debug().Str("client", client.id).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			for _, c := range clients {
				h.remove(c)
			}
			return
		}
	}
}

// Register adds a client
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeSend()
	}
}

// Unregister removes a client; safe to call more than once
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// remove drops the client, its subscriptions and, for the last connection of an
// address, the player's presence
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	addr := c.address
	lastConn := false
	if addr != "" {
		conns := h.byAddress[addr]
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.byAddress, addr)
			lastConn = true
		}
	}
	h.mu.Unlock()

	h.relay.UnsubscribeAll(c)
	c.closeSend()
	log.Debug().Str("client", c.id).Str("address", addr).Msg("client unregistered")

	if lastConn && h.presence != nil {
		h.presence.PlayerOffline(addr)
	}
}

// drop disconnects a subscriber the relay could not deliver to
func (h *Hub) drop(sub irc.Subscriber) {
	if c, ok := sub.(*Client); ok {
		log.Warn().Str("client", c.id).Msg("disconnecting slow client")
		c.kick()
	}
}

// Bind ties a connection to a verified address and subscribes it to that
// address's channel and to the channels of games the address is still seated in,
// so a reconnecting player keeps receiving its game's updates. It reports false
// when the connection is bound to another address.
func (h *Hub) Bind(c *Client, address string) bool {
	h.mu.Lock()
	if c.address != "" {
		h.mu.Unlock()
		return c.address == address
	}
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return false
	}
	c.address = address
	conns, ok := h.byAddress[address]
	if !ok {
		conns = make(map[string]*Client)
		h.byAddress[address] = conns
	}
	conns[c.id] = c
	h.mu.Unlock()

	h.relay.Subscribe(c, address)
	if h.presence != nil {
		h.presence.PlayerOnline(address)
		for _, channel := range h.presence.ActiveChannels(address) {
			h.relay.Subscribe(c, channel)
		}
	}
	log.Info().Str("client", c.id).Str("address", address).Msg("client authenticated")
	return true
}

// SubscribeAddress subscribes every connection of an address to a channel
func (h *Hub) SubscribeAddress(address, channel string) {
	for _, c := range h.ClientsFor(address) {
		h.relay.Subscribe(c, channel)
	}
}

// UnsubscribeAddress removes every connection of an address from a channel
func (h *Hub) UnsubscribeAddress(address, channel string) {
	for _, c := range h.ClientsFor(address) {
		h.relay.Unsubscribe(c, channel)
	}
}

// ClientsFor returns the connections bound to an address
func (h *Hub) ClientsFor(address string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.byAddress[address]))
	for _, c := range h.byAddress[address] {
		out = append(out, c)
	}
	return out
}

// Send queues a frame for one client
func (h *Hub) Send(c *Client, frame []byte) bool {
	return c.Deliver(frame)
}

// BroadcastAll sends a frame to every client accepted by pred (all when pred is nil)
// and returns how many clients took it
func (h *Hub) BroadcastAll(frame []byte, pred func(*Client) bool) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if pred == nil || pred(c) {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if !h.Send(c, frame) {
			log.Warn().Str("client", c.id).Msg("broadcast not delivered")
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastOthers implements signaling.Directory
func (h *Hub) BroadcastOthers(excludeID string, frame []byte) int {
	return h.BroadcastAll(frame, func(c *Client) bool { return c.id != excludeID })
}

// ByAddress implements signaling.Directory
func (h *Hub) ByAddress(address string) []signaling.Peer {
	clients := h.ClientsFor(address)
	out := make([]signaling.Peer, len(clients))
	for i, c := range clients {
		out[i] = c
	}
	return out
}

// InChannel implements signaling.Directory
func (h *Hub) InChannel(channel string) []signaling.Peer {
	subs := h.relay.Subscribers(channel)
	out := make([]signaling.Peer, len(subs))
	for i, s := range subs {
		out[i] = s
	}
	return out
}

// OnEvent publishes a lifecycle event. State updates go to the game's channel,
// everything else to the lobby.
func (h *Hub) OnEvent(ev lifecycle.Event) {
	frame, err := json.Marshal(Message{Type: string(ev.Type), Time: ev.Time, Game: ev.Game, Player: ev.Player})
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("marshal event")
		return
	}
	if ev.Type == lifecycle.EventGameState {
		h.relay.Notify(ev.Game.Channel, frame)
		return
	}
	h.relay.Notify(irc.Lobby, frame)
}

// OnLobbyChange publishes a lobby snapshot to the lobby channel
func (h *Hub) OnLobbyChange(s lobby.State) {
	frame, err := json.Marshal(Message{Type: TypeLobbyUpdate, State: s})
	if err != nil {
		log.Error().Err(err).Msg("marshal lobby update")
		return
	}
	h.relay.Notify(irc.Lobby, frame)
}
