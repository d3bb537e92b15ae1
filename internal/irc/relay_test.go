package irc

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/game-lobby/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id     string
	frames [][]byte
	full   bool
	mu     sync.Mutex
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Deliver(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSub) updates(t *testing.T) []Update {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Update, 0, len(f.frames))
	for _, fr := range f.frames {
		var u Update
		require.NoError(t, json.Unmarshal(fr, &u))
		out = append(out, u)
	}
	return out
}

func TestPublish_EvictsOldestPastCapacity(t *testing.T) {
	r := NewRelay(DefaultCapacity)

	for i := 0; i < 101; i++ {
		require.NoError(t, r.Publish(Lobby, Message{Sender: "0xa", Message: fmt.Sprintf("m%d", i)}))
	}

	h := r.History(Lobby)
	require.Len(t, h.Messages, 100)
	assert.Equal(t, "m1", h.Messages[0].Message)
	assert.Equal(t, "m100", h.Messages[99].Message)
	for i, m := range h.Messages {
		assert.Equal(t, fmt.Sprintf("m%d", i+1), m.Message)
	}
}

func TestPublish_FanoutInOrderToCurrentSubscribersOnly(t *testing.T) {
	r := NewRelay(10)
	early := &fakeSub{id: "early"}
	r.Subscribe(early, "GAME:1")

	require.NoError(t, r.Publish("GAME:1", Message{Sender: "0xa", Message: "one"}))

	late := &fakeSub{id: "late"}
	r.Subscribe(late, "GAME:1")
	require.NoError(t, r.Publish("GAME:1", Message{Sender: "0xa", Message: "two"}))
	require.NoError(t, r.Publish("GAME:1", Message{Sender: "0xb", Message: "three"}))

	got := early.updates(t)
	require.Len(t, got, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, TypeUpdate, got[i].Type)
		assert.Equal(t, "GAME:1", got[i].Channel)
		assert.Equal(t, want, got[i].Messages[0].Message)
	}

	lateGot := late.updates(t)
	require.Len(t, lateGot, 2, "no backlog replay on subscribe")
	assert.Equal(t, "two", lateGot[0].Messages[0].Message)
}

func TestUnsubscribe(t *testing.T) {
	r := NewRelay(10)
	s := &fakeSub{id: "s"}
	r.Subscribe(s, Lobby)
	r.Subscribe(s, "GAME:1")

	r.Unsubscribe(s, "GAME:1")
	require.NoError(t, r.Publish("GAME:1", Message{Message: "x"}))
	assert.Empty(t, s.updates(t))

	r.UnsubscribeAll(s)
	require.NoError(t, r.Publish(Lobby, Message{Message: "y"}))
	assert.Empty(t, s.updates(t))
	assert.Empty(t, r.Subscribers(Lobby))
}

func TestSlowSubscriberDropped(t *testing.T) {
	r := NewRelay(10)
	dropped := make(chan Subscriber, 1)
	r.SetOnDrop(func(s Subscriber) { dropped <- s })

	slow := &fakeSub{id: "slow", full: true}
	r.Subscribe(slow, Lobby)
	require.NoError(t, r.Publish(Lobby, Message{Message: "x"}))

	assert.Equal(t, slow, <-dropped)
	assert.Empty(t, r.Subscribers(Lobby))
	assert.Len(t, r.History(Lobby).Messages, 1, "message still logged")
}

func TestDisabledChannel(t *testing.T) {
	r := NewRelay(10)
	r.SetEnabled("GAME:1", false)

	err := r.Publish("GAME:1", Message{Message: "x"})
	assert.Equal(t, game.KindState, game.KindOf(err))
	assert.Empty(t, r.History("GAME:1").Messages)
	assert.False(t, r.History("GAME:1").Enabled)
}

func TestNotifyDoesNotLog(t *testing.T) {
	r := NewRelay(10)
	s := &fakeSub{id: "s"}
	r.Subscribe(s, Lobby)

	r.Notify(Lobby, []byte(`{"type":"lobbyUpdate"}`))

	assert.Len(t, s.frames, 1)
	assert.Empty(t, r.History(Lobby).Messages)
}

func TestNormalizeChannel(t *testing.T) {
	addr := "0x" + strings.Repeat("AB", 20)

	for in, want := range map[string]string{
		"lobby":  Lobby,
		"LOBBY":  Lobby,
		"GAME:x": "GAME:x",
		addr:     strings.ToLower(addr),
	} {
		got, err := NormalizeChannel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	id := "6f1c2a4e-3b7d-4c1e-9a55-0d2f8e7b9c10"
	got, err := NormalizeChannel(id)
	require.NoError(t, err)
	assert.Equal(t, "GAME:"+id, got)

	for _, bad := range []string{"", "GAME:", "general", "0x123"} {
		_, err := NormalizeChannel(bad)
		assert.Equal(t, game.KindValidation, game.KindOf(err), bad)
	}
}

func TestReadsDoNotCreateChannels(t *testing.T) {
	r := NewRelay(10)
	s := &fakeSub{id: "s"}

	assert.Empty(t, r.Subscribers("GAME:nope"))
	h := r.History("GAME:nope")
	assert.Empty(t, h.Messages)
	assert.True(t, h.Enabled)
	r.Notify("GAME:nope", []byte(`{}`))
	r.Unsubscribe(s, "GAME:nope")

	r.mu.Lock()
	_, ok := r.channels["GAME:nope"]
	n := len(r.channels)
	r.mu.Unlock()
	assert.False(t, ok)
	assert.Equal(t, 1, n, "only the lobby exists")
}
