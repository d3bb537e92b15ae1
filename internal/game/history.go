package game

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Entry is one recorded snapshot. Hash chains it to the previous entry.
type Entry struct {
	Seq    int    `json:"seq"`
	Time   int64  `json:"time"`
	Player string `json:"player"`
	State  State  `json:"state"`
	Prev   string `json:"prev"`
	Hash   string `json:"hash"`
}

// History is the append-only record of accepted submissions of a game
type History struct {
	entries []Entry
}

// Len returns the number of entries
func (h *History) Len() int {
	return len(h.entries)
}

// Last returns the most recent entry
func (h *History) Last() (Entry, bool) {
	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Append records a copy of state. The entry time never goes backwards.
func (h *History) Append(player string, state State, now int64) Entry {
	e := Entry{
		Seq:    len(h.entries),
		Time:   now,
		Player: player,
		State:  state.Clone(),
	}
	if last, ok := h.Last(); ok {
		e.Prev = last.Hash
		if e.Time < last.Time {
			e.Time = last.Time
		}
	}
	e.Hash = hashEntry(e)
	h.entries = append(h.entries, e)
	return e
}

// Entries returns a copy of the recorded entries
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// VerifyChain recomputes every hash and returns the first broken sequence number, or -1
func VerifyChain(entries []Entry) int {
	prev := ""
	for i, e := range entries {
		if e.Seq != i || e.Prev != prev || hashEntry(e) != e.Hash {
			return i
		}
		if i > 0 && e.Time < entries[i-1].Time {
			return i
		}
		prev = e.Hash
	}
	return -1
}

// hashEntry is keccak256(prev || seq || time || player || canonical state)
func hashEntry(e Entry) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(e.Prev))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(e.Seq))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(e.Time))
	h.Write(buf[:])
	h.Write([]byte(e.Player))

	players := make([]string, 0, len(e.State.ByPlayer))
	for p := range e.State.ByPlayer {
		players = append(players, p)
	}
	sort.Strings(players)
	for _, p := range players {
		h.Write([]byte(p))
		// encoding a fixed struct cannot fail
		data, _ := json.Marshal(e.State.ByPlayer[p])
		h.Write(data)
	}
	h.Write(e.State.Ext)

	return hex.EncodeToString(h.Sum(nil))
}
