// Package chat delivers text messages and system notifications over each
// participant's control connection and keeps the in-memory group history.
package chat

import "sync"

// Message is one group chat entry as the history retains it.
type Message struct {
	Seq      uint64
	SenderID uint32
	Username string
	Stamp    string // wall-clock HH:MM:SS
	Body     string
}

// History is the append-only record of group messages. Private messages and
// system notices are delivered live but never retained, so a late joiner
// replays the group conversation only.
type History struct {
	mu      sync.Mutex
	nextSeq uint64
	entries []Message
}

// Append records a group message and stamps it with the next sequence
// number.
func (h *History) Append(m Message) Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	m.Seq = h.nextSeq
	h.entries = append(h.entries, m)
	return m
}

// Snapshot copies the full history in append order.
func (h *History) Snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports the number of retained messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
