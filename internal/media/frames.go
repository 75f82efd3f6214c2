package media

import (
	"sync"
	"time"
)

// frameStore keeps the latest opaque frame per publisher. Frames are owned by
// the plane, copied on store, and never queued; a new frame simply replaces
// the previous one. Removal of a participant clears its slot.
type frameStore struct {
	mu    sync.Mutex
	slots map[uint32]*frameSlot
}

type frameSlot struct {
	buf     []byte
	updated time.Time
}

func newFrameStore() *frameStore {
	return &frameStore{slots: make(map[uint32]*frameSlot)}
}

// store replaces the publisher's latest frame, reusing the slot's buffer.
func (s *frameStore) store(id uint32, frame []byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slots[id]
	if slot == nil {
		slot = &frameSlot{}
		s.slots[id] = slot
	}
	slot.buf = append(slot.buf[:0], frame...)
	slot.updated = now
}

// forget drops the publisher's slot.
func (s *frameStore) forget(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, id)
}

// FrameInfo describes one publisher's latest frame for observability.
type FrameInfo struct {
	PublisherID uint32    `json:"publisher_id"`
	Bytes       int       `json:"bytes"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// snapshot lists the live slots in no particular order.
func (s *frameStore) snapshot() []FrameInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FrameInfo, 0, len(s.slots))
	for id, slot := range s.slots {
		out = append(out, FrameInfo{PublisherID: id, Bytes: len(slot.buf), UpdatedAt: slot.updated})
	}
	return out
}
