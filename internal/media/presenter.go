package media

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"lanmeet/server/internal/protocol"
)

// Arbiter grants the screen to at most one participant at a time. All
// transitions are serialized under one lock, and the grant/deny reply is
// written before the lock is released so a racing release cannot reorder a
// grant and its acknowledgment. The screen-data router consults Current on
// every frame.
type Arbiter struct {
	mu      sync.Mutex
	present bool
	current uint32
	since   time.Time
}

// Request asks for the screen on behalf of id and writes the reply line to w
// while holding the lock. A repeated request from the holder is acknowledged
// without a state change. changed reports an idle-to-granted transition; the
// caller broadcasts the presenter change after this returns.
func (a *Arbiter) Request(id uint32, w io.Writer) (granted, changed bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.present:
		a.present = true
		a.current = id
		a.since = time.Now()
		granted, changed = true, true
		slog.Info("presenter granted", "id", id)
	case a.current == id:
		granted = true
	default:
		slog.Debug("presenter denied", "id", id, "holder", a.current)
	}

	if granted {
		_, err = w.Write(protocol.EncodePresenterOK())
	} else {
		_, err = w.Write(protocol.EncodePresenterDenied())
	}
	return granted, changed, err
}

// Release clears the grant if id is the holder and reports whether the state
// changed. Explicit RELEASE lines and the participant-removal cascade both
// funnel here.
func (a *Arbiter) Release(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.present || a.current != id {
		return false
	}
	a.present = false
	slog.Info("presenter released", "id", id, "held", time.Since(a.since).Round(time.Millisecond))
	return true
}

// Current reports the holder, if any.
func (a *Arbiter) Current() (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.present
}

// Since reports when the current grant started; the zero time when idle.
func (a *Arbiter) Since() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.present {
		return time.Time{}
	}
	return a.since
}
