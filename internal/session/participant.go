// Package session is the authoritative registry of connected participants:
// who is in the conference, which control connection owns each id, and which
// datagram endpoint each id has bound on the video, audio, and screen planes.
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Plane names a datagram plane for endpoint binding.
type Plane int

const (
	PlaneVideo Plane = iota
	PlaneAudio
	PlaneScreen
	planeCount
)

func (p Plane) String() string {
	switch p {
	case PlaneVideo:
		return "video"
	case PlaneAudio:
		return "audio"
	case PlaneScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// binding is one learned datagram endpoint. lastSeen is refreshed on every
// packet from the bound address and gates rebinding.
type binding struct {
	addr     *net.UDPAddr
	lastSeen time.Time
}

// Participant is one connected client. The control connection owns its
// lifetime: when that stream closes the participant is removed and every
// plane is cleaned up.
type Participant struct {
	ID       uint32
	Username string
	JoinedAt time.Time

	conn         net.Conn
	writeTimeout time.Duration
	sendMu       sync.Mutex
	closed       atomic.Bool

	// bindings are guarded by the owning Registry's lock, not by the
	// participant itself.
	bindings [planeCount]binding
}

// Send writes one already-framed control line to the participant. Writes are
// serialized per participant and bounded by the write timeout, so one stalled
// peer cannot hold a broadcast loop for longer than that bound. The caller
// treats an error as the peer being gone.
func (p *Participant) Send(line []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.closed.Load() {
		return net.ErrClosed
	}
	if p.writeTimeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	_, err := p.conn.Write(line)
	return err
}

// Close shuts the control connection down once; later calls are no-ops.
func (p *Participant) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.conn.Close()
}

// RemoteAddr reports the control connection's peer address.
func (p *Participant) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }
