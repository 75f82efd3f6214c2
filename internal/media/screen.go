package media

import (
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"lanmeet/server/internal/protocol"
	"lanmeet/server/internal/session"
)

// ScreenRouter fans screen frames out like the video plane but only for the
// participant the arbiter currently recognizes; frames from anyone else are
// dropped silently. The presenter never receives its own frames back.
type ScreenRouter struct {
	reg     *session.Registry
	out     DatagramWriter
	arbiter *Arbiter
	frames  *frameStore

	// maxDatagram is the inbound size ceiling; larger frames are dropped
	// before any attribution work.
	maxDatagram int

	datagrams atomic.Uint64
	bytesIn   atomic.Uint64
	dropped   atomic.Uint64
	oversize  atomic.Uint64
	sendErrs  atomic.Uint64
}

// NewScreenRouter wires the router to the registry, its UDP socket, and the
// presenter arbiter.
func NewScreenRouter(reg *session.Registry, out DatagramWriter, arbiter *Arbiter, maxDatagram int) *ScreenRouter {
	return &ScreenRouter{
		reg:         reg,
		out:         out,
		arbiter:     arbiter,
		frames:      newFrameStore(),
		maxDatagram: maxDatagram,
	}
}

// HandleDatagram processes one inbound screen datagram.
func (s *ScreenRouter) HandleDatagram(pkt []byte, src *net.UDPAddr, now time.Time) {
	if len(pkt) > s.maxDatagram {
		s.oversize.Add(1)
		return
	}
	id, payload, ok := protocol.SplitDatagram(pkt)
	if !ok {
		s.dropped.Add(1)
		return
	}
	if !s.reg.ResolveOrBind(session.PlaneScreen, id, src, now) {
		s.dropped.Add(1)
		return
	}
	if cur, held := s.arbiter.Current(); !held || cur != id {
		s.dropped.Add(1)
		return
	}
	s.datagrams.Add(1)
	s.bytesIn.Add(uint64(len(pkt)))
	s.frames.store(id, payload, now)

	for _, ep := range s.reg.BoundEndpoints(session.PlaneScreen) {
		if ep.ID == id {
			continue
		}
		if _, err := s.out.WriteToUDP(pkt, ep.Addr); err != nil {
			s.sendErrs.Add(1)
			slog.Debug("screen send failed", "to", ep.ID, "err", err)
		}
	}
}

// Forget clears the publisher's latest-frame slot on removal.
func (s *ScreenRouter) Forget(id uint32) { s.frames.forget(id) }

// Frames lists the publishers currently holding a latest frame.
func (s *ScreenRouter) Frames() []FrameInfo { return s.frames.snapshot() }

// Stats returns counts accumulated since the last call and resets them.
func (s *ScreenRouter) Stats() (datagrams, bytesIn, dropped, oversize, sendErrs uint64) {
	return s.datagrams.Swap(0), s.bytesIn.Swap(0), s.dropped.Swap(0),
		s.oversize.Swap(0), s.sendErrs.Swap(0)
}
