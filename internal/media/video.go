package media

import (
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"lanmeet/server/internal/protocol"
	"lanmeet/server/internal/session"
)

// VideoRouter fans opaque frames out to every other participant with a bound
// video endpoint. It never inspects the payload; the datagram is forwarded
// unchanged so heterogeneous clients can carry whatever codec they agree on.
type VideoRouter struct {
	reg    *session.Registry
	out    DatagramWriter
	frames *frameStore

	datagrams atomic.Uint64
	bytesIn   atomic.Uint64
	dropped   atomic.Uint64
	sendErrs  atomic.Uint64
}

// NewVideoRouter wires the router to the registry and its UDP socket.
func NewVideoRouter(reg *session.Registry, out DatagramWriter) *VideoRouter {
	return &VideoRouter{reg: reg, out: out, frames: newFrameStore()}
}

// HandleDatagram processes one inbound video datagram: attribute it to a
// live publisher under the binding rules, take latest-frame ownership, and
// forward the original bytes to everyone else. Failed sends are tallied and
// never retried; sends finish before the caller reuses pkt.
func (v *VideoRouter) HandleDatagram(pkt []byte, src *net.UDPAddr, now time.Time) {
	id, payload, ok := protocol.SplitDatagram(pkt)
	if !ok {
		v.dropped.Add(1)
		return
	}
	if !v.reg.ResolveOrBind(session.PlaneVideo, id, src, now) {
		v.dropped.Add(1)
		return
	}
	v.datagrams.Add(1)
	v.bytesIn.Add(uint64(len(pkt)))
	v.frames.store(id, payload, now)

	for _, ep := range v.reg.BoundEndpoints(session.PlaneVideo) {
		if ep.ID == id {
			continue
		}
		if _, err := v.out.WriteToUDP(pkt, ep.Addr); err != nil {
			// Best-effort plane: count and move on.
			v.sendErrs.Add(1)
			slog.Debug("video send failed", "to", ep.ID, "err", err)
		}
	}
}

// Forget clears the publisher's latest-frame slot on removal.
func (v *VideoRouter) Forget(id uint32) { v.frames.forget(id) }

// Frames lists the publishers currently holding a latest frame.
func (v *VideoRouter) Frames() []FrameInfo { return v.frames.snapshot() }

// Stats returns counts accumulated since the last call and resets them.
func (v *VideoRouter) Stats() (datagrams, bytesIn, dropped, sendErrs uint64) {
	return v.datagrams.Swap(0), v.bytesIn.Swap(0), v.dropped.Swap(0), v.sendErrs.Swap(0)
}
