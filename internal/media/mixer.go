package media

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lanmeet/server/internal/protocol"
	"lanmeet/server/internal/session"
)

// Mixer accumulates the latest PCM chunk per publisher and, on a fixed tick,
// sends each recipient the integer mean of every other publisher's chunk.
// The audio format is fixed: mono, 16-bit signed little-endian samples at the
// configured rate; inbound datagrams that are not exactly one id prefix plus
// one full chunk are dropped.
//
// The receive path decodes into per-publisher buckets under a short lock. The
// tick copies fresh buckets out under the same lock and mixes and sends with
// the lock released, so receiving is never blocked by sending.
type Mixer struct {
	reg *session.Registry
	out DatagramWriter

	chunkSamples int
	chunkBytes   int
	tick         time.Duration
	staleAfter   time.Duration

	mu      sync.Mutex
	buckets map[uint32]*bucket

	chunksIn atomic.Uint64
	mixesOut atomic.Uint64
	dropped  atomic.Uint64
	sendErrs atomic.Uint64
}

// bucket holds one publisher's latest decoded chunk. fresh flips on every
// store and clears when the tick consumes it; lastSeen drives staleness
// eviction.
type bucket struct {
	pcm      []int16
	fresh    bool
	lastSeen time.Time
}

// NewMixer wires the mixer to the registry and its UDP socket. chunkSamples
// fixes the chunk length, tick the emission cadence, and staleAfter the
// horizon past which an idle publisher's bucket is evicted.
func NewMixer(reg *session.Registry, out DatagramWriter, chunkSamples int, tick, staleAfter time.Duration) *Mixer {
	return &Mixer{
		reg:          reg,
		out:          out,
		chunkSamples: chunkSamples,
		chunkBytes:   2 * chunkSamples,
		tick:         tick,
		staleAfter:   staleAfter,
		buckets:      make(map[uint32]*bucket),
	}
}

// HandleDatagram stores one inbound audio chunk into its publisher's bucket.
func (m *Mixer) HandleDatagram(pkt []byte, src *net.UDPAddr, now time.Time) {
	id, payload, ok := protocol.SplitDatagram(pkt)
	if !ok || len(payload) != m.chunkBytes {
		m.dropped.Add(1)
		return
	}
	if !m.reg.ResolveOrBind(session.PlaneAudio, id, src, now) {
		m.dropped.Add(1)
		return
	}

	m.mu.Lock()
	b := m.buckets[id]
	if b == nil {
		b = &bucket{pcm: make([]int16, m.chunkSamples)}
		m.buckets[id] = b
	}
	for i := range b.pcm {
		b.pcm[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	b.fresh = true
	b.lastSeen = now
	m.mu.Unlock()

	m.chunksIn.Add(1)
}

// Forget drops a publisher's bucket on removal.
func (m *Mixer) Forget(id uint32) {
	m.mu.Lock()
	delete(m.buckets, id)
	m.mu.Unlock()
}

// Run ticks the mixer until the context is canceled.
func (m *Mixer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	slog.Info("audio mixer started", "tick", m.tick, "chunk_samples", m.chunkSamples)
	for {
		select {
		case <-ctx.Done():
			slog.Info("audio mixer stopped")
			return
		case <-ticker.C:
			m.mixCycle(time.Now())
		}
	}
}

// contribution is one publisher's chunk copied out for this cycle.
type contribution struct {
	id  uint32
	pcm []int16
}

// mixCycle performs one tick: drain fresh buckets, evict stale ones, and
// emit a per-recipient mix that excludes the recipient's own chunk. A
// recipient with nothing to hear gets no datagram at all.
func (m *Mixer) mixCycle(now time.Time) {
	m.mu.Lock()
	contribs := make([]contribution, 0, len(m.buckets))
	for id, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.staleAfter {
			delete(m.buckets, id)
			continue
		}
		if !b.fresh {
			continue
		}
		b.fresh = false
		pcm := make([]int16, len(b.pcm))
		copy(pcm, b.pcm)
		contribs = append(contribs, contribution{id: id, pcm: pcm})
	}
	m.mu.Unlock()

	if len(contribs) == 0 {
		return
	}

	// Sum every contributor once, then per recipient subtract its own chunk
	// rather than re-summing the others.
	sum := make([]int32, m.chunkSamples)
	own := make(map[uint32][]int16, len(contribs))
	for _, c := range contribs {
		own[c.id] = c.pcm
		for i, s := range c.pcm {
			sum[i] += int32(s)
		}
	}

	out := make([]byte, m.chunkBytes)
	for _, ep := range m.reg.BoundEndpoints(session.PlaneAudio) {
		n := len(contribs)
		mine := own[ep.ID]
		if mine != nil {
			n--
		}
		if n == 0 {
			continue
		}
		encodeMix(out, sum, mine, int32(n))
		if _, err := m.out.WriteToUDP(out, ep.Addr); err != nil {
			m.sendErrs.Add(1)
			slog.Debug("audio send failed", "to", ep.ID, "err", err)
			continue
		}
		m.mixesOut.Add(1)
	}
}

// encodeMix writes the little-endian mix for one recipient: the integer mean
// over n publishers of sum minus the recipient's own contribution, clamped to
// the 16-bit range. Summing happens in 32-bit so intermediate values cannot
// wrap.
func encodeMix(out []byte, sum []int32, own []int16, n int32) {
	for i, s := range sum {
		if own != nil {
			s -= int32(own[i])
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(clip16(s/n)))
	}
}

// clip16 clamps to the int16 range.
func clip16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Stats returns counts accumulated since the last call and resets them.
func (m *Mixer) Stats() (chunksIn, mixesOut, dropped, sendErrs uint64) {
	return m.chunksIn.Swap(0), m.mixesOut.Swap(0), m.dropped.Swap(0), m.sendErrs.Swap(0)
}

// Publishers reports the ids with a live bucket, for observability.
func (m *Mixer) Publishers() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint32, 0, len(m.buckets))
	for id := range m.buckets {
		out = append(out, id)
	}
	return out
}
