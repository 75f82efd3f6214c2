package session

import (
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"
)

// ErrSessionFull rejects a registration once the participant cap is reached.
var ErrSessionFull = errors.New("session is full")

// Endpoint pairs a participant id with its bound datagram address on one
// plane, for fan-out target lists.
type Endpoint struct {
	ID   uint32
	Addr *net.UDPAddr
}

// Registry holds all live participants. Every mutation and lookup is
// serialized under one lock; fan-out paths take snapshots and send after
// releasing it.
type Registry struct {
	mu           sync.RWMutex
	maxUsers     int
	rebindGrace  time.Duration
	writeTimeout time.Duration
	nextID       uint32
	byID         map[uint32]*Participant
	byAddr       [planeCount]map[string]uint32
}

// NewRegistry returns an empty registry. Ids start at zero and are never
// reused within a run. rebindGrace is the idle interval after which a bound
// datagram endpoint may be replaced; writeTimeout bounds each control write.
func NewRegistry(maxUsers int, rebindGrace, writeTimeout time.Duration) *Registry {
	r := &Registry{
		maxUsers:     maxUsers,
		rebindGrace:  rebindGrace,
		writeTimeout: writeTimeout,
		byID:         make(map[uint32]*Participant),
	}
	for p := range r.byAddr {
		r.byAddr[p] = make(map[string]uint32)
	}
	return r
}

// Add admits a new participant over its control connection and assigns the
// next id. Returns ErrSessionFull at capacity.
func (r *Registry) Add(username string, conn net.Conn) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= r.maxUsers {
		return nil, ErrSessionFull
	}
	p := &Participant{
		ID:           r.nextID,
		Username:     username,
		JoinedAt:     time.Now(),
		conn:         conn,
		writeTimeout: r.writeTimeout,
	}
	r.nextID++
	r.byID[p.ID] = p

	slog.Info("participant joined", "id", p.ID, "username", username, "total", len(r.byID))
	return p, nil
}

// Remove unregisters a participant and forgets its datagram bindings.
func (r *Registry) Remove(id uint32) (*Participant, bool) {
	r.mu.Lock()
	p, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		for plane := Plane(0); plane < planeCount; plane++ {
			if b := p.bindings[plane]; b.addr != nil {
				delete(r.byAddr[plane], b.addr.String())
			}
		}
	}
	total := len(r.byID)
	r.mu.Unlock()

	if ok {
		slog.Info("participant left", "id", id, "username", p.Username, "total", total)
	}
	return p, ok
}

// Get looks up a live participant by id.
func (r *Registry) Get(id uint32) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// Count reports the number of live participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns the live participants ordered by id. The slice is the
// caller's; the pointed-to participants are shared.
func (r *Registry) Snapshot() []*Participant {
	r.mu.RLock()
	out := make([]*Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveOrBind attributes one inbound datagram to a participant. It returns
// true when the datagram may be processed as declaredID's traffic.
//
// A known source address must carry the id it is bound to; a mismatched
// prefix is dropped as spoofed. An unknown source address binds to
// declaredID if that participant is live and either has no endpoint on the
// plane yet or its previous endpoint has been idle past the rebind grace.
func (r *Registry) ResolveOrBind(plane Plane, declaredID uint32, addr *net.UDPAddr, now time.Time) bool {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if boundID, known := r.byAddr[plane][key]; known {
		p := r.byID[boundID]
		if p == nil {
			return false
		}
		p.bindings[plane].lastSeen = now
		return boundID == declaredID
	}

	p, live := r.byID[declaredID]
	if !live {
		return false
	}
	b := &p.bindings[plane]
	if b.addr != nil {
		if now.Sub(b.lastSeen) < r.rebindGrace {
			// The bound endpoint is still active; treat the prefix as forged.
			return false
		}
		delete(r.byAddr[plane], b.addr.String())
		slog.Info("datagram endpoint rebound",
			"plane", plane.String(), "id", declaredID, "old", b.addr.String(), "new", key)
	} else {
		slog.Debug("datagram endpoint bound", "plane", plane.String(), "id", declaredID, "addr", key)
	}
	b.addr = addr
	b.lastSeen = now
	r.byAddr[plane][key] = declaredID
	return true
}

// Endpoint reports the bound datagram address of one participant on a plane.
func (r *Registry) Endpoint(plane Plane, id uint32) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok || p.bindings[plane].addr == nil {
		return nil, false
	}
	return p.bindings[plane].addr, true
}

// BoundEndpoints snapshots every participant with a bound endpoint on the
// plane. Fan-out loops iterate the snapshot after the lock is released and
// skip the publisher themselves.
func (r *Registry) BoundEndpoints(plane Plane) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Endpoint, 0, len(r.byID))
	for id, p := range r.byID {
		if a := p.bindings[plane].addr; a != nil {
			out = append(out, Endpoint{ID: id, Addr: a})
		}
	}
	return out
}
