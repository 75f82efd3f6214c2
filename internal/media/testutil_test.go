package media

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"lanmeet/server/internal/session"
)

// memWriter records every datagram the plane under test sends.
type memWriter struct {
	mu    sync.Mutex
	sends []sentDatagram
	fail  bool
}

type sentDatagram struct {
	addr string
	data []byte
}

func (w *memWriter) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errors.New("send failed")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	w.sends = append(w.sends, sentDatagram{addr: addr.String(), data: cp})
	return len(b), nil
}

func (w *memWriter) take() []sentDatagram {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.sends
	w.sends = nil
	return out
}

// byAddr groups recorded sends by destination address.
func (w *memWriter) byAddr() map[string][][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string][][]byte)
	for _, s := range w.sends {
		out[s.addr] = append(out[s.addr], s.data)
	}
	return out
}

// nullConn is a do-nothing control connection for registry entries.
type nullConn struct{}

func (nullConn) Read(p []byte) (int, error)         { return 0, io.EOF }
func (nullConn) Write(p []byte) (int, error)        { return len(p), nil }
func (nullConn) Close() error                       { return nil }
func (nullConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (nullConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (nullConn) SetDeadline(t time.Time) error      { return nil }
func (nullConn) SetReadDeadline(t time.Time) error  { return nil }
func (nullConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestRegistry() *session.Registry {
	return session.NewRegistry(10, 5*time.Second, time.Second)
}

func udpAddrAt(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// addBound admits a participant and binds its datagram endpoint on the plane.
func addBound(t *testing.T, reg *session.Registry, name string, plane session.Plane, port int) (uint32, *net.UDPAddr) {
	t.Helper()
	p, err := reg.Add(name, nullConn{})
	if err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	if !reg.ResolveOrBind(plane, p.ID, addr, time.Now()) {
		t.Fatalf("bind %s on %v failed", name, plane)
	}
	return p.ID, addr
}
