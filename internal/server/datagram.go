package server

import (
	"errors"
	"log/slog"
	"net"
	"time"
)

// datagramBufSize comfortably exceeds the largest UDP payload the planes
// accept.
const datagramBufSize = 65536

// readDatagrams pumps one plane. The buffer is reused: plane handlers copy
// anything they keep past the call.
func (s *Server) readDatagrams(plane string, conn *net.UDPConn, handle func([]byte, *net.UDPAddr, time.Time)) {
	defer s.wg.Done()
	buf := make([]byte, datagramBufSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("datagram read failed", "plane", plane, "err", err)
			continue
		}
		handle(buf[:n], src, time.Now())
	}
}
