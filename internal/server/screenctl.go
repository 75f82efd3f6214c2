package server

import (
	"bufio"
	"log/slog"
	"net"
	"time"

	"lanmeet/server/internal/protocol"
)

// handleScreenControl serves one presenter-lifecycle stream. The peer names
// itself with HELLO:<client_id> first; request and release lines follow.
// Closing this stream does not release a held grant: that is tied to the
// control connection and the removal cascade.
func (s *Server) handleScreenControl(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024), protocol.MaxLineBytes)

	conn.SetReadDeadline(time.Now().Add(s.cfg.RegisterTimeout))
	if !scanner.Scan() {
		return
	}
	hello := protocol.SplitCommand(scanner.Text())
	if hello.Verb != protocol.CmdHello {
		slog.Debug("screen control without hello", "remote", conn.RemoteAddr())
		return
	}
	id, err := protocol.ParseID(hello.Arg)
	if err != nil {
		slog.Debug("bad screen control hello", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	if _, ok := s.reg.Get(id); !ok {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.ControlWriteTimeout))
		conn.Write(protocol.EncodeError("Unknown id"))
		slog.Debug("screen control for unknown participant", "client_id", id)
		return
	}

	conn.SetReadDeadline(time.Time{})
	for scanner.Scan() {
		switch scanner.Text() {
		case protocol.CmdRequestPresenter:
			if _, ok := s.reg.Get(id); !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.cfg.ControlWriteTimeout))
			granted, changed, err := s.arbiter.Request(id, conn)
			if err != nil {
				return
			}
			if granted && changed {
				s.router.BroadcastPresenter(id, true)
			}
		case protocol.CmdReleasePresenter:
			if s.arbiter.Release(id) {
				s.router.BroadcastPresenter(0, false)
			}
		default:
			slog.Debug("unknown screen control command", "client_id", id, "line", scanner.Text())
		}
	}
}
