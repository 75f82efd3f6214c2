package server

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"time"

	"lanmeet/server/internal/protocol"
	"lanmeet/server/internal/session"
)

// handleControl serves one control connection: a REGISTER line within the
// handshake window, then chat and keepalive commands until the peer goes
// away. The deferred drop cascades cleanup whatever the exit path.
func (s *Server) handleControl(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxLineBytes)

	conn.SetReadDeadline(time.Now().Add(s.cfg.RegisterTimeout))
	if !scanner.Scan() {
		slog.Debug("no registration", "remote", conn.RemoteAddr(), "err", scanner.Err())
		return
	}
	cmd := protocol.SplitCommand(scanner.Text())
	if cmd.Verb != protocol.CmdRegister {
		s.rejectControl(conn, "Malformed registration")
		return
	}
	username, err := protocol.ParseUsername(cmd.Arg)
	if err != nil {
		s.rejectControl(conn, "Malformed registration")
		return
	}

	p, err := s.reg.Add(username, conn)
	if errors.Is(err, session.ErrSessionFull) {
		s.rejectControl(conn, "Server full")
		return
	}
	if err != nil {
		s.rejectControl(conn, "Registration failed")
		return
	}
	defer s.dropParticipant(p.ID, "connection closed")

	if err := p.Send(protocol.EncodeID(p.ID)); err != nil {
		return
	}
	s.router.BroadcastRoster()
	s.router.System(username + " joined the meeting")
	if err := s.router.SendHistory(p); err != nil {
		return
	}
	if id, ok := s.arbiter.Current(); ok {
		if err := p.Send(protocol.EncodePresenter(id, true)); err != nil {
			return
		}
	}

	conn.SetReadDeadline(time.Time{})
	for scanner.Scan() {
		cmd := protocol.SplitCommand(scanner.Text())
		switch cmd.Verb {
		case protocol.CmdChat:
			s.router.BroadcastGroup(p.ID, p.Username, cmd.Arg)
		case protocol.CmdPrivate:
			ids, body, err := protocol.ParsePrivateChat(cmd.Arg)
			if err != nil {
				slog.Debug("bad private chat", "client_id", p.ID, "err", err)
				continue
			}
			s.router.SendPrivate(p.ID, p.Username, ids, body)
		case protocol.CmdPing:
			if err := p.Send(protocol.EncodePong()); err != nil {
				return
			}
		case "":
			// Blank lines are tolerated.
		default:
			slog.Debug("unknown control command", "client_id", p.ID, "verb", cmd.Verb)
		}
	}
}

// rejectControl answers a doomed registration; the caller closes the
// connection.
func (s *Server) rejectControl(conn net.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.ControlWriteTimeout))
	conn.Write(protocol.EncodeError(reason))
	slog.Info("registration rejected", "remote", conn.RemoteAddr(), "reason", reason)
}
