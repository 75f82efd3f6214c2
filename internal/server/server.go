// Package server binds the six conference endpoints, accepts and dispatches
// peers, and coordinates orderly shutdown. Each accepted stream gets its own
// worker; each datagram plane gets one receive loop.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lanmeet/server/internal/chat"
	"lanmeet/server/internal/conf"
	"lanmeet/server/internal/files"
	"lanmeet/server/internal/httpapi"
	"lanmeet/server/internal/media"
	"lanmeet/server/internal/session"
)

// BindError reports an endpoint that could not be bound at startup. Any
// partial bind is unwound before Start returns one.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return "bind " + e.Addr + ": " + e.Err.Error() }
func (e *BindError) Unwrap() error { return e.Err }

// Server owns all conference state and the workers serving it.
type Server struct {
	cfg conf.Config

	reg     *session.Registry
	router  *chat.Router
	arbiter *media.Arbiter
	video   *media.VideoRouter
	mixer   *media.Mixer
	screen  *media.ScreenRouter
	catalog *files.Catalog
	filesH  *files.Handler
	api     *httpapi.Server

	controlLn  net.Listener
	screenLn   net.Listener
	fileLn     net.Listener
	apiLn      net.Listener
	videoConn  *net.UDPConn
	audioConn  *net.UDPConn
	screenConn *net.UDPConn

	started time.Time
	closing atomic.Bool
	cancel  context.CancelFunc

	wg      sync.WaitGroup // acceptors, datagram loops, mixer, stats, api
	connWg  sync.WaitGroup // per-stream workers
	streams connSet

	totalsMu sync.Mutex
	totals   httpapi.Totals
}

// New wires the conference components for cfg. Call Start (or Run) next.
func New(cfg conf.Config) *Server {
	s := &Server{cfg: cfg}
	s.reg = session.NewRegistry(cfg.MaxUsers, cfg.RebindGrace, cfg.ControlWriteTimeout)
	s.router = chat.NewRouter(s.reg, func(id uint32) {
		go s.dropParticipant(id, "write failed")
	})
	s.arbiter = &media.Arbiter{}
	s.catalog = files.NewCatalog()
	s.filesH = files.NewHandler(s.catalog, s.reg, s.router,
		cfg.MaxFileSize, cfg.UploadIdleTimeout, cfg.DownloadWriteTimeout, cfg.DownloadReadyTimeout)
	return s
}

// Registry exposes the session registry, mainly for tests.
func (s *Server) Registry() *session.Registry { return s.reg }

// Catalog exposes the file catalog, mainly for tests.
func (s *Server) Catalog() *files.Catalog { return s.catalog }

// Start binds every endpoint and enters the serving state. On any bind
// failure the already-bound endpoints are closed and a *BindError is
// returned; no workers are left behind.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var bound []interface{ Close() error }
	unwind := func() {
		for _, c := range bound {
			c.Close()
		}
		cancel()
	}

	var err error
	if s.controlLn, err = net.Listen("tcp", s.cfg.ControlAddr()); err != nil {
		unwind()
		return &BindError{Addr: s.cfg.ControlAddr(), Err: err}
	}
	bound = append(bound, s.controlLn)

	if s.videoConn, err = listenUDP(s.cfg.VideoAddr()); err != nil {
		unwind()
		return &BindError{Addr: s.cfg.VideoAddr(), Err: err}
	}
	bound = append(bound, s.videoConn)

	if s.audioConn, err = listenUDP(s.cfg.AudioAddr()); err != nil {
		unwind()
		return &BindError{Addr: s.cfg.AudioAddr(), Err: err}
	}
	bound = append(bound, s.audioConn)

	if s.screenLn, err = net.Listen("tcp", s.cfg.ScreenCtrlAddr()); err != nil {
		unwind()
		return &BindError{Addr: s.cfg.ScreenCtrlAddr(), Err: err}
	}
	bound = append(bound, s.screenLn)

	if s.screenConn, err = listenUDP(s.cfg.ScreenDataAddr()); err != nil {
		unwind()
		return &BindError{Addr: s.cfg.ScreenDataAddr(), Err: err}
	}
	bound = append(bound, s.screenConn)

	if s.fileLn, err = net.Listen("tcp", s.cfg.FileAddr()); err != nil {
		unwind()
		return &BindError{Addr: s.cfg.FileAddr(), Err: err}
	}
	bound = append(bound, s.fileLn)

	if s.cfg.APIAddr != "" {
		if s.apiLn, err = net.Listen("tcp", s.cfg.APIAddr); err != nil {
			unwind()
			return &BindError{Addr: s.cfg.APIAddr, Err: err}
		}
		bound = append(bound, s.apiLn)
	}

	s.video = media.NewVideoRouter(s.reg, s.videoConn)
	s.mixer = media.NewMixer(s.reg, s.audioConn, s.cfg.ChunkSamples, s.cfg.TickInterval(), s.cfg.AudioStaleAfter)
	s.screen = media.NewScreenRouter(s.reg, s.screenConn, s.arbiter, s.cfg.ScreenMaxDatagram)
	s.started = time.Now()

	s.wg.Add(3)
	go s.acceptLoop("control", s.controlLn, s.handleControl)
	go s.acceptLoop("screen_control", s.screenLn, s.handleScreenControl)
	go s.acceptLoop("file", s.fileLn, s.filesH.ServeConn)

	s.wg.Add(3)
	go s.readDatagrams("video", s.videoConn, s.video.HandleDatagram)
	go s.readDatagrams("audio", s.audioConn, s.mixer.HandleDatagram)
	go s.readDatagrams("screen", s.screenConn, s.screen.HandleDatagram)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.mixer.Run(ctx)
	}()
	go s.runStats(ctx)

	if s.apiLn != nil {
		s.api = httpapi.New(s.reg, s.arbiter, s.video, s.screen, s.mixer, s.catalog, s.snapshotTotals)
		s.api.Echo().Listener = s.apiLn
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.api.Run(ctx, ""); err != nil {
				slog.Error("status api stopped", "err", err)
			}
		}()
	}

	slog.Info("server started",
		"control", s.controlLn.Addr(),
		"video", s.videoConn.LocalAddr(),
		"audio", s.audioConn.LocalAddr(),
		"screen_control", s.screenLn.Addr(),
		"screen_data", s.screenConn.LocalAddr(),
		"file", s.fileLn.Addr(),
		"max_users", s.cfg.MaxUsers)
	return nil
}

// Run starts the server and blocks until ctx is canceled, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop drains in order: acceptors, datagram loops, live streams, workers.
// It is idempotent and returns once every worker has exited.
func (s *Server) Stop() {
	if s.closing.Swap(true) {
		return
	}
	slog.Info("shutting down")

	s.controlLn.Close()
	s.screenLn.Close()
	s.fileLn.Close()

	s.cancel()
	s.videoConn.Close()
	s.audioConn.Close()
	s.screenConn.Close()

	s.streams.closeAll()

	s.wg.Wait()
	s.connWg.Wait()
	slog.Info("server stopped")
}

// Bound addresses, for tests running on ephemeral ports.

func (s *Server) ControlAddr() net.Addr    { return s.controlLn.Addr() }
func (s *Server) VideoAddr() net.Addr      { return s.videoConn.LocalAddr() }
func (s *Server) AudioAddr() net.Addr      { return s.audioConn.LocalAddr() }
func (s *Server) ScreenCtrlAddr() net.Addr { return s.screenLn.Addr() }
func (s *Server) ScreenDataAddr() net.Addr { return s.screenConn.LocalAddr() }
func (s *Server) FileAddr() net.Addr       { return s.fileLn.Addr() }

// APIAddr returns the status API address, or nil when the API is disabled.
func (s *Server) APIAddr() net.Addr {
	if s.apiLn == nil {
		return nil
	}
	return s.apiLn.Addr()
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}

// dropParticipant removes id and cascades: frame slots and the audio bucket
// are cleared, a held presenter grant is released, and the remaining
// participants are told. Safe to call multiple times for the same id.
func (s *Server) dropParticipant(id uint32, reason string) {
	p, ok := s.reg.Remove(id)
	if !ok {
		return
	}
	p.Close()
	s.video.Forget(id)
	s.screen.Forget(id)
	s.mixer.Forget(id)
	released := s.arbiter.Release(id)

	slog.Info("participant removed", "client_id", id, "username", p.Username, "reason", reason)
	if s.closing.Load() {
		return
	}
	s.router.BroadcastRoster()
	s.router.System(p.Username + " left the meeting")
	if released {
		s.router.BroadcastPresenter(0, false)
	}
}

// acceptLoop admits streams on one endpoint and runs serve per stream in
// its own worker. It returns when the listener closes.
func (s *Server) acceptLoop(name string, ln net.Listener, serve func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("accept failed", "endpoint", name, "err", err)
			continue
		}
		s.connWg.Add(1)
		s.streams.add(conn)
		go func() {
			defer s.connWg.Done()
			defer s.streams.remove(conn)
			serve(conn)
		}()
	}
}

// connSet tracks accepted streams so Stop can close them.
type connSet struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func (cs *connSet) add(c net.Conn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.conns == nil {
		cs.conns = make(map[net.Conn]struct{})
	}
	cs.conns[c] = struct{}{}
}

func (cs *connSet) remove(c net.Conn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.conns, c)
}

func (cs *connSet) closeAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for c := range cs.conns {
		c.Close()
	}
	cs.conns = nil
}
