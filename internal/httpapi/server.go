// Package httpapi serves the read-only status API. It exposes the live
// roster, the file catalog, and plane counters over plain HTTP for tooling
// and the status CLI; mutating routes do not exist.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"lanmeet/server/internal/files"
	"lanmeet/server/internal/media"
	"lanmeet/server/internal/session"
)

// Totals carries cumulative plane counters. The supervisor accumulates them
// from the per-plane swap-reset counters and hands a snapshot func to New.
type Totals struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	ChatGroup      uint64 `json:"chat_group"`
	ChatPrivate    uint64 `json:"chat_private"`
	ChatSystem     uint64 `json:"chat_system"`
	ChatSendErrors uint64 `json:"chat_send_errors"`

	VideoDatagrams  uint64 `json:"video_datagrams"`
	VideoBytes      uint64 `json:"video_bytes"`
	VideoDropped    uint64 `json:"video_dropped"`
	VideoSendErrors uint64 `json:"video_send_errors"`

	AudioChunks     uint64 `json:"audio_chunks"`
	AudioMixes      uint64 `json:"audio_mixes"`
	AudioDropped    uint64 `json:"audio_dropped"`
	AudioSendErrors uint64 `json:"audio_send_errors"`

	ScreenDatagrams  uint64 `json:"screen_datagrams"`
	ScreenBytes      uint64 `json:"screen_bytes"`
	ScreenDropped    uint64 `json:"screen_dropped"`
	ScreenOversize   uint64 `json:"screen_oversize"`
	ScreenSendErrors uint64 `json:"screen_send_errors"`

	FileUploads   uint64 `json:"file_uploads"`
	FileDownloads uint64 `json:"file_downloads"`
	FileDeletes   uint64 `json:"file_deletes"`
	FileFailures  uint64 `json:"file_failures"`
}

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	reg     *session.Registry
	arbiter *media.Arbiter
	video   *media.VideoRouter
	screen  *media.ScreenRouter
	mixer   *media.Mixer
	catalog *files.Catalog
	totals  func() Totals
}

// New constructs an Echo app with the status routes.
func New(reg *session.Registry, arbiter *media.Arbiter, video *media.VideoRouter,
	screen *media.ScreenRouter, mixer *media.Mixer, catalog *files.Catalog,
	totals func() Totals) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		reg:     reg,
		arbiter: arbiter,
		video:   video,
		screen:  screen,
		mixer:   mixer,
		catalog: catalog,
		totals:  totals,
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/session", s.handleSession)
	s.echo.GET("/api/files", s.handleFiles)
	s.echo.GET("/api/stats", s.handleStats)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	Participants int    `json:"participants"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:       "ok",
		Participants: s.reg.Count(),
	})
}

type participantInfo struct {
	ID       uint32 `json:"id"`
	Username string `json:"username"`
	JoinedAt string `json:"joined_at"`
}

type sessionResponse struct {
	Participants     []participantInfo `json:"participants"`
	Presenter        *uint32           `json:"presenter"`
	AudioPublishers  []uint32          `json:"audio_publishers"`
	VideoPublishers  []media.FrameInfo `json:"video_publishers"`
	ScreenPublishers []media.FrameInfo `json:"screen_publishers"`
}

func (s *Server) handleSession(c echo.Context) error {
	snap := s.reg.Snapshot()
	participants := make([]participantInfo, 0, len(snap))
	for _, p := range snap {
		participants = append(participants, participantInfo{
			ID:       p.ID,
			Username: p.Username,
			JoinedAt: p.JoinedAt.Format(time.RFC3339),
		})
	}

	var presenter *uint32
	if id, ok := s.arbiter.Current(); ok {
		presenter = &id
	}

	audio := s.mixer.Publishers()
	sort.Slice(audio, func(i, j int) bool { return audio[i] < audio[j] })

	return c.JSON(http.StatusOK, sessionResponse{
		Participants:     participants,
		Presenter:        presenter,
		AudioPublishers:  audio,
		VideoPublishers:  sortedFrames(s.video.Frames()),
		ScreenPublishers: sortedFrames(s.screen.Frames()),
	})
}

func sortedFrames(frames []media.FrameInfo) []media.FrameInfo {
	sort.Slice(frames, func(i, j int) bool { return frames[i].PublisherID < frames[j].PublisherID })
	return frames
}

type fileInfo struct {
	FileID     uint32 `json:"file_id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	SizeHuman  string `json:"size_human"`
	Uploader   string `json:"uploader"`
	UploaderID uint32 `json:"uploader_id"`
	CreatedAt  string `json:"created_at"`
}

type filesResponse struct {
	Files      []fileInfo `json:"files"`
	TotalBytes int64      `json:"total_bytes"`
}

func (s *Server) handleFiles(c echo.Context) error {
	entries := s.catalog.List()
	list := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		list = append(list, fileInfo{
			FileID:     e.ID,
			Filename:   e.Filename,
			Size:       e.Size,
			SizeHuman:  humanize.Bytes(uint64(e.Size)),
			Uploader:   e.UploaderName,
			UploaderID: e.UploaderID,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, filesResponse{
		Files:      list,
		TotalBytes: s.catalog.TotalBytes(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.totals())
}
