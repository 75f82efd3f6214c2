package server

import (
	"context"
	"log/slog"
	"time"

	"lanmeet/server/internal/httpapi"
)

// snapshotTotals drains every plane's swap-reset counters into the running
// totals and returns a copy. Both the stats log loop and the status API call
// this, so either consumer sees counts the other already drained.
func (s *Server) snapshotTotals() httpapi.Totals {
	s.totalsMu.Lock()
	defer s.totalsMu.Unlock()

	group, private, system, chatErrs := s.router.Stats()
	s.totals.ChatGroup += group
	s.totals.ChatPrivate += private
	s.totals.ChatSystem += system
	s.totals.ChatSendErrors += chatErrs

	vd, vb, vdrop, verr := s.video.Stats()
	s.totals.VideoDatagrams += vd
	s.totals.VideoBytes += vb
	s.totals.VideoDropped += vdrop
	s.totals.VideoSendErrors += verr

	ac, am, adrop, aerr := s.mixer.Stats()
	s.totals.AudioChunks += ac
	s.totals.AudioMixes += am
	s.totals.AudioDropped += adrop
	s.totals.AudioSendErrors += aerr

	sd, sb, sdrop, sover, serr := s.screen.Stats()
	s.totals.ScreenDatagrams += sd
	s.totals.ScreenBytes += sb
	s.totals.ScreenDropped += sdrop
	s.totals.ScreenOversize += sover
	s.totals.ScreenSendErrors += serr

	up, down, del, fail := s.filesH.Stats()
	s.totals.FileUploads += up
	s.totals.FileDownloads += down
	s.totals.FileDeletes += del
	s.totals.FileFailures += fail

	out := s.totals
	out.UptimeSeconds = time.Since(s.started).Seconds()
	return out
}

// runStats logs one line per interval while there is activity.
func (s *Server) runStats(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	var last httpapi.Totals
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := s.snapshotTotals()
			participants := s.reg.Count()

			unchanged := cur
			unchanged.UptimeSeconds = last.UptimeSeconds
			if participants == 0 && unchanged == last {
				continue
			}

			slog.Info("plane stats",
				"participants", participants,
				"chat", cur.ChatGroup-last.ChatGroup,
				"private", cur.ChatPrivate-last.ChatPrivate,
				"video_datagrams", cur.VideoDatagrams-last.VideoDatagrams,
				"video_bytes", cur.VideoBytes-last.VideoBytes,
				"audio_chunks", cur.AudioChunks-last.AudioChunks,
				"audio_mixes", cur.AudioMixes-last.AudioMixes,
				"screen_datagrams", cur.ScreenDatagrams-last.ScreenDatagrams,
				"screen_bytes", cur.ScreenBytes-last.ScreenBytes,
				"dropped", (cur.VideoDropped+cur.AudioDropped+cur.ScreenDropped)-
					(last.VideoDropped+last.AudioDropped+last.ScreenDropped),
				"send_errors", (cur.VideoSendErrors+cur.AudioSendErrors+cur.ScreenSendErrors+cur.ChatSendErrors)-
					(last.VideoSendErrors+last.AudioSendErrors+last.ScreenSendErrors+last.ChatSendErrors),
				"file_ops", (cur.FileUploads+cur.FileDownloads+cur.FileDeletes)-
					(last.FileUploads+last.FileDownloads+last.FileDeletes))
			last = cur
		}
	}
}
