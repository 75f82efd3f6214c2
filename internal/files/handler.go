package files

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"lanmeet/server/internal/protocol"
	"lanmeet/server/internal/session"
)

// streamChunk is the unit for deadline-bounded blob writes and the read step
// for upload bodies.
const streamChunk = 64 << 10

// Notifier broadcasts catalog deltas to the conference. The chat router
// satisfies it.
type Notifier interface {
	BroadcastFileOffer(fileID uint32, filename string, size int64, uploaderName string, uploaderID uint32)
	BroadcastFileDeleted(fileID uint32)
}

// Handler serves one command per accepted file-transfer connection. Errors
// end that connection only; a partially received upload is discarded with no
// catalog effect.
type Handler struct {
	catalog *Catalog
	reg     *session.Registry
	notify  Notifier

	maxFileSize   int64
	uploadIdle    time.Duration // per-read bound while receiving a body
	downloadWrite time.Duration // per-write bound while streaming a blob
	downloadReady time.Duration // wait for the optional READY line

	uploads   atomic.Uint64
	downloads atomic.Uint64
	deletes   atomic.Uint64
	failures  atomic.Uint64
}

// NewHandler wires the transfer handler to the catalog, the registry, and
// the notification router.
func NewHandler(catalog *Catalog, reg *session.Registry, notify Notifier,
	maxFileSize int64, uploadIdle, downloadWrite, downloadReady time.Duration) *Handler {
	return &Handler{
		catalog:       catalog,
		reg:           reg,
		notify:        notify,
		maxFileSize:   maxFileSize,
		uploadIdle:    uploadIdle,
		downloadWrite: downloadWrite,
		downloadReady: downloadReady,
	}
}

// Catalog exposes the catalog for the status API.
func (h *Handler) Catalog() *Catalog { return h.catalog }

// ServeConn reads one command line and dispatches it. The connection is
// closed when the command finishes, whatever the outcome.
func (h *Handler) ServeConn(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReaderSize(conn, 4096)
	conn.SetReadDeadline(time.Now().Add(h.uploadIdle))
	raw, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			h.reject(conn, "Malformed command")
			return
		}
		h.failures.Add(1)
		slog.Debug("file command read failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	cmd := protocol.SplitCommand(strings.TrimRight(string(raw), "\r\n"))

	switch cmd.Verb {
	case protocol.CmdUpload:
		h.handleUpload(conn, br, cmd.Arg)
	case protocol.CmdDownload:
		h.handleDownload(conn, br, cmd.Arg)
	case protocol.CmdDelete:
		h.handleDelete(conn, cmd.Arg)
	default:
		h.reject(conn, "Unknown command")
	}
}

// reject writes an ERROR line; the caller closes the connection.
func (h *Handler) reject(conn net.Conn, reason string) {
	h.failures.Add(1)
	h.writeLine(conn, protocol.EncodeError(reason))
}

func (h *Handler) writeLine(conn net.Conn, line []byte) error {
	conn.SetWriteDeadline(time.Now().Add(h.downloadWrite))
	_, err := conn.Write(line)
	return err
}

// handleUpload validates the header before any body byte is read, streams
// exactly the declared size into memory, and publishes atomically: a short
// body leaves the catalog untouched and no offer is broadcast.
func (h *Handler) handleUpload(conn net.Conn, br *bufio.Reader, arg string) {
	hdr, err := protocol.ParseUpload(arg)
	if err != nil {
		h.reject(conn, "Malformed command")
		return
	}
	if hdr.Size > h.maxFileSize {
		h.reject(conn, "File too large")
		return
	}
	uploader, ok := h.reg.Get(hdr.ClientID)
	if !ok {
		h.reject(conn, "Unknown client")
		return
	}

	if err := h.writeLine(conn, protocol.EncodeReady()); err != nil {
		h.failures.Add(1)
		return
	}

	data := make([]byte, hdr.Size)
	received := 0
	for received < len(data) {
		// Idle bound, not a total bound: each read gets a fresh window.
		conn.SetReadDeadline(time.Now().Add(h.uploadIdle))
		n, err := br.Read(data[received:])
		received += n
		if err != nil {
			h.failures.Add(1)
			slog.Warn("upload ended short", "name", hdr.Filename,
				"received", received, "declared", hdr.Size, "err", ErrIncomplete)
			return
		}
	}

	entry := h.catalog.Publish(hdr.Filename, data, uploader.ID, uploader.Username)
	h.uploads.Add(1)
	if err := h.writeLine(conn, protocol.EncodeSuccess(entry.ID)); err != nil {
		slog.Debug("upload acknowledgment failed", "file_id", entry.ID, "err", err)
	}
	h.notify.BroadcastFileOffer(entry.ID, entry.Filename, entry.Size, entry.UploaderName, entry.UploaderID)
}

// handleDownload sends the FILE header, waits briefly for the client's READY
// line, and streams the blob either way. Only a closed peer aborts the
// transfer before the body.
func (h *Handler) handleDownload(conn net.Conn, br *bufio.Reader, arg string) {
	fileID, err := protocol.ParseID(arg)
	if err != nil {
		h.reject(conn, "Malformed command")
		return
	}
	entry, ok := h.catalog.Get(fileID)
	if !ok {
		h.reject(conn, "File not found")
		return
	}

	if err := h.writeLine(conn, protocol.EncodeFileHeader(entry.Filename, entry.Size)); err != nil {
		h.failures.Add(1)
		return
	}

	conn.SetReadDeadline(time.Now().Add(h.downloadReady))
	line, err := br.ReadSlice('\n')
	switch {
	case err == nil:
		if got := strings.TrimRight(string(line), "\r\n"); got != protocol.CmdReady {
			slog.Debug("unexpected line before download body", "got", got)
		}
	case isTimeout(err):
		// Clients that never send READY are tolerated; stream anyway.
	default:
		h.failures.Add(1)
		return
	}

	r := entry.Reader()
	buf := make([]byte, streamChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			conn.SetWriteDeadline(time.Now().Add(h.downloadWrite))
			if _, werr := conn.Write(buf[:n]); werr != nil {
				h.failures.Add(1)
				slog.Warn("download aborted", "file_id", entry.ID, "err", werr)
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			h.failures.Add(1)
			return
		}
	}
	h.downloads.Add(1)
	slog.Info("file downloaded", "file_id", entry.ID, "name", entry.Filename, "remote", conn.RemoteAddr())
}

func (h *Handler) handleDelete(conn net.Conn, arg string) {
	fileID, clientID, err := protocol.ParseDelete(arg)
	if err != nil {
		h.reject(conn, "Malformed command")
		return
	}
	entry, err := h.catalog.Delete(fileID, clientID)
	switch {
	case errors.Is(err, ErrNotFound):
		h.reject(conn, "File not found")
		return
	case errors.Is(err, ErrNotAuthorized):
		h.reject(conn, "Not authorized")
		return
	case err != nil:
		h.reject(conn, "Delete failed")
		return
	}

	h.deletes.Add(1)
	if err := h.writeLine(conn, protocol.EncodeDeleteSuccess(entry.ID)); err != nil {
		slog.Debug("delete acknowledgment failed", "file_id", entry.ID, "err", err)
	}
	h.notify.BroadcastFileDeleted(entry.ID)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Stats returns operation counts accumulated since the last call and resets
// them.
func (h *Handler) Stats() (uploads, downloads, deletes, failures uint64) {
	return h.uploads.Swap(0), h.downloads.Swap(0), h.deletes.Swap(0), h.failures.Swap(0)
}
