package files

import (
	"bufio"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"lanmeet/server/internal/session"
)

// nopConn backs registry participants; the transfer plane never writes to
// control connections directly.
type nopConn struct{}

func (nopConn) Read(p []byte) (int, error)       { return 0, io.EOF }
func (nopConn) Write(p []byte) (int, error)      { return len(p), nil }
func (nopConn) Close() error                     { return nil }
func (nopConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (nopConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (nopConn) SetDeadline(time.Time) error      { return nil }
func (nopConn) SetReadDeadline(time.Time) error  { return nil }
func (nopConn) SetWriteDeadline(time.Time) error { return nil }

type offerNotice struct {
	fileID       uint32
	filename     string
	size         int64
	uploaderName string
	uploaderID   uint32
}

type fakeNotifier struct {
	mu      sync.Mutex
	offers  []offerNotice
	deleted []uint32
}

func (f *fakeNotifier) BroadcastFileOffer(fileID uint32, filename string, size int64, uploaderName string, uploaderID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, offerNotice{fileID, filename, size, uploaderName, uploaderID})
}

func (f *fakeNotifier) BroadcastFileDeleted(fileID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, fileID)
}

func newTestHandler(t *testing.T, maxFileSize int64, readyWait time.Duration) (*Handler, *session.Registry, *fakeNotifier) {
	t.Helper()
	reg := session.NewRegistry(10, 5*time.Second, time.Second)
	notify := &fakeNotifier{}
	return NewHandler(NewCatalog(), reg, notify, maxFileSize, 2*time.Second, 2*time.Second, readyWait), reg, notify
}

// startHandler runs ServeConn against one end of a pipe and returns the
// client end plus a wait func that fails the test if the handler hangs.
func startHandler(t *testing.T, h *Handler) (net.Conn, *bufio.Reader, func()) {
	t.Helper()
	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		h.ServeConn(server)
		close(done)
	}()
	t.Cleanup(func() { client.Close() })
	wait := func() {
		t.Helper()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("handler did not finish")
		}
	}
	return client, bufio.NewReader(client), wait
}

func expectLine(t *testing.T, br *bufio.Reader, want string) {
	t.Helper()
	got, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("reading line: %v", err)
	}
	if got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

// ---

func TestUploadPublishesAndOffers(t *testing.T) {
	h, reg, notify := newTestHandler(t, 1<<20, time.Second)
	alice, _ := reg.Add("alice", nopConn{})

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:0:alice:notes.txt:5\n")
	expectLine(t, br, "READY\n")
	io.WriteString(client, "hello")
	expectLine(t, br, "SUCCESS:1\n")
	wait()

	entry, ok := h.Catalog().Get(1)
	if !ok {
		t.Fatal("catalog has no entry after upload")
	}
	if entry.Filename != "notes.txt" || entry.Size != 5 || entry.UploaderID != alice.ID {
		t.Errorf("entry = %+v", entry)
	}
	blob, _ := io.ReadAll(entry.Reader())
	if string(blob) != "hello" {
		t.Errorf("blob = %q, want %q", blob, "hello")
	}

	notify.mu.Lock()
	defer notify.mu.Unlock()
	if len(notify.offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(notify.offers))
	}
	want := offerNotice{fileID: 1, filename: "notes.txt", size: 5, uploaderName: "alice", uploaderID: alice.ID}
	if notify.offers[0] != want {
		t.Errorf("offer = %+v, want %+v", notify.offers[0], want)
	}
}

func TestUploadUsesRegistryUsername(t *testing.T) {
	h, reg, notify := newTestHandler(t, 1<<20, time.Second)
	reg.Add("alice", nopConn{})

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:0:mallory:notes.txt:2\n")
	expectLine(t, br, "READY\n")
	io.WriteString(client, "ok")
	expectLine(t, br, "SUCCESS:1\n")
	wait()

	entry, _ := h.Catalog().Get(1)
	if entry.UploaderName != "alice" {
		t.Errorf("uploader name = %q, want registry name %q", entry.UploaderName, "alice")
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if notify.offers[0].uploaderName != "alice" {
		t.Errorf("offer name = %q, want %q", notify.offers[0].uploaderName, "alice")
	}
}

func TestUploadZeroByteFile(t *testing.T) {
	h, reg, _ := newTestHandler(t, 1<<20, time.Second)
	reg.Add("alice", nopConn{})

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:0:alice:empty.txt:0\n")
	expectLine(t, br, "READY\n")
	expectLine(t, br, "SUCCESS:1\n")
	wait()

	entry, ok := h.Catalog().Get(1)
	if !ok || entry.Size != 0 {
		t.Fatalf("entry = %+v, ok = %v", entry, ok)
	}
}

func TestUploadAtLimitAccepted(t *testing.T) {
	h, reg, _ := newTestHandler(t, 8, time.Second)
	reg.Add("alice", nopConn{})

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:0:alice:full.bin:8\n")
	expectLine(t, br, "READY\n")
	client.Write(make([]byte, 8))
	expectLine(t, br, "SUCCESS:1\n")
	wait()
}

func TestUploadOverLimitRejectedBeforeBody(t *testing.T) {
	h, reg, notify := newTestHandler(t, 8, time.Second)
	reg.Add("alice", nopConn{})

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:0:alice:big.bin:9\n")
	expectLine(t, br, "ERROR:File too large\n")
	wait()

	if h.Catalog().Len() != 0 {
		t.Error("catalog not empty after rejected upload")
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if len(notify.offers) != 0 {
		t.Error("offer broadcast for rejected upload")
	}
}

func TestUploadUnknownClientRejected(t *testing.T) {
	h, _, _ := newTestHandler(t, 1<<20, time.Second)

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:42:ghost:notes.txt:5\n")
	expectLine(t, br, "ERROR:Unknown client\n")
	wait()
}

func TestUploadShortBodyDiscarded(t *testing.T) {
	h, reg, notify := newTestHandler(t, 1<<20, time.Second)
	reg.Add("alice", nopConn{})

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:0:alice:notes.txt:10\n")
	expectLine(t, br, "READY\n")
	io.WriteString(client, "hell")
	client.Close()
	wait()

	if h.Catalog().Len() != 0 {
		t.Error("partial upload reached the catalog")
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if len(notify.offers) != 0 {
		t.Error("offer broadcast for partial upload")
	}
}

// ---

func TestDownloadStreamsAfterReady(t *testing.T) {
	h, _, _ := newTestHandler(t, 1<<20, time.Second)
	h.Catalog().Publish("notes.txt", []byte("hello"), 0, "alice")

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "DOWNLOAD:1\n")
	expectLine(t, br, "FILE:notes.txt:5\n")
	io.WriteString(client, "READY\n")

	body := make([]byte, 5)
	if _, err := io.ReadFull(br, body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q, want %q", body, "hello")
	}
	wait()

	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("after body: %v, want EOF", err)
	}
}

func TestDownloadProceedsWithoutReady(t *testing.T) {
	h, _, _ := newTestHandler(t, 1<<20, 50*time.Millisecond)
	h.Catalog().Publish("notes.txt", []byte("hello"), 0, "alice")

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "DOWNLOAD:1\n")
	expectLine(t, br, "FILE:notes.txt:5\n")

	// No READY: the handler streams after its wait expires.
	body := make([]byte, 5)
	if _, err := io.ReadFull(br, body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q, want %q", body, "hello")
	}
	wait()
}

// ---

func TestDeleteByUploaderNotifies(t *testing.T) {
	h, _, notify := newTestHandler(t, 1<<20, time.Second)
	h.Catalog().Publish("notes.txt", []byte("hello"), 7, "alice")

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "DELETE:1:7\n")
	expectLine(t, br, "DELETE_SUCCESS:1\n")
	wait()

	if h.Catalog().Len() != 0 {
		t.Error("entry still present after delete")
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if len(notify.deleted) != 1 || notify.deleted[0] != 1 {
		t.Errorf("deleted notices = %v, want [1]", notify.deleted)
	}
}

func TestDeleteWrongOwnerKeepsEntryQuiet(t *testing.T) {
	h, _, notify := newTestHandler(t, 1<<20, time.Second)
	h.Catalog().Publish("notes.txt", []byte("hello"), 7, "alice")

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "DELETE:1:8\n")
	expectLine(t, br, "ERROR:Not authorized\n")
	wait()

	if h.Catalog().Len() != 1 {
		t.Error("unauthorized delete removed the entry")
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if len(notify.deleted) != 0 {
		t.Error("deletion broadcast for refused delete")
	}
}

// ---

func TestRejectedCommands(t *testing.T) {
	cases := []struct {
		name string
		send string
		want string
	}{
		{"unknown verb", "FROB:1\n", "ERROR:Unknown command\n"},
		{"malformed upload", "UPLOAD:abc\n", "ERROR:Malformed command\n"},
		{"malformed download id", "DOWNLOAD:xyz\n", "ERROR:Malformed command\n"},
		{"download unknown file", "DOWNLOAD:99\n", "ERROR:File not found\n"},
		{"malformed delete", "DELETE:1\n", "ERROR:Malformed command\n"},
		{"delete unknown file", "DELETE:99:0\n", "ERROR:File not found\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t, 1<<20, time.Second)
			client, br, wait := startHandler(t, h)
			io.WriteString(client, tc.send)
			expectLine(t, br, tc.want)
			wait()
		})
	}
}

func TestHandlerStatsSwapReset(t *testing.T) {
	h, reg, _ := newTestHandler(t, 1<<20, time.Second)
	reg.Add("alice", nopConn{})

	client, br, wait := startHandler(t, h)
	io.WriteString(client, "UPLOAD:0:alice:notes.txt:2\n")
	expectLine(t, br, "READY\n")
	io.WriteString(client, "ok")
	expectLine(t, br, "SUCCESS:1\n")
	wait()

	uploads, downloads, deletes, failures := h.Stats()
	if uploads != 1 || downloads != 0 || deletes != 0 || failures != 0 {
		t.Errorf("stats = %d/%d/%d/%d, want 1/0/0/0", uploads, downloads, deletes, failures)
	}
	uploads, _, _, _ = h.Stats()
	if uploads != 0 {
		t.Errorf("uploads after reset = %d, want 0", uploads)
	}
}
