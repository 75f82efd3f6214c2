package httpapi

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lanmeet/server/internal/files"
	"lanmeet/server/internal/media"
	"lanmeet/server/internal/protocol"
	"lanmeet/server/internal/session"
)

type nopConn struct{}

func (nopConn) Read(p []byte) (int, error)       { return 0, io.EOF }
func (nopConn) Write(p []byte) (int, error)      { return len(p), nil }
func (nopConn) Close() error                     { return nil }
func (nopConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (nopConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (nopConn) SetDeadline(time.Time) error      { return nil }
func (nopConn) SetReadDeadline(time.Time) error  { return nil }
func (nopConn) SetWriteDeadline(time.Time) error { return nil }

type discardWriter struct{}

func (discardWriter) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) { return len(b), nil }

func newTestAPI(t *testing.T, totals func() Totals) (*Server, *session.Registry, *media.Arbiter, *files.Catalog) {
	t.Helper()
	reg := session.NewRegistry(10, 5*time.Second, time.Second)
	arbiter := &media.Arbiter{}
	video := media.NewVideoRouter(reg, discardWriter{})
	screen := media.NewScreenRouter(reg, discardWriter{}, arbiter, 65000)
	mixer := media.NewMixer(reg, discardWriter{}, 1024, 23*time.Millisecond, time.Second)
	catalog := files.NewCatalog()
	if totals == nil {
		totals = func() Totals { return Totals{} }
	}
	api := New(reg, arbiter, video, screen, mixer, catalog, totals)
	return api, reg, arbiter, catalog
}

func TestHealthAndSession(t *testing.T) {
	api, reg, arbiter, _ := newTestAPI(t, nil)
	reg.Add("alice", nopConn{})
	bob, _ := reg.Add("bob", nopConn{})
	if granted, _, err := arbiter.Request(bob.ID, io.Discard); err != nil || !granted {
		t.Fatalf("presenter grant: granted=%v err=%v", granted, err)
	}

	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	healthResp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", healthResp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Participants != 2 {
		t.Fatalf("unexpected health payload: %#v", health)
	}

	sessResp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer sessResp.Body.Close()
	var sess sessionResponse
	if err := json.NewDecoder(sessResp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(sess.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(sess.Participants))
	}
	if sess.Participants[0].Username != "alice" || sess.Participants[1].Username != "bob" {
		t.Errorf("roster order = %q, %q", sess.Participants[0].Username, sess.Participants[1].Username)
	}
	if sess.Presenter == nil || *sess.Presenter != bob.ID {
		t.Errorf("presenter = %v, want %d", sess.Presenter, bob.ID)
	}
}

func TestSessionEmpty(t *testing.T) {
	api, _, _, _ := newTestAPI(t, nil)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer resp.Body.Close()
	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Presenter != nil {
		t.Errorf("presenter = %v, want null", *sess.Presenter)
	}
	if sess.Participants == nil || len(sess.Participants) != 0 {
		t.Errorf("participants = %#v, want empty list", sess.Participants)
	}
}

func TestSessionListsVideoPublishers(t *testing.T) {
	api, reg, _, _ := newTestAPI(t, nil)
	alice, _ := reg.Add("alice", nopConn{})
	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}
	if !reg.ResolveOrBind(session.PlaneVideo, alice.ID, src, time.Now()) {
		t.Fatal("bind failed")
	}

	pkt := append(protocol.AppendIDPrefix(nil, alice.ID), []byte("frame")...)
	api.video.HandleDatagram(pkt, src, time.Now())

	ts := httptest.NewServer(api.Echo())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer resp.Body.Close()
	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(sess.VideoPublishers) != 1 {
		t.Fatalf("video publishers = %d, want 1", len(sess.VideoPublishers))
	}
	if got := sess.VideoPublishers[0]; got.PublisherID != alice.ID || got.Bytes != len("frame") {
		t.Errorf("publisher = %+v", got)
	}
}

func TestFilesEndpoint(t *testing.T) {
	api, _, _, catalog := newTestAPI(t, nil)
	catalog.Publish("notes.txt", []byte("hello"), 0, "alice")
	catalog.Publish("image.png", make([]byte, 2048), 1, "bob")

	ts := httptest.NewServer(api.Echo())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET /api/files: %v", err)
	}
	defer resp.Body.Close()
	var got filesResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode files: %v", err)
	}
	if len(got.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(got.Files))
	}
	first := got.Files[0]
	if first.FileID != 1 || first.Filename != "notes.txt" || first.Size != 5 || first.Uploader != "alice" {
		t.Errorf("first entry = %+v", first)
	}
	if first.SizeHuman != "5 B" {
		t.Errorf("size_human = %q, want %q", first.SizeHuman, "5 B")
	}
	if got.TotalBytes != 5+2048 {
		t.Errorf("total_bytes = %d, want %d", got.TotalBytes, 5+2048)
	}
}

func TestStatsEndpoint(t *testing.T) {
	want := Totals{
		UptimeSeconds:  12.5,
		ChatGroup:      3,
		VideoDatagrams: 100,
		AudioMixes:     42,
		FileUploads:    1,
	}
	api, _, _, _ := newTestAPI(t, func() Totals { return want })

	ts := httptest.NewServer(api.Echo())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()
	var got Totals
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}
}
