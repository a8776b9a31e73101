package sigclient

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/acquire"
	"github.com/BioHazard786/syncwave/internal/config"
	"github.com/BioHazard786/syncwave/internal/server"
	"github.com/BioHazard786/syncwave/internal/signaling"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, reference string, started acquire.StartFunc) (*acquire.Track, error) {
	started("Demo")
	if strings.HasSuffix(reference, "/broken") {
		return nil, acquire.ErrFetchFailed
	}
	return &acquire.Track{Title: "Demo", Data: []byte("ID3demo")}, nil
}

type recordedEvent struct {
	kind, member, payload string
}

type recorder struct {
	mu     sync.Mutex
	self   string
	events chan recordedEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(chan recordedEvent, 32)}
}

func (r *recorder) SetSelf(id string) {
	r.mu.Lock()
	r.self = id
	r.mu.Unlock()
}

func (r *recorder) record(kind, member string, payload json.RawMessage) {
	r.events <- recordedEvent{kind, member, string(payload)}
}

func (r *recorder) MemberJoined(m string)                 { r.record("joined", m, nil) }
func (r *recorder) MemberLeft(m string)                   { r.record("left", m, nil) }
func (r *recorder) Offer(from string, p json.RawMessage)  { r.record("offer", from, p) }
func (r *recorder) Answer(from string, p json.RawMessage) { r.record("answer", from, p) }
func (r *recorder) Candidate(from string, p json.RawMessage) {
	r.record("candidate", from, p)
}

func (r *recorder) expect(t *testing.T, kind string) recordedEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		if ev.kind != kind {
			t.Fatalf("got %s event, want %s", ev.kind, kind)
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", kind)
	}
	return recordedEvent{}
}

func startServer(t *testing.T) string {
	t.Helper()
	logger := zap.NewNop()
	hub := signaling.NewHub(signaling.NewDirectory(4, logger), stubFetcher{}, time.Second, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(server.NewRouter(hub, &config.Server{AllowedOrigins: []string{"*"}}, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type participant struct {
	client  *Client
	handler *Handler
	events  *recorder
	id      string
}

func connect(t *testing.T, url string) *participant {
	t.Helper()
	c := NewClient(url, 1<<20, zap.NewNop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)

	p := &participant{client: c, handler: NewHandler(c, zap.NewNop()), events: newRecorder()}
	go p.handler.Start(p.events)

	select {
	case p.id = <-p.handler.Connected:
	case <-time.After(3 * time.Second):
		t.Fatal("no connected envelope")
	}
	p.events.mu.Lock()
	self := p.events.self
	p.events.mu.Unlock()
	if self != p.id {
		t.Fatalf("SetSelf(%q), connected as %q", self, p.id)
	}
	return p
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestRoomAndSignalRouting(t *testing.T) {
	url := startServer(t)
	x, y := connect(t, url), connect(t, url)

	if err := x.client.CreateRoom(); err != nil {
		t.Fatal(err)
	}
	roomID := receive(t, x.handler.RoomCreated)

	if err := y.client.JoinRoom(roomID); err != nil {
		t.Fatal(err)
	}
	if members := receive(t, y.handler.RoomJoined); len(members) != 1 || members[0] != x.id {
		t.Fatalf("joined members = %v", members)
	}
	if ev := x.events.expect(t, "joined"); ev.member != y.id {
		t.Fatalf("joined %q, want %q", ev.member, y.id)
	}

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	if err := x.client.SendOffer(y.id, offer); err != nil {
		t.Fatal(err)
	}
	if ev := y.events.expect(t, "offer"); ev.member != x.id || ev.payload != string(offer) {
		t.Fatalf("offer event = %+v", ev)
	}

	y.client.SendAnswer(x.id, json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
	x.events.expect(t, "answer")
	y.client.SendCandidate(x.id, json.RawMessage(`{"candidate":"host"}`))
	x.events.expect(t, "candidate")

	y.client.Close()
	receive(t, y.handler.Disconnected)
	if ev := x.events.expect(t, "left"); ev.member != y.id {
		t.Fatalf("left %q", ev.member)
	}
	if err := y.client.SendOffer(x.id, offer); err != ErrClosed {
		t.Fatalf("send after close = %v, want ErrClosed", err)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	p := connect(t, startServer(t))
	p.client.JoinRoom("zzzz")
	receive(t, p.handler.NotFound)
}

func TestDownloadRouting(t *testing.T) {
	p := connect(t, startServer(t))

	p.client.RequestDownload("https://example.com/song.mp3")
	if title := receive(t, p.handler.DownloadStart); title != "Demo" {
		t.Fatalf("download-start title = %q", title)
	}
	track := receive(t, p.handler.Downloaded)
	if track.Title != "Demo" || string(track.Audio) != "ID3demo" {
		t.Fatalf("track = %+v", track)
	}

	p.client.RequestDownload("https://example.com/broken")
	receive(t, p.handler.DownloadStart)
	if msg := receive(t, p.handler.DownloadError); msg != "Failed to fetch media." {
		t.Fatalf("download error = %q", msg)
	}
}
