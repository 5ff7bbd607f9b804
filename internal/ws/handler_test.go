package ws

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"

	"go_relay/internal/config"
	"go_relay/internal/ratelimit"
	"go_relay/internal/registry"
	"go_relay/internal/relay"
)

// fakeSocketConn satisfies socketio.Conn for driving the event handlers
type fakeSocketConn struct {
	id     string
	remote net.Addr
	rooms  map[string]bool
	events []string
	ctx    interface{}
}

func newFakeSocketConn(id, host string, port int) *fakeSocketConn {
	return &fakeSocketConn{
		id:     id,
		remote: &net.TCPAddr{IP: net.ParseIP(host), Port: port},
		rooms:  make(map[string]bool),
	}
}

func (f *fakeSocketConn) Close() error      { return nil }
func (f *fakeSocketConn) Namespace() string { return "/" }
func (f *fakeSocketConn) Emit(event string, _ ...interface{}) {
	f.events = append(f.events, event)
}
func (f *fakeSocketConn) Join(room string)          { f.rooms[room] = true }
func (f *fakeSocketConn) Leave(room string)         { delete(f.rooms, room) }
func (f *fakeSocketConn) LeaveAll()                 { f.rooms = make(map[string]bool) }
func (f *fakeSocketConn) Rooms() []string           { return nil }
func (f *fakeSocketConn) ID() string                { return f.id }
func (f *fakeSocketConn) URL() url.URL              { return url.URL{} }
func (f *fakeSocketConn) LocalAddr() net.Addr       { return nil }
func (f *fakeSocketConn) RemoteAddr() net.Addr      { return f.remote }
func (f *fakeSocketConn) RemoteHeader() http.Header { return nil }
func (f *fakeSocketConn) SetContext(v interface{})  { f.ctx = v }
func (f *fakeSocketConn) Context() interface{}      { return f.ctx }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testHandlers(reg *registry.Registry, store *relay.Store) *Handlers {
	rates := config.RateConfig{
		Registration:   config.RatePolicy{MaxRequests: 100, WindowSec: 60},
		Authentication: config.RatePolicy{MaxRequests: 100, WindowSec: 60},
		Messaging:      config.RatePolicy{MaxRequests: 100, WindowSec: 60},
	}
	return NewHandlers(nil, reg, store, ratelimit.NewLimiter(), rates, testLogger())
}

func TestRemoteIP_StripsPort(t *testing.T) {
	conn := newFakeSocketConn("c1", "203.0.113.7", 54321)
	if got := remoteIP(conn); got != "203.0.113.7" {
		t.Errorf("Expected host without port, got %q", got)
	}

	// Two connections from the same host must share a rate-limit key
	other := newFakeSocketConn("c2", "203.0.113.7", 61001)
	if remoteIP(conn) != remoteIP(other) {
		t.Error("Connections from the same host should key the same bucket")
	}

	conn.remote = nil
	if got := remoteIP(conn); got != "" {
		t.Errorf("Expected empty host for missing address, got %q", got)
	}
}

func TestHandleCommandResponse_NonStringChunkRejected(t *testing.T) {
	reg := registry.New(testLogger())
	store := relay.NewStore(32<<20, testLogger())
	h := testHandlers(reg, store)

	conn := newFakeSocketConn("c1", "10.0.0.1", 40000)
	reg.Register(1, "token-1", "agent-1", "", conn, "10.0.0.1")
	store.Insert(&relay.Command{ID: "cmd-1", AgentID: "agent-1", IdentityID: 1})

	// A non-string chunked payload must not be counted as a fragment
	h.HandleCommandResponse(conn, map[string]interface{}{
		"command_id":   "cmd-1",
		"response":     map[string]interface{}{"bogus": true},
		"chunked":      true,
		"chunk_index":  0,
		"total_chunks": 2,
	})

	view, err := store.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != relay.StatusPending {
		t.Fatalf("Expected still pending, got %s", view.Status)
	}
	if view.ChunksReceived != 0 {
		t.Errorf("Rejected payload must not count as a chunk, got %d received", view.ChunksReceived)
	}

	// Proper string fragments still assemble afterwards
	h.HandleCommandResponse(conn, map[string]interface{}{
		"command_id":   "cmd-1",
		"response":     `{"files":`,
		"chunked":      true,
		"chunk_index":  0,
		"total_chunks": 2,
	})
	h.HandleCommandResponse(conn, map[string]interface{}{
		"command_id":   "cmd-1",
		"response":     `[]}`,
		"chunked":      true,
		"chunk_index":  1,
		"total_chunks": 2,
	})

	view, err = store.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != relay.StatusCompleted {
		t.Fatalf("Expected completed after both fragments, got %s", view.Status)
	}
	if string(view.Result) != `{"files":[]}` {
		t.Errorf("Unexpected assembled payload: %s", view.Result)
	}
}

func TestHandleCommandResponse_WholePayload(t *testing.T) {
	reg := registry.New(testLogger())
	store := relay.NewStore(32<<20, testLogger())
	h := testHandlers(reg, store)

	conn := newFakeSocketConn("c1", "10.0.0.1", 40000)
	reg.Register(1, "token-1", "agent-1", "", conn, "10.0.0.1")
	store.Insert(&relay.Command{ID: "cmd-1", AgentID: "agent-1", IdentityID: 1})

	h.HandleCommandResponse(conn, map[string]interface{}{
		"command_id": "cmd-1",
		"response":   map[string]interface{}{"ok": true},
	})

	view, err := store.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != relay.StatusCompleted {
		t.Fatalf("Expected completed, got %s", view.Status)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(view.Result, &decoded); err != nil {
		t.Fatalf("Result should be valid JSON: %v", err)
	}
	if decoded["ok"] != true {
		t.Errorf("Unexpected result payload: %s", view.Result)
	}
}

func TestHandleCommandResponse_ForeignAgentIgnored(t *testing.T) {
	reg := registry.New(testLogger())
	store := relay.NewStore(32<<20, testLogger())
	h := testHandlers(reg, store)

	owner := newFakeSocketConn("c1", "10.0.0.1", 40000)
	intruder := newFakeSocketConn("c2", "10.0.0.2", 40001)
	reg.Register(1, "token-1", "agent-1", "", owner, "10.0.0.1")
	reg.Register(2, "token-2", "agent-2", "", intruder, "10.0.0.2")
	store.Insert(&relay.Command{ID: "cmd-1", AgentID: "agent-1", IdentityID: 1})

	// agent-2 must not complete agent-1's command
	h.HandleCommandResponse(intruder, map[string]interface{}{
		"command_id": "cmd-1",
		"response":   "stolen",
	})

	view, err := store.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != relay.StatusPending {
		t.Errorf("Foreign push must be ignored, got %s", view.Status)
	}
}

func TestHandlePing_AnswersPong(t *testing.T) {
	reg := registry.New(testLogger())
	store := relay.NewStore(32<<20, testLogger())
	h := testHandlers(reg, store)

	conn := newFakeSocketConn("c1", "10.0.0.1", 40000)
	reg.Register(1, "token-1", "agent-1", "", conn, "10.0.0.1")

	h.HandlePing(conn, map[string]interface{}{"agent_id": "agent-1"})

	if len(conn.events) == 0 || conn.events[len(conn.events)-1] != "pong" {
		t.Errorf("Expected pong reply, got %v", conn.events)
	}
}
