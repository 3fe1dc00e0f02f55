package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agentworld.ai/internal/command"
	"agentworld.ai/internal/protocol"
	"agentworld.ai/internal/storage"
	"agentworld.ai/internal/subscription"
	"agentworld.ai/internal/world"
)

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

// captureRecorder remembers the world id of every recorded command.
type captureRecorder struct {
	mu     sync.Mutex
	worlds []string
}

func (r *captureRecorder) RecordEvent(worldID string, ev protocol.WorldEvent) {}

func (r *captureRecorder) RecordCommand(worldID, clientID string, cmd protocol.CommandMsg, resp protocol.ResponseMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.worlds = append(r.worlds, worldID)
}

func (r *captureRecorder) commandWorlds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.worlds...)
}

func dialTestServer(t *testing.T, loader subscription.Loader, root string, rec Recorder) (*Server, *testConn) {
	t.Helper()
	router := command.NewRouter(command.NewRegistry(), root, nil)
	srv := NewServer(router, subscription.NewManager(loader, nil), Options{Root: root, Recorder: rec}, nil)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, &testConn{t: t, conn: conn}
}

func (c *testConn) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// read returns the next frame's type and raw bytes.
func (c *testConn) read() (string, []byte) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.t.Fatalf("decode %s: %v", msg, err)
	}
	return base.Type, msg
}

func (c *testConn) readSubscribed() protocol.SubscribedMsg {
	c.t.Helper()
	typ, msg := c.read()
	if typ != protocol.TypeSubscribed {
		c.t.Fatalf("frame type %s: %s", typ, msg)
	}
	var sub protocol.SubscribedMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		c.t.Fatalf("unmarshal: %v", err)
	}
	return sub
}

func (c *testConn) readResponse() protocol.ResponseMsg {
	c.t.Helper()
	typ, msg := c.read()
	if typ != protocol.TypeResponse {
		c.t.Fatalf("frame type %s: %s", typ, msg)
	}
	var resp protocol.ResponseMsg
	if err := json.Unmarshal(msg, &resp); err != nil {
		c.t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func (c *testConn) readError() protocol.ErrorMsg {
	c.t.Helper()
	typ, msg := c.read()
	if typ != protocol.TypeError {
		c.t.Fatalf("frame type %s: %s", typ, msg)
	}
	var em protocol.ErrorMsg
	if err := json.Unmarshal(msg, &em); err != nil {
		c.t.Fatalf("unmarshal: %v", err)
	}
	return em
}

func subscribeFrame(worldID, clientID string) protocol.SubscribeMsg {
	return protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		WorldID:         worldID,
		ClientID:        clientID,
	}
}

func commandFrame(id, text string) protocol.CommandMsg {
	return protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		RequestID:       id,
		Text:            text,
	}
}

func TestSubscribeAndCommandFlow(t *testing.T) {
	root := t.TempDir()
	if _, err := storage.CreateWorld(root, world.Config{Name: "Arena"}); err != nil {
		t.Fatalf("seed world: %v", err)
	}
	srv, c := dialTestServer(t, nil, root, nil)

	c.send(subscribeFrame("arena", ""))
	sub := c.readSubscribed()
	if sub.WorldID != "arena" || sub.WorldName != "Arena" || sub.AgentCount != 0 {
		t.Fatalf("subscribed: %+v", sub)
	}

	c.send(commandFrame("req_1", "/createAgent Bob anthropic claude-sonnet"))
	resp := c.readResponse()
	if !resp.Success || resp.RequestID != "req_1" || !resp.RefreshWorld {
		t.Fatalf("response: %+v", resp)
	}

	// Refresh rebinds to the reloaded world and reports the new agent.
	c.send(protocol.RefreshMsg{Type: protocol.TypeRefresh, ProtocolVersion: protocol.Version})
	sub = c.readSubscribed()
	if sub.AgentCount != 1 {
		t.Fatalf("agent count after refresh: %+v", sub)
	}
	if got := srv.Metrics().CommandsOK.Load(); got != 1 {
		t.Fatalf("commands ok = %d", got)
	}
}

func TestSubscribeUnknownWorld(t *testing.T) {
	_, c := dialTestServer(t, nil, t.TempDir(), nil)
	c.send(subscribeFrame("ghost", ""))
	em := c.readError()
	if em.Code != protocol.ErrWorldNotFound {
		t.Fatalf("error: %+v", em)
	}
}

func TestCommandWithoutSubscription(t *testing.T) {
	_, c := dialTestServer(t, nil, t.TempDir(), nil)
	c.send(commandFrame("req_1", "/clear all"))
	resp := c.readResponse()
	if resp.Success || resp.Code != protocol.ErrContextRequired {
		t.Fatalf("response: %+v", resp)
	}
}

func TestUnsubscribeClearsRecordedWorld(t *testing.T) {
	root := t.TempDir()
	if _, err := storage.CreateWorld(root, world.Config{Name: "Arena"}); err != nil {
		t.Fatalf("seed world: %v", err)
	}
	rec := &captureRecorder{}
	_, c := dialTestServer(t, nil, root, rec)

	c.send(subscribeFrame("arena", ""))
	c.readSubscribed()
	c.send(commandFrame("req_1", "/getWorlds"))
	c.readResponse()

	c.send(protocol.UnsubscribeMsg{Type: protocol.TypeUnsubscribe, ProtocolVersion: protocol.Version})
	c.send(commandFrame("req_2", "/getWorlds"))
	c.readResponse()

	worlds := rec.commandWorlds()
	if len(worlds) != 2 {
		t.Fatalf("recorded %d commands, want 2", len(worlds))
	}
	if worlds[0] != "arena" {
		t.Fatalf("subscribed command recorded against %q", worlds[0])
	}
	if worlds[1] != "" {
		t.Fatalf("post-unsubscribe command still recorded against %q", worlds[1])
	}
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	_, c := dialTestServer(t, nil, t.TempDir(), nil)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if em := c.readError(); em.Code != protocol.ErrBadRequest {
		t.Fatalf("error: %+v", em)
	}
	c.send(map[string]string{"type": "teleport"})
	if em := c.readError(); em.Code != protocol.ErrBadRequest {
		t.Fatalf("error: %+v", em)
	}
}

func TestEventForwardingAndEchoFilter(t *testing.T) {
	w, err := world.New(world.Config{Name: "Arena"})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	w.SetSaver(func(*world.World) error { return nil })
	loader := func(root, id string) (*world.World, error) { return w, nil }
	srv, c := dialTestServer(t, loader, t.TempDir(), nil)

	c.send(subscribeFrame("arena", "HUMAN"))
	c.readSubscribed()

	// The client's own event is filtered; bob's goes through.
	w.Emit(protocol.WorldEvent{EventType: protocol.EventMessage, Sender: "HUMAN", Message: "mine"})
	w.Emit(protocol.WorldEvent{EventType: protocol.EventMessage, Sender: "bob", Message: "hello"})

	typ, msg := c.read()
	if typ != protocol.TypeEvent {
		t.Fatalf("frame type %s: %s", typ, msg)
	}
	var ev protocol.WorldEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Sender != "bob" || ev.Message != "hello" {
		t.Fatalf("event: %+v", ev)
	}
	if got := srv.Metrics().EventsForwarded.Load(); got != 1 {
		t.Fatalf("events forwarded = %d", got)
	}
}
