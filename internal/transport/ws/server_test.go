package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"worldweaver.app/internal/persistence/indexdb"
	"worldweaver.app/internal/protocol"
	"worldweaver.app/internal/sim/tuning"
	"worldweaver.app/internal/sim/world"
)

type fakeLister struct{ rows []indexdb.WorldRow }

func (f fakeLister) ListWorlds(ctx context.Context, limit int) ([]indexdb.WorldRow, error) {
	return f.rows, nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *world.World) {
	t.Helper()
	w, err := world.New(world.Config{Tuning: tuning.Defaults(), DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	s := NewServer(w, log.New(io.Discard, "", 0), opts)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", s.Handler())
	mux.HandleFunc("/v1/frame.png", s.FrameHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		w.Stop()
		<-w.Done()
		cancel()
	})
	return srv, w
}

func dial(t *testing.T, srv *httptest.Server, events bool) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Capabilities:    protocol.HelloCapabilities{Events: events},
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	if len(welcome.Commands) != len(protocol.Commands) {
		t.Fatalf("commands=%v", welcome.Commands)
	}
	return conn
}

type inbound struct {
	Type  string              `json:"type"`
	ID    string              `json:"id"`
	OK    bool                `json:"ok"`
	Error *protocol.ErrorBody `json:"error"`
	Event json.RawMessage     `json:"event"`

	Result json.RawMessage `json:"result"`
}

// call sends one CMD and returns its RESULT, collecting any EVENTs seen first.
func call(t *testing.T, conn *websocket.Conn, id, command string, params any) (inbound, []inbound) {
	t.Helper()
	msg := map[string]any{
		"type":             protocol.TypeCmd,
		"protocol_version": protocol.Version,
		"id":               id,
		"command":          command,
	}
	if params != nil {
		msg["params"] = params
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", command, err)
	}
	var events []inbound
	for {
		_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			t.Fatalf("read %s: %v", command, err)
		}
		if in.Type == protocol.TypeResult && in.ID == id {
			return in, events
		}
		events = append(events, in)
	}
}

func TestSessionCommandsAndEvents(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	conn := dial(t, srv, true)

	res, _ := call(t, conn, "g1", protocol.CmdGenerateTerrain, map[string]any{
		"worldWidth": 128, "worldHeight": 128, "seed": 3, "octaves": 3,
	})
	if !res.OK {
		t.Fatalf("generate: %+v", res.Error)
	}

	res, _ = call(t, conn, "t1", protocol.CmdSetActiveTool, map[string]any{"tool": "raise"})
	if !res.OK {
		t.Fatalf("set tool: %+v", res.Error)
	}
	res, _ = call(t, conn, "b1", protocol.CmdBrushTick, map[string]any{"x": 64, "y": 64, "space": "world"})
	if !res.OK {
		t.Fatalf("tick: %+v", res.Error)
	}
	res, events := call(t, conn, "e1", protocol.CmdEndStroke, nil)
	if !res.OK || string(res.Result) != `{"committed":true}` {
		t.Fatalf("end stroke: ok=%v result=%s err=%+v", res.OK, res.Result, res.Error)
	}

	// Events and results use separate queues, so the event may trail the result.
	seen := false
	for _, ev := range events {
		if ev.Type == protocol.TypeEvent && strings.Contains(string(ev.Event), `"stroke_committed"`) {
			seen = true
		}
	}
	if !seen {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for !seen {
			var in inbound
			if err := conn.ReadJSON(&in); err != nil {
				t.Fatalf("no stroke_committed event: %v", err)
			}
			seen = in.Type == protocol.TypeEvent && strings.Contains(string(in.Event), `"stroke_committed"`)
		}
	}
}

func TestBadCommandGetsProtoError(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	conn := dial(t, srv, false)

	res, _ := call(t, conn, "x1", "explode", nil)
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("res=%+v", res)
	}

	res, _ = call(t, conn, "s1", protocol.CmdStatus, nil)
	if !res.OK {
		t.Fatalf("status after bad command: %+v", res.Error)
	}

	res, _ = call(t, conn, "b1", protocol.CmdBrushTick, map[string]any{"x": 1, "y": 1})
	if res.OK || res.Error.Code != protocol.ErrNoTerrain {
		t.Fatalf("tick without terrain: %+v", res)
	}
}

func TestListWorlds(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	conn := dial(t, srv, false)
	res, _ := call(t, conn, "l1", protocol.CmdListWorlds, nil)
	if res.OK || res.Error.Code != protocol.ErrValidation {
		t.Fatalf("list without index: %+v", res)
	}

	srv2, _ := newTestServer(t, Options{Index: fakeLister{rows: []indexdb.WorldRow{{Path: "a.wwld", WorldID: "w1"}}}})
	conn2 := dial(t, srv2, false)
	res, _ = call(t, conn2, "l2", protocol.CmdListWorlds, map[string]any{"limit": 5})
	if !res.OK || !strings.Contains(string(res.Result), `"a.wwld"`) {
		t.Fatalf("list: ok=%v result=%s", res.OK, res.Result)
	}
}

func TestFrameHandler(t *testing.T) {
	srv, w := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/v1/frame.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status without terrain=%d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	cfg := w.Tuning().Terrain
	cfg.WorldWidth, cfg.WorldHeight, cfg.Octaves = 128, 128, 3
	if _, err := w.GenerateTerrain(ctx, cfg); err != nil {
		t.Fatalf("generate: %v", err)
	}

	resp, err = http.Get(srv.URL + "/v1/frame.png?thumb=64&hide_underwater=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("content-type") != "image/png" {
		t.Fatalf("status=%d type=%q", resp.StatusCode, resp.Header.Get("content-type"))
	}
	body, _ := io.ReadAll(resp.Body)
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() > 64 || b.Dy() > 64 {
		t.Fatalf("thumb bounds=%v", b)
	}
}
