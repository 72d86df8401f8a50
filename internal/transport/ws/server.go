package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"worldweaver.app/internal/persistence/indexdb"
	"worldweaver.app/internal/protocol"
	"worldweaver.app/internal/sim/render"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/world"
)

// WorldLister serves list_worlds; the SQLite index implements it.
type WorldLister interface {
	ListWorlds(ctx context.Context, limit int) ([]indexdb.WorldRow, error)
}

type Options struct {
	Index      WorldLister
	Journal    bool
	CmdTimeout time.Duration
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
	sessions atomic.Int64
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	if opts.CmdTimeout <= 0 {
		opts.CmdTimeout = 2 * time.Minute
	}
	return &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of open websocket sessions.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

type session struct {
	id      string
	results chan []byte
	events  chan []byte
	wantEv  bool
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("ws session %s open from %s", sess.id, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if sess.wantEv {
			evs, unsubscribe, err := s.world.Subscribe(ctx, 16)
			if err == nil {
				defer unsubscribe()
				go pumpEvents(evs, sess.events)
			}
		}

		// Writer goroutine. Results are never dropped; events are newest-wins.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-sess.results:
				case b = <-sess.events:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop. Commands on one session run in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			res := s.dispatch(ctx, msg)
			b, err := json.Marshal(res)
			if err != nil {
				b, _ = json.Marshal(protocol.NewResult(res.ID, nil, err))
			}
			select {
			case sess.results <- b:
			case <-ctx.Done():
			}
		}
		s.log.Printf("ws session %s closed", sess.id)
	}
}

func (s *Server) dispatch(ctx context.Context, msg []byte) protocol.ResultMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewResult("", nil, &protocol.ProtoError{Msg: "bad json"})
	}
	if base.Type != protocol.TypeCmd {
		return protocol.NewResult("", nil, &protocol.ProtoError{Msg: "expected CMD, got " + strconv.Quote(base.Type)})
	}
	cmd, err := protocol.DecodeCmd(msg)
	if err != nil {
		// Echo the id when it can be recovered so the client can match the reply.
		var head struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(msg, &head)
		return protocol.NewResult(head.ID, nil, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.CmdTimeout)
	defer cancel()

	var result any
	if cmd.Command == protocol.CmdListWorlds {
		result, err = s.listWorlds(cctx, cmd.Params)
	} else {
		result, err = s.world.Execute(cctx, cmd.Command, cmd.Params)
	}
	return protocol.NewResult(cmd.ID, result, err)
}

func (s *Server) listWorlds(ctx context.Context, raw json.RawMessage) (any, error) {
	if s.opts.Index == nil {
		return nil, terrain.Validationf(protocol.CmdListWorlds, "world index is disabled")
	}
	var p protocol.ListWorldsParams
	if err := protocol.DecodeParams(raw, &p); err != nil {
		return nil, err
	}
	rows, err := s.opts.Index.ListWorlds(ctx, p.Limit)
	if err != nil {
		return nil, terrain.IOErr(protocol.CmdListWorlds, err)
	}
	return map[string]any{"worlds": rows}, nil
}

func pumpEvents(in <-chan world.Event, out chan []byte) {
	for ev := range in {
		b, err := json.Marshal(protocol.EventMsg{
			Type:            protocol.TypeEvent,
			ProtocolVersion: protocol.Version,
			Seq:             ev.Seq,
			Event:           ev,
		})
		if err != nil {
			continue
		}
		sendLatest(out, b)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	sess := &session{
		id:      uuid.NewString(),
		results: make(chan []byte, maxQ),
		events:  make(chan []byte, maxQ),
		wantEv:  hello.Capabilities.Events,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var status any
	if st, err := s.world.Status(ctx); err == nil {
		status = st
	}

	tun := s.world.Tuning()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		ServerCapabilities: protocol.ServerCapabilities{
			Events:      true,
			FramePNG:    true,
			MaxTexture:  tun.MaxTextureDimension,
			UndoDepth:   tun.UndoDepth,
			Journal:     s.opts.Journal,
			WorldsIndex: s.opts.Index != nil,
		},
		Commands: protocol.Commands,
		Status:   status,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

// FrameHandler serves the current view as PNG. Query: thumb=N limits the
// longer side to N pixels; hide_underwater=1 flattens the sea.
func (s *Server) FrameHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		thumb, _ := strconv.Atoi(q.Get("thumb"))
		hide, _ := strconv.ParseBool(q.Get("hide_underwater"))

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		img, err := s.world.RenderFrame(ctx, world.FrameOptions{HideUnderwater: hide})
		if err != nil {
			code := http.StatusInternalServerError
			switch {
			case errors.Is(err, terrain.ErrNoTerrain):
				code = http.StatusConflict
			case errors.Is(err, terrain.ErrDevice):
				code = http.StatusServiceUnavailable
			}
			http.Error(rw, err.Error(), code)
			return
		}
		b, err := render.PNGBytes(render.Thumbnail(img, thumb))
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("content-type", "image/png")
		rw.Header().Set("cache-control", "no-store")
		_, _ = rw.Write(b)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
