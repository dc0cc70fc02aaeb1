// Package signal is the WebSocket side of the signaling protocol: one
// connection per participant session, a read pump that handles that
// client's messages strictly in order, and a write pump fed by a bounded
// queue.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	JoinLimit    int
	JoinInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		WriteWait:    5 * time.Second,
		SendBuffer:   64,
		JoinLimit:    5,
		JoinInterval: time.Minute,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Metrics metrics.Collector

	opts     Options
	limiter  *RoomRateLimiter
	validate *validator.Validate
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

func NewSignalWSController(o *orch.Orchestrator, m metrics.Collector, opts Options) *SignalWSController {
	if m == nil {
		m = metrics.Noop{}
	}
	def := DefaultOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.JoinLimit <= 0 {
		opts.JoinLimit = def.JoinLimit
	}
	if opts.JoinInterval <= 0 {
		opts.JoinInterval = def.JoinInterval
	}
	ctl := &SignalWSController{
		Orch:     o,
		Metrics:  m,
		opts:     opts,
		limiter:  NewRoomRateLimiter(opts.JoinLimit, opts.JoinInterval),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			CheckOrigin:  func(r *http.Request) bool { return true },
			Subprotocols: []string{MsgpackSubprotocol},
		},
	}
	ctl.handlers = ctl.routes()
	return ctl
}

// WsSignalConn implements core.SignalConnection over a websocket.
type WsSignalConn struct {
	conn  *websocket.Conn
	codec Codec
	send  chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(ws *websocket.Conn, codec Codec, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn:  ws,
		codec: codec,
		send:  make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) Send(v any) error {
	b, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// session is the read pump's view of its connection. The participant
// is replaced after an explicit leave so that the same connection can
// join again under a fresh participant id.
type session struct {
	token  string
	conn   *WsSignalConn
	ctx    context.Context
	cancel context.CancelFunc
	p      *core.Participant
}

// newParticipantID keeps the browser's cookie token as a prefix so that
// logs group the tabs of one browser, while every connection stays a
// distinct participant.
func newParticipantID(token string) domain.ParticipantID {
	if token == "" {
		return domain.NewParticipantID()
	}
	return domain.ParticipantID(token + "." + uuid.NewString()[:8])
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	codec := CodecFor(ws.Subprotocol())
	conn := NewWsSignalConn(ws, codec, ctl.opts.SendBuffer)

	ctx, cancel := context.WithCancel(ctx)
	s := &session{token: token, conn: conn, ctx: ctx, cancel: cancel}
	ctl.bindParticipant(s)
	ctl.Metrics.ClientConnected()
	log.Info().Str("module", "signal").Str("participant", string(s.p.ID())).Str("codec", codec.Name()).Msg("new WS connection")

	go ctl.writePump(s)
	go ctl.readPump(s)
}

func (ctl *SignalWSController) bindParticipant(s *session) {
	s.p = core.NewParticipant(newParticipantID(s.token), s.conn)
	if ctl.Orch.Sessions != nil {
		ctl.Orch.Sessions.BindSession(s.p, s.cancel)
	}
}
