// Package signal is the directory server: peers register an identifier on a
// websocket and exchange WebRTC negotiation through it.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	MetricRegister       = []string{"directory", "register"}
	MetricForwardDropped = []string{"directory", "forward", "dropped"}
)

// Options tunes every socket the controller accepts.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	WriteWait  time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

// pongWait must exceed the ping period so one late pong does not drop a peer.
func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

type SignalWSController struct {
	Dir     *Directory
	Limiter *RegisterRateLimiter
	Opts    Options
}

func NewSignalWSController(dir *Directory, limiter *RegisterRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Dir:     dir,
		Limiter: limiter,
		Opts:    opts.withDefaults(),
	}
}

// WsSignalConn is one peer socket. It holds at most one identifier.
type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan core.Frame
	connID string
	token  string

	mu     sync.RWMutex
	closed bool
	id     domain.SessionID
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) ID() domain.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *WsSignalConn) setID(id domain.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	// The response header carries the client token cookie set by middleware.
	ws, err := upgrader.Upgrade(c.Writer, c.Request, c.Writer.Header())
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, ctl.Opts.SendBuffer),
		connID: uuid.NewString(),
		token:  token,
	}
	log.Info().Str("module", "signal").Str("conn", conn.connID).Str("token", token).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

// release frees whatever identifier conn still holds.
func (ctl *SignalWSController) release(conn *WsSignalConn) {
	id := conn.ID()
	if id == "" {
		return
	}
	if ctl.Dir.Unregister(id, conn) {
		log.Info().Str("module", "signal").Str("conn", conn.connID).Str("id", string(id)).Msg("identifier freed")
	}
	conn.setID("")
}
