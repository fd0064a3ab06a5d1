package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	DefaultPingPeriod = 54 * time.Second
	DefaultReadLimit  = 32768
	sendBuffer        = 32
	writeWait         = 5 * time.Second
)

// Registry is where live events connections are announced.
type Registry interface {
	Register(core.SignalConnection)
	Unregister(core.SignalConnection)
}

type EventsController struct {
	Registry   Registry
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewEventsController(reg Registry, readLimit int64, pingPeriod time.Duration) *EventsController {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	if pingPeriod <= 0 {
		pingPeriod = DefaultPingPeriod
	}
	return &EventsController{Registry: reg, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

type WsSignalConn struct {
	id    core.ConnID
	owner string
	conn  *websocket.Conn
	send  chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleEvents upgrades the request and keeps the connection registered
// until either side goes away or ctx is done.
func (ctl *EventsController) HandleEvents(ctx context.Context, c *gin.Context) {
	owner := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:    core.ConnID(uuid.NewString()),
		owner: owner,
		conn:  ws,
		send:  make(chan core.Frame, sendBuffer),
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("owner", owner).Msg("new events connection")

	ctl.Registry.Register(conn)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(conn)
}
