package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/relay"
)

// Socket is the part of a WebSocket connection the pumps use. Both the fiber
// websocket.Conn and gorilla's websocket.Conn satisfy it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Relay receives connection lifecycle and inbound frames.
type Relay interface {
	Connect(conn relay.Conn, id relay.Identity) error
	Dispatch(conn relay.Conn, data []byte) error
	Disconnect(conn relay.Conn) error
}

// Options tune a connection's pumps.
type Options struct {
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendQueueSize  int
	// RateLimit is inbound envelopes per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.IdleTimeout {
		o.PingInterval = (o.IdleTimeout * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = int(o.RateLimit * 2)
		if o.RateBurst < 1 {
			o.RateBurst = 1
		}
	}
	return o
}

// Conn pumps frames between one socket and the relay.
type Conn struct {
	id      string
	remote  string
	ws      Socket
	relay   Relay
	opts    Options
	log     *logger.Logger
	limiter *rate.Limiter

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	limited atomic.Uint64
}

func NewConn(ws Socket, remote string, r Relay, opts Options, log *logger.Logger) *Conn {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.Discard()
	}
	c := &Conn{
		id:     uuid.NewString(),
		remote: remote,
		ws:     ws,
		relay:  r,
		opts:   opts,
		log:    log,
		send:   make(chan []byte, opts.SendQueueSize),
		closed: make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}
	return c
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.remote }

// RateLimited returns how many inbound frames were dropped by the limiter
func (c *Conn) RateLimited() uint64 { return c.limited.Load() }

// Send queues data for the writer. It never blocks.
func (c *Conn) Send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close asks the writer to send a close frame and shut the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Serve registers the connection with the relay and runs both pumps. It
// returns once the socket is gone.
func (c *Conn) Serve(id relay.Identity) error {
	if err := c.relay.Connect(c, id); err != nil {
		_ = c.ws.Close()
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		c.writePump()
		close(writerDone)
	}()

	c.readPump()
	_ = c.Close()
	<-writerDone
	return nil
}

func (c *Conn) extendDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
}

func (c *Conn) readPump() {
	defer func() {
		if err := c.relay.Disconnect(c); err != nil && !errors.Is(err, relay.ErrRelayClosed) {
			c.log.Error("Failed to disconnect %s: %v", c.id, err)
		}
	}()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("Read error on %s (%s): %v", c.id, c.remote, err)
			} else {
				c.log.Debug("Connection %s closed: %v", c.id, err)
			}
			return
		}
		c.extendDeadline()

		if msgType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame from %s", c.id)
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.limited.Add(1)
			c.log.Debug("Rate limit exceeded on %s, frame dropped", c.id)
			continue
		}
		if err := c.relay.Dispatch(c, data); err != nil {
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Write to %s failed: %v", c.id, err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
