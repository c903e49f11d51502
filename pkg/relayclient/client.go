package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tphan267/pulse-relay/pkg/logger"
)

// AnyType registers a handler that sees every message without a specific one.
const AnyType = "*"

// Client is a reconnecting WebSocket client for the relay
type Client struct {
	serverURL string
	wsPath    string
	token     string
	userID    int64
	conn      *websocket.Conn
	mutex     sync.RWMutex
	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc

	messageHandlers   map[string]MessageHandler
	onConnectHandlers []OnConnectHandler
	handlerMutex      sync.RWMutex

	outboundChan chan Envelope

	logger *logger.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	reconnecting   bool
	reconnectMutex sync.Mutex
}

// NewClient creates a client for the relay at serverURL (http, https, ws or
// wss). token is sent as the session token; it may be empty in trust mode,
// together with SetUserID.
func NewClient(serverURL, token string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		serverURL:       strings.TrimRight(serverURL, "/"),
		wsPath:          "/ws",
		token:           token,
		messageHandlers: make(map[string]MessageHandler),
		outboundChan:    make(chan Envelope, 100),
		logger:          log.WithPrefix("Client"),
		initialBackoff:  time.Second,
		maxBackoff:      60 * time.Second,
	}
}

// SetUserID makes every envelope carry senderId. A relay in trust mode binds
// a tokenless socket to the first senderId it sees; in session mode the id
// must match the session user.
func (c *Client) SetUserID(id int64) {
	c.mutex.Lock()
	c.userID = id
	c.mutex.Unlock()
}

// SetPath overrides the WebSocket path (default "/ws")
func (c *Client) SetPath(path string) {
	c.wsPath = path
}

// SetBackoff sets the reconnect backoff bounds
func (c *Client) SetBackoff(initial, max time.Duration) {
	c.initialBackoff = initial
	c.maxBackoff = max
}

// URL returns the WebSocket URL the client dials
func (c *Client) URL() (string, error) {
	raw := c.serverURL
	if after, ok := strings.CutPrefix(raw, "http://"); ok {
		raw = "ws://" + after
	} else if after, ok := strings.CutPrefix(raw, "https://"); ok {
		raw = "wss://" + after
	}
	u, err := url.Parse(raw + c.wsPath)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the relay. If the first attempt fails the error is returned
// and the client keeps retrying in the background until ctx is done or Close
// is called.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.processOutboundMessages()

	if err := c.connectOnce(c.ctx); err != nil {
		c.logger.Warn("Connection failed: %v, will retry in background", err)
		go c.reconnect()
		return err
	}
	return nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	wsURL, err := c.URL()
	if err != nil {
		return err
	}
	c.logger.Debug("Connecting to %s", c.serverURL+c.wsPath)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	headers := make(map[string][]string)
	if c.token != "" {
		headers["Authorization"] = []string{"Bearer " + c.token}
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.mutex.Lock()
	c.conn = conn
	c.mutex.Unlock()

	c.logger.Info("Connected to %s", c.serverURL)

	go c.readMessages(conn)
	go c.keepalive(conn)

	c.handlerMutex.RLock()
	handlers := make([]OnConnectHandler, len(c.onConnectHandlers))
	copy(handlers, c.onConnectHandlers)
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			c.logger.Warn("OnConnect handler error: %v", err)
		}
	}

	return nil
}

func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.logger.Warn("Read error: %v", err)
			go c.reconnect()
			return
		}

		msg := &Message{Raw: data}
		if err := json.Unmarshal(data, msg); err != nil {
			c.logger.Warn("Failed to unmarshal message: %v", err)
			continue
		}

		c.handlerMutex.RLock()
		handler, exists := c.messageHandlers[msg.Type]
		if !exists {
			handler, exists = c.messageHandlers[AnyType]
		}
		c.handlerMutex.RUnlock()

		if !exists {
			c.logger.Debug("No handler for message type: %s", msg.Type)
			continue
		}
		if err := handler(c.ctx, msg); err != nil {
			c.logger.Warn("Handler error for %s: %v", msg.Type, err)
		}
	}
}

// Send writes one envelope to the relay
func (c *Client) Send(env Envelope) error {
	c.mutex.RLock()
	conn, userID := c.conn, c.userID
	c.mutex.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected to relay")
	}

	if _, ok := env["senderId"]; !ok && userID != 0 {
		stamped := make(Envelope, len(env)+1)
		for k, v := range env {
			stamped[k] = v
		}
		stamped["senderId"] = userID
		env = stamped
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	return nil
}

// SetMessageHandler sets the handler for a message type, or AnyType
func (c *Client) SetMessageHandler(msgType string, handler MessageHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.messageHandlers[msgType] = handler
}

// AddOnConnectHandler adds a handler called after each connect. Rejoining
// streams after a reconnect belongs here.
func (c *Client) AddOnConnectHandler(handler OnConnectHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.onConnectHandlers = append(c.onConnectHandlers, handler)
}

func (c *Client) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mutex.RLock()
			current := c.conn == conn
			c.mutex.RUnlock()
			if !current {
				return
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Ping failed: %v", err)
			}
		}
	}
}

func (c *Client) processOutboundMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.outboundChan:
			if !c.IsConnected() {
				c.logger.Debug("Skipping outbound envelope (disconnected): %v", env["type"])
				continue
			}
			if err := c.Send(env); err != nil {
				c.logger.Warn("Failed to send outbound envelope %v: %v", env["type"], err)
			}
		}
	}
}

func (c *Client) reconnect() {
	c.reconnectMutex.Lock()
	if c.reconnecting {
		c.reconnectMutex.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMutex.Unlock()

	defer func() {
		c.reconnectMutex.Lock()
		c.reconnecting = false
		c.reconnectMutex.Unlock()
	}()

	c.mutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mutex.Unlock()

	backoff := c.initialBackoff
	attempt := 1

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Reconnection stopped - context cancelled")
			return
		default:
		}

		if err := c.connectOnce(c.ctx); err != nil {
			c.logger.Info("Reconnect attempt #%d failed: %v (retrying in %v)", attempt, err, backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			attempt++
			continue
		}

		c.logger.Info("Reconnected on attempt #%d", attempt)
		return
	}
}

// Close stops reconnecting and closes the connection
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.conn != nil
}

// OutboundChannel returns the send-only channel for queued envelopes
func (c *Client) OutboundChannel() chan<- Envelope {
	return c.outboundChan
}
