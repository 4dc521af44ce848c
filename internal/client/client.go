// Package client maintains one live websocket connection to a chat gateway,
// translating inbound frames into session store mutations and outbound calls
// into wire frames. It recovers from transient disconnects with a bounded
// retry policy and keeps the connection alive with a heartbeat.
package client

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/internal/session"
	"github.com/docchat-ai/rag-chat/pkg/logger"
)

// Config controls connection behavior.
type Config struct {
	// URL is the full websocket endpoint, session id included
	// (e.g. ws://host/ws/<session-id>).
	URL string

	// RequestHeader is sent with the websocket handshake (auth tokens etc).
	RequestHeader http.Header

	// HeartbeatInterval is the period between keep-alive ping frames.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the base delay between reconnect attempts.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds automatic reconnects. Once exceeded the
	// client stops retrying until Connect is called again.
	MaxReconnectAttempts int

	// BackoffFactor scales the delay between successive attempts. 1 keeps
	// the delay fixed; values above 1 give exponential backoff.
	BackoffFactor float64

	// MaxReconnectDelay caps the backoff delay. Zero means no cap.
	MaxReconnectDelay time.Duration

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// StreamIdleTimeout, when non-zero, transitions a streaming message that
	// has received no frames for this duration to an error status. Zero
	// disables the watchdog.
	StreamIdleTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 3 * time.Second
	}
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = 5
	}
	if out.BackoffFactor < 1 {
		out.BackoffFactor = 1
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	return out
}

// Callbacks are optional typed notification hooks. All callbacks run on the
// client's internal goroutines; they must not block.
type Callbacks struct {
	// OnConnected fires after each successful socket open.
	OnConnected func()

	// OnDisconnected fires when the socket closes, with the close code and
	// reason when the peer supplied them.
	OnDisconnected func(code int, reason string)

	// OnError fires for transport-level failures (dial, read, write).
	OnError func(err error)

	// OnServerError fires for error frames reported by the gateway. These
	// do not alter connection state.
	OnServerError func(code, message string)

	// OnMaxReconnectAttemptsReached fires exactly once per exhaustion of the
	// retry budget. The client will not reconnect on its own afterwards.
	OnMaxReconnectAttemptsReached func()
}

// Client is a reconnecting streaming-session client. One client owns one
// socket connection for one conversation.
type Client struct {
	cfg   Config
	cb    Callbacks
	store *session.Store
	log   *logger.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	gen              uint64 // connection generation, guards stale read loops
	attempts         int
	intentionalClose bool
	maxNotified      bool
	reconnectTimer   *time.Timer
	idleTimer        *time.Timer
	heartbeatStop    chan struct{}

	writeMu sync.Mutex
}

// New creates a client bound to a session store. The store must outlive the
// client; every inbound frame mutates it.
func New(cfg Config, store *session.Store, cb Callbacks, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		cfg:   cfg.withDefaults(),
		cb:    cb,
		store: store,
		log:   log,
	}
}

// Connect opens the socket. It resets the retry budget and re-arms automatic
// reconnection, so it is also the recovery entry point after the client has
// given up. Returns the dial error; on failure a reconnect is already
// scheduled.
func (c *Client) Connect() error {
	c.mu.Lock()
	c.intentionalClose = false
	c.maxNotified = false
	c.attempts = 0
	c.mu.Unlock()

	return c.dial()
}

// dial performs one connection attempt.
func (c *Client) dial() error {
	c.mu.Lock()
	if c.intentionalClose {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.store.SetConnectionState(model.ConnConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, c.cfg.RequestHeader)
	if err != nil {
		c.log.Warn("websocket dial failed", "url", c.cfg.URL, "error", err)
		c.store.SetConnectionState(model.ConnDisconnected)
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	// A Disconnect issued while the handshake was in flight wins: discard
	// the late connection instead of resurrecting the client.
	if c.intentionalClose {
		c.mu.Unlock()
		conn.Close()
		c.store.SetConnectionState(model.ConnDisconnected)
		return nil
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempts = 0
	c.heartbeatStop = make(chan struct{})
	stop := c.heartbeatStop
	c.mu.Unlock()

	if c.store.SessionID() == "" {
		c.store.CreateSession()
	}
	c.store.SetConnectionState(model.ConnConnected)
	c.log.Info("websocket connected", "url", c.cfg.URL)
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}

	go c.readLoop(conn, gen)
	go c.heartbeatLoop(stop)

	return nil
}

// Disconnect closes the socket intentionally and suppresses automatic
// reconnection. All timers are cleared synchronously; none fire afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentionalClose = true
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}

	c.store.SetConnectionState(model.ConnDisconnected)
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnClosed(gen, err)
			return
		}
		c.handleRaw(data)
	}
}

// handleConnClosed runs when the read loop observes a closed socket. Stale
// generations (a loop outliving an intentional Disconnect) are ignored.
func (c *Client) handleConnClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	intentional := c.intentionalClose
	c.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	reason := ""
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	c.store.SetConnectionState(model.ConnDisconnected)
	c.log.Info("websocket closed", "code", code, "reason", reason)
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected(code, reason)
	}

	if !intentional {
		if c.cb.OnError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.cb.OnError(err)
		}
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the next retry, or reports terminal exhaustion of
// the retry budget exactly once.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.intentionalClose {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		notify := !c.maxNotified
		c.maxNotified = true
		c.mu.Unlock()
		if notify {
			c.log.Warn("reconnect attempts exhausted",
				"max_attempts", c.cfg.MaxReconnectAttempts)
			if c.cb.OnMaxReconnectAttemptsReached != nil {
				c.cb.OnMaxReconnectAttemptsReached()
			}
		}
		return
	}

	c.attempts++
	delay := c.reconnectDelay(c.attempts)
	c.reconnectTimer = time.AfterFunc(delay, func() { c.dial() })
	c.mu.Unlock()

	c.log.Info("reconnect scheduled", "attempt", c.attempts, "delay", delay)
}

func (c *Client) reconnectDelay(attempt int) time.Duration {
	delay := c.cfg.ReconnectDelay
	if c.cfg.BackoffFactor > 1 && attempt > 1 {
		delay = time.Duration(float64(delay) * math.Pow(c.cfg.BackoffFactor, float64(attempt-1)))
	}
	if c.cfg.MaxReconnectDelay > 0 && delay > c.cfg.MaxReconnectDelay {
		delay = c.cfg.MaxReconnectDelay
	}
	return delay
}

func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Send(model.FramePing, nil)
		}
	}
}
