package realtime

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnState is the lifecycle position of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type connLimits struct {
	writeTimeout   time.Duration
	pingInterval   time.Duration
	idleTimeout    time.Duration
	maxMessageSize int64
}

// Conn is one authenticated WebSocket. A single writer goroutine drains the
// send buffer, so frames reach the client in the order they were queued.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	limits connLimits
	log    zerolog.Logger

	state atomic.Int32

	mu     sync.Mutex
	closed bool
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Conn)
}

func newConn(ws *websocket.Conn, userID string, buffer int, limits connLimits, logger zerolog.Logger, onClose func(*Conn)) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:      id,
		userID:  userID,
		ws:      ws,
		limits:  limits,
		log:     logger.With().Str("conn_id", id).Str("user_id", userID).Logger(),
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues a frame without blocking. It fails when the connection is
// closed or its buffer is full.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down exactly once: it runs the close hook
// (deregistration), stops the writer and closes the socket with code.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.state.Store(int32(StateClosed))
		if c.onClose != nil {
			c.onClose(c)
		}

		deadline := time.Now().Add(c.limits.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
		close(c.done)
		c.log.Debug().Int("code", code).Str("reason", reason).Msg("connection closed")
	})
}

// readLoop reads frames until the socket fails, then closes the connection.
// Every data frame and pong pushes the idle deadline forward.
func (c *Conn) readLoop(dispatch func([]byte)) {
	c.ws.SetReadLimit(c.limits.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.limits.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.limits.idleTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeAfterReadError(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.limits.idleTimeout))
		dispatch(data)
	}
}

func (c *Conn) closeAfterReadError(err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		c.Close(websocket.CloseGoingAway, "idle timeout")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.Close(websocket.CloseNormalClosure, "")
	case errors.Is(err, websocket.ErrReadLimit):
		c.Close(websocket.CloseMessageTooBig, "frame too large")
	default:
		c.log.Debug().Err(err).Msg("read failed")
		c.Close(websocket.CloseGoingAway, "")
	}
}

// writePump is the only goroutine writing data frames to the socket.
func (c *Conn) writePump() {
	// No pings without a positive interval; the idle deadline still applies.
	var tick <-chan time.Time
	if c.limits.pingInterval > 0 {
		ticker := time.NewTicker(c.limits.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.limits.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-tick:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.limits.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}
