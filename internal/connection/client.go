package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket connection to the stream server.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close sends a normal-closure frame and closes the connection.
	Close() error

	// Send writes one text frame to the connection.
	Send(data []byte) error

	// Receive returns the next inbound frame in wire order. It blocks until
	// a frame arrives and returns false once the connection has ended and
	// every buffered frame has been returned.
	Receive() (TimestampedMessage, bool)

	// Err returns why the read side ended. It is nil while the connection
	// is alive and after a local Close.
	Err() error

	// Stats returns inbound buffer statistics.
	Stats() BufferStats

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	inbound *Queue[TimestampedMessage]

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	readErr   error
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:     cfg,
		logger:  logger,
		inbound: NewQueue[TimestampedMessage](cfg.BufferSize),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.inbound.Close()
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("failed to send close frame", "error", err)
	}

	// Unblocks readLoop, which closes the inbound queue.
	return conn.Close()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the next buffered inbound frame.
func (c *client) Receive() (TimestampedMessage, bool) {
	return c.inbound.Pop()
}

// Err returns the read error that ended the connection.
func (c *client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readErr
}

// Stats returns inbound buffer statistics.
func (c *client) Stats() BufferStats {
	return c.inbound.Stats()
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames from the WebSocket into the inbound queue.
func (c *client) readLoop() {
	defer c.inbound.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			c.mu.Lock()
			c.connected = false
			// Errors after Close() are expected and not reported.
			if !c.closed {
				c.readErr = err
			}
			c.mu.Unlock()
			return
		}

		c.inbound.Push(TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		})
	}
}

// IsAbnormalClose reports whether a read error ended the connection in a way
// that warrants reconnecting. Only a normal-closure frame from the server is
// considered a clean end.
func IsAbnormalClose(err error) bool {
	if err == nil {
		return false
	}
	return !websocket.IsCloseError(err, websocket.CloseNormalClosure)
}
