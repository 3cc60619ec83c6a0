package protocol

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type ConnConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	MaxFrameSize int64
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout: 10 * time.Second,
		MaxFrameSize: 4 * 1024 * 1024, // 4MB
	}
}

type ConnStats struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
	ConnectedAt    time.Time
	LastActivity   time.Time
}

// Conn reads and writes frames over a websocket. Writes are serialized;
// reads must come from a single goroutine.
type Conn struct {
	id          string
	conn        *websocket.Conn
	config      ConnConfig
	connectedAt time.Time

	lastActivity atomic.Int64 // unix nanos
	closed       atomic.Bool

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64

	writeMu sync.Mutex
}

func NewConn(conn *websocket.Conn, config ConnConfig) *Conn {
	if config.MaxFrameSize > 0 {
		conn.SetReadLimit(config.MaxFrameSize)
	}
	now := time.Now()
	c := &Conn{
		id:          uuid.NewString(),
		conn:        conn,
		config:      config,
		connectedAt: now,
	}
	c.lastActivity.Store(now.UnixNano())
	conn.SetPingHandler(c.onPing)
	return c
}

// onPing counts a peer ping as activity and answers it.
func (c *Conn) onPing(data string) error {
	c.lastActivity.Store(time.Now().UnixNano())
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// Ping sends a keepalive ping.
func (c *Conn) Ping() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
		return errors.Wrap(err, "failed to ping")
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) WriteFrame(f Frame) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	data, err := Encode(f)
	if err != nil {
		return errors.Wrap(err, "failed to encode frame")
	}
	if c.config.MaxFrameSize > 0 && int64(len(data)) > c.config.MaxFrameSize {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err = c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}

	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// ReadFrame blocks for the next frame. A frame that fails to decode is
// reported with an error for which IsFrameError holds, and the connection
// stays usable.
func (c *Conn) ReadFrame() (Frame, error) {
	if c.IsClosed() {
		return Frame{}, ErrConnectionClosed
	}
	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return Frame{}, ErrFrameTooLarge
		}
		return Frame{}, errors.Wrap(err, "failed to read frame")
	}
	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return Frame{}, errors.Wrap(ErrInvalidFrame, "unsupported message type")
	}

	c.framesReceived.Add(1)
	c.bytesReceived.Add(uint64(len(data)))
	c.lastActivity.Store(time.Now().UnixNano())

	return Decode(data)
}

func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Conn) Stats() ConnStats {
	return ConnStats{
		FramesSent:     c.framesSent.Load(),
		FramesReceived: c.framesReceived.Load(),
		BytesSent:      c.bytesSent.Load(),
		BytesReceived:  c.bytesReceived.Load(),
		ConnectedAt:    c.connectedAt,
		LastActivity:   c.LastActivity(),
	}
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close sends a close message and tears down the socket. Safe to call twice.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
