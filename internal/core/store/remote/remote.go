// Package remote implements store.Store against a scene hub over a single
// websocket. Requests are correlated with their replies by request id and
// subscription updates are dispatched from the read loop, in arrival order.
package remote

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/protocol"
	"github.com/zeusync/scenesync/internal/core/store"
)

var _ store.Store = (*Client)(nil)

type Config struct {
	// URL of the hub websocket endpoint, e.g. ws://127.0.0.1:8080/ws.
	URL            string
	Token          string
	RequestTimeout time.Duration

	// KeepAlive is the ping interval; zero disables pings.
	KeepAlive time.Duration
	Conn      protocol.ConnConfig
}

func DefaultConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:8080/ws",
		RequestTimeout: 10 * time.Second,
		KeepAlive:      30 * time.Second,
		Conn:           protocol.DefaultConnConfig(),
	}
}

type Client struct {
	conn   *protocol.Conn
	config Config
	logger log.Log

	mu      sync.Mutex
	pending map[string]chan protocol.Frame
	subs    map[string]store.Handler
	closed  bool
	err     error

	done chan struct{}
}

// Dial connects to the hub and starts the read loop.
func Dial(ctx context.Context, cfg Config, logger log.Log) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse hub url")
	}
	if cfg.Token != "" {
		q := target.Query()
		q.Set("token", cfg.Token)
		target.RawQuery = q.Encode()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return nil, errors.Wrap(protocol.ErrUnauthorized, "dial hub")
		}
		return nil, errors.Wrap(err, "dial hub")
	}

	c := &Client{
		conn:    protocol.NewConn(ws, cfg.Conn),
		config:  cfg,
		logger:  logger.With(log.String("component", "store.remote"), log.String("hub", cfg.URL)),
		pending: make(map[string]chan protocol.Frame),
		subs:    make(map[string]store.Handler),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	if cfg.KeepAlive > 0 {
		go c.keepAlive(cfg.KeepAlive)
	}

	c.logger.Debug("Connected to hub")
	return c, nil
}

func (c *Client) EnsureExists(ctx context.Context, sceneID string) (store.Record, error) {
	if sceneID == "" {
		return store.Record{}, store.ErrEmptySceneID
	}
	reply, err := c.call(ctx, protocol.Request(protocol.OpEnsure, sceneID))
	if err != nil {
		return store.Record{}, err
	}
	return reply.Record(), nil
}

func (c *Client) Get(ctx context.Context, sceneID string) (store.Record, error) {
	reply, err := c.call(ctx, protocol.Request(protocol.OpGet, sceneID))
	if err != nil {
		return store.Record{}, err
	}
	return reply.Record(), nil
}

func (c *Client) Save(ctx context.Context, sceneID string, canvas []byte) error {
	if err := store.ValidateSave(sceneID, canvas); err != nil {
		return err
	}
	req := protocol.Request(protocol.OpSave, sceneID)
	req.Canvas = canvas
	_, err := c.call(ctx, req)
	return err
}

// Subscribe registers h before the request goes out, so the hub's initial
// push can never race the registration.
func (c *Client) Subscribe(ctx context.Context, sceneID string, h store.Handler) (store.Subscription, error) {
	if h == nil {
		return nil, errors.New("nil handler")
	}
	req := protocol.Request(protocol.OpSubscribe, sceneID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	c.subs[req.RequestID] = h
	c.mu.Unlock()

	if _, err := c.call(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.subs, req.RequestID)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return store.SubscriptionFunc(func() error {
		var err error
		once.Do(func() { err = c.unsubscribe(req.RequestID) })
		return err
	}), nil
}

func (c *Client) unsubscribe(sub string) error {
	c.mu.Lock()
	delete(c.subs, sub)
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}

	req := protocol.Request(protocol.OpUnsubscribe, "")
	req.Subscription = sub
	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	_, err := c.call(ctx, req)
	return err
}

func (c *Client) call(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	ch := make(chan protocol.Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Frame{}, store.ErrClosed
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	if err := c.conn.WriteFrame(req); err != nil {
		return protocol.Frame{}, errors.Wrapf(err, "%s %s", req.Op, req.SceneID)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if err := reply.Err(); err != nil {
			return protocol.Frame{}, errors.Wrapf(err, "%s %s", req.Op, req.SceneID)
		}
		return reply, nil
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	case <-timer.C:
		return protocol.Frame{}, errors.Errorf("%s %s: no reply within %s", req.Op, req.SceneID, c.config.RequestTimeout)
	case <-c.done:
		return protocol.Frame{}, errors.Wrapf(c.failure(), "%s %s", req.Op, req.SceneID)
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		f, err := c.conn.ReadFrame()
		if protocol.IsFrameError(err) {
			c.logger.Warn("Dropping malformed frame", log.Error(err))
			continue
		}
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
				c.logger.Warn("Hub connection lost", log.Error(err))
			}
			c.closed = true
			c.mu.Unlock()
			return
		}

		switch f.Op {
		case protocol.OpAck, protocol.OpError:
			c.mu.Lock()
			ch, ok := c.pending[f.RequestID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}
		case protocol.OpUpdate:
			c.mu.Lock()
			h, ok := c.subs[f.Subscription]
			c.mu.Unlock()
			if ok {
				h(f.Record())
			}
		default:
			c.logger.Debug("Ignoring frame", log.String("op", string(f.Op)))
		}
	}
}

func (c *Client) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				c.logger.Debug("Keepalive ping failed", log.Error(err))
			}
		}
	}
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return store.ErrClosed
}

// Done is closed once the connection to the hub is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection and waits for the read loop to exit.
// Pending calls fail with store.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}
