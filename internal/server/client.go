package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zeusync/scenesync/internal/auth"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/protocol"
	"github.com/zeusync/scenesync/internal/core/store"
)

// clientSession is one websocket connection and the store subscriptions it
// opened. Frames are handled one at a time in arrival order.
type clientSession struct {
	id     string
	conn   *protocol.Conn
	claims *auth.Claims
	server *Server
	logger log.Log

	mu   sync.Mutex
	subs map[string]store.Subscription
}

func newClientSession(s *Server, conn *protocol.Conn, claims *auth.Claims) *clientSession {
	fields := []log.Field{
		log.String("client_id", conn.ID()),
		log.String("remote_addr", conn.RemoteAddr().String()),
	}
	if claims != nil {
		fields = append(fields, log.String("subject", claims.Subject))
	}
	return &clientSession{
		id:     conn.ID(),
		conn:   conn,
		claims: claims,
		server: s,
		logger: s.logger.With(fields...),
		subs:   make(map[string]store.Subscription),
	}
}

func (c *clientSession) serve() {
	c.logger.Info("Client connected",
		log.Int64("total_clients", atomic.LoadInt64(&c.server.clientCount)))

	defer func() {
		c.server.unregister(c)
		c.cancelAll()
		_ = c.conn.Close()
		c.logger.Info("Client disconnected",
			log.Int64("total_clients", atomic.LoadInt64(&c.server.clientCount)))
	}()

	for {
		f, err := c.conn.ReadFrame()
		if protocol.IsFrameError(err) {
			atomic.AddInt64(&c.server.framesFailed, 1)
			c.logger.Warn("Malformed frame", log.Error(err))
			c.reply(protocol.Frame{Op: protocol.OpError, RequestID: "unknown", Error: protocol.WrapError(err)})
			continue
		}
		if err != nil {
			if !c.conn.IsClosed() {
				c.logger.Debug("Connection read ended", log.Error(err))
			}
			return
		}

		c.handle(f)
	}
}

func (c *clientSession) handle(f protocol.Frame) {
	if !f.Op.IsRequest() {
		atomic.AddInt64(&c.server.framesFailed, 1)
		c.reply(protocol.ErrorFrame(f, protocol.ErrUnknownOp))
		return
	}
	if f.SceneID != "" && c.claims != nil && !c.claims.Allows(f.SceneID) {
		atomic.AddInt64(&c.server.framesFailed, 1)
		c.reply(protocol.ErrorFrame(f, protocol.ErrUnauthorized))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.server.config.RequestTimeout)
	defer cancel()

	var reply protocol.Frame
	switch f.Op {
	case protocol.OpEnsure:
		reply = c.withRecord(f)(c.server.store.EnsureExists(ctx, f.SceneID))
	case protocol.OpGet:
		reply = c.withRecord(f)(c.server.store.Get(ctx, f.SceneID))
	case protocol.OpSave:
		if err := c.server.store.Save(ctx, f.SceneID, f.Canvas); err != nil {
			reply = protocol.ErrorFrame(f, err)
		} else {
			reply = protocol.Ack(f, nil)
		}
	case protocol.OpSubscribe:
		reply = c.subscribe(ctx, f)
	case protocol.OpUnsubscribe:
		reply = c.unsubscribe(f)
	}

	if reply.Op == protocol.OpError {
		atomic.AddInt64(&c.server.framesFailed, 1)
		c.logger.Debug("Request failed",
			log.String("op", string(f.Op)),
			log.String("scene_id", f.SceneID),
			log.Error(reply.Err()))
	} else {
		atomic.AddInt64(&c.server.framesHandled, 1)
	}
	c.reply(reply)
}

func (c *clientSession) withRecord(req protocol.Frame) func(store.Record, error) protocol.Frame {
	return func(rec store.Record, err error) protocol.Frame {
		if err != nil {
			return protocol.ErrorFrame(req, err)
		}
		return protocol.Ack(req, &rec)
	}
}

// subscribe uses the request id as the subscription id. The store may push
// the current record before the ack goes out; clients register the handler
// before sending the request.
func (c *clientSession) subscribe(ctx context.Context, f protocol.Frame) protocol.Frame {
	c.mu.Lock()
	_, dup := c.subs[f.RequestID]
	c.mu.Unlock()
	if dup {
		return protocol.ErrorFrame(f, protocol.ErrInvalidFrame)
	}

	subID := f.RequestID
	sub, err := c.server.store.Subscribe(ctx, f.SceneID, func(rec store.Record) {
		if err := c.conn.WriteFrame(protocol.Update(subID, rec)); err != nil && !c.conn.IsClosed() {
			c.logger.Warn("Failed to push update",
				log.String("scene_id", rec.SceneID),
				log.Uint64("revision", rec.Revision),
				log.Error(err))
		}
	})
	if err != nil {
		return protocol.ErrorFrame(f, err)
	}

	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()

	c.logger.Debug("Subscribed", log.String("scene_id", f.SceneID), log.String("subscription", subID))
	return protocol.Ack(f, nil)
}

func (c *clientSession) unsubscribe(f protocol.Frame) protocol.Frame {
	c.mu.Lock()
	sub, ok := c.subs[f.Subscription]
	delete(c.subs, f.Subscription)
	c.mu.Unlock()
	if !ok {
		return protocol.ErrorFrame(f, protocol.ErrSubscriptionGone)
	}
	if err := sub.Cancel(); err != nil {
		return protocol.ErrorFrame(f, err)
	}
	return protocol.Ack(f, nil)
}

func (c *clientSession) cancelAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]store.Subscription)
	c.mu.Unlock()

	for id, sub := range subs {
		if err := sub.Cancel(); err != nil {
			c.logger.Warn("Failed to cancel subscription", log.String("subscription", id), log.Error(err))
		}
	}
}

func (c *clientSession) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *clientSession) reply(f protocol.Frame) {
	if err := c.conn.WriteFrame(f); err != nil && !c.conn.IsClosed() {
		c.logger.Warn("Failed to write reply", log.String("op", string(f.Op)), log.Error(err))
	}
}
