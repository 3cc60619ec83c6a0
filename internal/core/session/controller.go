package session

import (
	"context"
	"sync"

	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
)

// Controller owns at most one attached session at a time. Opening a scene
// fully detaches the previous one first, so timers and subscriptions of two
// sessions never overlap.
type Controller struct {
	deps   Deps
	logger log.Log

	mu      sync.Mutex
	current *Session
}

func NewController(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	return &Controller{
		deps:   deps,
		logger: deps.Logger.With(log.String("component", "session.controller")),
	}
}

// Open detaches the current session, then creates and attaches a new one.
func (c *Controller) Open(ctx context.Context, cfg Config, surface Surface) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		prev := c.current
		c.current = nil
		if err := prev.Detach(); err != nil {
			c.logger.Warn("detach of previous session failed",
				log.String("scene_id", prev.SceneID()), log.Error(err))
		}
	}

	s, err := New(cfg, surface, c.deps)
	if err != nil {
		return nil, err
	}
	if err = s.Attach(ctx); err != nil {
		_ = s.Detach()
		return nil, err
	}
	c.current = s
	return s, nil
}

// Bus is where every session opened by c publishes its events. May be nil.
func (c *Controller) Bus() bus.EventBus {
	return c.deps.Bus
}

// Current returns the attached session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close detaches the current session.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	err := c.current.Detach()
	c.current = nil
	return err
}
