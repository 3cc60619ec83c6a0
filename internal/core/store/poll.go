package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/scenesync/internal/core/observability/log"
)

// RevisionFunc reads the current revision of a scene. ok is false when the
// scene does not exist.
type RevisionFunc func(ctx context.Context, sceneID string) (rev uint64, ok bool, err error)

// GetFunc loads a full record.
type GetFunc func(ctx context.Context, sceneID string) (Record, error)

type PollStats struct {
	Polls      int64
	Deliveries int64
	Errors     int64
}

// Poller turns a backend without change notifications into one that pushes
// records: each subscription polls the revision and loads the record when it
// moves.
type Poller struct {
	interval time.Duration
	revision RevisionFunc
	get      GetFunc
	logger   log.Log

	mu     sync.Mutex
	subs   map[*pollSubscription]struct{}
	closed bool

	polls      atomic.Int64
	deliveries atomic.Int64
	errs       atomic.Int64
}

func NewPoller(interval time.Duration, revision RevisionFunc, get GetFunc, logger log.Log) *Poller {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Poller{
		interval: interval,
		revision: revision,
		get:      get,
		logger:   logger,
		subs:     make(map[*pollSubscription]struct{}),
	}
}

// Subscribe delivers the current record, if any, before returning and then
// polls in the background. Cancel waits for an in-progress delivery, so it
// must not be called from inside the handler.
func (p *Poller) Subscribe(ctx context.Context, sceneID string, h Handler) (Subscription, error) {
	if sceneID == "" {
		return nil, ErrEmptySceneID
	}

	var last uint64
	seen := false
	rec, err := p.get(ctx, sceneID)
	switch {
	case err == nil:
		last, seen = rec.Revision, true
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	sub := &pollSubscription{poller: p, cancel: cancel, done: make(chan struct{})}
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	if seen {
		p.deliveries.Add(1)
		h(rec)
	}
	go p.loop(pollCtx, sub, sceneID, last, seen, h)
	return sub, nil
}

func (p *Poller) loop(ctx context.Context, sub *pollSubscription, sceneID string, last uint64, seen bool, h Handler) {
	defer close(sub.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.polls.Add(1)
		rev, ok, err := p.revision(ctx, sceneID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.errs.Add(1)
			p.logger.Warn("poll failed", log.String("scene_id", sceneID), log.Error(err))
			continue
		}
		if !ok || (seen && rev == last) {
			continue
		}
		rec, err := p.get(ctx, sceneID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.errs.Add(1)
			p.logger.Warn("load after change failed", log.String("scene_id", sceneID), log.Error(err))
			continue
		}
		last, seen = rec.Revision, true
		if ctx.Err() != nil {
			return
		}
		p.deliveries.Add(1)
		h(rec)
	}
}

func (p *Poller) Stats() PollStats {
	return PollStats{
		Polls:      p.polls.Load(),
		Deliveries: p.deliveries.Load(),
		Errors:     p.errs.Load(),
	}
}

// Close cancels every subscription and rejects new ones.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := make([]*pollSubscription, 0, len(p.subs))
	for sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Cancel()
	}
}

type pollSubscription struct {
	poller *Poller
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (sub *pollSubscription) Cancel() error {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
		sub.poller.mu.Lock()
		delete(sub.poller.subs, sub)
		sub.poller.mu.Unlock()
	})
	return nil
}
