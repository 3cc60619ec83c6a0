// Package memory is an in-process document store. Change fan-out rides on the
// events bus, one topic per scene.
package memory

import (
	"context"
	"sync"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/store"
)

const EventRecordUpdated = "record.updated"

// Topic is the bus topic carrying updates of one scene.
func Topic(sceneID string) string {
	return "store.memory/" + sceneID
}

var _ store.Store = (*Store)(nil)

type Store struct {
	bus    bus.EventBus
	clock  clock.Clock
	logger log.Log

	// deliverMu orders updates so that subscribers see records in revision
	// order. Handlers run under it and must not call Save.
	deliverMu sync.Mutex

	mu      sync.RWMutex
	records map[string]store.Record
	closed  bool
}

func New(eventBus bus.EventBus, clk clock.Clock, logger log.Log) *Store {
	if eventBus == nil {
		eventBus = bus.New()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		bus:     eventBus,
		clock:   clk,
		logger:  logger.With(log.String("component", "store.memory")),
		records: make(map[string]store.Record),
	}
}

func (s *Store) EnsureExists(ctx context.Context, sceneID string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	if sceneID == "" {
		return store.Record{}, store.ErrEmptySceneID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Record{}, store.ErrClosed
	}
	if rec, ok := s.records[sceneID]; ok {
		return clone(rec), nil
	}
	now := s.clock.Now()
	rec := store.Record{
		SceneID:   sceneID,
		Canvas:    append([]byte(nil), store.EmptyCanvas...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[sceneID] = rec
	s.logger.Debug("scene created", log.String("scene_id", sceneID))
	return clone(rec), nil
}

func (s *Store) Get(ctx context.Context, sceneID string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Record{}, store.ErrClosed
	}
	rec, ok := s.records[sceneID]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return clone(rec), nil
}

// Save upserts the canvas and delivers the new record to subscribers before
// it returns.
func (s *Store) Save(ctx context.Context, sceneID string, canvas []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateSave(sceneID, canvas); err != nil {
		return err
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	now := s.clock.Now()
	rec, ok := s.records[sceneID]
	if !ok {
		rec = store.Record{SceneID: sceneID, CreatedAt: now}
	}
	rec.Canvas = append([]byte(nil), canvas...)
	rec.UpdatedAt = now
	rec.Revision++
	s.records[sceneID] = rec
	s.mu.Unlock()

	return s.bus.Publish(Topic(sceneID), bus.NewEventAt(EventRecordUpdated, "store.memory", now, clone(rec), nil))
}

func (s *Store) Subscribe(ctx context.Context, sceneID string, h store.Handler) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sceneID == "" {
		return nil, store.ErrEmptySceneID
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	current, exists := s.records[sceneID]
	s.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}

	sub, err := s.bus.Subscribe(Topic(sceneID), EventRecordUpdated, func(e bus.Event) error {
		rec, ok := e.Data().(store.Record)
		if !ok {
			return nil
		}
		h(clone(rec))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if exists {
		h(clone(current))
	}
	return store.SubscriptionFunc(sub.Cancel), nil
}

// Scenes lists the ids of every stored scene.
func (s *Store) Scenes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.bus.DropTopic(Topic(id))
	}
	return nil
}

func clone(rec store.Record) store.Record {
	rec.Canvas = append([]byte(nil), rec.Canvas...)
	return rec
}
