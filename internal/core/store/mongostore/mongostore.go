// Package mongostore keeps scenes in a MongoDB collection. Saves merge into
// the existing document: only canvas, updatedAt and revision change.
package mongostore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/store"
)

var _ store.Store = (*Store)(nil)

type Config struct {
	URI          string
	Database     string
	Collection   string
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		URI:          "mongodb://127.0.0.1:27017",
		Database:     "scenesync",
		Collection:   "scenes",
		PollInterval: 250 * time.Millisecond,
	}
}

type sceneDoc struct {
	ID        string    `bson:"_id"`
	Canvas    string    `bson:"canvas"`
	Title     string    `bson:"title,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
	Revision  int64     `bson:"revision"`
}

func (d sceneDoc) record() store.Record {
	return store.Record{
		SceneID:   d.ID,
		Canvas:    []byte(d.Canvas),
		Title:     d.Title,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
		Revision:  uint64(d.Revision),
	}
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	poller *store.Poller
	logger log.Log
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// Open connects to MongoDB and pings the primary.
func Open(ctx context.Context, cfg Config, logger log.Log) (*Store, error) {
	def := DefaultConfig()
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = log.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}

	s := &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger.With(
			log.String("component", "store.mongo"),
			log.String("collection", cfg.Database+"."+cfg.Collection),
		),
		now: time.Now,
	}
	s.poller = store.NewPoller(cfg.PollInterval, s.revision, s.Get, s.logger)
	return s, nil
}

func (s *Store) EnsureExists(ctx context.Context, sceneID string) (store.Record, error) {
	if sceneID == "" {
		return store.Record{}, store.ErrEmptySceneID
	}
	if s.isClosed() {
		return store.Record{}, store.ErrClosed
	}
	now := s.now().UTC()
	update := bson.M{"$setOnInsert": bson.M{
		"canvas":    string(store.EmptyCanvas),
		"createdAt": now,
		"updatedAt": now,
		"revision":  int64(0),
	}}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": sceneID}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return store.Record{}, errors.Wrapf(err, "ensure scene %s", sceneID)
	}
	return s.Get(ctx, sceneID)
}

func (s *Store) Get(ctx context.Context, sceneID string) (store.Record, error) {
	if s.isClosed() {
		return store.Record{}, store.ErrClosed
	}
	var doc sceneDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": sceneID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, errors.Wrapf(err, "load scene %s", sceneID)
	}
	return doc.record(), nil
}

// Save sets canvas and updatedAt and bumps revision, creating the scene if
// needed. Other fields are left untouched.
func (s *Store) Save(ctx context.Context, sceneID string, canvas []byte) error {
	if err := store.ValidateSave(sceneID, canvas); err != nil {
		return err
	}
	if s.isClosed() {
		return store.ErrClosed
	}
	now := s.now().UTC()
	update := bson.M{
		"$set":         bson.M{"canvas": string(canvas), "updatedAt": now},
		"$inc":         bson.M{"revision": int64(1)},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": sceneID}, update, options.UpdateOne().SetUpsert(true))
	return errors.Wrapf(err, "save scene %s", sceneID)
}

func (s *Store) revision(ctx context.Context, sceneID string) (uint64, bool, error) {
	var doc struct {
		Revision int64 `bson:"revision"`
	}
	opts := options.FindOne().SetProjection(bson.M{"revision": 1})
	err := s.coll.FindOne(ctx, bson.M{"_id": sceneID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(doc.Revision), true, nil
}

func (s *Store) Subscribe(ctx context.Context, sceneID string, h store.Handler) (store.Subscription, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	return s.poller.Subscribe(ctx, sceneID, h)
}

func (s *Store) Stats() store.PollStats {
	return s.poller.Stats()
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.poller.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
