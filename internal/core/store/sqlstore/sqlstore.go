// Package sqlstore keeps scenes in a relational database and turns revision
// changes into pushed updates by polling.
package sqlstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/store"
)

var _ store.Store = (*Store)(nil)

type Config struct {
	Dialect      Dialect
	DSN          string
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Dialect:      SQLite,
		DSN:          "scenes.db",
		PollInterval: 250 * time.Millisecond,
	}
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  log.Log
	now     func() time.Time

	poller *store.Poller

	mu     sync.Mutex
	closed bool
}

// Open connects to the database described by cfg and creates the schema.
func Open(ctx context.Context, cfg Config, logger log.Log) (*Store, error) {
	if cfg.Dialect.Driver == "" {
		cfg.Dialect = SQLite
	}
	db, err := sql.Open(cfg.Dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Dialect.Name)
	}
	if cfg.Dialect.Name == SQLite.Name {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", cfg.Dialect.Name)
	}
	s, err := New(ctx, db, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The store takes ownership of db.
func New(ctx context.Context, db *sql.DB, cfg Config, logger log.Log) (*Store, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if _, err := db.ExecContext(ctx, cfg.Dialect.Schema); err != nil {
		return nil, errors.Wrap(err, "migrate scenes table")
	}
	s := &Store{
		db:      db,
		dialect: cfg.Dialect,
		logger: logger.With(
			log.String("component", "store.sql"),
			log.String("dialect", cfg.Dialect.Name),
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
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(s.dialect.InsertIgnore),
		sceneID, string(store.EmptyCanvas), now, now); err != nil {
		return store.Record{}, errors.Wrapf(err, "ensure scene %s", sceneID)
	}
	return s.Get(ctx, sceneID)
}

func (s *Store) Get(ctx context.Context, sceneID string) (store.Record, error) {
	if s.isClosed() {
		return store.Record{}, store.ErrClosed
	}
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id, canvas, title, created_at, updated_at, revision FROM scenes WHERE id = ?`), sceneID)

	var (
		rec              store.Record
		canvas           string
		created, updated int64
	)
	err := row.Scan(&rec.SceneID, &canvas, &rec.Title, &created, &updated, &rec.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, errors.Wrapf(err, "load scene %s", sceneID)
	}
	rec.Canvas = []byte(canvas)
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}

// Save upserts the canvas. Only canvas, updated_at and revision change.
func (s *Store) Save(ctx context.Context, sceneID string, canvas []byte) error {
	if err := store.ValidateSave(sceneID, canvas); err != nil {
		return err
	}
	if s.isClosed() {
		return store.ErrClosed
	}
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin save")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, s.dialect.rebind(s.dialect.InsertIgnore),
		sceneID, string(store.EmptyCanvas), now, now); err != nil {
		return errors.Wrapf(err, "ensure scene %s", sceneID)
	}
	if _, err = tx.ExecContext(ctx, s.dialect.rebind(
		`UPDATE scenes SET canvas = ?, updated_at = ?, revision = revision + 1 WHERE id = ?`),
		string(canvas), now, sceneID); err != nil {
		return errors.Wrapf(err, "save scene %s", sceneID)
	}
	return errors.Wrap(tx.Commit(), "commit save")
}

func (s *Store) revision(ctx context.Context, sceneID string) (uint64, bool, error) {
	var rev uint64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT revision FROM scenes WHERE id = ?`), sceneID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rev, true, nil
}

// Subscribe delivers the current record and then every record whose
// revision moved, as seen by polling.
func (s *Store) Subscribe(ctx context.Context, sceneID string, h store.Handler) (store.Subscription, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	return s.poller.Subscribe(ctx, sceneID, h)
}

func (s *Store) Stats() store.PollStats {
	return s.poller.Stats()
}

// Close stops every poller and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.poller.Close()
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
