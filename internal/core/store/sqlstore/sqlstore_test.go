package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/scenesync/internal/core/store"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "scenes.db")
	cfg.PollInterval = 10 * time.Millisecond
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openFromEnv(t *testing.T, dialect Dialect, env string) *Store {
	t.Helper()
	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s not set", env)
	}
	s, err := Open(context.Background(), Config{Dialect: dialect, DSN: dsn, PollInterval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type collector struct {
	mu   sync.Mutex
	recs []store.Record
}

func (c *collector) handle(rec store.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
}

func (c *collector) snapshot() []store.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.Record(nil), c.recs...)
}

func exerciseStore(t *testing.T, s *Store) {
	ctx := context.Background()
	id := "scene-" + uuid.NewString()

	rec, err := s.EnsureExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.IsFresh())
	assert.Zero(t, rec.Revision)

	again, err := s.EnsureExists(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.CreatedAt, again.CreatedAt)

	c := &collector{}
	sub, err := s.Subscribe(ctx, id, c.handle)
	require.NoError(t, err)
	require.Len(t, c.snapshot(), 1, "current record is delivered first")

	require.NoError(t, s.Save(ctx, id, []byte(`{"objects":[]}`)))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	got := c.snapshot()[1]
	assert.JSONEq(t, `{"objects":[]}`, string(got.Canvas))
	assert.Equal(t, uint64(1), got.Revision)

	require.NoError(t, sub.Cancel())
	require.NoError(t, sub.Cancel())
	require.NoError(t, s.Save(ctx, id, []byte(`{"objects":[1]}`)))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.snapshot(), 2)

	_, err = s.Get(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLite_Store(t *testing.T) {
	exerciseStore(t, openSQLite(t))
}

func TestPostgres_Store(t *testing.T) {
	exerciseStore(t, openFromEnv(t, Postgres, "SCENESYNC_POSTGRES_DSN"))
}

func TestMySQL_Store(t *testing.T) {
	exerciseStore(t, openFromEnv(t, MySQL, "SCENESYNC_MYSQL_DSN"))
}

func TestSave_KeepsOtherColumns(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return created }

	_, err := s.EnsureExists(ctx, "poster")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE scenes SET title = 'Poster' WHERE id = 'poster'`)
	require.NoError(t, err)

	later := created.Add(time.Hour)
	s.now = func() time.Time { return later }
	require.NoError(t, s.Save(ctx, "poster", []byte(`{"a":1}`)))
	require.NoError(t, s.Save(ctx, "poster", []byte(`{"a":2}`)))

	rec, err := s.Get(ctx, "poster")
	require.NoError(t, err)
	assert.Equal(t, "Poster", rec.Title)
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, later, rec.UpdatedAt)
	assert.Equal(t, uint64(2), rec.Revision)
	assert.JSONEq(t, `{"a":2}`, string(rec.Canvas))
}

func TestSave_CreatesMissingScene(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "new", []byte(`{"a":1}`)))

	rec, err := s.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Revision)
}

func TestSubscribe_SceneCreatedLater(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	c := &collector{}
	sub, err := s.Subscribe(ctx, "later", c.handle)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Cancel() })
	assert.Empty(t, c.snapshot())

	require.NoError(t, s.Save(ctx, "later", []byte(`{"a":1}`)))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, s.Stats().Polls)
}

func TestClose_StopsSubscriptions(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	_, err := s.Subscribe(ctx, "x", func(store.Record) {})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Save(ctx, "x", []byte(`{}`)), store.ErrClosed)
}

func TestDialect_Rebind(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE a = $1 AND b = $2",
		Postgres.rebind("SELECT a FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "a = ?", MySQL.rebind("a = ?"))

	d, ok := DialectByName("PostgreSQL")
	require.True(t, ok)
	assert.Equal(t, "postgres", d.Driver)
	_, ok = DialectByName("oracle")
	assert.False(t, ok)
}

func TestValidation(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	assert.ErrorIs(t, s.Save(ctx, "", []byte(`{}`)), store.ErrEmptySceneID)
	_, err := s.EnsureExists(ctx, "")
	assert.ErrorIs(t, err, store.ErrEmptySceneID)
	_, err = s.Subscribe(ctx, "", func(store.Record) {})
	assert.ErrorIs(t, err, store.ErrEmptySceneID)
}
