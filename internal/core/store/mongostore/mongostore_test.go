package mongostore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/zeusync/scenesync/internal/core/store"
)

func openFromEnv(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("SCENESYNC_MONGO_URI")
	if uri == "" {
		t.Skip("SCENESYNC_MONGO_URI not set")
	}
	cfg := DefaultConfig()
	cfg.URI = uri
	cfg.Collection = "scenes_test"
	cfg.PollInterval = 20 * time.Millisecond
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMongo_EnsureSaveSubscribe(t *testing.T) {
	s := openFromEnv(t)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { _, _ = s.coll.DeleteOne(context.Background(), bson.M{"_id": id}) })

	rec, err := s.EnsureExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.IsFresh())

	_, err = s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"title": "Poster"}})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []store.Record
	sub, err := s.Subscribe(ctx, id, func(rec store.Record) {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer func() { _ = sub.Cancel() }()

	require.NoError(t, s.Save(ctx, id, []byte(`{"objects":[]}`)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)

	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Poster", rec.Title, "save merges")
	assert.Equal(t, uint64(1), rec.Revision)
	assert.JSONEq(t, `{"objects":[]}`, string(rec.Canvas))
}

func TestMongo_NotFound(t *testing.T) {
	s := openFromEnv(t)
	_, err := s.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSceneDoc_Record(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	rec := sceneDoc{ID: "x", Canvas: `{}`, CreatedAt: now, UpdatedAt: now, Revision: 3}.record()
	assert.Equal(t, "x", rec.SceneID)
	assert.Equal(t, uint64(3), rec.Revision)
	assert.True(t, rec.IsFresh())
}
