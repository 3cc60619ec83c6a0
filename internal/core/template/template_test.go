package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/scenesync/internal/core/snapshot"
)

func TestBuiltin_Templates(t *testing.T) {
	c := Builtin()
	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"moodboard", "posterA"}, keys)

	for _, key := range keys {
		snap, err := c.Load(context.Background(), key)
		require.NoError(t, err, key)
		doc, err := snapshot.Decode(snap)
		require.NoError(t, err, key)
		assert.NotEmpty(t, doc.Objects, key)
		for _, o := range doc.Objects {
			assert.Equal(t, 1.0, o.ScaleX)
		}
	}
}

func TestCatalog_UnknownKey(t *testing.T) {
	_, err := Builtin().Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_RejectsPathKeys(t *testing.T) {
	for _, key := range []string{"", "../etc/passwd", "a/b", ".hidden"} {
		_, err := Builtin().Load(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestCatalog_JSONAndMalformed(t *testing.T) {
	c := NewCatalog(fstest.MapFS{
		"plain.json": {Data: []byte(`{"objects":[{"id":"a","type":"rect"}]}`)},
		"broken.yml": {Data: []byte("objects: [\n")},
	})

	snap, err := c.Load(context.Background(), "plain")
	require.NoError(t, err)
	doc, _ := snapshot.Decode(snap)
	assert.Len(t, doc.Objects, 1)

	_, err = c.Load(context.Background(), "broken")
	assert.ErrorIs(t, err, snapshot.ErrMalformed)
}

func TestChain_FallsThrough(t *testing.T) {
	override := NewCatalog(fstest.MapFS{
		"posterA.json": {Data: []byte(`{"background":"#000"}`)},
	})
	chain := Chain{override, Builtin()}

	snap, err := chain.Load(context.Background(), "posterA")
	require.NoError(t, err)
	doc, _ := snapshot.Decode(snap)
	assert.Equal(t, "#000", doc.Background)

	_, err = chain.Load(context.Background(), "moodboard")
	assert.NoError(t, err)

	_, err = chain.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirSource_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"background":"#111"}`), 0o644))

	src, err := NewDirSource(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	snap, err := src.Load(context.Background(), "custom")
	require.NoError(t, err)
	doc, _ := snapshot.Decode(snap)
	assert.Equal(t, "#111", doc.Background)
	assert.True(t, src.Cached("custom"))

	require.NoError(t, os.WriteFile(file, []byte(`{"background":"#222"}`), 0o644))
	require.Eventually(t, func() bool { return !src.Cached("custom") }, 2*time.Second, 10*time.Millisecond)

	snap, err = src.Load(context.Background(), "custom")
	require.NoError(t, err)
	doc, _ = snapshot.Decode(snap)
	assert.Equal(t, "#222", doc.Background)
}

func TestDirSource_MissingDir(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}
