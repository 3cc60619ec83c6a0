package scene

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/scenesync/internal/core/snapshot"
)

func newTestScene() *Scene {
	n := 0
	opts := DefaultOptions()
	opts.NewID = func() string {
		n++
		return fmt.Sprintf("obj-%d", n)
	}
	return New(opts)
}

func recordChanges(s *Scene) *[]Change {
	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })
	return &changes
}

func TestCapture_EmptySceneIsEmptySnapshot(t *testing.T) {
	s := newTestScene()
	snap, err := s.Capture()
	require.NoError(t, err)
	assert.Equal(t, snapshot.Empty(), snap)
}

func TestCapture_ExcludesTransientState(t *testing.T) {
	s := newTestScene()
	id, ok := s.AddShape(snapshot.KindRect)
	require.True(t, ok)

	before, err := s.Capture()
	require.NoError(t, err)

	s.Hover(id)
	s.ClearSelection()
	require.True(t, s.Select(id))
	require.True(t, s.SetDrawing(true))

	after, err := s.Capture()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCapture_IncludesLockFlagsAndIdentity(t *testing.T) {
	s := newTestScene()
	id, _ := s.AddShape(snapshot.KindCircle)
	before, _ := s.Capture()

	require.Equal(t, 1, s.LockSelected())
	after, _ := s.Capture()
	assert.NotEqual(t, before, after)

	doc, err := snapshot.Decode(after)
	require.NoError(t, err)
	require.Len(t, doc.Objects, 1)
	assert.Equal(t, id, doc.Objects[0].ID)
	assert.True(t, doc.Objects[0].Locked())
	assert.False(t, doc.Objects[0].Selectable)
}

func TestRestore_ReplacesContentsAndRenders(t *testing.T) {
	src := newTestScene()
	src.AddShape(snapshot.KindRect)
	src.AddShape(snapshot.KindText)
	snap, err := src.Capture()
	require.NoError(t, err)

	dst := newTestScene()
	changes := recordChanges(dst)
	require.NoError(t, dst.Restore(snap))

	got, err := dst.Capture()
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	assert.Equal(t, uint64(1), dst.Renders())
	assert.Empty(t, *changes, "restore must not look like a user edit")
}

func TestRestore_PrunesSelection(t *testing.T) {
	s := newTestScene()
	empty, _ := s.Capture()
	id, _ := s.AddShape(snapshot.KindRect)
	s.Hover(id)
	require.Equal(t, []string{id}, s.Selection())

	require.NoError(t, s.Restore(empty))
	assert.Empty(t, s.Selection())
	assert.Empty(t, s.Hovered())
}

func TestRestore_RejectsMalformed(t *testing.T) {
	s := newTestScene()
	assert.Error(t, s.Restore(snapshot.Snapshot(`{"objects":[{"type":"rect"}]}`)))
	assert.Equal(t, uint64(0), s.Renders())
}

func TestDispose_FailsFast(t *testing.T) {
	s := newTestScene()
	s.Dispose()

	_, err := s.Capture()
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, s.Restore(snapshot.Empty()), ErrDisposed)

	_, ok := s.AddShape(snapshot.KindRect)
	assert.False(t, ok)
	assert.True(t, s.Disposed())
}
