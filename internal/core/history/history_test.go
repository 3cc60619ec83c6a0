package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/scenesync/internal/core/snapshot"
)

func snap(i int) snapshot.Snapshot {
	return snapshot.Snapshot(fmt.Sprintf(`{"n":%d}`, i))
}

func TestRecordIfChanged_Idempotent(t *testing.T) {
	s := New(0)
	assert.True(t, s.RecordIfChanged(snap(0)))
	assert.False(t, s.RecordIfChanged(snap(0)))
	assert.True(t, s.RecordIfChanged(snap(1)))
	assert.False(t, s.RecordIfChanged(snap(1)))

	past, future := s.Len()
	assert.Equal(t, 2, past)
	assert.Zero(t, future)
}

func TestRecordIfChanged_EvictsOldest(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		s.RecordIfChanged(snap(i))
	}
	past, _ := s.Len()
	assert.Equal(t, 3, past)

	top, ok := s.Top()
	require.True(t, ok)
	assert.Equal(t, snap(4), top)

	got, _ := s.Undo(snap(4))
	assert.Equal(t, snap(3), got)
	got, _ = s.Undo(snap(3))
	assert.Equal(t, snap(2), got)
	_, ok = s.Undo(snap(2))
	assert.False(t, ok, "entries 0 and 1 were evicted")
}

func TestUndo_EmptyAndSingleEntryFailSilently(t *testing.T) {
	s := New(0)
	_, ok := s.Undo(snap(0))
	assert.False(t, ok)

	s.RecordIfChanged(snap(0))
	assert.False(t, s.CanUndo())
	_, ok = s.Undo(snap(0))
	assert.False(t, ok)

	past, future := s.Len()
	assert.Equal(t, 1, past)
	assert.Zero(t, future)
}

func TestUndoRedo_TwoShapesExample(t *testing.T) {
	empty, a, ab := snap(0), snap(1), snap(2)
	s := New(0)
	s.RecordIfChanged(empty)
	s.RecordIfChanged(a)
	s.RecordIfChanged(ab)

	got, ok := s.Undo(ab)
	require.True(t, ok)
	assert.Equal(t, a, got)

	got, ok = s.Undo(a)
	require.True(t, ok)
	assert.Equal(t, empty, got)
	assert.False(t, s.CanUndo())
	assert.True(t, s.CanRedo())

	got, ok = s.Redo()
	require.True(t, ok)
	assert.Equal(t, a, got)

	got, ok = s.Redo()
	require.True(t, ok)
	assert.Equal(t, ab, got)
	assert.False(t, s.CanRedo())
}

func TestUndoThenRedo_RoundTrip(t *testing.T) {
	s := New(0)
	for i := 0; i < 6; i++ {
		s.RecordIfChanged(snap(i))
	}
	current := snap(5)
	for s.CanUndo() {
		before := current
		_, ok := s.Undo(current)
		require.True(t, ok)
		back, ok := s.Redo()
		require.True(t, ok)
		assert.Equal(t, before, back)

		current, _ = s.Undo(back)
	}
	assert.Equal(t, snap(0), current, "undo until exhausted returns to the initial capture")
}

func TestRecord_ClearsRedoBranch(t *testing.T) {
	s := New(0)
	s.RecordIfChanged(snap(0))
	s.RecordIfChanged(snap(1))
	s.Undo(snap(1))
	require.True(t, s.CanRedo())

	s.RecordIfChanged(snap(7))
	assert.False(t, s.CanRedo())

	got, _ := s.Undo(snap(7))
	assert.Equal(t, snap(0), got)
}

func TestRecord_AfterUndoSameAsTopIsNoOp(t *testing.T) {
	s := New(0)
	s.RecordIfChanged(snap(0))
	s.RecordIfChanged(snap(1))
	got, _ := s.Undo(snap(1))

	assert.False(t, s.RecordIfChanged(got), "restoring an undone state is not a new edit")
	assert.True(t, s.CanRedo())
}

func TestClear(t *testing.T) {
	s := New(0)
	s.RecordIfChanged(snap(0))
	s.RecordIfChanged(snap(1))
	s.Clear()

	assert.False(t, s.CanUndo())
	assert.False(t, s.CanRedo())
	_, ok := s.Top()
	assert.False(t, ok)
	assert.Equal(t, DefaultLimit, s.Limit())
}

func TestRebase_ReplacesPresentWithoutUndoStep(t *testing.T) {
	s := New(0)
	s.RecordIfChanged(snap(0))
	s.RecordIfChanged(snap(1))
	remote := snapshot.Snapshot(`{"remote":true}`)

	s.Rebase(remote)
	past, _ := s.Len()
	assert.Equal(t, 2, past)
	top, _ := s.Top()
	assert.Equal(t, remote, top)

	s.RecordIfChanged(snap(2))
	got, ok := s.Undo(snap(2))
	require.True(t, ok)
	assert.Equal(t, remote, got, "undoing the next local edit keeps the remote content")
}

func TestRebase_EmptyStackAndRedoBranch(t *testing.T) {
	s := New(0)
	s.Rebase(snap(7))
	assert.False(t, s.CanUndo())
	top, ok := s.Top()
	require.True(t, ok)
	assert.Equal(t, snap(7), top)

	s.RecordIfChanged(snap(8))
	_, ok = s.Undo(snap(8))
	require.True(t, ok)
	require.True(t, s.CanRedo())

	s.Rebase(snap(9))
	assert.False(t, s.CanRedo(), "redo would overwrite the remote content")
	assert.False(t, s.CanUndo())
}
