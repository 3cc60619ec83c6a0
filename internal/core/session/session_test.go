package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/scheduler"
	"github.com/zeusync/scenesync/internal/core/snapshot"
	"github.com/zeusync/scenesync/internal/core/store"
	"github.com/zeusync/scenesync/internal/core/store/memory"
	"github.com/zeusync/scenesync/internal/core/template"
)

type flakyStore struct {
	store.Store
	fail atomic.Bool
}

func (f *flakyStore) Save(ctx context.Context, sceneID string, canvas []byte) error {
	if f.fail.Load() {
		return errors.New("store unavailable")
	}
	return f.Store.Save(ctx, sceneID, canvas)
}

type env struct {
	clock *clock.Fake
	bus   bus.EventBus
	store *flakyStore
	deps  Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	eventBus := bus.New()
	st := &flakyStore{Store: memory.New(eventBus, fc, nil)}
	return &env{
		clock: fc,
		bus:   eventBus,
		store: st,
		deps: Deps{
			Store:     st,
			Templates: template.Builtin(),
			Bus:       eventBus,
			Clock:     fc,
		},
	}
}

func newScene(prefix string) *scene.Scene {
	n := 0
	opts := scene.DefaultOptions()
	opts.NewID = func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
	return scene.New(opts)
}

func (e *env) open(t *testing.T, cfg Config, prefix string) (*Session, *scene.Scene) {
	t.Helper()
	sc := newScene(prefix)
	s, err := New(cfg, sc, e.deps)
	require.NoError(t, err)
	require.NoError(t, s.Attach(context.Background()))
	t.Cleanup(func() { _ = s.Detach() })
	return s, sc
}

func (e *env) record(t *testing.T, sceneID string) store.Record {
	t.Helper()
	rec, err := e.store.Get(context.Background(), sceneID)
	require.NoError(t, err)
	return rec
}

func capture(t *testing.T, sc *scene.Scene) snapshot.Snapshot {
	t.Helper()
	snap, err := sc.Capture()
	require.NoError(t, err)
	return snap
}

func TestAttach_FreshScene(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("fresh"), "a")

	assert.True(t, s.IsReady())
	assert.Equal(t, StateAttached, s.State())
	assert.False(t, s.CanUndo())
	assert.False(t, s.CanRedo())
	assert.Equal(t, snapshot.Empty(), s.LastApplied())
	assert.Zero(t, sc.Renders())
	assert.Zero(t, e.record(t, "fresh").Revision)
}

func TestAttach_LoadsStoredContent(t *testing.T) {
	e := newEnv(t)
	seed := newScene("seed")
	seed.AddShape(snapshot.KindRect)
	stored := capture(t, seed)
	require.NoError(t, e.store.Save(context.Background(), "existing", stored.Bytes()))

	s, sc := e.open(t, DefaultConfig("existing"), "a")
	assert.Equal(t, stored, capture(t, sc))
	assert.Equal(t, stored, s.LastApplied())
	assert.False(t, s.CanUndo(), "loaded content is the history baseline")

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, uint64(1), e.record(t, "existing").Revision, "nothing to save after load")
}

func TestUndoRedo_TwoShapes(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("undo"), "a")
	empty := capture(t, sc)

	a, _ := sc.AddShape(snapshot.KindRect)
	onlyA := capture(t, sc)
	b, _ := sc.AddShape(snapshot.KindCircle)
	both := capture(t, sc)
	require.True(t, s.CanUndo())

	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, onlyA, capture(t, sc))
	_, found := sc.Object(b)
	assert.False(t, found)

	ok, _ = s.Undo()
	require.True(t, ok)
	assert.Equal(t, empty, capture(t, sc))
	assert.False(t, s.CanUndo())

	ok, _ = s.Undo()
	assert.False(t, ok)

	ok, _ = s.Redo()
	require.True(t, ok)
	assert.Equal(t, onlyA, capture(t, sc))
	_, found = sc.Object(a)
	assert.True(t, found)

	ok, _ = s.Redo()
	require.True(t, ok)
	assert.Equal(t, both, capture(t, sc))
	assert.False(t, s.CanRedo())
}

func TestUndo_IsPersisted(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("undo-save"), "a")
	sc.AddShape(snapshot.KindRect)
	e.clock.Advance(scheduler.DefaultQuietPeriod)

	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.SavePending())

	e.clock.Advance(scheduler.DefaultQuietPeriod)
	rec := e.record(t, "undo-save")
	assert.Equal(t, uint64(2), rec.Revision)
	assert.JSONEq(t, snapshot.Empty().String(), string(rec.Canvas))
}

func TestChanged_BurstProducesOneSave(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("burst"), "a")

	for i := 0; i < 5; i++ {
		sc.AddShape(snapshot.KindRect)
		e.clock.Advance(100 * time.Millisecond)
	}
	assert.Zero(t, e.record(t, "burst").Revision)

	e.clock.Advance(scheduler.DefaultQuietPeriod)
	rec := e.record(t, "burst")
	assert.Equal(t, uint64(1), rec.Revision)
	assert.JSONEq(t, capture(t, sc).String(), string(rec.Canvas))
	assert.Equal(t, uint64(1), s.SaveStats().Saves)
	assert.Zero(t, sc.Renders(), "own save never bounced back into the scene")
}

func TestRemote_OwnEchoDiscarded(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("echo"), "a")
	sc.AddShape(snapshot.KindRect)
	require.NoError(t, s.Flush(context.Background()))
	saved := capture(t, sc)
	require.Equal(t, saved, s.LastApplied())

	// LastApplied already moved to the saved state when the save completed;
	// the discarded echo leaves it there.
	s.onRemote(e.record(t, "echo"))
	assert.Zero(t, sc.Renders())
	assert.Equal(t, saved, s.LastApplied())
}

func TestRemote_AppliedOnceAndNotUndoable(t *testing.T) {
	e := newEnv(t)
	a, sceneA := e.open(t, DefaultConfig("shared"), "a")
	b, sceneB := e.open(t, DefaultConfig("shared"), "b")

	sceneA.AddShape(snapshot.KindRect)
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, capture(t, sceneA), capture(t, sceneB))
	assert.Equal(t, uint64(1), sceneB.Renders())
	assert.Equal(t, capture(t, sceneA), b.LastApplied())
	assert.False(t, b.CanUndo(), "remote changes are not in the local history")
	assert.False(t, b.SavePending())

	b.onRemote(e.record(t, "shared"))
	assert.Equal(t, uint64(1), sceneB.Renders(), "duplicate delivery is a no-op")

	e.clock.Advance(time.Minute)
	assert.Equal(t, uint64(1), e.record(t, "shared").Revision, "receiver does not save the remote state back")
}

func TestRemote_LocalEditThenUndoKeepsRemoteContent(t *testing.T) {
	e := newEnv(t)
	a, sceneA := e.open(t, DefaultConfig("rebase"), "a")
	b, sceneB := e.open(t, DefaultConfig("rebase"), "b")

	sceneA.AddShape(snapshot.KindRect)
	require.NoError(t, a.Flush(context.Background()))
	remote := capture(t, sceneA)
	require.Equal(t, remote, capture(t, sceneB))

	sceneB.AddShape(snapshot.KindCircle)
	require.True(t, b.CanUndo())
	ok, err := b.Undo()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, remote, capture(t, sceneB), "undo stops at the remote state")
	assert.Equal(t, 1, sceneB.Len())
	assert.False(t, b.CanUndo())
	assert.True(t, b.CanRedo())

	e.clock.Advance(scheduler.DefaultQuietPeriod)
	rec := e.record(t, "rebase")
	assert.Equal(t, uint64(1), rec.Revision)
	assert.JSONEq(t, remote.String(), string(rec.Canvas))
	assert.Equal(t, remote, capture(t, sceneA), "the other writer keeps its content")
}

func TestRemote_RevertToOwnSavedStateIsPersisted(t *testing.T) {
	e := newEnv(t)
	a, sceneA := e.open(t, DefaultConfig("revert"), "a")
	b, sceneB := e.open(t, DefaultConfig("revert"), "b")

	sceneA.AddShape(snapshot.KindRect)
	sceneA.AddShape(snapshot.KindCircle)
	require.NoError(t, a.Flush(context.Background()))
	ownSave := capture(t, sceneA)

	sceneB.AddShape(snapshot.KindText)
	require.NoError(t, b.Flush(context.Background()))
	require.Equal(t, 3, sceneA.Len(), "remote text applied")
	require.Equal(t, capture(t, sceneB), a.LastApplied())

	require.NoError(t, sceneA.Restore(ownSave))
	a.Changed()
	e.clock.Advance(scheduler.DefaultQuietPeriod)

	rec := e.record(t, "revert")
	assert.Equal(t, uint64(3), rec.Revision)
	assert.JSONEq(t, ownSave.String(), string(rec.Canvas))
	assert.Equal(t, ownSave, capture(t, sceneB))
	assert.Zero(t, a.SaveStats().Skipped)
}

func TestRemote_MalformedPayloadIgnored(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("junk"), "a")
	before := s.LastApplied()

	s.onRemote(store.Record{SceneID: "junk"})
	s.onRemote(store.Record{SceneID: "junk", Canvas: []byte(`{"objects":[{"type":"rect"}]}`)})

	assert.Zero(t, sc.Renders())
	assert.Equal(t, before, s.LastApplied())
}

func TestAttach_SeedsFreshSceneFromTemplate(t *testing.T) {
	e := newEnv(t)
	cfg := DefaultConfig("poster")
	cfg.TemplateKey = "posterA"
	s, sc := e.open(t, cfg, "a")

	assert.NotZero(t, sc.Len())
	rec := e.record(t, "poster")
	assert.Equal(t, uint64(1), rec.Revision, "template is flushed immediately")
	assert.JSONEq(t, capture(t, sc).String(), string(rec.Canvas))
	assert.False(t, s.CanUndo(), "seeded state is the baseline")
	assert.Equal(t, capture(t, sc), s.LastApplied())

	require.NoError(t, s.Detach())

	again, sc2 := e.open(t, cfg, "b")
	assert.True(t, again.IsReady())
	assert.Equal(t, uint64(1), e.record(t, "poster").Revision, "existing scenes are not re-seeded")
	assert.Equal(t, string(rec.Canvas), capture(t, sc2).String())
}

func TestAttach_UnknownTemplateIsNonFatal(t *testing.T) {
	e := newEnv(t)
	cfg := DefaultConfig("blank")
	cfg.TemplateKey = "does-not-exist"
	s, sc := e.open(t, cfg, "a")

	assert.True(t, s.IsReady())
	assert.Zero(t, sc.Len())
	assert.Zero(t, e.record(t, "blank").Revision)
}

func TestViewOnly(t *testing.T) {
	e := newEnv(t)
	writer, sceneW := e.open(t, DefaultConfig("view"), "w")

	cfg := DefaultConfig("view")
	cfg.ViewOnly = true
	cfg.TemplateKey = "posterA"
	viewer, sceneV := e.open(t, cfg, "v")

	_, ok := sceneV.AddShape(snapshot.KindRect)
	assert.False(t, ok, "editing is disabled")
	viewer.Changed()
	assert.False(t, viewer.SavePending())
	assert.Zero(t, e.record(t, "view").Revision, "view-only sessions never seed templates")

	undone, err := viewer.Undo()
	assert.NoError(t, err)
	assert.False(t, undone)
	assert.NoError(t, viewer.Flush(context.Background()))

	sceneW.AddShape(snapshot.KindCircle)
	require.NoError(t, writer.Flush(context.Background()))
	assert.Equal(t, capture(t, sceneW), capture(t, sceneV), "remote updates still apply")
}

func TestDetach_ReleasesEverything(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("detach"), "a")
	sc.AddShape(snapshot.KindRect)
	require.True(t, s.SavePending())

	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach())

	assert.False(t, s.IsReady())
	assert.False(t, s.SavePending())
	assert.Zero(t, e.clock.Pending())
	e.clock.Advance(time.Minute)
	assert.Zero(t, e.record(t, "detach").Revision, "pending save was cancelled")

	_, err := s.Undo()
	assert.ErrorIs(t, err, ErrDetached)
	assert.ErrorIs(t, s.Flush(context.Background()), ErrDetached)
	assert.ErrorIs(t, s.Attach(context.Background()), ErrDetached)
	_, err = sc.Capture()
	assert.ErrorIs(t, err, scene.ErrDisposed)

	require.NoError(t, e.store.Save(context.Background(), "detach", []byte(`{"objects":[]}`)))
	assert.Zero(t, sc.Renders(), "no callback reaches a disposed scene")
}

func TestAttach_Twice(t *testing.T) {
	e := newEnv(t)
	s, _ := e.open(t, DefaultConfig("twice"), "a")
	assert.ErrorIs(t, s.Attach(context.Background()), ErrAlreadyAttached)
}

func TestSaveFailure_KeepsLocalStateAndRetriesOnNextEdit(t *testing.T) {
	e := newEnv(t)
	s, sc := e.open(t, DefaultConfig("flaky"), "a")

	var mu sync.Mutex
	var failures int
	_, err := e.bus.Subscribe("flaky", EventSaveFailed, func(bus.Event) error {
		mu.Lock()
		failures++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	e.store.fail.Store(true)
	id, _ := sc.AddShape(snapshot.KindRect)
	e.clock.Advance(scheduler.DefaultQuietPeriod)

	_, found := sc.Object(id)
	assert.True(t, found, "local document never reverts on a failed save")
	assert.Equal(t, uint64(1), s.SaveStats().Failures)
	assert.Equal(t, 1, failures)
	assert.Zero(t, e.record(t, "flaky").Revision)

	e.store.fail.Store(false)
	e.clock.Advance(time.Minute)
	assert.Zero(t, e.record(t, "flaky").Revision, "no timed retry")

	sc.AddShape(snapshot.KindCircle)
	e.clock.Advance(scheduler.DefaultQuietPeriod)
	assert.Equal(t, uint64(1), e.record(t, "flaky").Revision)
}

func TestEvents_Published(t *testing.T) {
	e := newEnv(t)
	var mu sync.Mutex
	var types []string
	var last HistoryState
	_, err := e.bus.Subscribe("events", bus.AnyType, func(ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.Type())
		if hs, ok := ev.Data().(HistoryState); ok {
			last = hs
		}
		return nil
	})
	require.NoError(t, err)

	s, sc := e.open(t, DefaultConfig("events"), "a")
	sc.AddShape(snapshot.KindRect)
	e.clock.Advance(scheduler.DefaultQuietPeriod)
	require.NoError(t, s.Detach())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		EventRemoteDiscarded, // initial delivery of the stored record
		EventReady,
		EventHistory,
		EventHistory,
		EventRemoteDiscarded, // own echo
		EventSaved,
		EventDetached,
	}, types)
	assert.Equal(t, HistoryState{CanUndo: true}, last)
}

func TestNew_Validates(t *testing.T) {
	e := newEnv(t)
	_, err := New(Config{}, newScene("x"), e.deps)
	assert.ErrorIs(t, err, ErrEmptySceneID)
	_, err = New(DefaultConfig("x"), nil, e.deps)
	assert.ErrorIs(t, err, ErrNoSurface)
	_, err = New(DefaultConfig("x"), newScene("x"), Deps{})
	assert.ErrorIs(t, err, ErrNoStore)
}
