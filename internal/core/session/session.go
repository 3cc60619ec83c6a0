// Package session keeps one live scene consistent with the document store.
//
// A Session serializes three event streams for one scene: local edits
// reported through the mutation hook, debounced saves, and remote updates
// pushed by the store. All state transitions happen under one mutex; store
// calls never do.
package session

import (
	"context"
	"sync"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/echo"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/history"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/reconciler"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/scheduler"
	"github.com/zeusync/scenesync/internal/core/snapshot"
	"github.com/zeusync/scenesync/internal/core/store"
	"github.com/zeusync/scenesync/internal/core/template"
)

// Surface is the live editing surface a session drives.
type Surface interface {
	Capture() (snapshot.Snapshot, error)
	Restore(snap snapshot.Snapshot) error
	// OnChange registers a listener for settled structural changes and
	// returns a function removing it.
	OnChange(l scene.Listener) func()
	Dispose()
}

type State uint8

const (
	StateNew State = iota
	StateAttaching
	StateAttached
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	default:
		return "detached"
	}
}

type Session struct {
	cfg       Config
	surface   Surface
	store     store.Store
	templates template.Source
	bus       bus.EventBus
	clock     clock.Clock
	logger    log.Log

	// lifecycle serializes Attach and Detach.
	lifecycle sync.Mutex

	mu         sync.Mutex
	state      State
	history    *history.Stack
	guard      *echo.Guard
	reconciler *reconciler.Reconciler
	scheduler  *scheduler.Scheduler
	sub        store.Subscription
	unhook     func()
}

func New(cfg Config, surface Surface, deps Deps) (*Session, error) {
	if cfg.SceneID == "" {
		return nil, ErrEmptySceneID
	}
	if surface == nil {
		return nil, ErrNoSurface
	}
	if deps.Store == nil {
		return nil, ErrNoStore
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}

	s := &Session{
		cfg:       cfg,
		surface:   surface,
		store:     deps.Store,
		templates: deps.Templates,
		bus:       deps.Bus,
		clock:     deps.Clock,
		logger: deps.Logger.With(
			log.String("component", "session"),
			log.String("scene_id", cfg.SceneID),
		),
		history: history.New(cfg.HistoryLimit),
		guard:   echo.New(),
	}
	s.reconciler = reconciler.New(s.guard, surface.Restore)
	s.scheduler = scheduler.New(scheduler.Config{
		Quiet:       cfg.QuietPeriod,
		SaveTimeout: cfg.SaveTimeout,
		Clock:       deps.Clock,
	}, scheduler.Hooks{
		Lock:    &s.mu,
		Capture: surface.Capture,
		Save: func(ctx context.Context, snap snapshot.Snapshot) error {
			return s.store.Save(ctx, s.cfg.SceneID, snap.Bytes())
		},
		Guard: s.guard,
		Unchanged: func(snap snapshot.Snapshot) bool {
			return snapshot.Equal(snap, s.reconciler.LastApplied())
		},
		OnSaved: s.onSaved,
	}, s.logger)

	if cfg.ViewOnly {
		if ro, ok := surface.(interface{ SetReadOnly(bool) }); ok {
			ro.SetReadOnly(true)
		}
	}
	return s, nil
}

// Attach binds the session to its scene: it makes sure the scene exists,
// loads it, seeds a fresh scene from the configured template, subscribes to
// remote updates and records the initial history entry. Store and template
// failures are logged and do not fail the attach.
func (s *Session) Attach(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateNew:
		s.state = StateAttaching
	case StateDetached:
		s.mu.Unlock()
		return ErrDetached
	default:
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.mu.Unlock()

	s.logger.Debug("attaching",
		log.Bool("view_only", s.cfg.ViewOnly),
		log.String("template", s.cfg.TemplateKey),
	)

	fresh := s.load(ctx)
	if fresh && s.cfg.TemplateKey != "" && !s.cfg.ViewOnly {
		s.seed(ctx)
	}

	sub, err := s.store.Subscribe(ctx, s.cfg.SceneID, s.onRemote)
	if err != nil {
		s.logger.Warn("subscribe failed, remote updates disabled", log.Error(err))
	}

	s.mu.Lock()
	s.sub = sub
	if current, err := s.surface.Capture(); err == nil {
		s.history.RecordIfChanged(current)
	} else {
		s.logger.Warn("initial capture failed", log.Error(err))
	}
	s.unhook = s.surface.OnChange(func(scene.Change) { s.Changed() })
	s.state = StateAttached
	hs := s.historyStateLocked()
	s.mu.Unlock()

	s.logger.Info("attached")
	s.publish(EventReady, hs)
	s.publish(EventHistory, hs)
	return nil
}

// load applies the stored canvas and reports whether the scene is fresh.
func (s *Session) load(ctx context.Context) bool {
	rec, err := s.store.EnsureExists(ctx, s.cfg.SceneID)
	if err != nil {
		s.logger.Warn("ensure scene failed, continuing with local document", log.Error(err))
		return false
	}

	fresh := rec.IsFresh()
	loaded := snapshot.Empty()
	if !fresh {
		loaded, err = snapshot.Canonicalize(rec.Canvas)
		if err != nil {
			s.logger.Warn("stored canvas unreadable, ignored", log.Error(err))
			return false
		}
	}

	s.mu.Lock()
	if !fresh {
		if err = s.surface.Restore(loaded); err != nil {
			s.logger.Warn("restore of stored canvas failed", log.Error(err))
		}
	}
	s.reconciler.MarkApplied(loaded)
	s.mu.Unlock()

	s.scheduler.MarkSaved(loaded)
	return fresh
}

// seed loads the template into the surface and persists it right away.
func (s *Session) seed(ctx context.Context) {
	if s.templates == nil {
		s.logger.Warn("template requested but no template source configured",
			log.String("template", s.cfg.TemplateKey))
		return
	}
	snap, err := s.templates.Load(ctx, s.cfg.TemplateKey)
	if err != nil {
		s.logger.Warn("template load failed, starting empty",
			log.String("template", s.cfg.TemplateKey), log.Error(err))
		return
	}

	s.mu.Lock()
	err = s.surface.Restore(snap)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("template restore failed", log.Error(err))
		return
	}
	if err = s.scheduler.Flush(ctx); err != nil {
		s.logger.Warn("template save failed", log.Error(err))
	}
}

// Changed is the mutation hook: call it after any settled structural change.
// It records a history entry when the document differs from the present
// entry and arms the debounced save. It does nothing in view-only sessions
// and outside the attached state.
func (s *Session) Changed() {
	s.mu.Lock()
	if s.state != StateAttached || s.cfg.ViewOnly {
		s.mu.Unlock()
		return
	}
	snap, err := s.surface.Capture()
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("capture after change failed", log.Error(err))
		return
	}
	recorded := s.history.RecordIfChanged(snap)
	hs := s.historyStateLocked()
	s.mu.Unlock()

	s.scheduler.Arm()
	if recorded {
		s.publish(EventHistory, hs)
	}
}

// Undo restores the previous history entry and schedules a save. It reports
// false when there was nothing to undo.
func (s *Session) Undo() (bool, error) {
	return s.step(func(current snapshot.Snapshot) (snapshot.Snapshot, bool) {
		return s.history.Undo(current)
	})
}

// Redo re-applies the last undone entry and schedules a save.
func (s *Session) Redo() (bool, error) {
	return s.step(func(snapshot.Snapshot) (snapshot.Snapshot, bool) {
		return s.history.Redo()
	})
}

func (s *Session) step(move func(current snapshot.Snapshot) (snapshot.Snapshot, bool)) (bool, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if s.cfg.ViewOnly {
		s.mu.Unlock()
		return false, nil
	}
	current, err := s.surface.Capture()
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	target, ok := move(current)
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if err = s.surface.Restore(target); err != nil {
		s.mu.Unlock()
		return false, err
	}
	hs := s.historyStateLocked()
	s.mu.Unlock()

	s.scheduler.Arm()
	s.publish(EventHistory, hs)
	return true, nil
}

// Flush saves pending local changes now instead of after the quiet period.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	err := s.usableLocked()
	viewOnly := s.cfg.ViewOnly
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if viewOnly {
		return nil
	}
	return s.scheduler.Flush(ctx)
}

// Detach cancels the pending save, drops the remote subscription and
// disposes the surface. It is idempotent and waits for an Attach in
// progress to finish first.
func (s *Session) Detach() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == StateDetached {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDetached
	unhook, sub := s.unhook, s.sub
	s.unhook, s.sub = nil, nil
	s.mu.Unlock()

	if unhook != nil {
		unhook()
	}
	s.scheduler.Cancel()
	var err error
	if sub != nil {
		if err = sub.Cancel(); err != nil {
			s.logger.Warn("unsubscribe failed", log.Error(err))
		}
	}

	s.mu.Lock()
	s.history.Clear()
	s.reconciler.Reset()
	s.guard.Reset()
	s.surface.Dispose()
	s.mu.Unlock()

	s.logger.Info("detached")
	s.publish(EventDetached, nil)
	return err
}

func (s *Session) onRemote(rec store.Record) {
	s.mu.Lock()
	if s.state != StateAttaching && s.state != StateAttached {
		s.mu.Unlock()
		return
	}
	outcome, snap, err := s.reconciler.Reconcile(rec.Canvas)
	var before, after HistoryState
	if outcome == reconciler.Applied {
		// Remote content becomes the present entry and the store's known
		// state, so it is neither undoable here nor skipped as unchanged.
		before = s.historyStateLocked()
		s.history.Rebase(snap)
		s.scheduler.MarkSaved(snap)
		after = s.historyStateLocked()
	}
	s.mu.Unlock()

	switch outcome {
	case reconciler.Applied:
		s.logger.Debug("remote update applied",
			log.Hex("snapshot_digest", snap.Digest()),
			log.Uint64("revision", rec.Revision),
		)
		s.publish(EventRemoteApplied, RemoteApplied{Digest: snap.Digest(), Revision: rec.Revision})
		if before != after {
			s.publish(EventHistory, after)
		}
	case reconciler.Failed:
		s.logger.Warn("remote update could not be applied", log.Error(err))
		s.publish(EventRemoteDiscarded, RemoteDiscarded{Reason: outcome.String(), Revision: rec.Revision})
	case reconciler.Malformed:
		s.logger.Debug("remote update ignored", log.Uint64("revision", rec.Revision), log.Error(err))
		s.publish(EventRemoteDiscarded, RemoteDiscarded{Reason: outcome.String(), Revision: rec.Revision})
	default:
		s.logger.Debug("remote update discarded",
			log.String("reason", outcome.String()),
			log.Uint64("revision", rec.Revision),
		)
		s.publish(EventRemoteDiscarded, RemoteDiscarded{Reason: outcome.String(), Revision: rec.Revision})
	}
}

func (s *Session) onSaved(snap snapshot.Snapshot, err error) {
	if err != nil {
		s.publish(EventSaveFailed, SaveResult{Digest: snap.Digest(), Err: err})
		return
	}
	s.mu.Lock()
	if s.state == StateAttaching || s.state == StateAttached {
		s.reconciler.MarkApplied(snap)
	}
	s.mu.Unlock()
	s.publish(EventSaved, SaveResult{Digest: snap.Digest()})
}

func (s *Session) usableLocked() error {
	switch s.state {
	case StateAttached:
		return nil
	case StateDetached:
		return ErrDetached
	default:
		return ErrNotReady
	}
}

func (s *Session) historyStateLocked() HistoryState {
	return HistoryState{CanUndo: s.history.CanUndo(), CanRedo: s.history.CanRedo()}
}

func (s *Session) SceneID() string { return s.cfg.SceneID }

func (s *Session) ViewOnly() bool { return s.cfg.ViewOnly }

// IsReady reports whether Attach completed and Detach has not been called.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAttached
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAttached && !s.cfg.ViewOnly && s.history.CanUndo()
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAttached && !s.cfg.ViewOnly && s.history.CanRedo()
}

// LastApplied is the snapshot the live document was last set to from the
// store, either by a remote update or by a completed local save.
func (s *Session) LastApplied() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciler.LastApplied()
}

// SavePending reports whether a debounced save is scheduled.
func (s *Session) SavePending() bool {
	return s.scheduler.Pending()
}

func (s *Session) SaveStats() scheduler.Stats {
	return s.scheduler.Stats()
}
