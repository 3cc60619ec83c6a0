// Package scheduler coalesces bursts of local edits into one outbound save
// after a quiet period.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/echo"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/snapshot"
)

const (
	DefaultQuietPeriod = 800 * time.Millisecond
	DefaultSaveTimeout = 10 * time.Second
)

type Config struct {
	Quiet       time.Duration
	SaveTimeout time.Duration
	Clock       clock.Clock
}

func DefaultConfig() Config {
	return Config{
		Quiet:       DefaultQuietPeriod,
		SaveTimeout: DefaultSaveTimeout,
		Clock:       clock.Real{},
	}
}

// Hooks connect the scheduler to the document and the store.
type Hooks struct {
	// Lock, when set, is held while capturing so that the capture and the echo
	// marker update happen atomically with respect to document edits. It is
	// never held during Save.
	Lock    sync.Locker
	Capture func() (snapshot.Snapshot, error)
	Save    func(ctx context.Context, snap snapshot.Snapshot) error
	Guard   *echo.Guard
	// Unchanged, when set, is asked under Lock whether the captured snapshot
	// already matches the store, for example after a remote update.
	Unchanged func(snap snapshot.Snapshot) bool
	// OnSaved is called after every attempted save, outside Lock.
	OnSaved func(snap snapshot.Snapshot, err error)
}

type Stats struct {
	Saves    uint64
	Failures uint64
	Skipped  uint64
	Armed    uint64
}

type Scheduler struct {
	cfg    Config
	hooks  Hooks
	logger log.Log

	mu        sync.Mutex
	timer     clock.Timer
	gen       uint64
	stats     Stats
	lastSaved snapshot.Snapshot

	// saveMu serializes flushes.
	saveMu sync.Mutex
}

func New(cfg Config, hooks Hooks, logger log.Log) *Scheduler {
	if cfg.Quiet <= 0 {
		cfg.Quiet = DefaultQuietPeriod
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultSaveTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger.With(log.String("component", "scheduler")),
	}
}

// Arm (re)starts the quiet period. Only the last arming in a burst saves.
func (s *Scheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.stats.Armed++
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.Quiet, func() { s.fire(gen) })
}

// Flush saves the current document now, superseding any pending timer. It
// does nothing when the document equals the last successful save.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.disarm()
	return s.flush(ctx)
}

// Cancel drops a pending timer without saving and clears the in-flight flag.
func (s *Scheduler) Cancel() {
	s.disarm()
	if s.hooks.Guard != nil {
		s.hooks.Guard.Settle()
	}
}

// Pending reports whether a save is scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// MarkSaved records snap as the content the store now holds, for example the
// state loaded at attach time or a remote update just applied. It never
// waits for a save in progress, so it is safe to call from a store callback.
func (s *Scheduler) MarkSaved(snap snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSaved = snap
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		// superseded by Arm, Flush or Cancel
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()
	_ = s.flush(ctx)
}

func (s *Scheduler) flush(ctx context.Context) error {
	if s.hooks.Capture == nil {
		return ErrNoCapture
	}
	if s.hooks.Save == nil {
		return ErrNoSave
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.hooks.Lock != nil {
		s.hooks.Lock.Lock()
	}
	snap, err := s.hooks.Capture()
	if err == nil && s.unchangedLocked(snap) {
		if s.hooks.Lock != nil {
			s.hooks.Lock.Unlock()
		}
		s.count(func(st *Stats) { st.Skipped++ })
		return nil
	}
	if err == nil && s.hooks.Guard != nil {
		s.hooks.Guard.Begin(snap)
	}
	if s.hooks.Lock != nil {
		s.hooks.Lock.Unlock()
	}
	if err != nil {
		s.logger.Warn("capture failed, save skipped", log.Error(err))
		return err
	}

	started := s.cfg.Clock.Now()
	err = s.hooks.Save(ctx, snap)

	// Results are recorded before the guard settles: once it does, a remote
	// update may be applied and must not be overwritten by this save.
	if err != nil {
		s.count(func(st *Stats) { st.Failures++ })
		s.logger.Warn("save failed",
			log.Hex("snapshot_digest", snap.Digest()),
			log.Error(err),
		)
	} else {
		s.count(func(st *Stats) {
			st.Saves++
			s.lastSaved = snap
		})
		s.logger.Debug("saved",
			log.Hex("snapshot_digest", snap.Digest()),
			log.Int("bytes", len(snap)),
			log.Duration("elapsed", s.cfg.Clock.Now().Sub(started)),
		)
	}

	if s.hooks.OnSaved != nil {
		s.hooks.OnSaved(snap, err)
	}
	if s.hooks.Guard != nil {
		s.hooks.Guard.Settle()
	}
	return err
}

func (s *Scheduler) unchangedLocked(snap snapshot.Snapshot) bool {
	s.mu.Lock()
	lastSaved := s.lastSaved
	s.mu.Unlock()
	if snapshot.Equal(snap, lastSaved) {
		return true
	}
	return s.hooks.Unchanged != nil && s.hooks.Unchanged(snap)
}

func (s *Scheduler) count(update func(st *Stats)) {
	s.mu.Lock()
	update(&s.stats)
	s.mu.Unlock()
}
