// Package scene is the live, mutable scene graph edited by the user.
//
// The scene owns the objects, the transient view state (selection, hover,
// drawing mode, drags in progress) and the tool settings. Capture produces the
// canonical snapshot of the structural state only; Restore replaces it.
// Structural edits that are settled notify OnChange listeners; Restore does not.
package scene

import (
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/scenesync/internal/core/snapshot"
)

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change describes one settled structural edit.
type Change struct {
	Kind     ChangeKind
	ObjectID string
}

type Listener func(Change)

type Options struct {
	GridSize    float64
	Snap        bool
	ReadOnly    bool
	Fill        string
	StrokeWidth float64
	// NewID generates object ids. Defaults to random UUIDs.
	NewID func() string
}

func DefaultOptions() Options {
	return Options{
		GridSize:    20,
		Snap:        true,
		Fill:        "#60a5fa",
		StrokeWidth: 2,
	}
}

type Scene struct {
	mu sync.Mutex

	background string
	objects    []snapshot.Object

	// transient view state, never captured
	selected []string
	hovered  string
	drawing  bool
	dragging map[string]struct{}

	gridSize    float64
	snap        bool
	readOnly    bool
	fill        string
	strokeWidth float64
	newID       func() string

	listeners    map[uint64]Listener
	nextListener uint64

	renders  uint64
	disposed bool
}

func New(opts Options) *Scene {
	if opts.GridSize <= 0 {
		opts.GridSize = 20
	}
	if opts.Fill == "" {
		opts.Fill = "#60a5fa"
	}
	if opts.StrokeWidth <= 0 {
		opts.StrokeWidth = 2
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Scene{
		background:  snapshot.DefaultBackground,
		dragging:    make(map[string]struct{}),
		gridSize:    opts.GridSize,
		snap:        opts.Snap,
		readOnly:    opts.ReadOnly,
		fill:        opts.Fill,
		strokeWidth: opts.StrokeWidth,
		newID:       opts.NewID,
		listeners:   make(map[uint64]Listener),
	}
}

// OnChange registers l for settled structural changes and returns a function
// that removes it.
func (s *Scene) OnChange(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return func() {}
	}
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Capture returns the canonical snapshot of the structural state.
func (s *Scene) Capture() (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return "", ErrDisposed
	}
	return snapshot.Encode(snapshot.Document{
		Background: s.background,
		Objects:    s.objects,
	})
}

// Restore replaces the scene contents with snap and re-renders. Selection is
// pruned to objects that still exist and are selectable.
func (s *Scene) Restore(snap snapshot.Snapshot) error {
	doc, err := snapshot.Decode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.background = doc.Background
	s.objects = doc.Objects

	kept := s.selected[:0]
	for _, id := range s.selected {
		if i := s.indexLocked(id); i >= 0 && s.objects[i].Selectable {
			kept = append(kept, id)
		}
	}
	s.selected = kept
	if s.indexLocked(s.hovered) < 0 {
		s.hovered = ""
	}
	for id := range s.dragging {
		if s.indexLocked(id) < 0 {
			delete(s.dragging, id)
		}
	}
	s.renders++
	return nil
}

// Dispose releases the scene. Later operations fail fast.
func (s *Scene) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.objects = nil
	s.selected = nil
	s.listeners = make(map[uint64]Listener)
}

func (s *Scene) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Scene) SetReadOnly(readOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = readOnly
	if readOnly {
		s.drawing = false
	}
}

func (s *Scene) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// Renders counts full re-renders caused by Restore.
func (s *Scene) Renders() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

// Objects returns a copy of the objects in stacking order.
func (s *Scene) Objects() []snapshot.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := snapshot.Document{Objects: s.objects}.Clone()
	return doc.Objects
}

func (s *Scene) Object(id string) (snapshot.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return snapshot.Object{}, false
	}
	return snapshot.Document{Objects: s.objects[i : i+1]}.Clone().Objects[0], true
}

func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *Scene) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.objects {
		if s.objects[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Scene) editableLocked() bool {
	return !s.disposed && !s.readOnly
}

func (s *Scene) snapLocked(v float64) float64 {
	if !s.snap {
		return v
	}
	return math.Round(v/s.gridSize) * s.gridSize
}

// commit delivers changes to listeners after the lock is released.
func (s *Scene) commit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, c := range changes {
		for _, l := range listeners {
			l(c)
		}
	}
}
