package scene

import (
	"math"

	"github.com/zeusync/scenesync/internal/core/snapshot"
)

const (
	defaultStroke = "#111"
	brushColor    = "#000"
)

// AddShape inserts a rect, circle or text at its default spot using the
// current fill and makes it the active selection.
func (s *Scene) AddShape(kind snapshot.Kind) (string, bool) {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return "", false
	}
	obj := snapshot.Object{
		ID:         s.newID(),
		Type:       kind,
		ScaleX:     1,
		ScaleY:     1,
		Fill:       s.fill,
		Selectable: true,
		Evented:    true,
	}
	switch kind {
	case snapshot.KindRect:
		obj.Left, obj.Top, obj.Width, obj.Height = 80, 60, 160, 100
	case snapshot.KindCircle:
		obj.Left, obj.Top, obj.Radius = 200, 120, 60
	case snapshot.KindText:
		obj.Left, obj.Top, obj.Text, obj.FontSize = 160, 40, "Edit me", 22
	default:
		s.mu.Unlock()
		return "", false
	}
	s.objects = append(s.objects, obj)
	s.selected = []string{obj.ID}
	s.mu.Unlock()

	s.commit([]Change{{Kind: ChangeAdded, ObjectID: obj.ID}})
	return obj.ID, true
}

// SetDrawing toggles pen mode. Strokes are only accepted while it is on.
func (s *Scene) SetDrawing(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editableLocked() {
		return false
	}
	s.drawing = enabled
	return true
}

func (s *Scene) Drawing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawing
}

// AddStroke appends a finished free-drawing path.
func (s *Scene) AddStroke(points []snapshot.Point) (string, bool) {
	s.mu.Lock()
	if !s.editableLocked() || !s.drawing || len(points) < 2 {
		s.mu.Unlock()
		return "", false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
	}
	obj := snapshot.Object{
		ID:          s.newID(),
		Type:        snapshot.KindPath,
		Left:        minX,
		Top:         minY,
		ScaleX:      1,
		ScaleY:      1,
		Stroke:      brushColor,
		StrokeWidth: s.strokeWidth,
		Path:        append([]snapshot.Point(nil), points...),
		Selectable:  true,
		Evented:     true,
	}
	s.objects = append(s.objects, obj)
	s.mu.Unlock()

	s.commit([]Change{{Kind: ChangeAdded, ObjectID: obj.ID}})
	return obj.ID, true
}

// Select replaces the selection with the given selectable objects.
func (s *Scene) Select(ids ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	var next []string
	for _, id := range ids {
		if i := s.indexLocked(id); i >= 0 && s.objects[i].Selectable {
			next = append(next, id)
		}
	}
	s.selected = next
	return len(next) > 0
}

func (s *Scene) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
}

func (s *Scene) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selected...)
}

// Hover marks the object under the pointer.
func (s *Scene) Hover(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) >= 0 {
		s.hovered = id
	} else {
		s.hovered = ""
	}
}

func (s *Scene) Hovered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hovered
}

// DeleteSelected removes every selected object.
func (s *Scene) DeleteSelected() int {
	s.mu.Lock()
	if !s.editableLocked() || len(s.selected) == 0 {
		s.mu.Unlock()
		return 0
	}
	doomed := make(map[string]struct{}, len(s.selected))
	for _, id := range s.selected {
		doomed[id] = struct{}{}
	}
	var changes []Change
	kept := s.objects[:0]
	for _, o := range s.objects {
		if _, ok := doomed[o.ID]; ok {
			changes = append(changes, Change{Kind: ChangeRemoved, ObjectID: o.ID})
			delete(s.dragging, o.ID)
			continue
		}
		kept = append(kept, o)
	}
	s.objects = kept
	s.selected = nil
	if s.indexLocked(s.hovered) < 0 {
		s.hovered = ""
	}
	s.mu.Unlock()

	s.commit(changes)
	return len(changes)
}

// SetFill changes the tool colour and recolours the selection.
func (s *Scene) SetFill(color string) int {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return 0
	}
	s.fill = color
	changes := s.updateSelectedLocked(func(o *snapshot.Object) bool {
		if o.Type == snapshot.KindPath || o.Fill == color {
			return false
		}
		o.Fill = color
		return true
	})
	s.mu.Unlock()

	s.commit(changes)
	return len(changes)
}

func (s *Scene) Fill() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fill
}

// SetStrokeWidth changes the brush width and restyles the selection,
// giving unstroked objects the default stroke colour.
func (s *Scene) SetStrokeWidth(width float64) int {
	s.mu.Lock()
	if !s.editableLocked() || width <= 0 {
		s.mu.Unlock()
		return 0
	}
	s.strokeWidth = width
	changes := s.updateSelectedLocked(func(o *snapshot.Object) bool {
		if o.StrokeWidth == width && o.Stroke != "" {
			return false
		}
		o.StrokeWidth = width
		if o.Stroke == "" {
			o.Stroke = defaultStroke
		}
		return true
	})
	s.mu.Unlock()

	s.commit(changes)
	return len(changes)
}

func (s *Scene) StrokeWidth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strokeWidth
}

// SetText replaces the content of a text object.
func (s *Scene) SetText(id, text string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if !s.editableLocked() || i < 0 || s.objects[i].Type != snapshot.KindText || s.objects[i].Text == text {
		s.mu.Unlock()
		return false
	}
	s.objects[i].Text = text
	s.mu.Unlock()

	s.commit([]Change{{Kind: ChangeModified, ObjectID: id}})
	return true
}

// LockSelected freezes the selection in place and drops it.
func (s *Scene) LockSelected() int {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return 0
	}
	changes := s.updateSelectedLocked(func(o *snapshot.Object) bool {
		if o.Locked() && !o.Selectable && !o.Evented {
			return false
		}
		setLocks(o, true)
		return true
	})
	s.selected = nil
	s.mu.Unlock()

	s.commit(changes)
	return len(changes)
}

// UnlockAll releases every object.
func (s *Scene) UnlockAll() int {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return 0
	}
	var changes []Change
	for i := range s.objects {
		o := &s.objects[i]
		if !o.LockMovementX && !o.LockMovementY && !o.LockScalingX && !o.LockScalingY && !o.LockRotation && o.Selectable && o.Evented {
			continue
		}
		setLocks(o, false)
		changes = append(changes, Change{Kind: ChangeModified, ObjectID: o.ID})
	}
	s.mu.Unlock()

	s.commit(changes)
	return len(changes)
}

// DragTo moves an object while a drag is in progress. The move snaps to the
// grid when snapping is on and respects movement locks. It is not a settled
// change; EndDrag is.
func (s *Scene) DragTo(id string, left, top float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if !s.editableLocked() || i < 0 {
		return false
	}
	o := &s.objects[i]
	moved := false
	if !o.LockMovementX {
		if x := s.snapLocked(left); x != o.Left {
			o.Left = x
			moved = true
		}
	}
	if !o.LockMovementY {
		if y := s.snapLocked(top); y != o.Top {
			o.Top = y
			moved = true
		}
	}
	if moved {
		s.dragging[id] = struct{}{}
	}
	return moved
}

// EndDrag settles a drag started with DragTo.
func (s *Scene) EndDrag(id string) bool {
	s.mu.Lock()
	_, ok := s.dragging[id]
	delete(s.dragging, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.commit([]Change{{Kind: ChangeModified, ObjectID: id}})
	return true
}

func (s *Scene) SetSnap(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = enabled
}

func (s *Scene) updateSelectedLocked(update func(o *snapshot.Object) bool) []Change {
	var changes []Change
	for _, id := range s.selected {
		i := s.indexLocked(id)
		if i < 0 {
			continue
		}
		if update(&s.objects[i]) {
			changes = append(changes, Change{Kind: ChangeModified, ObjectID: id})
		}
	}
	return changes
}

func setLocks(o *snapshot.Object, locked bool) {
	o.LockMovementX = locked
	o.LockMovementY = locked
	o.LockScalingX = locked
	o.LockScalingY = locked
	o.LockRotation = locked
	o.Selectable = !locked
	o.Evented = !locked
}
