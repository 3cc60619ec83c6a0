// Package history keeps a bounded, linear undo/redo stack of snapshots.
//
// The top of the past stack is always the present document state, so a
// stack holding only the initial capture cannot be undone. Recording a new
// entry discards the redo branch.
//
// A Stack is not safe for concurrent use; the owning session serializes access.
package history

import "github.com/zeusync/scenesync/internal/core/snapshot"

// DefaultLimit is the number of past entries kept before the oldest is evicted.
const DefaultLimit = 20

// Stack is the undo/redo history of one session. Entries are whole-document
// snapshots.
type Stack struct {
	limit  int
	past   []snapshot.Snapshot // oldest ... newest (present)
	future []snapshot.Snapshot // newest undone ... oldest undone
}

// New returns an empty stack. A non-positive limit selects DefaultLimit.
func New(limit int) *Stack {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Stack{limit: limit}
}

// RecordIfChanged pushes snap unless it equals the top of the past stack.
// It reports whether an entry was recorded.
func (s *Stack) RecordIfChanged(snap snapshot.Snapshot) bool {
	if n := len(s.past); n > 0 && snapshot.Equal(s.past[n-1], snap) {
		return false
	}
	s.past = append(s.past, snap)
	if over := len(s.past) - s.limit; over > 0 {
		s.past = append(s.past[:0:0], s.past[over:]...)
	}
	s.future = nil
	return true
}

// Undo steps back one entry. current is the live document state and is what
// a following Redo returns to. The second result is false when there is
// nothing to undo; the stack is then unchanged.
func (s *Stack) Undo(current snapshot.Snapshot) (snapshot.Snapshot, bool) {
	if !s.CanUndo() {
		return "", false
	}
	s.past = s.past[:len(s.past)-1]
	s.future = append(s.future, current)
	return s.past[len(s.past)-1], true
}

// Redo re-applies the most recently undone entry, which becomes the new
// present.
func (s *Stack) Redo() (snapshot.Snapshot, bool) {
	if !s.CanRedo() {
		return "", false
	}
	next := s.future[len(s.future)-1]
	s.future = s.future[:len(s.future)-1]
	s.past = append(s.past, next)
	return next, true
}

// Rebase makes snap the present entry without adding an undo step: it
// replaces the top of the past stack, or becomes the first entry of an empty
// one, and drops the redo branch. Undoing the next local edit then returns to
// snap instead of the state before it arrived.
func (s *Stack) Rebase(snap snapshot.Snapshot) {
	if n := len(s.past); n > 0 {
		s.past[n-1] = snap
	} else {
		s.past = append(s.past, snap)
	}
	s.future = nil
}

func (s *Stack) CanUndo() bool { return len(s.past) > 1 }

func (s *Stack) CanRedo() bool { return len(s.future) > 0 }

// Top returns the present entry, if any.
func (s *Stack) Top() (snapshot.Snapshot, bool) {
	if len(s.past) == 0 {
		return "", false
	}
	return s.past[len(s.past)-1], true
}

// Len returns the sizes of the past and future stacks.
func (s *Stack) Len() (past, future int) {
	return len(s.past), len(s.future)
}

func (s *Stack) Limit() int { return s.limit }

func (s *Stack) Clear() {
	s.past = nil
	s.future = nil
}
