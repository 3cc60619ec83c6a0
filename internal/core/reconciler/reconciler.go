// Package reconciler decides whether a remote snapshot is applied to the live
// document.
//
// Every inbound payload is canonicalized, then checked against the echo
// guard and the last applied snapshot, in that order. Only payloads that pass
// both are restored. Applied snapshots never enter the undo history.
package reconciler

import (
	"errors"
	"fmt"

	"github.com/zeusync/scenesync/internal/core/echo"
	"github.com/zeusync/scenesync/internal/core/snapshot"
)

type State uint8

const (
	StateIdle State = iota
	StateApplying
)

func (s State) String() string {
	if s == StateApplying {
		return "applying"
	}
	return "idle"
}

// Outcome is the verdict on one remote payload.
type Outcome uint8

const (
	Applied Outcome = iota
	Echo
	Duplicate
	Malformed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Echo:
		return "echo"
	case Duplicate:
		return "duplicate"
	case Malformed:
		return "malformed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// RestoreFunc replaces the live document with snap.
type RestoreFunc func(snap snapshot.Snapshot) error

// Reconciler is not safe for concurrent use; the owning session serializes
// calls.
type Reconciler struct {
	guard       *echo.Guard
	restore     RestoreFunc
	state       State
	lastApplied snapshot.Snapshot
}

func New(guard *echo.Guard, restore RestoreFunc) *Reconciler {
	if guard == nil {
		guard = echo.New()
	}
	return &Reconciler{guard: guard, restore: restore}
}

// Reconcile evaluates one remote payload. Missing or malformed payloads are
// reported as Malformed with the decode error; nothing changes. A failed
// restore leaves LastApplied untouched.
func (r *Reconciler) Reconcile(payload []byte) (Outcome, snapshot.Snapshot, error) {
	remote, err := snapshot.Canonicalize(payload)
	if err != nil {
		return Malformed, "", err
	}
	if r.guard.IsEcho(remote) {
		return Echo, remote, nil
	}
	if snapshot.Equal(remote, r.lastApplied) {
		return Duplicate, remote, nil
	}
	if r.restore == nil {
		return Failed, remote, errors.New("reconciler: no restore function")
	}

	r.state = StateApplying
	err = r.restore(remote)
	r.state = StateIdle
	if err != nil {
		return Failed, remote, err
	}
	r.lastApplied = remote
	return Applied, remote, nil
}

// MarkApplied records snap as the state the live document now shows, after a
// local load or a completed local save.
func (r *Reconciler) MarkApplied(snap snapshot.Snapshot) {
	r.lastApplied = snap
}

func (r *Reconciler) LastApplied() snapshot.Snapshot {
	return r.lastApplied
}

func (r *Reconciler) State() State {
	return r.state
}

// Reset forgets the last applied snapshot.
func (r *Reconciler) Reset() {
	r.lastApplied = ""
	r.state = StateIdle
}
