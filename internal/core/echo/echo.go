// Package echo recognises remote notifications that only reflect this
// session's own writes.
package echo

import (
	"sync"

	"github.com/zeusync/scenesync/internal/core/snapshot"
)

// Guard holds the canonical form of the most recent local save and whether a
// save is still in flight. Only the latest save is remembered: a late echo of
// an older save is not recognised.
type Guard struct {
	mu       sync.Mutex
	marker   snapshot.Snapshot
	digest   uint64
	inFlight bool
}

func New() *Guard {
	return &Guard{}
}

// Begin records snap as the save about to be handed to the store.
func (g *Guard) Begin(snap snapshot.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marker = snap
	g.digest = snap.Digest()
	g.inFlight = true
}

// Settle clears the in-flight flag once the store call returned, whatever
// its outcome. The marker is kept.
func (g *Guard) Settle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
}

// IsEcho reports whether remote should be discarded as an echo. While a save
// is in flight every remote snapshot is held off so that none can overwrite
// the state being written.
func (g *Guard) IsEcho(remote snapshot.Snapshot) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return true
	}
	if g.marker.IsZero() {
		return false
	}
	return remote.Digest() == g.digest && snapshot.Equal(remote, g.marker)
}

func (g *Guard) Marker() snapshot.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.marker
}

func (g *Guard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Reset forgets the marker and clears the in-flight flag.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marker = ""
	g.digest = 0
	g.inFlight = false
}
