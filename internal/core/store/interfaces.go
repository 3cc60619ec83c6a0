// Package store defines the remote document store the session persists to
// and receives updates from.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one stored scene document. Canvas is the opaque snapshot
// payload; the remaining fields belong to the store and are preserved by
// Save.
type Record struct {
	SceneID   string          `json:"sceneId"`
	Canvas    json.RawMessage `json:"canvas"`
	Title     string          `json:"title,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Revision  uint64          `json:"revision"`
}

// Handler receives pushed records. Delivery is at-least-once and in arrival
// order per subscription.
type Handler func(rec Record)

type Subscription interface {
	// Cancel stops delivery. It is safe to call more than once.
	Cancel() error
}

// Store is the document store contract.
type Store interface {
	// EnsureExists creates the scene with an empty canvas when it is absent
	// and returns the current record.
	EnsureExists(ctx context.Context, sceneID string) (Record, error)
	// Subscribe delivers the current record, then every later change.
	Subscribe(ctx context.Context, sceneID string, h Handler) (Subscription, error)
	// Save replaces the canvas and bumps the revision, leaving every other
	// field as it is.
	Save(ctx context.Context, sceneID string, canvas []byte) error
	// Get returns the current record.
	Get(ctx context.Context, sceneID string) (Record, error)
	Close() error
}

// EmptyCanvas is what EnsureExists stores for a new scene.
var EmptyCanvas = json.RawMessage(`{}`)

// IsFresh reports whether rec still holds the canvas a new scene starts
// with.
func (rec Record) IsFresh() bool {
	if len(rec.Canvas) == 0 {
		return true
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(rec.Canvas, &probe); err != nil {
		return false
	}
	return len(probe) == 0
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Cancel() error { return f() }
