package session

import (
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
)

// Event types published on the bus, on a topic named after the scene id.
const (
	EventReady           = "session.ready"
	EventHistory         = "session.history"
	EventRemoteApplied   = "session.remote_applied"
	EventRemoteDiscarded = "session.remote_discarded"
	EventSaved           = "session.saved"
	EventSaveFailed      = "session.save_failed"
	EventDetached        = "session.detached"
)

// HistoryState is the payload of EventHistory.
type HistoryState struct {
	CanUndo bool
	CanRedo bool
}

// RemoteDiscarded is the payload of EventRemoteDiscarded.
type RemoteDiscarded struct {
	Reason   string
	Revision uint64
}

// SaveResult is the payload of EventSaved and EventSaveFailed.
type SaveResult struct {
	Digest uint64
	Err    error
}

// RemoteApplied is the payload of EventRemoteApplied.
type RemoteApplied struct {
	Digest   uint64
	Revision uint64
}

func (s *Session) publish(eventType string, data any) {
	if s.bus == nil {
		return
	}
	event := bus.NewEventAt(eventType, "session", s.clock.Now(), data, map[string]string{"scene_id": s.cfg.SceneID})
	if err := s.bus.Publish(s.cfg.SceneID, event); err != nil {
		s.logger.Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}
