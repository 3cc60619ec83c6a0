package session

import (
	"time"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/history"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/scheduler"
	"github.com/zeusync/scenesync/internal/core/store"
	"github.com/zeusync/scenesync/internal/core/template"
)

// Config describes one session.
type Config struct {
	SceneID string
	// TemplateKey seeds a fresh scene. Ignored for scenes with content and in
	// view-only sessions.
	TemplateKey string
	ViewOnly    bool

	HistoryLimit int
	QuietPeriod  time.Duration
	SaveTimeout  time.Duration
}

func DefaultConfig(sceneID string) Config {
	return Config{
		SceneID:      sceneID,
		HistoryLimit: history.DefaultLimit,
		QuietPeriod:  scheduler.DefaultQuietPeriod,
		SaveTimeout:  scheduler.DefaultSaveTimeout,
	}
}

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Store store.Store
	// Templates is optional; without it template keys are ignored.
	Templates template.Source
	// Bus is optional; without it no session events are published.
	Bus    bus.EventBus
	Logger log.Log
	Clock  clock.Clock
}
