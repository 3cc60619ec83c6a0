package injector

import (
	"context"
	"fmt"

	"github.com/google/wire"

	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/session"
	"github.com/zeusync/scenesync/internal/core/store"
	"github.com/zeusync/scenesync/internal/core/store/memory"
	"github.com/zeusync/scenesync/internal/core/store/mongostore"
	"github.com/zeusync/scenesync/internal/core/store/remote"
	"github.com/zeusync/scenesync/internal/core/store/sqlstore"
	"github.com/zeusync/scenesync/internal/core/template"
	"github.com/zeusync/scenesync/internal/server"
)

// CommonSet provides what both binaries share: logger, bus, clock and the
// configured store.
var CommonSet = wire.NewSet(
	ProvideLogger,
	ProvideBus,
	ProvideClock,
	ProvideStore,
)

var ServerSet = wire.NewSet(
	CommonSet,
	ProvideServer,
)

var ControllerSet = wire.NewSet(
	CommonSet,
	ProvideTemplates,
	ProvideSessionDeps,
	session.NewController,
)

func ProvideLogger(cfg config.Config) log.Log {
	logger := log.Provide()
	logger.SetLevel(cfg.Log.Level)
	return logger
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

func ProvideClock() clock.Clock {
	return clock.Real{}
}

// ProvideStore opens the backend named by cfg.Store.Backend. The cleanup
// closes it.
func ProvideStore(ctx context.Context, cfg config.Config, eventBus bus.EventBus, clk clock.Clock, logger log.Log) (store.Store, func(), error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.Store.Backend {
	case config.BackendMemory:
		st = memory.New(eventBus, clk, logger)
	case config.BackendSQLite, config.BackendPostgres, config.BackendMySQL:
		dialect, _ := sqlstore.DialectByName(cfg.Store.Backend)
		st, err = sqlstore.Open(ctx, sqlstore.Config{
			Dialect:      dialect,
			DSN:          cfg.Store.DSN,
			PollInterval: cfg.Store.PollInterval,
		}, logger)
	case config.BackendMongo:
		st, err = mongostore.Open(ctx, mongostore.Config{
			URI:          cfg.Store.DSN,
			Database:     cfg.Store.MongoDatabase,
			Collection:   cfg.Store.MongoCollection,
			PollInterval: cfg.Store.PollInterval,
		}, logger)
	case config.BackendRemote:
		rc := remote.DefaultConfig()
		rc.URL = cfg.Store.HubURL
		rc.Token = cfg.Store.Token
		st, err = remote.Dial(ctx, rc, logger)
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Store opened", log.String("backend", cfg.Store.Backend))
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", log.Error(err))
		}
	}, nil
}

// ProvideTemplates layers templates.dir, when configured, over the built-in
// catalog.
func ProvideTemplates(cfg config.Config, logger log.Log) (template.Source, func(), error) {
	if cfg.Templates.Dir == "" {
		return template.Builtin(), func() {}, nil
	}
	dir, err := template.NewDirSource(cfg.Templates.Dir, logger)
	if err != nil {
		return nil, nil, err
	}
	return template.Chain{dir, template.Builtin()}, func() { _ = dir.Close() }, nil
}

func ProvideSessionDeps(st store.Store, templates template.Source, eventBus bus.EventBus, clk clock.Clock, logger log.Log) session.Deps {
	return session.Deps{
		Store:     st,
		Templates: templates,
		Bus:       eventBus,
		Logger:    logger,
		Clock:     clk,
	}
}

func ProvideServer(cfg config.Config, st store.Store, logger log.Log) *server.Server {
	return server.NewServer(cfg.ServerConfig(), st, logger)
}
