//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/core/session"
	"github.com/zeusync/scenesync/internal/server"
)

func InitializeServer(ctx context.Context, cfg config.Config) (*server.Server, func(), error) {
	wire.Build(ServerSet)
	return nil, nil, nil
}

func InitializeController(ctx context.Context, cfg config.Config) (*session.Controller, func(), error) {
	wire.Build(ControllerSet)
	return nil, nil, nil
}
