//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/config"
	"github.com/cory-johannsen/wildlands/internal/game/combat"
	"github.com/cory-johannsen/wildlands/internal/game/command"
	"github.com/cory-johannsen/wildlands/internal/game/session"
)

var storeSet = wire.NewSet(
	provideBackend,
	provideDurable,
	provideEphemeral,
	provideRoomStore,
)

var worldSet = wire.NewSet(
	provideGenerator,
	provideScripts,
	provideRule,
	provideAssigner,
	providePipeline,
	provideLimiter,
	provideGate,
	combat.NewEngine,
	session.NewManager,
	command.DefaultRegistry,
	provideEngine,
)

func initializeApp(ctx context.Context, cfg config.Config, opts Options, logger *zap.Logger) (*App, func(), error) {
	wire.Build(
		storeSet,
		worldSet,
		provideHealth,
		provideLifecycle,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
