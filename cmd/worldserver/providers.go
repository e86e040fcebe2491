package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/config"
	"github.com/cory-johannsen/wildlands/internal/content"
	"github.com/cory-johannsen/wildlands/internal/game/biome"
	"github.com/cory-johannsen/wildlands/internal/game/combat"
	"github.com/cory-johannsen/wildlands/internal/game/command"
	"github.com/cory-johannsen/wildlands/internal/game/encounter"
	"github.com/cory-johannsen/wildlands/internal/game/engine"
	"github.com/cory-johannsen/wildlands/internal/game/generation"
	"github.com/cory-johannsen/wildlands/internal/game/ratelimit"
	"github.com/cory-johannsen/wildlands/internal/game/room"
	"github.com/cory-johannsen/wildlands/internal/game/session"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/scripting"
	"github.com/cory-johannsen/wildlands/internal/server"
	"github.com/cory-johannsen/wildlands/internal/storage"
	"github.com/cory-johannsen/wildlands/internal/storage/memory"
	"github.com/cory-johannsen/wildlands/internal/storage/postgres"
)

// Options carries command-line settings that are not part of the config file.
type Options struct {
	// ScriptsDir holds world-rule Lua scripts; empty disables the directory.
	ScriptsDir string
	// Console reads player input from stdin.
	Console bool
}

// Backend is the durable store plus an optional health probe for it.
type Backend struct {
	Durable storage.Durable
	Probe   server.Probe
}

// App is the assembled world server.
type App struct {
	Engine    *engine.Engine
	Sessions  *session.Manager
	Lifecycle *server.Lifecycle
}

func provideBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (Backend, func(), error) {
	if cfg.Server.Mode != config.ModePostgres {
		logger.Info("using in-memory durable store")
		return Backend{Durable: memory.NewDurable()}, func() {}, nil
	}

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return Backend{}, nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	return Backend{Durable: postgres.NewWorldStore(pool.DB()), Probe: pool.Probe}, pool.Close, nil
}

func provideDurable(b Backend) storage.Durable { return b.Durable }

func provideEphemeral() storage.Ephemeral { return memory.NewEphemeral() }

func provideGenerator(cfg config.Config, logger *zap.Logger) (content.Generator, error) {
	return content.NewFromConfig(cfg.Generator, logger)
}

func provideScripts(cfg config.Config, opts Options, logger *zap.Logger) (*scripting.Manager, func(), error) {
	mgr := scripting.NewManager(logger, cfg.World.Seed, scripting.DefaultInstructionLimit)
	loaded := false
	if opts.ScriptsDir != "" {
		info, err := os.Stat(opts.ScriptsDir)
		switch {
		case err == nil && info.IsDir():
			if err := mgr.LoadDir(scripting.WorldRules, opts.ScriptsDir); err != nil {
				return nil, nil, fmt.Errorf("loading world scripts: %w", err)
			}
			loaded = true
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("world script directory not found, skipping", zap.String("dir", opts.ScriptsDir))
		case err != nil:
			return nil, nil, err
		}
	}
	if !loaded && cfg.World.ClusterScript != "" {
		if err := mgr.LoadFile(scripting.WorldRules, cfg.World.ClusterScript); err != nil {
			return nil, nil, fmt.Errorf("loading cluster script: %w", err)
		}
	}
	return mgr, mgr.Close, nil
}

func provideRule(cfg config.Config, scripts *scripting.Manager, logger *zap.Logger) biome.Rule {
	fallback := biome.ProbabilityRule{Seed: cfg.World.Seed, Probability: cfg.World.ClusterProbability}
	if scripts.HasHook(scripting.WorldRules, biome.ShouldClusterHook) {
		logger.Info("biome clustering scripted", zap.String("hook", biome.ShouldClusterHook))
		return biome.ScriptedRule{Scripts: scripts, Fallback: fallback}
	}
	return fallback
}

func provideAssigner(d storage.Durable, gen content.Generator, rule biome.Rule, scripts *scripting.Manager, cfg config.Config, logger *zap.Logger) *biome.Assigner {
	a := biome.NewAssigner(d, gen, rule, biome.Config{
		ChunkSize: cfg.World.ChunkSize,
		Diagonals: cfg.World.ClusterDiagonals,
		Seed:      cfg.World.Seed,
		Timeout:   cfg.World.GenerationTimeout,
	}, logger)
	scripts.ChunkBiome = func(cx, cy int) (string, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b, ok, err := a.Lookup(ctx, world.ChunkID{X: cx, Y: cy})
		if err != nil || !ok {
			return "", false
		}
		return b.Name, true
	}
	return a
}

func provideRoomStore(d storage.Durable, logger *zap.Logger) *room.Store {
	return room.NewStore(d, logger)
}

func providePipeline(rooms *room.Store, biomes *biome.Assigner, gen content.Generator, eph storage.Ephemeral, cfg config.Config, logger *zap.Logger) (*generation.Pipeline, func()) {
	p := generation.New(rooms, biomes, gen, eph, generation.Config{
		Seed:           cfg.World.Seed,
		ChunkSize:      cfg.World.ChunkSize,
		Timeout:        cfg.World.GenerationTimeout,
		PreloadWorkers: cfg.World.PreloadWorkers,
		LandmarkChance: cfg.World.LandmarkChance,
	}, logger)
	return p, p.Close
}

func provideLimiter(eph storage.Ephemeral, cfg config.Config, logger *zap.Logger) *ratelimit.Limiter {
	return ratelimit.New(eph, cfg.RateLimit.HistorySize, logger)
}

func provideGate(eph storage.Ephemeral, combatEngine *combat.Engine, cfg config.Config, logger *zap.Logger) *encounter.Gate {
	return encounter.NewGate(eph, combatEngine, cfg.World.Seed, logger)
}

func provideEngine(
	rooms *room.Store,
	pipeline *generation.Pipeline,
	limiter *ratelimit.Limiter,
	gate *encounter.Gate,
	combatEngine *combat.Engine,
	sessions *session.Manager,
	registry *command.Registry,
	d storage.Durable,
	cfg config.Config,
	logger *zap.Logger,
) *engine.Engine {
	return engine.New(rooms, pipeline, limiter, gate, combatEngine, sessions, registry, d, engine.Config{
		RateLimit:           cfg.RateLimit.Limit,
		RateIntervalMinutes: cfg.RateLimit.IntervalMinutes,
	}, logger)
}

func provideHealth(b Backend, cfg config.Config, logger *zap.Logger) *server.HealthService {
	h := server.NewHealthService(cfg.Health.Addr(), 30*time.Second, logger)
	if b.Probe != nil {
		h.Register("postgres", b.Probe)
	}
	return h
}

func provideLifecycle(health *server.HealthService, eng *engine.Engine, sessions *session.Manager, cfg config.Config, opts Options, logger *zap.Logger) *server.Lifecycle {
	lc := server.NewLifecycle(logger)
	lc.Add("health", health)
	if cfg.World.ReconcileInterval > 0 {
		lc.Add("reconciler", server.NewTickerService("reconciler", cfg.World.ReconcileInterval, func(ctx context.Context) error {
			_, err := eng.Reconcile(ctx)
			return err
		}, logger))
	}
	if opts.Console {
		lc.Add("console", newConsole(eng, sessions, os.Stdin, os.Stdout, logger))
	}
	return lc
}
