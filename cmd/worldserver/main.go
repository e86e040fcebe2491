// Package main runs the world server: the generated world engine, its ledger
// reconciler, and a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/config"
	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and environment")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before configuration")
	palette := flag.String("palette", "", "biome palette YAML; overrides generator.palette_file")
	scripts := flag.String("scripts", "content/scripts", "directory of world-rule Lua scripts")
	consoleMode := flag.Bool("console", false, "explore the world from stdin")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading %s: %v", *envFile, err)
	}

	cfg, err := loadConfig(*configPath, *palette)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting world server",
		zap.String("mode", cfg.Server.Mode),
		zap.String("generator", cfg.Generator.Provider),
		zap.Int64("seed", cfg.World.Seed),
		zap.Int("chunk_size", cfg.World.ChunkSize),
		zap.String("health_addr", cfg.Health.Addr()),
	)

	ctx := context.Background()
	app, cleanup, err := initializeApp(ctx, cfg, Options{ScriptsDir: *scripts, Console: *consoleMode}, logger)
	if err != nil {
		logger.Fatal("initializing world server", zap.Error(err))
	}
	defer cleanup()

	if _, err := app.Engine.Reconcile(ctx); err != nil {
		logger.Fatal("reconciling discovery ledger", zap.Error(err))
	}

	logger.Info("world server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Stringer("origin", world.Coordinate{}),
	)

	if err := app.Lifecycle.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}

func loadConfig(path, palette string) (config.Config, error) {
	v := config.Defaults()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, err
		}
	}
	if palette != "" {
		v.Set("generator.palette_file", palette)
	}
	return config.LoadFromViper(v)
}
