// Package config provides Viper-based configuration loading for the world server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Mode selects the durable store: "standalone" (in-memory) or "postgres".
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// HealthConfig holds the gRPC health endpoint settings.
type HealthConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// WorldConfig tunes chunking, biome clustering, and the generation pipeline.
type WorldConfig struct {
	// Seed makes biome clustering and landmark rolls reproducible.
	Seed int64 `mapstructure:"seed"`
	// ChunkSize is the side length of a biome chunk in rooms.
	ChunkSize int `mapstructure:"chunk_size"`
	// ClusterProbability is the chance in [0,1] that an unassigned chunk reuses
	// a neighbouring chunk's biome instead of minting a new one.
	ClusterProbability float64 `mapstructure:"cluster_probability"`
	// ClusterDiagonals includes diagonal chunks as clustering candidates.
	ClusterDiagonals bool `mapstructure:"cluster_diagonals"`
	// ClusterScript is an optional Lua file defining should_cluster.
	ClusterScript string `mapstructure:"cluster_script"`
	// LandmarkChance is the chance in [0,1] that a room claims its biome's
	// landmark slot when none is assigned yet.
	LandmarkChance float64 `mapstructure:"landmark_chance"`
	// GenerationTimeout bounds every content generator call.
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	// PreloadWorkers bounds concurrent background preload builds.
	PreloadWorkers int `mapstructure:"preload_workers"`
	// ReconcileInterval is how often the discovery ledger is repaired; 0 disables.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// RateLimitConfig bounds how often a player may trigger room generation.
type RateLimitConfig struct {
	Limit int `mapstructure:"limit"`
	// IntervalMinutes may be fractional; 0.167 is roughly ten seconds.
	IntervalMinutes float64 `mapstructure:"interval_minutes"`
	// HistorySize caps the stored action timestamps per player.
	HistorySize int `mapstructure:"history_size"`
}

// GeneratorConfig selects and tunes the content generator.
type GeneratorConfig struct {
	// Provider is "anthropic" or "palette".
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int64         `mapstructure:"max_tokens"`
	PaletteFile       string        `mapstructure:"palette_file"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
	World     WorldConfig     `mapstructure:"world"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Server.Mode == ModePostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateHealth(c.Health); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWorld(c.World); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRateLimit(c.RateLimit); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGenerator(c.Generator); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Server modes.
const (
	ModeStandalone = "standalone"
	ModePostgres   = "postgres"
)

// Generator providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderPalette   = "palette"
)

func validateServer(s ServerConfig) error {
	if s.Mode != ModeStandalone && s.Mode != ModePostgres {
		return fmt.Errorf("server.mode must be one of [standalone, postgres], got %q", s.Mode)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateHealth(h HealthConfig) error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("health.port must be 1-65535, got %d", h.Port)
	}
	return nil
}

func validateWorld(w WorldConfig) error {
	var errs []string
	if w.ChunkSize < 1 {
		errs = append(errs, fmt.Sprintf("world.chunk_size must be >= 1, got %d", w.ChunkSize))
	}
	if w.ClusterProbability < 0 || w.ClusterProbability > 1 {
		errs = append(errs, fmt.Sprintf("world.cluster_probability must be within [0, 1], got %g", w.ClusterProbability))
	}
	if w.LandmarkChance < 0 || w.LandmarkChance > 1 {
		errs = append(errs, fmt.Sprintf("world.landmark_chance must be within [0, 1], got %g", w.LandmarkChance))
	}
	if w.GenerationTimeout <= 0 {
		errs = append(errs, "world.generation_timeout must be positive")
	}
	if w.PreloadWorkers < 1 {
		errs = append(errs, fmt.Sprintf("world.preload_workers must be >= 1, got %d", w.PreloadWorkers))
	}
	if w.ReconcileInterval < 0 {
		errs = append(errs, "world.reconcile_interval must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRateLimit(r RateLimitConfig) error {
	var errs []string
	if r.Limit < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.limit must be >= 1, got %d", r.Limit))
	}
	if r.IntervalMinutes <= 0 {
		errs = append(errs, fmt.Sprintf("ratelimit.interval_minutes must be positive, got %g", r.IntervalMinutes))
	}
	if r.HistorySize < r.Limit {
		errs = append(errs, "ratelimit.history_size must be >= ratelimit.limit")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGenerator(g GeneratorConfig) error {
	var errs []string
	switch g.Provider {
	case ProviderAnthropic:
		if g.APIKey == "" {
			errs = append(errs, "generator.api_key must not be empty for the anthropic provider")
		}
		if g.Model == "" {
			errs = append(errs, "generator.model must not be empty for the anthropic provider")
		}
		if g.MaxTokens < 1 {
			errs = append(errs, fmt.Sprintf("generator.max_tokens must be >= 1, got %d", g.MaxTokens))
		}
	case ProviderPalette:
		if g.PaletteFile == "" {
			errs = append(errs, "generator.palette_file must not be empty for the palette provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("generator.provider must be one of [anthropic, palette], got %q", g.Provider))
	}
	if g.RequestsPerMinute < 0 {
		errs = append(errs, "generator.requests_per_minute must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance carrying only defaults and env overrides.
// It lets the binary start without a config file.
func Defaults() *viper.Viper {
	return newViper()
}

func newViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with WILDLANDS_ prefix
	v.SetEnvPrefix("WILDLANDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The Anthropic SDK convention wins when no explicit key is configured.
	_ = v.BindEnv("generator.api_key", "WILDLANDS_GENERATOR_API_KEY", "ANTHROPIC_API_KEY")

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", ModeStandalone)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wildlands")
	v.SetDefault("database.password", "wildlands")
	v.SetDefault("database.name", "wildlands")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("health.host", "0.0.0.0")
	v.SetDefault("health.port", 50061)

	v.SetDefault("world.seed", 1)
	v.SetDefault("world.chunk_size", 4)
	v.SetDefault("world.cluster_probability", 0.65)
	v.SetDefault("world.cluster_diagonals", false)
	v.SetDefault("world.cluster_script", "")
	v.SetDefault("world.landmark_chance", 0.05)
	v.SetDefault("world.generation_timeout", "45s")
	v.SetDefault("world.preload_workers", 4)
	v.SetDefault("world.reconcile_interval", "10m")

	v.SetDefault("ratelimit.limit", 10)
	v.SetDefault("ratelimit.interval_minutes", 1.0)
	v.SetDefault("ratelimit.history_size", 64)

	v.SetDefault("generator.provider", ProviderPalette)
	v.SetDefault("generator.model", "claude-sonnet-4-5")
	v.SetDefault("generator.max_tokens", 1024)
	v.SetDefault("generator.palette_file", "content/biomes.yaml")
	v.SetDefault("generator.requests_per_minute", 60)
	v.SetDefault("generator.timeout", "30s")
}
