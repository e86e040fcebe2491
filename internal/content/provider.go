package content

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/config"
)

// NewFromConfig builds the configured generator wrapped in validation and,
// when requests_per_minute is positive, throttling.
//
// Precondition: cfg must have passed config validation.
// Postcondition: Returns a ready Generator or a non-nil error.
func NewFromConfig(cfg config.GeneratorConfig, logger *zap.Logger) (Generator, error) {
	var base Generator
	switch cfg.Provider {
	case config.ProviderAnthropic:
		base = NewAnthropicGenerator(cfg, logger)
	case config.ProviderPalette:
		p, err := LoadPalette(cfg.PaletteFile)
		if err != nil {
			return nil, err
		}
		base = NewPaletteGenerator(p)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}

	gen := Generator(NewValidating(base))
	if cfg.RequestsPerMinute > 0 {
		gen = NewThrottled(gen, cfg.RequestsPerMinute)
	}
	logger.Info("content generator ready",
		zap.String("provider", cfg.Provider),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute),
	)
	return gen, nil
}
