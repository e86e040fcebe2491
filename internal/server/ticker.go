package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TickerService runs fn on a fixed interval until stopped. Errors are logged
// and do not stop the ticker.
type TickerService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTickerService creates a TickerService.
//
// Precondition: interval > 0; fn and logger must be non-nil.
func NewTickerService(name string, interval time.Duration, fn func(ctx context.Context) error, logger *zap.Logger) *TickerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &TickerService{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.Named(name),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start implements Service.
func (t *TickerService) Start() error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := t.fn(t.ctx); err != nil && t.ctx.Err() == nil {
				t.logger.Warn("tick failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
			}
		}
	}
}

// Stop implements Service.
func (t *TickerService) Stop() { t.cancel() }
