// Package ratelimit bounds how often a player may trigger room generation.
//
// Each player's recorded actions are kept as a list of nanosecond timestamps
// in the ephemeral store. Checking is read-only; an action only counts once
// it is recorded.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/storage"
)

// KeyPrefix prefixes per-player timestamp lists in the ephemeral store.
const KeyPrefix = "ratelimit:"

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// Count is the number of recorded actions inside the current window.
	Count int
	Limit int
	// WindowStart is the oldest recorded action still inside the window, or
	// the check time when the window is empty.
	WindowStart time.Time
	// TimeUntilReset is how long until the oldest in-window action expires.
	// Zero when Allowed.
	TimeUntilReset time.Duration
}

// Limiter evaluates per-player action windows.
type Limiter struct {
	store       storage.Ephemeral
	historySize int
	logger      *zap.Logger
	now         func() time.Time

	players sync.Map // player id → *sync.Mutex serializing Take
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter that retains at most historySize timestamps per player.
//
// Precondition: store and logger must be non-nil; historySize >= 1.
func New(store storage.Ephemeral, historySize int, logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		historySize: historySize,
		logger:      logger.Named("ratelimit"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval converts fractional minutes to a duration with nanosecond precision.
func Interval(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}

// Check reports whether playerID may act again under limit actions per
// intervalMinutes. It never modifies stored state.
//
// Precondition: limit >= 1; intervalMinutes > 0.
// Postcondition: Allowed iff fewer than limit recorded actions fall inside the window.
func (l *Limiter) Check(ctx context.Context, playerID string, limit int, intervalMinutes float64) (Decision, error) {
	now := l.now()
	window := Interval(intervalMinutes)
	stamps, err := l.stamps(ctx, playerID)
	if err != nil {
		return Decision{}, err
	}

	cutoff := now.Add(-window)
	var inWindow []time.Time
	for _, s := range stamps {
		if s.After(cutoff) {
			inWindow = append(inWindow, s)
		}
	}

	d := Decision{Count: len(inWindow), Limit: limit, WindowStart: now}
	if len(inWindow) > 0 {
		d.WindowStart = inWindow[0]
	}
	if len(inWindow) < limit {
		d.Allowed = true
		return d, nil
	}
	// The window frees a slot when the oldest action that keeps it full expires.
	blocking := inWindow[len(inWindow)-limit]
	d.TimeUntilReset = blocking.Add(window).Sub(now)
	if d.TimeUntilReset <= 0 {
		d.TimeUntilReset = time.Nanosecond
	}
	return d, nil
}

// Take checks playerID's window and, if allowed, records the action, as one
// step against other Takes for the same player. Concurrent moves by one
// player can never both claim the last slot.
//
// Precondition: limit >= 1; intervalMinutes > 0.
// Postcondition: When Allowed, the action is recorded and Count includes it.
func (l *Limiter) Take(ctx context.Context, playerID string, limit int, intervalMinutes float64) (Decision, error) {
	mu, _ := l.players.LoadOrStore(playerID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	d, err := l.Check(ctx, playerID, limit, intervalMinutes)
	if err != nil || !d.Allowed {
		return d, err
	}
	if err := l.Record(ctx, playerID); err != nil {
		return Decision{}, err
	}
	d.Count++
	return d, nil
}

// Record counts one action for playerID at the current time.
//
// Postcondition: At most historySize of the newest timestamps are retained.
func (l *Limiter) Record(ctx context.Context, playerID string) error {
	key := KeyPrefix + playerID
	n, err := l.store.Append(ctx, key, strconv.FormatInt(l.now().UnixNano(), 10))
	if err != nil {
		return fmt.Errorf("recording action for %q: %w", playerID, err)
	}
	if n > l.historySize {
		if err := l.store.Trim(ctx, key, -l.historySize, -1); err != nil {
			return fmt.Errorf("trimming history for %q: %w", playerID, err)
		}
	}
	return nil
}

// Reset forgets every recorded action of playerID.
func (l *Limiter) Reset(ctx context.Context, playerID string) error {
	if err := l.store.Delete(ctx, KeyPrefix+playerID); err != nil {
		return fmt.Errorf("resetting rate limit for %q: %w", playerID, err)
	}
	return nil
}

func (l *Limiter) stamps(ctx context.Context, playerID string) ([]time.Time, error) {
	raw, err := l.store.Range(ctx, KeyPrefix+playerID, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("reading rate window for %q: %w", playerID, err)
	}
	out := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		ns, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			l.logger.Warn("skipping malformed timestamp", zap.String("player_id", playerID), zap.String("value", r))
			continue
		}
		out = append(out, time.Unix(0, ns))
	}
	return out, nil
}
