package content

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Validating rejects generator output that violates the struct constraints on
// BiomeProposal and RoomContent.
type Validating struct {
	next     Generator
	validate *validator.Validate
}

var _ Generator = (*Validating)(nil)

// NewValidating wraps next with output validation.
func NewValidating(next Generator) *Validating {
	return &Validating{next: next, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// GenerateBiome delegates and validates the proposal.
//
// Postcondition: A returned proposal always satisfies its validate tags; otherwise
// the error wraps ErrInvalidContent.
func (v *Validating) GenerateBiome(ctx context.Context, req BiomeRequest) (*BiomeProposal, error) {
	p, err := v.next.GenerateBiome(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := v.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: biome: %v", ErrInvalidContent, err)
	}
	return p, nil
}

// GenerateRoomDescription delegates and validates the room content.
func (v *Validating) GenerateRoomDescription(ctx context.Context, rc RoomContext) (*RoomContent, error) {
	c, err := v.next.GenerateRoomDescription(ctx, rc)
	if err != nil {
		return nil, err
	}
	if err := v.validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%w: room: %v", ErrInvalidContent, err)
	}
	return c, nil
}

const throttleKey = "generator"

// Throttled caps outbound generator calls per minute across the process.
// Calls over budget fail fast with ErrThrottled instead of queueing.
type Throttled struct {
	next    Generator
	limiter *limiter.Limiter
}

var _ Generator = (*Throttled)(nil)

// NewThrottled wraps next with a requestsPerMinute budget.
//
// Precondition: requestsPerMinute >= 1.
func NewThrottled(next Generator, requestsPerMinute int) *Throttled {
	rate := limiter.Rate{Period: time.Minute, Limit: int64(requestsPerMinute)}
	return &Throttled{
		next:    next,
		limiter: limiter.New(memory.NewStore(), rate),
	}
}

func (t *Throttled) take(ctx context.Context) error {
	lctx, err := t.limiter.Get(ctx, throttleKey)
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if lctx.Reached {
		return fmt.Errorf("%w: resets at %s", ErrThrottled, time.Unix(lctx.Reset, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

// GenerateBiome consumes one unit of budget before delegating.
func (t *Throttled) GenerateBiome(ctx context.Context, req BiomeRequest) (*BiomeProposal, error) {
	if err := t.take(ctx); err != nil {
		return nil, err
	}
	return t.next.GenerateBiome(ctx, req)
}

// GenerateRoomDescription consumes one unit of budget before delegating.
func (t *Throttled) GenerateRoomDescription(ctx context.Context, rc RoomContext) (*RoomContent, error) {
	if err := t.take(ctx); err != nil {
		return nil, err
	}
	return t.next.GenerateRoomDescription(ctx, rc)
}
