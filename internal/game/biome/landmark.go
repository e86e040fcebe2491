package biome

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// GetLandmarkRoom returns the landmark room of the named biome. name may use
// any casing or spacing.
//
// Postcondition: Returns ("", false, nil) when the biome is unknown or has no landmark.
func (a *Assigner) GetLandmarkRoom(ctx context.Context, name string) (string, bool, error) {
	b, err := a.store.GetBiome(ctx, world.NormalizeBiomeName(name))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading biome %q: %w", name, err)
	}
	return b.LandmarkRoomID, b.LandmarkRoomID != "", nil
}

// SetLandmarkRoom designates roomID as the landmark of the named biome,
// replacing any previous landmark.
//
// Postcondition: Returns false when the biome does not exist.
func (a *Assigner) SetLandmarkRoom(ctx context.Context, name, roomID string) (bool, error) {
	canonical := world.NormalizeBiomeName(name)
	err := a.store.SetLandmark(ctx, canonical, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("setting landmark of %q: %w", canonical, err)
	}
	a.logger.Info("landmark set", zap.String("biome", canonical), zap.String("room_id", roomID))
	return true, nil
}

// ClaimLandmarkRoom designates roomID as the landmark only if the biome has none.
//
// Postcondition: Returns true only for the single caller whose claim took effect.
func (a *Assigner) ClaimLandmarkRoom(ctx context.Context, name, roomID string) (bool, error) {
	canonical := world.NormalizeBiomeName(name)
	ok, err := a.store.ClaimLandmark(ctx, canonical, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claiming landmark of %q: %w", canonical, err)
	}
	if ok {
		a.logger.Info("landmark claimed", zap.String("biome", canonical), zap.String("room_id", roomID))
	}
	return ok, nil
}
