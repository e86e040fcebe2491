// Package contenttest provides a scriptable in-memory content.Generator for tests.
package contenttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cory-johannsen/wildlands/internal/content"
)

// Fake is a content.Generator that counts calls and can fail or block on demand.
// Fields may be changed between calls under the test's own synchronization.
type Fake struct {
	mu sync.Mutex
	// BiomeNames are proposed in order, cycling. Empty proposes "Biome <n>".
	BiomeNames []string
	// BiomeErr and RoomErr, when set, fail every call of that kind.
	BiomeErr error
	RoomErr  error
	// Monsters are attached to every generated room.
	Monsters []content.MonsterSpec
	// Gate, when non-nil, blocks room generation until it is closed or the
	// call's context ends.
	Gate chan struct{}

	biomeCalls atomic.Int64
	roomCalls  atomic.Int64
	// Started receives one value per room call as it begins, when non-nil.
	Started chan struct{}
}

var _ content.Generator = (*Fake)(nil)

// BiomeCalls returns the number of GenerateBiome calls so far.
func (f *Fake) BiomeCalls() int { return int(f.biomeCalls.Load()) }

// RoomCalls returns the number of GenerateRoomDescription calls so far.
func (f *Fake) RoomCalls() int { return int(f.roomCalls.Load()) }

// SetRoomErr replaces RoomErr under the fake's lock.
func (f *Fake) SetRoomErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RoomErr = err
}

// SetBiomeErr replaces BiomeErr under the fake's lock.
func (f *Fake) SetBiomeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BiomeErr = err
}

// GenerateBiome implements content.Generator.
func (f *Fake) GenerateBiome(ctx context.Context, req content.BiomeRequest) (*content.BiomeProposal, error) {
	n := f.biomeCalls.Add(1)
	f.mu.Lock()
	err := f.BiomeErr
	names := f.BiomeNames
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("Biome %d", n)
	if len(names) > 0 {
		name = names[int(n-1)%len(names)]
	}
	return &content.BiomeProposal{Name: name, Description: "A place.", Color: "#336699"}, nil
}

// GenerateRoomDescription implements content.Generator.
func (f *Fake) GenerateRoomDescription(ctx context.Context, rc content.RoomContext) (*content.RoomContent, error) {
	f.roomCalls.Add(1)
	if f.Started != nil {
		f.Started <- struct{}{}
	}
	f.mu.Lock()
	err := f.RoomErr
	gate := f.Gate
	monsters := append([]content.MonsterSpec(nil), f.Monsters...)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	title := fmt.Sprintf("Room at %s", rc.Coordinate.Key())
	if rc.Landmark {
		title = "Landmark " + title
	}
	return &content.RoomContent{
		Title:       title,
		Description: "Nothing remarkable.",
		ImagePrompt: title,
		Monsters:    monsters,
		Items:       []string{},
	}, nil
}
