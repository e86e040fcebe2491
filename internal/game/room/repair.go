package room

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// FaultKind classifies a disagreement between rooms, index, and ledger.
type FaultKind string

// Consistency faults detected by CheckConsistency.
const (
	FaultMissingIndex   FaultKind = "missing_index"
	FaultWrongIndex     FaultKind = "wrong_index"
	FaultMissingLedger  FaultKind = "missing_ledger"
	FaultWrongLedger    FaultKind = "wrong_ledger"
	FaultOrphanEntry    FaultKind = "orphan_entry"
	FaultDuplicateClaim FaultKind = "duplicate_claim"
)

// Fault is one detected inconsistency.
type Fault struct {
	Kind       FaultKind
	Coordinate string
	// Want is the room id the room records imply; Got is what was found.
	Want string
	Got  string

	at world.Coordinate
}

// RepairReport summarizes a reconciliation pass.
type RepairReport struct {
	RoomsScanned int
	Faults       []Fault
	// EntriesWritten counts coordinates whose index and ledger were rewritten.
	EntriesWritten int
	// EntriesRemoved counts orphaned coordinates dropped from index and ledger.
	EntriesRemoved int
}

// CheckConsistency compares every room's stored coordinates against the
// coordinate index and the discovery ledger without changing anything.
//
// Postcondition: Returns faults sorted by coordinate then kind.
func (s *Store) CheckConsistency(ctx context.Context) ([]Fault, error) {
	faults, _, _, err := s.scan(ctx)
	return faults, err
}

// Repair re-derives the coordinate index and discovery ledger from room
// records. Room coordinates are authoritative: entries that disagree are
// rewritten and entries with no backing room are removed.
//
// Each fix is applied under the lock of the room it concerns and only after
// re-reading that room, so rooms written or reset while Repair runs are never
// unindexed or indexed from stale state.
//
// Postcondition: On success a following CheckConsistency returns no faults,
// barring concurrent writers.
func (s *Store) Repair(ctx context.Context) (RepairReport, error) {
	faults, expected, scanned, err := s.scan(ctx)
	if err != nil {
		return RepairReport{}, err
	}
	report := RepairReport{RoomsScanned: scanned, Faults: faults}

	rewrite := make(map[world.Coordinate]bool)
	remove := make(map[world.Coordinate]bool)
	for _, f := range faults {
		switch f.Kind {
		case FaultMissingIndex, FaultWrongIndex, FaultMissingLedger, FaultWrongLedger:
			rewrite[f.at] = true
		case FaultOrphanEntry:
			remove[f.at] = true
		}
	}

	for _, c := range sortedCoordinates(rewrite) {
		done, err := s.rewriteEntry(ctx, c, expected[c])
		if err != nil {
			return report, err
		}
		if done {
			report.EntriesWritten++
		}
	}
	for _, c := range sortedCoordinates(remove) {
		done, err := s.removeOrphan(ctx, c)
		if err != nil {
			return report, err
		}
		if done {
			report.EntriesRemoved++
		}
	}

	if len(faults) > 0 {
		s.logger.Warn("discovery ledger repaired",
			zap.Int("rooms", scanned),
			zap.Int("faults", len(faults)),
			zap.Int("written", report.EntriesWritten),
			zap.Int("removed", report.EntriesRemoved),
		)
	}
	return report, nil
}

// rewriteEntry points the index and ledger at c to id, provided room id is
// still stored at c.
func (s *Store) rewriteEntry(ctx context.Context, c world.Coordinate, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	backed, err := s.storedAt(ctx, id, c)
	if err != nil || !backed {
		return false, err
	}
	if err := s.db.PutIndexEntry(ctx, c, id); err != nil {
		return false, fmt.Errorf("repairing %s: %w", c, err)
	}
	return true, nil
}

// removeOrphan drops the index and ledger entries at c unless a room has
// been stored there since the scan.
func (s *Store) removeOrphan(ctx context.Context, c world.Coordinate) (bool, error) {
	id := world.RoomID(c)
	unlock := s.locks.Lock(id)
	defer unlock()

	backed, err := s.storedAt(ctx, id, c)
	if err != nil || backed {
		return false, err
	}
	if err := s.db.DeleteIndexEntry(ctx, c); err != nil {
		return false, fmt.Errorf("removing orphan %s: %w", c, err)
	}
	return true, nil
}

func (s *Store) storedAt(ctx context.Context, id string, c world.Coordinate) (bool, error) {
	r, err := s.db.GetRoom(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rechecking room %q: %w", id, err)
	}
	return r.Position != nil && *r.Position == c, nil
}

// scan returns the faults, the coordinate → room id mapping implied by room
// records, and the number of rooms scanned. Rooms, index, and ledger come
// from one snapshot.
func (s *Store) scan(ctx context.Context) ([]Fault, map[world.Coordinate]string, int, error) {
	snap, err := s.db.Snapshot(ctx)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("reading rooms and ledger: %w", err)
	}

	var faults []Fault
	expected := make(map[world.Coordinate]string, len(snap.Rooms))
	for _, r := range snap.Rooms {
		if r.Position == nil {
			continue
		}
		c := *r.Position
		if prev, dup := expected[c]; dup {
			// Prefer the room whose id is derived from the coordinate.
			want := prev
			if r.ID == world.RoomID(c) {
				want = r.ID
			}
			faults = append(faults, newFault(FaultDuplicateClaim, c, want, r.ID))
			expected[c] = want
			continue
		}
		expected[c] = r.ID
	}

	for c, want := range expected {
		faults = append(faults, compare(c, want, snap.Index, FaultMissingIndex, FaultWrongIndex)...)
		faults = append(faults, compare(c, want, snap.Ledger, FaultMissingLedger, FaultWrongLedger)...)
	}
	orphans := make(map[world.Coordinate]string)
	for _, m := range []map[world.Coordinate]string{snap.Index, snap.Ledger} {
		for c, got := range m {
			if _, ok := expected[c]; !ok {
				orphans[c] = got
			}
		}
	}
	for c, got := range orphans {
		faults = append(faults, newFault(FaultOrphanEntry, c, "", got))
	}

	sort.Slice(faults, func(i, j int) bool {
		if faults[i].Coordinate != faults[j].Coordinate {
			return faults[i].Coordinate < faults[j].Coordinate
		}
		return faults[i].Kind < faults[j].Kind
	})
	return faults, expected, len(snap.Rooms), nil
}

func newFault(kind FaultKind, c world.Coordinate, want, got string) Fault {
	return Fault{Kind: kind, Coordinate: c.Key(), Want: want, Got: got, at: c}
}

func compare(c world.Coordinate, want string, entries map[world.Coordinate]string, missing, wrong FaultKind) []Fault {
	got, ok := entries[c]
	switch {
	case !ok:
		return []Fault{newFault(missing, c, want, "")}
	case got != want:
		return []Fault{newFault(wrong, c, want, got)}
	default:
		return nil
	}
}

func sortedCoordinates(m map[world.Coordinate]bool) []world.Coordinate {
	out := make([]world.Coordinate, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
