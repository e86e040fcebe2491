package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/wildlands/internal/game/world"
	"github.com/cory-johannsen/wildlands/internal/storage"
)

// WorldStore implements storage.Durable against the schema in migrations/.
type WorldStore struct {
	db *pgxpool.Pool
}

var _ storage.Durable = (*WorldStore)(nil)

// NewWorldStore creates a WorldStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewWorldStore(db *pgxpool.Pool) *WorldStore {
	return &WorldStore{db: db}
}

// GetRoom loads a room by id.
//
// Postcondition: Returns the room or storage.ErrNotFound.
func (s *WorldStore) GetRoom(ctx context.Context, id string) (*world.Room, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM rooms WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room %q: %w", id, err)
	}
	return decodeRoom(data)
}

// PutRoom upserts room and, for grid rooms, its coordinate index and ledger
// rows in a single transaction.
//
// Precondition: room.ID must not be empty.
func (s *WorldStore) PutRoom(ctx context.Context, room *world.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("postgres.PutRoom: room id must not be empty")
	}
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encoding room %q: %w", room.ID, err)
	}
	var x, y *int
	if room.Position != nil {
		x, y = &room.Position.X, &room.Position.Y
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, x, y, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
			room.ID, x, y, data, room.CreatedAt, room.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting room %q: %w", room.ID, err)
		}
		if room.Position == nil {
			return nil
		}
		return putIndexEntry(ctx, tx, *room.Position, room.ID)
	})
}

// RoomIDAt returns the room id indexed at c.
func (s *WorldStore) RoomIDAt(ctx context.Context, c world.Coordinate) (string, error) {
	return s.lookupCoordinate(ctx, `SELECT room_id FROM room_coordinates WHERE x = $1 AND y = $2`, c)
}

// LedgerEntry returns the discovered room id at c.
func (s *WorldStore) LedgerEntry(ctx context.Context, c world.Coordinate) (string, error) {
	return s.lookupCoordinate(ctx, `SELECT room_id FROM discovered_coordinates WHERE x = $1 AND y = $2`, c)
}

func (s *WorldStore) lookupCoordinate(ctx context.Context, query string, c world.Coordinate) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, query, c.X, c.Y).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying coordinate %s: %w", c, err)
	}
	return id, nil
}

// Ledger returns every discovered coordinate keyed by Coordinate.Key.
func (s *WorldStore) Ledger(ctx context.Context) (map[string]string, error) {
	return keyed(coordinateMap(ctx, s.db, ledgerQuery))
}

// CoordinateIndex returns every indexed coordinate keyed by Coordinate.Key.
func (s *WorldStore) CoordinateIndex(ctx context.Context) (map[string]string, error) {
	return keyed(coordinateMap(ctx, s.db, indexQuery))
}

// ListRooms returns every stored room ordered by id.
func (s *WorldStore) ListRooms(ctx context.Context) ([]*world.Room, error) {
	return listRooms(ctx, s.db)
}

// Snapshot reads rooms, index, and ledger inside one read-only REPEATABLE
// READ transaction, so all three reflect the same committed state.
func (s *WorldStore) Snapshot(ctx context.Context) (*storage.RoomSnapshot, error) {
	snap := &storage.RoomSnapshot{}
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.db, opts, func(tx pgx.Tx) error {
		var err error
		if snap.Rooms, err = listRooms(ctx, tx); err != nil {
			return err
		}
		if snap.Index, err = coordinateMap(ctx, tx, indexQuery); err != nil {
			return err
		}
		snap.Ledger, err = coordinateMap(ctx, tx, ledgerQuery)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading room snapshot: %w", err)
	}
	return snap, nil
}

const (
	indexQuery  = `SELECT x, y, room_id FROM room_coordinates`
	ledgerQuery = `SELECT x, y, room_id FROM discovered_coordinates`
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func coordinateMap(ctx context.Context, q querier, query string) (map[world.Coordinate]string, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing coordinates: %w", err)
	}
	defer rows.Close()

	out := make(map[world.Coordinate]string)
	for rows.Next() {
		var c world.Coordinate
		var id string
		if err := rows.Scan(&c.X, &c.Y, &id); err != nil {
			return nil, fmt.Errorf("scanning coordinate: %w", err)
		}
		out[c] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating coordinates: %w", err)
	}
	return out, nil
}

func keyed(m map[world.Coordinate]string, err error) (map[string]string, error) {
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for c, id := range m {
		out[c.Key()] = id
	}
	return out, nil
}

func listRooms(ctx context.Context, q querier) ([]*world.Room, error) {
	rows, err := q.Query(ctx, `SELECT data FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	blobs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("collecting rooms: %w", err)
	}
	out := make([]*world.Room, 0, len(blobs))
	for _, data := range blobs {
		r, err := decodeRoom(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// PutIndexEntry sets both index and ledger rows at c.
func (s *WorldStore) PutIndexEntry(ctx context.Context, c world.Coordinate, roomID string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return putIndexEntry(ctx, tx, c, roomID)
	})
}

// DeleteIndexEntry removes both index and ledger rows at c.
func (s *WorldStore) DeleteIndexEntry(ctx context.Context, c world.Coordinate) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM room_coordinates WHERE x = $1 AND y = $2`, c.X, c.Y); err != nil {
			return fmt.Errorf("deleting index entry %s: %w", c, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM discovered_coordinates WHERE x = $1 AND y = $2`, c.X, c.Y); err != nil {
			return fmt.Errorf("deleting ledger entry %s: %w", c, err)
		}
		return nil
	})
}

func putIndexEntry(ctx context.Context, tx pgx.Tx, c world.Coordinate, roomID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO room_coordinates (x, y, room_id) VALUES ($1, $2, $3)
		ON CONFLICT (x, y) DO UPDATE SET room_id = EXCLUDED.room_id`,
		c.X, c.Y, roomID,
	)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", c, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO discovered_coordinates (x, y, room_id) VALUES ($1, $2, $3)
		ON CONFLICT (x, y) DO UPDATE SET room_id = EXCLUDED.room_id`,
		c.X, c.Y, roomID,
	)
	if err != nil {
		return fmt.Errorf("recording discovery %s: %w", c, err)
	}
	return nil
}

const biomeColumns = `b.name, b.display_name, b.description, b.color, COALESCE(l.room_id, ''), b.created_at`

func scanBiome(row pgx.Row) (*world.Biome, error) {
	var b world.Biome
	err := row.Scan(&b.Name, &b.DisplayName, &b.Description, &b.Color, &b.LandmarkRoomID, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBiome loads a biome by canonical name.
//
// Postcondition: Returns the biome with its landmark room, or storage.ErrNotFound.
func (s *WorldStore) GetBiome(ctx context.Context, name string) (*world.Biome, error) {
	b, err := scanBiome(s.db.QueryRow(ctx, `
		SELECT `+biomeColumns+`
		FROM biomes b LEFT JOIN landmark_rooms l ON l.biome_name = b.name
		WHERE b.name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying biome %q: %w", name, err)
	}
	return b, nil
}

// InsertBiomeIfAbsent inserts b unless its canonical name already exists.
//
// Precondition: b.Name must be canonical and non-empty.
// Postcondition: Returns the stored biome and whether this call created it.
func (s *WorldStore) InsertBiomeIfAbsent(ctx context.Context, b *world.Biome) (*world.Biome, bool, error) {
	if b == nil || b.Name == "" {
		return nil, false, fmt.Errorf("postgres.InsertBiomeIfAbsent: biome name must not be empty")
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO biomes (name, display_name, description, color, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING`,
		b.Name, b.DisplayName, b.Description, b.Color, b.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting biome %q: %w", b.Name, err)
	}
	stored, err := s.GetBiome(ctx, b.Name)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// ListBiomes returns every biome ordered by name.
func (s *WorldStore) ListBiomes(ctx context.Context) ([]*world.Biome, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+biomeColumns+`
		FROM biomes b LEFT JOIN landmark_rooms l ON l.biome_name = b.name
		ORDER BY b.name`)
	if err != nil {
		return nil, fmt.Errorf("listing biomes: %w", err)
	}
	defer rows.Close()

	var out []*world.Biome
	for rows.Next() {
		b, err := scanBiome(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning biome: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating biomes: %w", err)
	}
	return out, nil
}

// ChunkBiome returns the biome name assigned to chunk.
func (s *WorldStore) ChunkBiome(ctx context.Context, chunk world.ChunkID) (string, error) {
	var name string
	err := s.db.QueryRow(ctx,
		`SELECT biome_name FROM chunk_biomes WHERE chunk_x = $1 AND chunk_y = $2`,
		chunk.X, chunk.Y,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying chunk %s: %w", chunk, err)
	}
	return name, nil
}

// AssignChunkBiome records name for chunk unless another writer got there first.
//
// Postcondition: Returns the assignment that holds after the call; an unknown
// biome name yields storage.ErrNotFound.
func (s *WorldStore) AssignChunkBiome(ctx context.Context, chunk world.ChunkID, name string) (string, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chunk_biomes (chunk_x, chunk_y, biome_name) VALUES ($1, $2, $3)
		ON CONFLICT (chunk_x, chunk_y) DO NOTHING`,
		chunk.X, chunk.Y, name,
	)
	if isForeignKeyError(err) {
		return "", fmt.Errorf("assigning chunk %s: biome %q: %w", chunk, name, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("assigning chunk %s: %w", chunk, err)
	}
	return s.ChunkBiome(ctx, chunk)
}

// SetLandmark overwrites the landmark room of biome name.
func (s *WorldStore) SetLandmark(ctx context.Context, name, roomID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO landmark_rooms (biome_name, room_id) VALUES ($1, $2)
		ON CONFLICT (biome_name) DO UPDATE SET room_id = EXCLUDED.room_id, updated_at = NOW()`,
		name, roomID,
	)
	if isForeignKeyError(err) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("setting landmark for %q: %w", name, err)
	}
	return nil
}

// ClaimLandmark sets the landmark room of biome name only if none is set.
//
// Postcondition: Returns true when this call made the assignment.
func (s *WorldStore) ClaimLandmark(ctx context.Context, name, roomID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO landmark_rooms (biome_name, room_id) VALUES ($1, $2)
		ON CONFLICT (biome_name) DO NOTHING`,
		name, roomID,
	)
	if isForeignKeyError(err) {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("claiming landmark for %q: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reset truncates every world table in one transaction.
func (s *WorldStore) Reset(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `TRUNCATE discovered_coordinates, room_coordinates, rooms, landmark_rooms, chunk_biomes, biomes`)
		if err != nil {
			return fmt.Errorf("truncating world tables: %w", err)
		}
		return nil
	})
}

func decodeRoom(data []byte) (*world.Room, error) {
	var r world.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding room: %w", err)
	}
	return &r, nil
}

// isForeignKeyError reports whether err is a PostgreSQL foreign-key violation (23503).
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
