// Package postgres provides the PostgreSQL-backed durable world store using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/wildlands/internal/config"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
	probeTimeout    = 5 * time.Second
)

// Pool owns the pgx connection pool behind a WorldStore.
type Pool struct {
	db *pgxpool.Pool
}

// NewPool opens a pool from cfg and waits for the server to answer a ping,
// retrying with doubling backoff while the database is still starting.
//
// Precondition: cfg passes config.Config.Validate.
// Postcondition: Returns a pool that has answered at least one ping, or a
// non-nil error with no connections left open.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	pc.MaxConns, pc.MinConns = cfg.MaxConns, cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime

	db, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	wait := connectBackoff
	for attempt := 1; ; attempt++ {
		err = db.Ping(ctx)
		if err == nil {
			return &Pool{db: db}, nil
		}
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("waiting for database: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	db.Close()
	return nil, fmt.Errorf("pinging database after %d attempts: %w", connectAttempts, err)
}

// Probe reports whether the database answers a ping. It has the shape of a
// health probe.
func (p *Pool) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return p.db.Ping(ctx)
}

// Close releases every connection. The pool is unusable afterwards.
func (p *Pool) Close() { p.db.Close() }

// DB exposes the pool to stores and fixtures.
func (p *Pool) DB() *pgxpool.Pool { return p.db }
