package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the repositories.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool DB

	Users          UserRepository
	Collaborations CollaborationRepository
	EventMessages  EventMessageRepository
	ModuleConfigs  ModuleConfigRepository
}

// New wires concrete repository implementations with shared connection pool.
func New(pool DB) *Store {
	return &Store{
		pool:           pool,
		Users:          &userRepo{pool: pool},
		Collaborations: &collaborationRepo{pool: pool},
		EventMessages:  &eventMessageRepo{pool: pool},
		ModuleConfigs:  &moduleConfigRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}
