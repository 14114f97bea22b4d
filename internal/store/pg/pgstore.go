// Package pg implements the entity and audit stores on PostgreSQL.
// Entity records are stored with flat columns plus JSONB for the
// list-valued fields; the integrity hash is stored verbatim and never
// recomputed here. Canonical field ordering for hashing is the hasher's
// job, not the store's.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"toolgate.org/internal/auth"
)

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (tests use this with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() auth.UserStore      { return userStore{s.db} }
func (s *Store) Groups() auth.GroupStore    { return groupStore{s.db} }
func (s *Store) Policies() auth.PolicyStore { return policyStore{s.db} }
