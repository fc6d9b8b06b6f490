package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store.
// Each agent instance is identified by its namespace so several installs can share one database.
type PostgresStore struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool, namespace string) *PostgresStore {
	return &PostgresStore{pool: pool, namespace: namespace}
}

// EnsureSchema creates the preferences table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS agent_preferences (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, key)
		)
	`
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Get retrieves the value for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT value FROM agent_preferences WHERE namespace = $1 AND key = $2`

	var value string
	err := s.pool.QueryRow(ctx, query, s.namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}

	return value, true, nil
}

// Put stores value under key.
func (s *PostgresStore) Put(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO agent_preferences (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, s.namespace, key, value)
	return err
}

// Remove deletes key.
func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	query := `DELETE FROM agent_preferences WHERE namespace = $1 AND key = $2`
	_, err := s.pool.Exec(ctx, query, s.namespace, key)
	return err
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
