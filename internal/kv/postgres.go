package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/agentrelay/migrations"
)

// PostgresStore is a Store backed by a single PostgreSQL table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore connects to dsn and applies any pending migrations.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse postgres DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kv: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: ping pool: %w", err)
	}

	if err := runMigrations(ctx, pgMigrations{pool: pool}, migrations.Postgres(), logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("kv: postgres store connected", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Backend implements Store.
func (s *PostgresStore) Backend() string { return "postgres" }

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	return pgGet(ctx, s.pool, key, `SELECT value FROM relay_kv WHERE key = $1`)
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	return pgPut(ctx, s.pool, key, value)
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return pgDelete(ctx, s.pool, key)
}

// Scan implements Store.
func (s *PostgresStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM relay_kv WHERE left(key, length($1)) = $1 ORDER BY seq`, prefix)
	if err != nil {
		return fmt.Errorf("kv: scan %q: %w", prefix, err)
	}

	type pair struct {
		key   string
		value []byte
	}
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pair, error) {
		var p pair
		err := row.Scan(&p.key, &p.value)
		return p, err
	})
	if err != nil {
		return fmt.Errorf("kv: scan rows: %w", err)
	}

	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// Update implements Store. Reads inside the transaction take row locks so
// concurrent read-modify-write cycles on the same key serialise.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, key string) ([]byte, error) {
	return pgGet(ctx, t.tx, key, `SELECT value FROM relay_kv WHERE key = $1 FOR UPDATE`)
}

func (t *pgTx) Put(ctx context.Context, key string, value []byte) error {
	return pgPut(ctx, t.tx, key, value)
}

func (t *pgTx) Delete(ctx context.Context, key string) error {
	return pgDelete(ctx, t.tx, key)
}

func pgGet(ctx context.Context, q pgQuerier, key, query string) ([]byte, error) {
	var value []byte
	err := q.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return value, nil
}

func pgPut(ctx context.Context, q pgQuerier, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := q.Exec(ctx,
		`INSERT INTO relay_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("kv: put %q: %w", key, err)
	}
	return nil
}

func pgDelete(ctx context.Context, q pgQuerier, key string) error {
	tag, err := q.Exec(ctx, `DELETE FROM relay_kv WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("kv: delete %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
