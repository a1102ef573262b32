package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores sealed record blobs in a single table keyed by
// wallet id.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects the pool and ensures the schema exists.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_records (
			wallet_id  TEXT PRIMARY KEY,
			payload    BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create wallet_records table: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// ReadBlob returns the sealed record for a wallet id, or nil when absent.
func (b *PostgresBackend) ReadBlob(ctx context.Context, walletID string) ([]byte, error) {
	var payload []byte
	err := b.pool.QueryRow(ctx,
		`SELECT payload FROM wallet_records WHERE wallet_id = $1`, walletID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteBlob upserts the sealed record for a wallet id.
func (b *PostgresBackend) WriteBlob(ctx context.Context, walletID string, blob []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO wallet_records (wallet_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (wallet_id) DO UPDATE SET payload = $2, updated_at = now()`,
		walletID, blob)
	return err
}

// DeleteBlob removes the record row for a wallet id.
func (b *PostgresBackend) DeleteBlob(ctx context.Context, walletID string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM wallet_records WHERE wallet_id = $1`, walletID)
	return err
}

// Close closes the database connection pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}

var _ Backend = (*PostgresBackend)(nil)
