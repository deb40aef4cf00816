package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/shortlink/internal/shortlink"
)

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresStore is a PostgreSQL implementation of shortlink.Repository.
// The short_links table carries a unique constraint on code; that
// constraint, not application-side pre-checking, is what guarantees
// identifier uniqueness under concurrent generation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed link store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Insert(ctx context.Context, link *shortlink.ShortLink) error {
	query := `
		INSERT INTO short_links (code, destination, owner_id, created_at, expires_at, active, usage_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := p.pool.Exec(ctx, query,
		link.Code,
		link.Destination,
		link.OwnerID,
		link.CreatedAt,
		link.ExpiresAt,
		link.Active,
		link.UsageCount,
		link.Metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return shortlink.ErrCodeConflict
		}

		return fmt.Errorf("insert short link: %w", err)
	}

	return nil
}

func (p *PostgresStore) FindByCode(ctx context.Context, code string) (*shortlink.ShortLink, error) {
	query := `
		SELECT code, destination, owner_id, created_at, expires_at, active, usage_count, metadata
		FROM short_links
		WHERE code = $1
	`

	var link shortlink.ShortLink

	err := p.pool.QueryRow(ctx, query, code).Scan(
		&link.Code,
		&link.Destination,
		&link.OwnerID,
		&link.CreatedAt,
		&link.ExpiresAt,
		&link.Active,
		&link.UsageCount,
		&link.Metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shortlink.ErrNotFound
		}

		return nil, fmt.Errorf("find short link: %w", err)
	}

	return &link, nil
}

func (p *PostgresStore) IncrementUsage(ctx context.Context, code string, delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("usage delta must be positive, got %d", delta)
	}

	// The increment happens inside the database so concurrent deltas
	// never overwrite each other.
	query := `UPDATE short_links SET usage_count = usage_count + $2 WHERE code = $1`

	tag, err := p.pool.Exec(ctx, query, code, delta)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return shortlink.ErrNotFound
	}

	return nil
}

func (p *PostgresStore) SetActive(ctx context.Context, code string, active bool) error {
	// "active AND $2" keeps deactivation one-way: once false, the flag
	// never flips back.
	query := `UPDATE short_links SET active = active AND $2 WHERE code = $1`

	tag, err := p.pool.Exec(ctx, query, code, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return shortlink.ErrNotFound
	}

	return nil
}

// Compile-time check.
var _ shortlink.Repository = (*PostgresStore)(nil)
