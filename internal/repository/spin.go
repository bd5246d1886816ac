// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"spin-campaign-service/internal/model"
)

// Common errors for repository operations.
var (
	ErrSpinNotFound            = errors.New("spin not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrCapExhausted            = errors.New("daily cap exhausted during reservation")
	ErrLifetimeCapExhausted    = errors.New("lifetime cap exhausted")
)

const spinColumns = `id, user_id, reward_id, idempotency_key, request_signature, client_info, outcome_snapshot, created_at`

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// SpinRepository handles spin (award record) persistence. Spin rows are
// append-only; the unique idempotency key makes inserts exactly-once.
type SpinRepository struct {
	pool *pgxpool.Pool
}

// NewSpinRepository creates a new SpinRepository instance.
func NewSpinRepository(pool *pgxpool.Pool) *SpinRepository {
	return &SpinRepository{pool: pool}
}

// ByIdempotencyKey retrieves the spin recorded for an idempotency key.
// Returns ErrSpinNotFound if no spin exists for the key.
func (r *SpinRepository) ByIdempotencyKey(ctx context.Context, key string) (*model.Spin, error) {
	query := `SELECT ` + spinColumns + ` FROM spins WHERE idempotency_key = $1`

	spin, err := scanSpin(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpinNotFound
		}
		return nil, fmt.Errorf("failed to get spin by idempotency key: %w", err)
	}
	return spin, nil
}

// Create inserts a spin row outside of a reservation. Used for fallback
// awards, which consume no capacity. A unique violation on the idempotency
// key maps to ErrDuplicateIdempotencyKey so callers can replay the winner.
func (r *SpinRepository) Create(ctx context.Context, spin *model.Spin) (*model.Spin, error) {
	created, err := insertSpin(ctx, r.pool, spin)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("failed to create spin: %w", err)
	}
	return created, nil
}

// CountByUser counts a user's spins created within [from, to).
func (r *SpinRepository) CountByUser(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM spins
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query, userID, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count user spins: %w", err)
	}
	return count, nil
}

// CountInWindow counts all spins created within [from, to).
func (r *SpinRepository) CountInWindow(ctx context.Context, from, to time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM spins
		WHERE created_at >= $1 AND created_at < $2
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count spins: %w", err)
	}
	return count, nil
}

// ByUser retrieves a user's spins, newest first.
func (r *SpinRepository) ByUser(ctx context.Context, userID string, limit int) ([]*model.Spin, error) {
	query := `
		SELECT ` + spinColumns + ` FROM spins
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get user spins: %w", err)
	}
	defer rows.Close()

	var spins []*model.Spin
	for rows.Next() {
		spin, err := scanSpin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spin: %w", err)
		}
		spins = append(spins, spin)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spins: %w", err)
	}

	return spins, nil
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertSpin writes a spin row and returns it with the stored timestamp.
func insertSpin(ctx context.Context, q querier, spin *model.Spin) (*model.Spin, error) {
	query := `
		INSERT INTO spins (id, user_id, reward_id, idempotency_key, request_signature, client_info, outcome_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + spinColumns

	return scanSpin(q.QueryRow(ctx, query,
		spin.ID,
		spin.UserID,
		spin.RewardID,
		spin.IdempotencyKey,
		spin.RequestSignature,
		spin.ClientInfo,
		spin.OutcomeSnapshot,
	))
}

func scanSpin(row pgx.Row) (*model.Spin, error) {
	var spin model.Spin
	err := row.Scan(
		&spin.ID,
		&spin.UserID,
		&spin.RewardID,
		&spin.IdempotencyKey,
		&spin.RequestSignature,
		&spin.ClientInfo,
		&spin.OutcomeSnapshot,
		&spin.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &spin, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
