package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spin-campaign-service/internal/model"
)

// Reservation describes one attempt to durably claim a unit of a reward's
// capacity. CapToday and TotalQty are nil when the reward carries no daily
// or lifetime cap respectively.
type Reservation struct {
	Spin     *model.Spin
	DayKey   string
	CapToday *int64
	TotalQty *int64
}

// QuotaRepository handles daily caps, reward counters and the atomic
// reservation that consumes reward capacity.
type QuotaRepository struct {
	pool *pgxpool.Pool
}

// NewQuotaRepository creates a new QuotaRepository instance.
func NewQuotaRepository(pool *pgxpool.Pool) *QuotaRepository {
	return &QuotaRepository{pool: pool}
}

// DailyCaps returns the cap for every reward that has one on the given day.
func (r *QuotaRepository) DailyCaps(ctx context.Context, dayKey string) (map[string]int64, error) {
	const query = `SELECT reward_id, cap FROM daily_caps WHERE day_key = $1`

	rows, err := r.pool.Query(ctx, query, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily caps: %w", err)
	}
	defer rows.Close()

	caps := make(map[string]int64)
	for rows.Next() {
		var rewardID string
		var cap int64
		if err := rows.Scan(&rewardID, &cap); err != nil {
			return nil, fmt.Errorf("failed to scan daily cap: %w", err)
		}
		caps[rewardID] = cap
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily caps: %w", err)
	}

	return caps, nil
}

// UsedCounts returns the used counter for every reward awarded on the day.
// Rewards without a counter row have used zero units.
func (r *QuotaRepository) UsedCounts(ctx context.Context, dayKey string) (map[string]int64, error) {
	const query = `SELECT reward_id, used_count FROM reward_counters WHERE day_key = $1`

	rows, err := r.pool.Query(ctx, query, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get reward counters: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var rewardID string
		var used int64
		if err := rows.Scan(&rewardID, &used); err != nil {
			return nil, fmt.Errorf("failed to scan reward counter: %w", err)
		}
		counts[rewardID] = used
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward counters: %w", err)
	}

	return counts, nil
}

// EnsureDailyCap upserts the cap for a reward on a day. Used when seeding
// the campaign's cap schedule; spins never call this.
func (r *QuotaRepository) EnsureDailyCap(ctx context.Context, rewardID, dayKey string, cap int64) error {
	const query = `
		INSERT INTO daily_caps (reward_id, day_key, cap)
		VALUES ($1, $2, $3)
		ON CONFLICT (reward_id, day_key) DO UPDATE SET cap = EXCLUDED.cap
	`

	if _, err := r.pool.Exec(ctx, query, rewardID, dayKey, cap); err != nil {
		return fmt.Errorf("failed to ensure daily cap: %w", err)
	}
	return nil
}

// Reserve durably claims one unit of a reward's capacity as a single
// atomic unit: ensure the counter row exists, compare-and-increment the
// daily counter, re-check the lifetime quantity and insert the spin row.
// Any failure rolls the whole unit back with no partial effect.
//
// The pool a draw was made from may be stale by the time the reservation
// runs, so the counter checks here are authoritative: losing a race yields
// ErrCapExhausted or ErrLifetimeCapExhausted and the caller rerolls. A
// unique violation on the spin insert means another request completed the
// same idempotency key first and maps to ErrDuplicateIdempotencyKey.
func (r *QuotaRepository) Reserve(ctx context.Context, res Reservation) (*model.Spin, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin reservation: %w", err)
	}
	defer tx.Rollback(ctx)

	rewardID := res.Spin.RewardID

	const ensureCounter = `
		INSERT INTO reward_counters (reward_id, day_key, used_count)
		VALUES ($1, $2, 0)
		ON CONFLICT (reward_id, day_key) DO NOTHING
	`
	if _, err := tx.Exec(ctx, ensureCounter, rewardID, res.DayKey); err != nil {
		return nil, fmt.Errorf("failed to ensure reward counter: %w", err)
	}

	// The increment both claims the unit and re-validates the cap. The row
	// lock it takes serializes all concurrent reservations of the same
	// reward and day; losers see used_count at the cap and reroll.
	if res.CapToday != nil {
		const condIncrement = `
			UPDATE reward_counters
			SET used_count = used_count + 1
			WHERE reward_id = $1 AND day_key = $2 AND used_count < $3
		`
		tag, err := tx.Exec(ctx, condIncrement, rewardID, res.DayKey, *res.CapToday)
		if err != nil {
			return nil, fmt.Errorf("failed to increment reward counter: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrCapExhausted
		}
	} else {
		const increment = `
			UPDATE reward_counters
			SET used_count = used_count + 1
			WHERE reward_id = $1 AND day_key = $2
		`
		if _, err := tx.Exec(ctx, increment, rewardID, res.DayKey); err != nil {
			return nil, fmt.Errorf("failed to increment reward counter: %w", err)
		}
	}

	// Lifetime re-check runs after the counter row is locked, so same-day
	// reservations of this reward cannot race past the total quantity.
	if res.TotalQty != nil {
		const countTotal = `SELECT COUNT(*) FROM spins WHERE reward_id = $1`
		var total int64
		if err := tx.QueryRow(ctx, countTotal, rewardID).Scan(&total); err != nil {
			return nil, fmt.Errorf("failed to count lifetime awards: %w", err)
		}
		if total >= *res.TotalQty {
			return nil, ErrLifetimeCapExhausted
		}
	}

	spin, err := insertSpin(ctx, tx, res.Spin)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("failed to insert spin: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	return spin, nil
}
