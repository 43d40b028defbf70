package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/models"
)

type dailyMiningRepo struct{ pool *pgxpool.Pool }

// AccrueWithinCap is the whole quota race in one statement: the upsert only
// lands when the resulting total stays within cap, so two concurrent accruals
// can never sum past it.
func (r *dailyMiningRepo) AccrueWithinCap(ctx context.Context, userID int64, date time.Time, amount, cap decimal.Decimal, resetAt time.Time) (decimal.Decimal, bool, error) {
	var total decimal.Decimal
	err := q(ctx, r.pool).QueryRow(ctx, `
INSERT INTO daily_mining (user_id, mining_date, mining_amount, reset_at)
SELECT $1, $2, $3::numeric, $4 WHERE $3::numeric <= $5::numeric
ON CONFLICT (user_id, mining_date) DO UPDATE
SET mining_amount = daily_mining.mining_amount + EXCLUDED.mining_amount,
    updated_at = now()
WHERE daily_mining.mining_amount + EXCLUDED.mining_amount <= $5
RETURNING mining_amount`,
		userID, date, amount, resetAt, cap,
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return total, true, nil
}

func (r *dailyMiningRepo) Get(ctx context.Context, userID int64, date time.Time) (models.DailyMining, error) {
	var m models.DailyMining
	err := q(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, mining_date, mining_amount, reset_at, created_at, updated_at
		   FROM daily_mining
		  WHERE user_id=$1 AND mining_date=$2`,
		userID, date,
	).Scan(&m.ID, &m.UserID, &m.MiningDate, &m.MiningAmount, &m.ResetAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DailyMining{}, apperr.New(apperr.CodeNotFound, "no mining today")
	}
	return m, err
}

func (r *dailyMiningRepo) DailyCap(ctx context.Context, level int) (decimal.Decimal, error) {
	var cap decimal.Decimal
	err := q(ctx, r.pool).QueryRow(ctx,
		`SELECT daily_max_mining FROM mining_levels WHERE level=$1`, level).Scan(&cap)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, apperr.New(apperr.CodeNotFound, "unknown mining level")
	}
	return cap, err
}
