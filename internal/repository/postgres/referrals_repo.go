package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/models"
)

type referralsRepo struct{ pool *pgxpool.Pool }

func (r *referralsRepo) CreateRelation(ctx context.Context, referrerID, referredID int64, level int) error {
	_, err := q(ctx, r.pool).Exec(ctx,
		`INSERT INTO referral_relations(referrer_id, referred_id, level, status)
		 VALUES($1, $2, $3, 'ACTIVE')`,
		referrerID, referredID, level)
	return err
}

func (r *referralsRepo) HasRelation(ctx context.Context, referredID int64) (bool, error) {
	var exists bool
	err := q(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM referral_relations WHERE referred_id=$1 AND status='ACTIVE')`,
		referredID).Scan(&exists)
	return exists, err
}

func (r *referralsRepo) GetReferrer(ctx context.Context, referredID int64) (int64, bool, error) {
	var referrerID int64
	err := q(ctx, r.pool).QueryRow(ctx,
		`SELECT referrer_id FROM referral_relations WHERE referred_id=$1 AND status='ACTIVE'`,
		referredID).Scan(&referrerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return referrerID, true, nil
}

func (r *referralsRepo) SoftDeleteRelation(ctx context.Context, referredID int64) (int64, error) {
	var referrerID int64
	err := q(ctx, r.pool).QueryRow(ctx,
		`UPDATE referral_relations
		    SET status='DEACTIVE', deleted_at=now()
		  WHERE referred_id=$1 AND status='ACTIVE'
		  RETURNING referrer_id`,
		referredID).Scan(&referrerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.New(apperr.CodeNotFound, "no active referral relation")
	}
	return referrerID, err
}

func (r *referralsRepo) DirectCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM referral_relations WHERE referrer_id=$1 AND status='ACTIVE'`,
		userID).Scan(&n)
	return n, err
}

// ActiveTeamCount walks the referral tree downward. Depth is bounded in SQL
// to keep a pathological chain from recursing forever.
func (r *referralsRepo) ActiveTeamCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q(ctx, r.pool).QueryRow(ctx, `
WITH RECURSIVE team AS (
    SELECT referred_id, 1 AS depth FROM referral_relations
     WHERE referrer_id=$1 AND status='ACTIVE'
  UNION ALL
    SELECT rr.referred_id, t.depth + 1 FROM referral_relations rr
      JOIN team t ON rr.referrer_id = t.referred_id
     WHERE rr.status='ACTIVE' AND t.depth < 10
)
SELECT COUNT(*) FROM team`, userID).Scan(&n)
	return n, err
}

func (r *referralsRepo) ListReferrerIDs(ctx context.Context) ([]int64, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT DISTINCT referrer_id FROM referral_relations WHERE status='ACTIVE'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *referralsRepo) UpsertStats(ctx context.Context, userID int64, direct, team int) error {
	_, err := q(ctx, r.pool).Exec(ctx,
		`INSERT INTO referral_stats(user_id, direct_count, team_count)
		 VALUES($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET direct_count=EXCLUDED.direct_count, team_count=EXCLUDED.team_count, updated_at=now()`,
		userID, direct, team)
	return err
}

func (r *referralsRepo) AddReward(ctx context.Context, userID int64, amount decimal.Decimal) error {
	_, err := q(ctx, r.pool).Exec(ctx,
		`INSERT INTO referral_stats(user_id, total_reward)
		 VALUES($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET total_reward = referral_stats.total_reward + EXCLUDED.total_reward, updated_at=now()`,
		userID, amount)
	return err
}

func (r *referralsRepo) GetStats(ctx context.Context, userID int64) (models.ReferralStats, error) {
	var s models.ReferralStats
	err := q(ctx, r.pool).QueryRow(ctx,
		`SELECT user_id, direct_count, team_count, total_reward, updated_at
		   FROM referral_stats WHERE user_id=$1`,
		userID).Scan(&s.UserID, &s.DirectCount, &s.TeamCount, &s.TotalReward, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReferralStats{UserID: userID, TotalReward: decimal.Zero}, nil
	}
	return s, err
}
