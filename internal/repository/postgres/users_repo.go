package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/models"
)

type usersRepo struct{ pool *pgxpool.Pool }

const userCols = `id, login_id, referral_code, level, status, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.LoginID, &u.ReferralCode, &u.Level, &u.Status, &u.CreatedAt)
	return u, err
}

func (r *usersRepo) GetByID(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, apperr.New(apperr.CodeNotFound, "user not found")
	}
	return u, err
}

func (r *usersRepo) GetByReferralCode(ctx context.Context, code string) (models.User, error) {
	u, err := scanUser(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE referral_code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, apperr.New(apperr.CodeNotFound, "user not found")
	}
	return u, err
}
