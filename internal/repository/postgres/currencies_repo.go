package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/models"
)

type currenciesRepo struct{ pool *pgxpool.Pool }

const currencyCols = `id, code, name, chain, status, created_at`

func scanCurrency(row pgx.Row) (models.Currency, error) {
	var c models.Currency
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Chain, &c.Status, &c.CreatedAt)
	return c, err
}

func (r *currenciesRepo) GetByID(ctx context.Context, id int32) (models.Currency, error) {
	c, err := scanCurrency(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+currencyCols+` FROM currencies WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Currency{}, apperr.New(apperr.CodeNotFound, "currency not found")
	}
	return c, err
}

func (r *currenciesRepo) GetByCode(ctx context.Context, code string) (models.Currency, error) {
	c, err := scanCurrency(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+currencyCols+` FROM currencies WHERE code=$1 AND status='ACTIVE' ORDER BY id LIMIT 1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Currency{}, apperr.New(apperr.CodeNotFound, "currency not found")
	}
	return c, err
}

func (r *currenciesRepo) GetByCodeAndChain(ctx context.Context, code, chain string) (models.Currency, error) {
	c, err := scanCurrency(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+currencyCols+` FROM currencies WHERE code=$1 AND chain=$2 AND status='ACTIVE'`, code, chain))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Currency{}, apperr.New(apperr.CodeNotFound, "currency not found")
	}
	return c, err
}

func (r *currenciesRepo) ListActive(ctx context.Context) ([]models.Currency, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT `+currencyCols+` FROM currencies WHERE status='ACTIVE' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
