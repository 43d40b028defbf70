package postgres

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/models"
)

type walletsRepo struct{ pool *pgxpool.Pool }

const walletCols = `id, user_id, currency_id, COALESCE(address,''), balance, locked_balance, status, created_at, updated_at`

func scanWallet(row pgx.Row) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.CurrencyID, &w.Address, &w.Balance, &w.LockedBalance, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *walletsRepo) GetOrCreate(ctx context.Context, userID int64, currencyID int32, address string) (models.Wallet, error) {
	if w, err := r.GetByUserAndCurrency(ctx, userID, currencyID); err == nil {
		return w, nil
	}
	var addr *string
	if address != "" {
		addr = &address
	}
	_, err := q(ctx, r.pool).Exec(ctx,
		`INSERT INTO wallets(user_id, currency_id, address, balance, locked_balance)
		 VALUES($1, $2, $3, 0, 0)
		 ON CONFLICT (user_id, currency_id) DO NOTHING`,
		userID, currencyID, addr,
	)
	if err != nil {
		return models.Wallet{}, err
	}
	return r.GetByUserAndCurrency(ctx, userID, currencyID)
}

func (r *walletsRepo) GetByID(ctx context.Context, id int64) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	return w, err
}

func (r *walletsRepo) GetByUserAndCurrency(ctx context.Context, userID int64, currencyID int32) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE user_id=$1 AND currency_id=$2`, userID, currencyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	return w, err
}

func (r *walletsRepo) GetByAddress(ctx context.Context, address string) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE address=$1`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	return w, err
}

func (r *walletsRepo) ListByUser(ctx context.Context, userID int64) ([]models.Wallet, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE user_id=$1 ORDER BY currency_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// LockRows serializes wallet mutation across processes: ascending id order so
// two transfers touching the same pair cannot deadlock.
func (r *walletsRepo) LockRows(ctx context.Context, ids ...int64) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		var locked int64
		err := q(ctx, r.pool).QueryRow(ctx,
			`SELECT id FROM wallets WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.CodeNotFound, "wallet not found")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *walletsRepo) Credit(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`UPDATE wallets
		    SET balance = balance + $2, updated_at = now()
		  WHERE id = $1
		  RETURNING `+walletCols, walletID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	return w, err
}

// Debit spends from the available balance only; locked funds are untouchable.
func (r *walletsRepo) Debit(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`UPDATE wallets
		    SET balance = balance - $2, updated_at = now()
		  WHERE id = $1 AND balance - locked_balance >= $2
		  RETURNING `+walletCols, walletID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeInsufficientFunds, "insufficient available balance")
	}
	return w, err
}

func (r *walletsRepo) Lock(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`UPDATE wallets
		    SET locked_balance = locked_balance + $2, updated_at = now()
		  WHERE id = $1 AND locked_balance + $2 <= balance
		  RETURNING `+walletCols, walletID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeInsufficientFunds, "insufficient balance to lock")
	}
	return w, err
}

func (r *walletsRepo) Unlock(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`UPDATE wallets
		    SET locked_balance = locked_balance - $2, updated_at = now()
		  WHERE id = $1 AND locked_balance >= $2
		  RETURNING `+walletCols, walletID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeConflict, "unlock exceeds locked balance")
	}
	return w, err
}

func (r *walletsRepo) DebitLocked(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	w, err := scanWallet(q(ctx, r.pool).QueryRow(ctx,
		`UPDATE wallets
		    SET balance = balance - $2, locked_balance = locked_balance - $2, updated_at = now()
		  WHERE id = $1 AND locked_balance >= $2
		  RETURNING `+walletCols, walletID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.CodeConflict, "debit exceeds locked balance")
	}
	return w, err
}
