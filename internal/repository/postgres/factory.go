package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/korilabs/coin-ledger/internal/repository"
)

type Repositories struct {
	Atomic      repo.Atomic
	Wallets     repo.Wallets
	Transfers   repo.Transfers
	DailyMining repo.DailyMining
	Referrals   repo.Referrals
	Users       repo.Users
	Currencies  repo.Currencies
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Atomic:      &txRunner{pool},
		Wallets:     &walletsRepo{pool},
		Transfers:   &transfersRepo{pool},
		DailyMining: &dailyMiningRepo{pool},
		Referrals:   &referralsRepo{pool},
		Users:       &usersRepo{pool},
		Currencies:  &currenciesRepo{pool},
	}
}

// querier is the subset of pgx shared by pool and tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// q returns the transaction bound to ctx when there is one, else the pool.
func q(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

type txRunner struct{ pool *pgxpool.Pool }

// InTx runs fn inside a serializable pgx transaction and binds it to ctx so
// repository calls join it. Re-entrant: a ctx already carrying a transaction
// reuses it.
func (r *txRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
