package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/models"
)

// Atomic runs fn inside a single database transaction. Repository calls made
// with the ctx passed to fn join that transaction. Nested calls reuse the
// outer transaction.
type Atomic interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Wallets owns all balance mutation. The guarded Debit/Lock/Unlock variants
// return insufficient_funds when the guard misses; callers must hold the row
// lock (LockRows) for multi-step sequences.
type Wallets interface {
	GetOrCreate(ctx context.Context, userID int64, currencyID int32, address string) (models.Wallet, error)
	GetByID(ctx context.Context, id int64) (models.Wallet, error)
	GetByUserAndCurrency(ctx context.Context, userID int64, currencyID int32) (models.Wallet, error)
	GetByAddress(ctx context.Context, address string) (models.Wallet, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Wallet, error)

	// LockRows takes FOR UPDATE row locks in ascending wallet-id order.
	LockRows(ctx context.Context, ids ...int64) error
	Credit(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error)
	Debit(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error)
	Lock(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error)
	Unlock(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error)
	// DebitLocked converts a reservation into a permanent decrease: balance
	// and locked_balance both drop by amount.
	DebitLocked(ctx context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error)
}

type Transfers interface {
	// Create inserts t; on an idempotency-key conflict it returns the
	// existing row with fresh=false.
	Create(ctx context.Context, t models.Transfer) (created models.Transfer, fresh bool, err error)
	GetByID(ctx context.Context, transferID string) (models.Transfer, error)
	GetByIdempotencyKey(ctx context.Context, key string) (models.Transfer, error)
	GetByTxHash(ctx context.Context, txHash string) (models.Transfer, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (models.Transfer, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Transfer, error)
	ListSubmitted(ctx context.Context, limit int) ([]models.Transfer, error)
	// ListStaleProcessing returns external withdrawals stuck in PROCESSING
	// since before cutoff, i.e. whose submission never reached a verdict.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Transfer, error)

	// UpdateStatus transitions only when the current status is one of from;
	// false means no row moved (already transitioned, replay-safe).
	UpdateStatus(ctx context.Context, transferID string, from []models.TransferStatus, to models.TransferStatus) (bool, error)
	MarkSubmitted(ctx context.Context, transferID, txHash string) (bool, error)
	MarkTerminal(ctx context.Context, transferID string, status models.TransferStatus, errCode, errMsg string) (bool, error)
	SetConfirmations(ctx context.Context, transferID string, confirmations int) error
	IncrementRetry(ctx context.Context, transferID string) (int, error)
}

type DailyMining interface {
	// AccrueWithinCap adds amount to the (userID, date) row, creating it if
	// absent, but only when the new total stays within cap. The check and the
	// increment are one statement; ok=false means the cap would be exceeded
	// and nothing changed.
	AccrueWithinCap(ctx context.Context, userID int64, date time.Time, amount, cap decimal.Decimal, resetAt time.Time) (total decimal.Decimal, ok bool, err error)
	Get(ctx context.Context, userID int64, date time.Time) (models.DailyMining, error)
	DailyCap(ctx context.Context, level int) (decimal.Decimal, error)
}

type Referrals interface {
	CreateRelation(ctx context.Context, referrerID, referredID int64, level int) error
	HasRelation(ctx context.Context, referredID int64) (bool, error)
	GetReferrer(ctx context.Context, referredID int64) (int64, bool, error)
	SoftDeleteRelation(ctx context.Context, referredID int64) (int64, error)
	DirectCount(ctx context.Context, userID int64) (int, error)
	ActiveTeamCount(ctx context.Context, userID int64) (int, error)
	ListReferrerIDs(ctx context.Context) ([]int64, error)
	UpsertStats(ctx context.Context, userID int64, direct, team int) error
	AddReward(ctx context.Context, userID int64, amount decimal.Decimal) error
	GetStats(ctx context.Context, userID int64) (models.ReferralStats, error)
}

type Users interface {
	GetByID(ctx context.Context, id int64) (models.User, error)
	GetByReferralCode(ctx context.Context, code string) (models.User, error)
}

type Currencies interface {
	GetByID(ctx context.Context, id int32) (models.Currency, error)
	GetByCode(ctx context.Context, code string) (models.Currency, error)
	GetByCodeAndChain(ctx context.Context, code, chain string) (models.Currency, error)
	ListActive(ctx context.Context) ([]models.Currency, error)
}
