package services

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/models"
	repo "github.com/korilabs/coin-ledger/internal/repository"
)

// LedgerService is the only writer of wallet balances. Every mutation runs
// inside a transaction that first takes the wallet row locks (ascending id),
// so operations on one wallet are linearizable across service instances.
type LedgerService struct {
	atomic  repo.Atomic
	wallets repo.Wallets
}

func NewLedgerService(a repo.Atomic, w repo.Wallets) *LedgerService {
	return &LedgerService{atomic: a, wallets: w}
}

func (s *LedgerService) GetOrCreateWallet(ctx context.Context, userID int64, currencyID int32) (models.Wallet, error) {
	return s.wallets.GetOrCreate(ctx, userID, currencyID, "")
}

func (s *LedgerService) GetWallet(ctx context.Context, walletID int64) (models.Wallet, error) {
	return s.wallets.GetByID(ctx, walletID)
}

func (s *LedgerService) ListWallets(ctx context.Context, userID int64) ([]models.Wallet, error) {
	return s.wallets.ListByUser(ctx, userID)
}

func (s *LedgerService) Credit(ctx context.Context, walletID int64, amount decimal.Decimal, reason string) error {
	if err := positive(amount); err != nil {
		return err
	}
	return s.atomic.InTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.LockRows(ctx, walletID); err != nil {
			return err
		}
		w, err := s.wallets.Credit(ctx, walletID, amount)
		if err != nil {
			return err
		}
		slog.Debug("ledger credit", "wallet", walletID, "amount", amount, "balance", w.Balance, "reason", reason)
		return nil
	})
}

func (s *LedgerService) Debit(ctx context.Context, walletID int64, amount decimal.Decimal, reason string) error {
	if err := positive(amount); err != nil {
		return err
	}
	return s.atomic.InTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.LockRows(ctx, walletID); err != nil {
			return err
		}
		w, err := s.wallets.Debit(ctx, walletID, amount)
		if err != nil {
			return err
		}
		slog.Debug("ledger debit", "wallet", walletID, "amount", amount, "balance", w.Balance, "reason", reason)
		return nil
	})
}

// Lock reserves amount against a pending external operation. Balance is
// untouched; the reservation just becomes unspendable.
func (s *LedgerService) Lock(ctx context.Context, walletID int64, amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	return s.atomic.InTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.LockRows(ctx, walletID); err != nil {
			return err
		}
		_, err := s.wallets.Lock(ctx, walletID, amount)
		return err
	})
}

func (s *LedgerService) Unlock(ctx context.Context, walletID int64, amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	return s.atomic.InTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.LockRows(ctx, walletID); err != nil {
			return err
		}
		_, err := s.wallets.Unlock(ctx, walletID, amount)
		return err
	})
}

// ConfirmLocked graduates a reservation into a permanent debit: balance and
// locked balance both drop by amount in one step.
func (s *LedgerService) ConfirmLocked(ctx context.Context, walletID int64, amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	return s.atomic.InTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.LockRows(ctx, walletID); err != nil {
			return err
		}
		_, err := s.wallets.DebitLocked(ctx, walletID, amount)
		return err
	})
}

// TransferAtomic is the sole primitive for same-currency internal moves:
// amount+fee leaves the source and amount arrives at the destination, or
// neither. Never decomposed outside the ledger, so no observer can see money
// in flight.
func (s *LedgerService) TransferAtomic(ctx context.Context, fromWalletID, toWalletID int64, amount, fee decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	if fee.IsNegative() {
		return apperr.New(apperr.CodeInvalidRequest, "fee must not be negative")
	}
	if fromWalletID == toWalletID {
		return apperr.New(apperr.CodeInvalidRequest, "source and destination are the same wallet")
	}
	return s.atomic.InTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.LockRows(ctx, fromWalletID, toWalletID); err != nil {
			return err
		}
		if _, err := s.wallets.Debit(ctx, fromWalletID, amount.Add(fee)); err != nil {
			return err
		}
		_, err := s.wallets.Credit(ctx, toWalletID, amount)
		return err
	})
}

// ConvertAtomic moves value between two wallets of different currencies
// (swap, exchange): amountIn leaves the source, amountOut arrives at the
// destination, indivisibly.
func (s *LedgerService) ConvertAtomic(ctx context.Context, fromWalletID, toWalletID int64, amountIn, amountOut decimal.Decimal) error {
	if err := positive(amountIn); err != nil {
		return err
	}
	if err := positive(amountOut); err != nil {
		return err
	}
	return s.atomic.InTx(ctx, func(ctx context.Context) error {
		if err := s.wallets.LockRows(ctx, fromWalletID, toWalletID); err != nil {
			return err
		}
		if _, err := s.wallets.Debit(ctx, fromWalletID, amountIn); err != nil {
			return err
		}
		_, err := s.wallets.Credit(ctx, toWalletID, amountOut)
		return err
	})
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.New(apperr.CodeInvalidRequest, "amount must be positive")
	}
	return nil
}
