package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/chain"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/metrics"
	"github.com/korilabs/coin-ledger/internal/models"
	repo "github.com/korilabs/coin-ledger/internal/repository"
)

// ConfirmTracker watches SUBMITTED withdrawals until the chain reports
// enough confirmations, then settles the reservation. It is driven both by
// push updates (webhook) and a periodic sweep that re-polls the chain.
type ConfirmTracker struct {
	cfg       config.Config
	atomic    repo.Atomic
	transfers repo.Transfers
	ledger    *LedgerService
	chain     chain.Client
	clock     Clock
}

func NewConfirmTracker(cfg config.Config, a repo.Atomic, t repo.Transfers, l *LedgerService, ch chain.Client) *ConfirmTracker {
	return &ConfirmTracker{cfg: cfg, atomic: a, transfers: t, ledger: l, chain: ch, clock: RealClock{}}
}

// OnChainUpdate applies one observation for a submitted withdrawal.
// Confirmation counts only move forward; a terminal record absorbs any late
// or duplicate update without effect.
func (c *ConfirmTracker) OnChainUpdate(ctx context.Context, txHash string, confirmations int, state chain.TxState) error {
	t, err := c.transfers.GetByTxHash(ctx, txHash)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}
	if t.Status != models.TransferSubmitted {
		return apperr.New(apperr.CodeConflict, "transfer not awaiting confirmations")
	}

	if state == chain.StateFailed {
		return c.fail(ctx, t, apperr.CodeChainUnavailable, "transaction failed on chain")
	}

	if confirmations > t.Confirmations {
		if err := c.transfers.SetConfirmations(ctx, t.ID, confirmations); err != nil {
			return err
		}
		t.Confirmations = confirmations
	}
	if t.Confirmations < t.RequiredConfirmations {
		return nil
	}
	return c.settle(ctx, t)
}

// settle burns the reservation and finalizes in one transaction. The status
// guard makes a concurrent settle of the same transfer a no-op.
func (c *ConfirmTracker) settle(ctx context.Context, t models.Transfer) error {
	err := c.atomic.InTx(ctx, func(ctx context.Context) error {
		moved, err := c.transfers.MarkTerminal(ctx, t.ID, models.TransferConfirmed, "", "")
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if t.FromWalletID == nil {
			return apperr.New(apperr.CodeInternal, "submitted transfer has no source wallet")
		}
		return c.ledger.ConfirmLocked(ctx, *t.FromWalletID, t.Amount.Add(t.Fee))
	})
	if err != nil {
		return err
	}
	metrics.TransfersTotal.WithLabelValues(string(models.KindExternal)).Inc()
	slog.Info("withdrawal confirmed", "transfer", t.ID, "confirmations", t.Confirmations)
	return nil
}

// fail releases the reservation and records the terminal failure.
func (c *ConfirmTracker) fail(ctx context.Context, t models.Transfer, code, msg string) error {
	metrics.TransfersFailed.WithLabelValues(string(models.KindExternal)).Inc()
	return c.atomic.InTx(ctx, func(ctx context.Context) error {
		moved, err := c.transfers.MarkTerminal(ctx, t.ID, models.TransferFailed, code, msg)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if t.FromWalletID == nil {
			return nil
		}
		return c.ledger.Unlock(ctx, *t.FromWalletID, t.Amount.Add(t.Fee))
	})
}

// Sweep re-polls the chain for every outstanding withdrawal. Transient poll
// errors count against a retry ceiling; hitting it abandons the transfer and
// returns the funds. Withdrawals stuck in PROCESSING past the stale-age
// threshold lost their submission step (process restart) and are abandoned
// the same way.
func (c *ConfirmTracker) Sweep(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	pending, err := c.transfers.ListSubmitted(ctx, batchSize)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if err := c.poll(ctx, t); err != nil {
			slog.Error("confirmation poll failed", "transfer", t.ID, "error", err)
		}
	}

	cutoff := c.clock.Now().Add(-time.Duration(c.cfg.StaleSubmitAgeMin) * time.Minute)
	stale, err := c.transfers.ListStaleProcessing(ctx, cutoff, batchSize)
	if err != nil {
		return err
	}
	for _, t := range stale {
		slog.Warn("abandoning stale withdrawal", "transfer", t.ID, "created_at", t.CreatedAt)
		if err := c.fail(ctx, t, apperr.CodeConfirmationTimeout, "submission interrupted; funds returned"); err != nil {
			slog.Error("stale withdrawal recovery failed", "transfer", t.ID, "error", err)
		}
	}
	return nil
}

func (c *ConfirmTracker) poll(ctx context.Context, t models.Transfer) error {
	if t.TxHash == nil {
		return c.fail(ctx, t, apperr.CodeInternal, "submitted transfer has no tx hash")
	}
	confirmations, state, err := c.chain.TxStatus(ctx, *t.TxHash)
	if err != nil {
		// every unreadable poll counts against the ceiling, sentinel or not,
		// so a persistently broken gateway cannot strand locked funds
		if !errors.Is(err, chain.ErrUnavailable) {
			slog.Warn("chain status unreadable", "transfer", t.ID, "error", err)
		}
		metrics.ConfirmationRetries.Inc()
		n, rerr := c.transfers.IncrementRetry(ctx, t.ID)
		if rerr != nil {
			return rerr
		}
		if n >= c.cfg.MaxConfirmRetries {
			slog.Warn("confirmation retries exhausted", "transfer", t.ID, "retries", n)
			return c.fail(ctx, t, apperr.CodeConfirmationTimeout, "confirmation retries exhausted")
		}
		return nil
	}
	return c.OnChainUpdate(ctx, *t.TxHash, confirmations, state)
}
