package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/chain"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/metrics"
	"github.com/korilabs/coin-ledger/internal/models"
	"github.com/korilabs/coin-ledger/internal/oracle"
	repo "github.com/korilabs/coin-ledger/internal/repository"
)

const (
	ReceiverTypeAddress      = "ADDRESS"
	ReceiverTypeReferralCode = "REFERRAL_CODE"
	ReceiverTypeUserID       = "USER_ID"
)

// TransferService drives every transfer through its lifecycle:
// PENDING -> PROCESSING -> (SUBMITTED ->) COMPLETED/CONFIRMED, with FAILED
// and CANCELLED reachable from any non-terminal state. Internal kinds are
// synchronous; withdrawals hand off to the confirmation tracker.
type TransferService struct {
	cfg        config.Config
	atomic     repo.Atomic
	transfers  repo.Transfers
	users      repo.Users
	currencies repo.Currencies
	ledger     *LedgerService
	oracle     oracle.PriceOracle
	chain      chain.Client
	clock      Clock
}

func NewTransferService(cfg config.Config, a repo.Atomic, t repo.Transfers, u repo.Users, c repo.Currencies, l *LedgerService, o oracle.PriceOracle, ch chain.Client, clk Clock) *TransferService {
	if clk == nil {
		clk = RealClock{}
	}
	return &TransferService{cfg: cfg, atomic: a, transfers: t, users: u, currencies: c, ledger: l, oracle: o, chain: ch, clock: clk}
}

type InternalTransferParams struct {
	ReceiverType  string
	ReceiverValue string
	CurrencyCode  string
	Amount        decimal.Decimal
	Memo          string
	RequestIP     string
}

// InitiateInternal validates, records and applies an internal transfer in
// one synchronous round trip. Replays of the same idempotency key return the
// original record untouched.
func (s *TransferService) InitiateInternal(ctx context.Context, senderID int64, p InternalTransferParams, idemKey string) (models.Transfer, error) {
	t, _, err := s.initiateInternalKind(ctx, models.KindInternal, senderID, p, idemKey)
	return t, err
}

func (s *TransferService) initiateInternalKind(ctx context.Context, kind models.TransferKind, senderID int64, p InternalTransferParams, idemKey string) (models.Transfer, bool, error) {
	if p.Amount.LessThan(s.cfg.MinTransferAmount) {
		return models.Transfer{}, false, apperr.New(apperr.CodeInvalidRequest, "amount below minimum "+s.cfg.MinTransferAmount.String())
	}

	currency, err := s.currencies.GetByCode(ctx, p.CurrencyCode)
	if err != nil {
		return models.Transfer{}, false, err
	}
	receiver, err := s.resolveReceiver(ctx, p.ReceiverType, p.ReceiverValue)
	if err != nil {
		return models.Transfer{}, false, err
	}
	if receiver.ID == senderID {
		return models.Transfer{}, false, apperr.New(apperr.CodeInvalidRequest, "cannot transfer to self")
	}

	fromWallet, err := s.ledger.GetOrCreateWallet(ctx, senderID, currency.ID)
	if err != nil {
		return models.Transfer{}, false, err
	}
	toWallet, err := s.ledger.GetOrCreateWallet(ctx, receiver.ID, currency.ID)
	if err != nil {
		return models.Transfer{}, false, err
	}

	fee := decimal.Zero
	if kind == models.KindInternal {
		fee = p.Amount.Mul(s.cfg.InternalFeeRate)
	}

	t := models.Transfer{
		ID:             uuid.NewString(),
		OrderNumber:    newOrderNumber(s.clock.Now()),
		Kind:           kind,
		Status:         models.TransferPending,
		IdempotencyKey: idemKey,
		UserID:         senderID,
		CounterpartyID: &receiver.ID,
		FromWalletID:   &fromWallet.ID,
		ToWalletID:     &toWallet.ID,
		CurrencyID:     currency.ID,
		Amount:         p.Amount,
		Fee:            fee,
		Memo:           p.Memo,
		RequestIP:      p.RequestIP,
	}
	t, fresh, err := s.transfers.Create(ctx, t)
	if err != nil {
		return models.Transfer{}, false, err
	}
	if !fresh {
		return t, false, nil
	}

	if err := s.applyInternal(ctx, t, fromWallet.ID, toWallet.ID, p.Amount, fee); err != nil {
		return models.Transfer{}, false, err
	}
	metrics.TransfersTotal.WithLabelValues(string(kind)).Inc()
	t, err = s.transfers.GetByID(ctx, t.ID)
	return t, true, err
}

// applyInternal moves to PROCESSING, applies the atomic ledger move, and
// finalizes — all inside one transaction so a lock without a matching status
// update cannot survive a crash. Re-entry with an already-moved status is a
// no-op.
func (s *TransferService) applyInternal(ctx context.Context, t models.Transfer, fromID, toID int64, amount, fee decimal.Decimal) error {
	err := s.atomic.InTx(ctx, func(ctx context.Context) error {
		moved, err := s.transfers.UpdateStatus(ctx, t.ID, []models.TransferStatus{models.TransferPending}, models.TransferProcessing)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := s.ledger.TransferAtomic(ctx, fromID, toID, amount, fee); err != nil {
			return err
		}
		_, err = s.transfers.MarkTerminal(ctx, t.ID, models.TransferCompleted, "", "")
		return err
	})
	if err != nil {
		metrics.TransfersFailed.WithLabelValues(string(t.Kind)).Inc()
		_, _ = s.transfers.MarkTerminal(ctx, t.ID, models.TransferFailed, apperr.CodeOf(err), err.Error())
		return err
	}
	return nil
}

func (s *TransferService) resolveReceiver(ctx context.Context, receiverType, receiverValue string) (models.User, error) {
	switch receiverType {
	case ReceiverTypeAddress:
		w, err := s.ledger.wallets.GetByAddress(ctx, receiverValue)
		if err != nil {
			return models.User{}, err
		}
		return s.users.GetByID(ctx, w.UserID)
	case ReceiverTypeReferralCode:
		return s.users.GetByReferralCode(ctx, receiverValue)
	case ReceiverTypeUserID:
		id, err := strconv.ParseInt(receiverValue, 10, 64)
		if err != nil {
			return models.User{}, apperr.New(apperr.CodeInvalidRequest, "invalid receiver user id")
		}
		return s.users.GetByID(ctx, id)
	default:
		return models.User{}, apperr.New(apperr.CodeInvalidRequest, "invalid receiver type "+receiverType)
	}
}

type WithdrawalParams struct {
	CurrencyCode string
	Chain        string
	ToAddress    string
	Amount       decimal.Decimal
	Memo         string
	RequestIP    string
}

// InitiateWithdrawal reserves funds and submits to the external chain. The
// wallet reservation happens before submission — no wallet row lock is ever
// held across the network call.
func (s *TransferService) InitiateWithdrawal(ctx context.Context, userID int64, p WithdrawalParams, idemKey string) (models.Transfer, error) {
	if p.Amount.LessThan(s.cfg.MinTransferAmount) {
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "amount below minimum "+s.cfg.MinTransferAmount.String())
	}
	if p.ToAddress == "" {
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "destination address required")
	}

	currency, err := s.currencies.GetByCodeAndChain(ctx, p.CurrencyCode, p.Chain)
	if err != nil {
		return models.Transfer{}, err
	}
	wallet, err := s.ledger.wallets.GetByUserAndCurrency(ctx, userID, currency.ID)
	if err != nil {
		return models.Transfer{}, err
	}

	fee := p.Amount.Mul(s.cfg.InternalFeeRate)
	total := p.Amount.Add(fee)
	if wallet.Available().LessThan(total) {
		return models.Transfer{}, apperr.New(apperr.CodeInsufficientFunds, "insufficient available balance")
	}

	t := models.Transfer{
		ID:                    uuid.NewString(),
		OrderNumber:           newOrderNumber(s.clock.Now()),
		Kind:                  models.KindExternal,
		Status:                models.TransferPending,
		IdempotencyKey:        idemKey,
		UserID:                userID,
		FromWalletID:          &wallet.ID,
		CurrencyID:            currency.ID,
		Amount:                p.Amount,
		Fee:                   fee,
		Memo:                  p.Memo,
		RequestIP:             p.RequestIP,
		ToAddress:             &p.ToAddress,
		Chain:                 &p.Chain,
		RequiredConfirmations: s.cfg.RequiredConfirmations(p.Chain),
	}
	t, fresh, err := s.transfers.Create(ctx, t)
	if err != nil {
		return models.Transfer{}, err
	}
	if !fresh {
		return t, nil
	}

	// reserve funds; replay-safe through the status guard
	err = s.atomic.InTx(ctx, func(ctx context.Context) error {
		moved, err := s.transfers.UpdateStatus(ctx, t.ID, []models.TransferStatus{models.TransferPending}, models.TransferProcessing)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		return s.ledger.Lock(ctx, wallet.ID, total)
	})
	if err != nil {
		metrics.TransfersFailed.WithLabelValues(string(models.KindExternal)).Inc()
		_, _ = s.transfers.MarkTerminal(ctx, t.ID, models.TransferFailed, apperr.CodeOf(err), err.Error())
		return models.Transfer{}, err
	}

	if err := s.submitWithdrawal(ctx, t.ID, p.Chain, p.ToAddress, p.Amount, p.Memo, wallet.ID, total); err != nil {
		return models.Transfer{}, err
	}
	return s.transfers.GetByID(ctx, t.ID)
}

// submitWithdrawal hands the reserved withdrawal to the chain, retrying
// transient refusals up to the configured ceiling. Exhaustion releases the
// reservation — funds are never left locked forever.
func (s *TransferService) submitWithdrawal(ctx context.Context, transferID, chainName, toAddress string, amount decimal.Decimal, memo string, walletID int64, locked decimal.Decimal) error {
	for {
		txHash, err := s.chain.Submit(ctx, chainName, toAddress, amount, memo)
		if err == nil {
			_, err = s.transfers.MarkSubmitted(ctx, transferID, txHash)
			return err
		}
		if !errors.Is(err, chain.ErrUnavailable) {
			return s.failWithdrawal(ctx, transferID, walletID, locked, apperr.CodeChainUnavailable, err.Error())
		}
		n, rerr := s.transfers.IncrementRetry(ctx, transferID)
		if rerr != nil {
			return rerr
		}
		if n >= s.cfg.MaxSubmitRetries {
			slog.Warn("withdrawal submission retries exhausted", "transfer", transferID, "retries", n)
			return s.failWithdrawal(ctx, transferID, walletID, locked, apperr.CodeChainUnavailable, "submission retries exhausted")
		}
	}
}

// failWithdrawal unlocks the reservation and marks FAILED in one atomic
// unit, then reports the original failure to the caller.
func (s *TransferService) failWithdrawal(ctx context.Context, transferID string, walletID int64, locked decimal.Decimal, code, msg string) error {
	metrics.TransfersFailed.WithLabelValues(string(models.KindExternal)).Inc()
	err := s.atomic.InTx(ctx, func(ctx context.Context) error {
		moved, err := s.transfers.MarkTerminal(ctx, transferID, models.TransferFailed, code, msg)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		return s.ledger.Unlock(ctx, walletID, locked)
	})
	if err != nil {
		return err
	}
	return apperr.New(code, msg)
}

type SwapParams struct {
	FromCurrencyCode string
	ToCurrencyCode   string
	Network          string
	Amount           decimal.Decimal
	RequestIP        string
}

// InitiateSwap converts between currencies at the oracle rate taken at
// submission time. The fee/spread/rate breakdown is persisted on the record,
// never recomputed later.
func (s *TransferService) InitiateSwap(ctx context.Context, userID int64, p SwapParams, idemKey string) (models.Transfer, error) {
	if p.FromCurrencyCode == p.ToCurrencyCode {
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "cannot swap a currency for itself")
	}
	if p.Amount.LessThan(s.cfg.MinSwapAmount) {
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "amount below minimum "+s.cfg.MinSwapAmount.String())
	}

	fromCurrency, err := s.currencies.GetByCodeAndChain(ctx, p.FromCurrencyCode, p.Network)
	if err != nil {
		return models.Transfer{}, err
	}
	toCurrency, err := s.currencies.GetByCodeAndChain(ctx, p.ToCurrencyCode, p.Network)
	if err != nil {
		return models.Transfer{}, err
	}

	rate, asOf, err := s.oracle.Rate(ctx, p.FromCurrencyCode, p.ToCurrencyCode)
	if err != nil {
		return models.Transfer{}, err
	}
	quote := swapQuote(p.Amount, rate, s.cfg.SwapFeeRate, s.cfg.SwapSpreadRate)
	if !quote.AmountOut.IsPositive() {
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "amount too small after fee and spread")
	}
	slog.Debug("swap quoted", "rate", rate, "as_of", asOf, "out", quote.AmountOut)

	return s.convert(ctx, userID, models.KindSwap, fromCurrency, toCurrency, p.Amount, quote, p.RequestIP, idemKey)
}

type Quote struct {
	Rate      decimal.Decimal
	Fee       decimal.Decimal
	Spread    decimal.Decimal
	AmountOut decimal.Decimal
}

// swapQuote computes amountOut = amountIn * rate * (1 - spread) - fee, with
// fee = amountIn * feeRate, truncated to 18 decimal places.
func swapQuote(amountIn, rate, feeRate, spreadRate decimal.Decimal) Quote {
	fee := amountIn.Mul(feeRate).Truncate(18)
	out := amountIn.Mul(rate).
		Mul(decimal.NewFromInt(1).Sub(spreadRate)).
		Sub(fee).
		Truncate(18)
	return Quote{Rate: rate, Fee: fee, Spread: spreadRate, AmountOut: out}
}

// InitiateExchange converts the configured fiat-token pair at a fixed rate.
func (s *TransferService) InitiateExchange(ctx context.Context, userID int64, amount decimal.Decimal, requestIP, idemKey string) (models.Transfer, error) {
	if amount.LessThan(s.cfg.MinExchangeAmount) {
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "amount below minimum "+s.cfg.MinExchangeAmount.String())
	}
	fromCurrency, err := s.currencies.GetByCode(ctx, s.cfg.ExchangeFromCode)
	if err != nil {
		return models.Transfer{}, err
	}
	toCurrency, err := s.currencies.GetByCode(ctx, s.cfg.ExchangeToCode)
	if err != nil {
		return models.Transfer{}, err
	}
	quote := Quote{
		Rate:      s.cfg.ExchangeRate,
		Fee:       decimal.Zero,
		Spread:    decimal.Zero,
		AmountOut: amount.Mul(s.cfg.ExchangeRate).Truncate(18),
	}
	return s.convert(ctx, userID, models.KindExchange, fromCurrency, toCurrency, amount, quote, requestIP, idemKey)
}

func (s *TransferService) convert(ctx context.Context, userID int64, kind models.TransferKind, fromCurrency, toCurrency models.Currency, amountIn decimal.Decimal, quote Quote, requestIP, idemKey string) (models.Transfer, error) {
	fromWallet, err := s.ledger.wallets.GetByUserAndCurrency(ctx, userID, fromCurrency.ID)
	if err != nil {
		return models.Transfer{}, err
	}
	toWallet, err := s.ledger.GetOrCreateWallet(ctx, userID, toCurrency.ID)
	if err != nil {
		return models.Transfer{}, err
	}

	t := models.Transfer{
		ID:             uuid.NewString(),
		OrderNumber:    newOrderNumber(s.clock.Now()),
		Kind:           kind,
		Status:         models.TransferPending,
		IdempotencyKey: idemKey,
		UserID:         userID,
		FromWalletID:   &fromWallet.ID,
		ToWalletID:     &toWallet.ID,
		CurrencyID:     fromCurrency.ID,
		Amount:         amountIn,
		Fee:            quote.Fee,
		RequestIP:      requestIP,
		ToCurrencyID:   &toCurrency.ID,
		ToAmount:       &quote.AmountOut,
		Rate:           &quote.Rate,
		Spread:         &quote.Spread,
	}
	t, fresh, err := s.transfers.Create(ctx, t)
	if err != nil {
		return models.Transfer{}, err
	}
	if !fresh {
		return t, nil
	}

	err = s.atomic.InTx(ctx, func(ctx context.Context) error {
		moved, err := s.transfers.UpdateStatus(ctx, t.ID, []models.TransferStatus{models.TransferPending}, models.TransferProcessing)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := s.ledger.ConvertAtomic(ctx, fromWallet.ID, toWallet.ID, amountIn, quote.AmountOut); err != nil {
			return err
		}
		_, err = s.transfers.MarkTerminal(ctx, t.ID, models.TransferCompleted, "", "")
		return err
	})
	if err != nil {
		metrics.TransfersFailed.WithLabelValues(string(kind)).Inc()
		_, _ = s.transfers.MarkTerminal(ctx, t.ID, models.TransferFailed, apperr.CodeOf(err), err.Error())
		return models.Transfer{}, err
	}
	metrics.TransfersTotal.WithLabelValues(string(kind)).Inc()
	return s.transfers.GetByID(ctx, t.ID)
}

type DepositEvent struct {
	Kind          models.TransferKind // TOKEN_DEPOSIT or PAYMENT_DEPOSIT
	CurrencyCode  string
	Chain         string
	Amount        decimal.Decimal
	ToAddress     string
	SenderAddress string
	TxHash        string
	OrderNumber   string
	UserID        int64
	Method        string
	PaymentAmount decimal.Decimal
}

// RecordDeposit ingests an externally observed deposit. Matched deposits are
// credited and completed; unmatched ones stay PENDING for manual
// reconciliation.
func (s *TransferService) RecordDeposit(ctx context.Context, ev DepositEvent) (models.Transfer, error) {
	if !ev.Amount.IsPositive() {
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "amount must be positive")
	}

	var currency models.Currency
	var err error
	if ev.Chain != "" {
		currency, err = s.currencies.GetByCodeAndChain(ctx, ev.CurrencyCode, ev.Chain)
	} else {
		currency, err = s.currencies.GetByCode(ctx, ev.CurrencyCode)
	}
	if err != nil {
		return models.Transfer{}, err
	}

	// match the beneficiary: payment deposits carry the user, token deposits
	// are matched by receiving address
	userID := ev.UserID
	var toWalletID *int64
	if ev.Kind == models.KindTokenDeposit && ev.ToAddress != "" {
		if w, werr := s.ledger.wallets.GetByAddress(ctx, ev.ToAddress); werr == nil {
			userID = w.UserID
			toWalletID = &w.ID
		}
	} else if userID != 0 {
		w, werr := s.ledger.GetOrCreateWallet(ctx, userID, currency.ID)
		if werr != nil {
			return models.Transfer{}, werr
		}
		toWalletID = &w.ID
	}

	idemKey := ev.TxHash
	if idemKey == "" {
		idemKey = ev.OrderNumber
	}
	if idemKey == "" {
		// without a tx hash or order number a replay is undetectable
		return models.Transfer{}, apperr.New(apperr.CodeInvalidRequest, "deposit event carries no tx hash or order number")
	}
	orderNumber := ev.OrderNumber
	if orderNumber == "" {
		orderNumber = newOrderNumber(s.clock.Now())
	}

	t := models.Transfer{
		ID:             uuid.NewString(),
		OrderNumber:    orderNumber,
		Kind:           ev.Kind,
		Status:         models.TransferPending,
		IdempotencyKey: idemKey,
		UserID:         userID,
		ToWalletID:     toWalletID,
		CurrencyID:     currency.ID,
		Amount:         ev.Amount,
		Fee:            decimal.Zero,
	}
	if ev.Chain != "" {
		t.Chain = &ev.Chain
	}
	if ev.TxHash != "" {
		t.TxHash = &ev.TxHash
	}
	if ev.SenderAddress != "" {
		t.SenderAddress = &ev.SenderAddress
	}
	if ev.Method != "" {
		t.DepositMethod = &ev.Method
	}
	if ev.PaymentAmount.IsPositive() {
		t.PaymentAmount = &ev.PaymentAmount
	}

	t, fresh, err := s.transfers.Create(ctx, t)
	if err != nil {
		return models.Transfer{}, err
	}
	if !fresh {
		return t, nil
	}
	if toWalletID == nil {
		// ambiguous: left PENDING for reconciliation
		slog.Warn("unmatched deposit", "order_number", t.OrderNumber, "tx_hash", ev.TxHash)
		return t, nil
	}

	err = s.atomic.InTx(ctx, func(ctx context.Context) error {
		moved, err := s.transfers.UpdateStatus(ctx, t.ID, []models.TransferStatus{models.TransferPending}, models.TransferProcessing)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := s.ledger.Credit(ctx, *toWalletID, ev.Amount, "deposit "+t.OrderNumber); err != nil {
			return err
		}
		_, err = s.transfers.MarkTerminal(ctx, t.ID, models.TransferCompleted, "", "")
		return err
	})
	if err != nil {
		metrics.TransfersFailed.WithLabelValues(string(ev.Kind)).Inc()
		_, _ = s.transfers.MarkTerminal(ctx, t.ID, models.TransferFailed, apperr.CodeOf(err), err.Error())
		return models.Transfer{}, err
	}
	metrics.TransfersTotal.WithLabelValues(string(ev.Kind)).Inc()
	return s.transfers.GetByID(ctx, t.ID)
}

// Cancel aborts a transfer that has not been handed to the chain yet.
// Anything at or past SUBMITTED is owned by the confirmation tracker and can
// only resolve through its terminal paths.
func (s *TransferService) Cancel(ctx context.Context, userID int64, transferID string) (models.Transfer, error) {
	t, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return models.Transfer{}, err
	}
	if t.UserID != userID {
		return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
	}
	err = s.atomic.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.transfers.GetByID(ctx, transferID)
		if err != nil {
			return err
		}
		if cur.Status != models.TransferPending && cur.Status != models.TransferProcessing {
			return apperr.New(apperr.CodeConflict, "transfer can no longer be cancelled")
		}
		moved, err := s.transfers.MarkTerminal(ctx, transferID, models.TransferCancelled, "", "cancelled by user")
		if err != nil {
			return err
		}
		if !moved {
			return apperr.New(apperr.CodeConflict, "transfer can no longer be cancelled")
		}
		if cur.Kind == models.KindExternal && cur.Status == models.TransferProcessing && cur.FromWalletID != nil {
			return s.ledger.Unlock(ctx, *cur.FromWalletID, cur.Amount.Add(cur.Fee))
		}
		return nil
	})
	if err != nil {
		return models.Transfer{}, err
	}
	return s.transfers.GetByID(ctx, transferID)
}

func (s *TransferService) Get(ctx context.Context, transferID string) (models.Transfer, error) {
	return s.transfers.GetByID(ctx, transferID)
}

func (s *TransferService) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Transfer, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.transfers.ListByUser(ctx, userID, limit, offset)
}

// Clock is injected wherever calendar logic matters so day boundaries are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
