package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/metrics"
	repo "github.com/korilabs/coin-ledger/internal/repository"
	"github.com/korilabs/coin-ledger/internal/worker"
)

// MiningService enforces per-user daily accrual caps and credits accepted
// accruals to the mining-currency wallet. Day boundaries are UTC.
type MiningService struct {
	cfg        config.Config
	atomic     repo.Atomic
	mining     repo.DailyMining
	users      repo.Users
	currencies repo.Currencies
	ledger     *LedgerService
	referrals  *ReferralService
	pool       *worker.Pool
	clock      Clock
}

func NewMiningService(cfg config.Config, a repo.Atomic, m repo.DailyMining, u repo.Users, c repo.Currencies, l *LedgerService, r *ReferralService, pool *worker.Pool, clk Clock) *MiningService {
	if clk == nil {
		clk = RealClock{}
	}
	return &MiningService{cfg: cfg, atomic: a, mining: m, users: u, currencies: c, ledger: l, referrals: r, pool: pool, clock: clk}
}

type AccrualResult struct {
	Accrued    decimal.Decimal `json:"accrued"`
	DailyTotal decimal.Decimal `json:"daily_total"`
	DailyCap   decimal.Decimal `json:"daily_cap"`
	ResetAt    time.Time       `json:"reset_at"`
}

// Accrue records a mining accrual against today's quota. Either the full
// amount lands or the whole accrual is rejected; partial accrual never
// happens. Accepted accruals schedule referral reward distribution
// asynchronously, keyed by eventID so retried distributions stay idempotent.
func (s *MiningService) Accrue(ctx context.Context, userID int64, amount decimal.Decimal, eventID string) (AccrualResult, error) {
	if !amount.IsPositive() {
		return AccrualResult{}, apperr.New(apperr.CodeInvalidRequest, "amount must be positive")
	}
	if eventID == "" {
		return AccrualResult{}, apperr.New(apperr.CodeInvalidRequest, "event id required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return AccrualResult{}, err
	}
	cap, err := s.mining.DailyCap(ctx, user.Level)
	if err != nil {
		return AccrualResult{}, err
	}

	currency, err := s.currencies.GetByCode(ctx, s.cfg.MiningCurrencyCode)
	if err != nil {
		return AccrualResult{}, err
	}
	wallet, err := s.ledger.GetOrCreateWallet(ctx, userID, currency.ID)
	if err != nil {
		return AccrualResult{}, err
	}

	day, resetAt := miningDay(s.clock.Now())

	var total decimal.Decimal
	err = s.atomic.InTx(ctx, func(ctx context.Context) error {
		t, ok, err := s.mining.AccrueWithinCap(ctx, userID, day, amount, cap, resetAt)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.CodeQuotaExceeded, "daily mining cap reached")
		}
		total = t
		return s.ledger.Credit(ctx, wallet.ID, amount, "mining accrual "+eventID)
	})
	if err != nil {
		if apperr.Is(err, apperr.CodeQuotaExceeded) {
			metrics.MiningQuotaRejected.Inc()
		}
		return AccrualResult{}, err
	}

	f, _ := amount.Float64()
	metrics.MiningAccrued.Add(f)
	slog.Info("mining accrued", "user", userID, "amount", amount, "daily_total", total)

	if s.referrals != nil && s.pool != nil {
		s.pool.Submit(func() {
			if err := s.referrals.DistributeRewards(context.Background(), userID, amount, eventID); err != nil {
				slog.Error("referral distribution failed", "user", userID, "event", eventID, "error", err)
			}
		})
	}

	return AccrualResult{Accrued: amount, DailyTotal: total, DailyCap: cap, ResetAt: resetAt}, nil
}

// DailyLimit reports today's quota state without mutating anything.
func (s *MiningService) DailyLimit(ctx context.Context, userID int64) (AccrualResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return AccrualResult{}, err
	}
	cap, err := s.mining.DailyCap(ctx, user.Level)
	if err != nil {
		return AccrualResult{}, err
	}

	day, resetAt := miningDay(s.clock.Now())
	row, err := s.mining.Get(ctx, userID, day)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return AccrualResult{DailyTotal: decimal.Zero, DailyCap: cap, ResetAt: resetAt}, nil
		}
		return AccrualResult{}, err
	}
	return AccrualResult{DailyTotal: row.MiningAmount, DailyCap: cap, ResetAt: resetAt}, nil
}

// miningDay truncates to the UTC calendar day and returns the next reset.
func miningDay(now time.Time) (day, resetAt time.Time) {
	day = now.UTC().Truncate(24 * time.Hour)
	return day, day.Add(24 * time.Hour)
}
