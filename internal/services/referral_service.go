package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/metrics"
	"github.com/korilabs/coin-ledger/internal/models"
	repo "github.com/korilabs/coin-ledger/internal/repository"
)

// ReferralService maintains the referral graph and pays out mining rewards
// up the referrer chain. Rewards come out of the treasury account, never
// minted from nothing.
type ReferralService struct {
	cfg       config.Config
	referrals repo.Referrals
	users     repo.Users
	transfers *TransferService
}

func NewReferralService(cfg config.Config, r repo.Referrals, u repo.Users, t *TransferService) *ReferralService {
	return &ReferralService{cfg: cfg, referrals: r, users: u, transfers: t}
}

// Register links referredID under the owner of code. A user has at most one
// referrer, ever; self-referral and re-registration are rejected.
func (s *ReferralService) Register(ctx context.Context, referredID int64, code string) error {
	referrer, err := s.users.GetByReferralCode(ctx, code)
	if err != nil {
		return err
	}
	if referrer.ID == referredID {
		return apperr.New(apperr.CodeInvalidRequest, "cannot refer yourself")
	}
	exists, err := s.referrals.HasRelation(ctx, referredID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.New(apperr.CodeConflict, "user already has a referrer")
	}
	if err := s.referrals.CreateRelation(ctx, referrer.ID, referredID, 1); err != nil {
		return err
	}
	slog.Info("referral registered", "referrer", referrer.ID, "referred", referredID)
	return nil
}

// Unlink soft-deletes the relation and refreshes the former referrer's
// aggregates.
func (s *ReferralService) Unlink(ctx context.Context, referredID int64) error {
	referrerID, err := s.referrals.SoftDeleteRelation(ctx, referredID)
	if err != nil {
		return err
	}
	return s.refreshOne(ctx, referrerID)
}

// DistributeRewards pays the referrer chain for one accepted mining accrual.
// Level L up from the miner receives accrued * baseRate * decay^(L-1),
// truncated to 18 places. Each payout is an idempotent treasury transfer
// keyed by (eventID, beneficiary), so a re-run after a partial failure pays
// nobody twice.
func (s *ReferralService) DistributeRewards(ctx context.Context, minerID int64, accrued decimal.Decimal, eventID string) error {
	miningCurrency := s.cfg.MiningCurrencyCode
	rate := s.cfg.ReferralBaseRate

	current := minerID
	for level := 1; level <= s.cfg.ReferralMaxDepth; level++ {
		referrerID, ok, err := s.referrals.GetReferrer(ctx, current)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		reward := accrued.Mul(rate).Truncate(18)
		if reward.LessThan(s.cfg.MinTransferAmount) || referrerID == s.cfg.TreasuryUserID {
			current = referrerID
			rate = rate.Mul(s.cfg.ReferralDecay)
			continue
		}

		idemKey := fmt.Sprintf("reward:%s:%d", eventID, referrerID)
		_, fresh, err := s.transfers.initiateInternalKind(ctx, models.KindReferralReward, s.cfg.TreasuryUserID, InternalTransferParams{
			ReceiverType:  ReceiverTypeUserID,
			ReceiverValue: strconv.FormatInt(referrerID, 10),
			CurrencyCode:  miningCurrency,
			Amount:        reward,
			Memo:          "referral reward level " + strconv.Itoa(level),
		}, idemKey)
		if err != nil {
			return err
		}
		if fresh {
			if err := s.referrals.AddReward(ctx, referrerID, reward); err != nil {
				return err
			}
			f, _ := reward.Float64()
			metrics.ReferralRewards.Add(f)
			slog.Debug("referral reward paid", "referrer", referrerID, "level", level, "reward", reward)
		}

		current = referrerID
		rate = rate.Mul(s.cfg.ReferralDecay)
	}
	return nil
}

// Stats returns the cached aggregates; a user with no referral activity gets
// zeroes, not an error.
func (s *ReferralService) Stats(ctx context.Context, userID int64) (models.ReferralStats, error) {
	return s.referrals.GetStats(ctx, userID)
}

// RefreshStats recomputes direct and team counts for every referrer. Run
// periodically; reward totals are maintained incrementally and untouched
// here.
func (s *ReferralService) RefreshStats(ctx context.Context) error {
	ids, err := s.referrals.ListReferrerIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.refreshOne(ctx, id); err != nil {
			slog.Error("referral stats refresh failed", "user", id, "error", err)
		}
	}
	return nil
}

func (s *ReferralService) refreshOne(ctx context.Context, userID int64) error {
	direct, err := s.referrals.DirectCount(ctx, userID)
	if err != nil {
		return err
	}
	team, err := s.referrals.ActiveTeamCount(ctx, userID)
	if err != nil {
		return err
	}
	return s.referrals.UpsertStats(ctx, userID, direct, team)
}
