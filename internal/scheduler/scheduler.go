package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/korilabs/coin-ledger/internal/services"
)

// Scheduler owns the periodic jobs: re-polling submitted withdrawals and
// recomputing referral aggregates.
type Scheduler struct {
	cron      *cron.Cron
	tracker   *services.ConfirmTracker
	referrals *services.ReferralService
}

func New(tracker *services.ConfirmTracker, referrals *services.ReferralService) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		tracker:   tracker,
		referrals: referrals,
	}
}

func (s *Scheduler) Start() error {
	// every 30s: poll outstanding withdrawals for confirmation progress
	if _, err := s.cron.AddFunc("*/30 * * * * *", func() {
		if err := s.tracker.Sweep(context.Background(), 100); err != nil {
			slog.Error("confirmation sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	// every 10min: recompute direct/team counts
	if _, err := s.cron.AddFunc("0 */10 * * * *", func() {
		if err := s.referrals.RefreshStats(context.Background()); err != nil {
			slog.Error("referral stats refresh failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduler started")
	return nil
}

// Stop waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}
