package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ResetRecorder receives an audit entry for every period reset.
// The ledger implements this.
type ResetRecorder interface {
	RecordWalletReset(ctx context.Context, tenant, walletID string, previousSpent float64)
}

// Scheduler drives period resets and sweeps stale reservations.
type Scheduler struct {
	service  *Service
	recorder ResetRecorder
	logger   *slog.Logger
	cron     *cron.Cron

	// staleAfter is the horizon past which an unsettled reservation is
	// assumed abandoned and released.
	staleAfter time.Duration
}

// NewScheduler creates a reset scheduler. recorder may be nil.
func NewScheduler(service *Service, recorder ResetRecorder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		service:    service,
		recorder:   recorder,
		logger:     logger.With("component", "wallet.scheduler"),
		cron:       cron.New(),
		staleAfter: 30 * time.Minute,
	}
}

// Start registers the reset job under the given cron schedule and the
// hourly reservation sweep, then starts the scheduler.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.runReset); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 10m", s.sweepReservations); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runReset zeroes spent on every wallet whose period has arrived.
// Reserved amounts are preserved: in-flight requests continue and settle
// against the new period.
func (s *Scheduler) runReset() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wallets, err := s.service.store.List(ctx, "")
	if err != nil {
		s.logger.Error("reset: listing wallets failed", "error", err)
		return
	}

	now := nowFunc()
	for _, w := range wallets {
		if !resetDue(w.ResetPeriod, now) {
			continue
		}

		previousSpent := w.Spent
		err := s.service.store.UpdateChain(ctx, []string{w.ID}, func(chain map[string]*Wallet) error {
			node := chain[w.ID]
			node.Spent = 0
			node.NotifiedThresholds = make(map[float64]bool)
			return nil
		})
		if err != nil {
			s.logger.Error("reset: wallet update failed", "wallet_id", w.ID, "error", err)
			continue
		}

		if s.recorder != nil {
			s.recorder.RecordWalletReset(ctx, w.Tenant, w.ID, previousSpent)
		}
		s.logger.Info("wallet period reset",
			"tenant", w.Tenant,
			"wallet_id", w.ID,
			"previous_spent", previousSpent,
		)
	}
}

// resetDue reports whether a wallet with the given period resets at now.
// The scheduler fires at period boundaries, so daily wallets reset on
// every run, weekly on Mondays, monthly on the first of the month.
func resetDue(period ResetPeriod, now time.Time) bool {
	switch period {
	case ResetDaily:
		return true
	case ResetWeekly:
		return now.Weekday() == time.Monday
	case ResetMonthly, "":
		return now.Day() == 1
	default:
		return false
	}
}

// sweepReservations releases reservations that were never settled, which
// happens when a request crashes between reserve and commit.
func (s *Scheduler) sweepReservations() {
	cutoff := nowFunc().Add(-s.staleAfter)

	s.service.mu.Lock()
	var stale []*Reservation
	for _, res := range s.service.reservations {
		if res.CreatedAt.Before(cutoff) {
			stale = append(stale, res)
		}
	}
	s.service.mu.Unlock()

	for _, res := range stale {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.service.Release(ctx, res); err != nil {
			s.logger.Warn("stale reservation release failed",
				"reservation_id", res.ID,
				"wallet_id", res.WalletID,
				"error", err,
			)
		} else {
			s.logger.Warn("released stale reservation",
				"reservation_id", res.ID,
				"wallet_id", res.WalletID,
				"amount", res.Amount,
				"age", nowFunc().Sub(res.CreatedAt).String(),
			)
		}
		cancel()
	}
}
