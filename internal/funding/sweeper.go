package funding

import (
	"context"
	"log/slog"
	"time"

	"github.com/xchange/walletledger/internal/ledger"
	"github.com/xchange/walletledger/internal/notification"
)

const (
	sweepBatchSize = 100
	expiredReason  = "expired awaiting provider confirmation"
)

// Sweeper cancels funding transactions that stayed pending past their expiry.
type Sweeper struct {
	ledger   ledger.Store
	notifier notification.Notifier
	expiry   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper returns a sweeper; an expiry of zero disables it.
func NewSweeper(store ledger.Store, notifier notification.Notifier, expiry time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		ledger:   store,
		notifier: notifier,
		expiry:   expiry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether Run does anything.
func (s *Sweeper) Enabled() bool { return s != nil && s.expiry > 0 }

// Run cancels every stale pending funding transaction and returns how many it cancelled.
// A transaction settled concurrently by a webhook keeps that outcome.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	cutoff := s.now().Add(-s.expiry)

	cancelled := 0
	for {
		batch, err := s.ledger.ListStalePending(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return cancelled, err
		}

		progressed := false
		for _, tx := range batch {
			done, applied, err := s.ledger.Settle(ctx, tx.ID, ledger.Outcome{
				Status:        ledger.StatusCancelled,
				FailureReason: expiredReason,
			})
			if err != nil {
				s.logger.Error("sweep cancel failed", slog.String("transaction_id", tx.ID), slog.Any("error", err))
				continue
			}
			progressed = true
			if !applied {
				continue
			}
			cancelled++
			s.logger.Info("stale funding cancelled",
				slog.String("transaction_id", done.ID),
				slog.String("reference_id", done.ReferenceID),
				slog.Time("created_at", done.CreatedAt),
			)
			notification.Deliver(ctx, s.notifier, s.logger, EventFor(notification.KindFundingCancelled, done))
		}

		if len(batch) < sweepBatchSize || !progressed {
			return cancelled, nil
		}
	}
}
