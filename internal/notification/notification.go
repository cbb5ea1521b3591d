package notification

import (
	"context"
	"log/slog"
	"time"
)

// Kinds of ledger outcome events.
const (
	KindFundingCompleted = "funding.completed"
	KindFundingFailed    = "funding.failed"
	KindFundingCancelled = "funding.cancelled"
)

// Event describes a ledger outcome worth telling the user about.
type Event struct {
	Kind          string    `json:"kind"`
	TransactionID string    `json:"transaction_id"`
	ReferenceID   string    `json:"reference_id"`
	UserID        string    `json:"user_id"`
	WalletID      string    `json:"wallet_id,omitempty"`
	Currency      string    `json:"currency"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier delivers events to downstream systems.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Notify writes the event to the structured logger.
func (n *LoggerNotifier) Notify(_ context.Context, e Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", e.Kind),
		slog.String("transaction_id", e.TransactionID),
		slog.String("reference_id", e.ReferenceID),
		slog.String("user_id", e.UserID),
		slog.String("amount", e.Amount),
		slog.String("currency", e.Currency),
	)
	return nil
}

// Deliver sends e and logs instead of failing when delivery does not work.
// Ledger operations call this after their state change has committed.
func Deliver(ctx context.Context, n Notifier, logger *slog.Logger, e Event) {
	if n == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := n.Notify(ctx, e); err != nil && logger != nil {
		logger.Warn("notification delivery failed",
			slog.String("kind", e.Kind),
			slog.String("transaction_id", e.TransactionID),
			slog.Any("error", err),
		)
	}
}
