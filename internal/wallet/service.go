package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

// Service exposes wallet reads and balance mutations on top of a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Wallets lists every wallet the user holds, ordered by currency.
func (s *Service) Wallets(ctx context.Context, userID string) ([]Wallet, error) {
	return s.store.ListByUser(ctx, userID)
}

// ByCurrency returns the user's wallet for currency without creating one.
func (s *Service) ByCurrency(ctx context.Context, userID string, currency money.Currency) (Wallet, error) {
	if !currency.Valid() {
		return Wallet{}, money.ErrUnsupportedCurrency
	}
	return s.store.GetByUserAndCurrency(ctx, userID, currency)
}

// GetOrCreate returns the user's wallet for currency, creating it at zero balance.
func (s *Service) GetOrCreate(ctx context.Context, userID string, currency money.Currency) (Wallet, error) {
	if !currency.Valid() {
		return Wallet{}, money.ErrUnsupportedCurrency
	}
	return s.store.GetOrCreate(ctx, userID, currency)
}

// Get retrieves a wallet by id.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Credit(ctx context.Context, walletID string, amount decimal.Decimal) (Wallet, error) {
	return s.mutate(ctx, walletID, OpCredit, amount)
}

func (s *Service) Debit(ctx context.Context, walletID string, amount decimal.Decimal) (Wallet, error) {
	return s.mutate(ctx, walletID, OpDebit, amount)
}

func (s *Service) Hold(ctx context.Context, walletID string, amount decimal.Decimal) (Wallet, error) {
	return s.mutate(ctx, walletID, OpHold, amount)
}

func (s *Service) Release(ctx context.Context, walletID string, amount decimal.Decimal) (Wallet, error) {
	return s.mutate(ctx, walletID, OpRelease, amount)
}

func (s *Service) mutate(ctx context.Context, walletID string, op Op, amount decimal.Decimal) (Wallet, error) {
	w, err := s.store.Apply(ctx, walletID, op, amount)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrOverRelease) || errors.Is(err, money.ErrInvalidAmount) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "wallet mutation rejected",
			slog.String("wallet_id", walletID),
			slog.String("op", string(op)),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return w, err
	}
	s.logger.Debug("wallet mutated",
		slog.String("wallet_id", walletID),
		slog.String("op", string(op)),
		slog.String("amount", amount.String()),
		slog.String("balance", w.Balance.String()),
		slog.String("held", w.Held.String()),
	)
	return w, nil
}
