package wallet

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

// Store owns wallet balances. It is the only component allowed to mutate them.
//
// Apply performs one atomic read-modify-write; concurrent calls for the same
// wallet serialize, calls for different wallets do not contend.
type Store interface {
	GetOrCreate(ctx context.Context, userID string, currency money.Currency) (Wallet, error)
	Get(ctx context.Context, id string) (Wallet, error)
	GetByUserAndCurrency(ctx context.Context, userID string, currency money.Currency) (Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]Wallet, error)
	FindByVirtualAccount(ctx context.Context, accountNumber string) (Wallet, error)
	Apply(ctx context.Context, id string, op Op, amount decimal.Decimal) (Wallet, error)
	SetVirtualAccount(ctx context.Context, id string, va VirtualAccount) (Wallet, error)
}
