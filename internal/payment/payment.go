package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

var (
	// ErrInvalidMethodForCurrency means no rail serves the method in that currency.
	ErrInvalidMethodForCurrency = errors.New("payment method not supported for currency")

	// ErrAdapterUnavailable wraps failures to reach a payment provider at all.
	ErrAdapterUnavailable = errors.New("payment adapter unavailable")

	// ErrUnsupportedOperation is returned by adapters for calls their rail has no use for.
	ErrUnsupportedOperation = errors.New("operation not supported by rail")
)

// Method is what the customer chose to pay with.
type Method string

const (
	MethodCard           Method = "card"
	MethodBankTransfer   Method = "bank_transfer"
	MethodVirtualAccount Method = "virtual_account"
)

// ParseMethod resolves a funding method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCard, MethodBankTransfer, MethodVirtualAccount:
		return m, nil
	}
	return "", fmt.Errorf("unknown funding method %q", s)
}

// Rail is the external mechanism that moves the money.
type Rail string

const (
	RailCard           Rail = "card"
	RailInterac        Rail = "interac"
	RailVirtualAccount Rail = "virtual_account"
)

// SelectRail maps a (currency, method) pair to its rail.
func SelectRail(currency money.Currency, method Method) (Rail, error) {
	switch {
	case currency == money.CAD && method == MethodCard:
		return RailCard, nil
	case currency == money.CAD && method == MethodBankTransfer:
		return RailInterac, nil
	case currency == money.NGN && (method == MethodBankTransfer || method == MethodVirtualAccount):
		return RailVirtualAccount, nil
	}
	return "", fmt.Errorf("%w: %s via %s", ErrInvalidMethodForCurrency, currency, method)
}

// Charge asks a rail to move Amount into the platform for ReferenceID.
type Charge struct {
	ReferenceID       string
	UserID            string
	Currency          money.Currency
	Amount            decimal.Decimal
	CardToken         string
	PaymentMethodID   string
	CounterpartyEmail string
	Description       string
}

// DepositRequest asks a rail for a destination the customer can push money to.
type DepositRequest struct {
	UserID   string
	WalletID string
	Currency money.Currency
	Email    string
	Name     string
}

// DepositAccount identifies a provider-issued account.
type DepositAccount struct {
	AccountNumber string
	BankName      string
}

// Result is the normalized outcome of one adapter call.
//
// Success means funds are confirmed. Pending means the rail accepted the
// request and confirmation arrives later by webhook. Neither set means the
// charge failed with FailureReason.
type Result struct {
	Success             bool
	Pending             bool
	ExternalReference   string
	RedirectURL         string
	DepositAccount      *DepositAccount
	FailureReason       string
	EstimatedDeliveryAt *time.Time
}

// Adapter is the uniform contract over one payment rail.
type Adapter interface {
	Rail() Rail
	Process(ctx context.Context, charge Charge) (Result, error)
	CreateDepositDestination(ctx context.Context, req DepositRequest) (Result, error)
}

// Registry resolves the adapter serving a rail.
type Registry map[Rail]Adapter

// NewRegistry indexes adapters by their rail; later adapters replace earlier ones.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Rail()] = a
	}
	return r
}

// For returns the adapter for rail.
func (r Registry) For(rail Rail) (Adapter, error) {
	a, ok := r[rail]
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: no adapter for rail %s", ErrAdapterUnavailable, rail)
	}
	return a, nil
}
