package funding

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/ledger"
	"github.com/xchange/walletledger/internal/money"
	"github.com/xchange/walletledger/internal/payment"
	"github.com/xchange/walletledger/internal/wallet"
)

var (
	ErrInvalidAmount            = errors.New("amount must be positive, at most 1000000000000 and have at most two decimal places")
	ErrInvalidMethodForCurrency = payment.ErrInvalidMethodForCurrency
	ErrMissingRequiredField     = errors.New("missing required field")
	ErrInvalidField             = errors.New("invalid field")
	ErrWalletCreation           = errors.New("wallet creation failed")
)

// Result codes for requests that did not complete.
const (
	CodeInvalidAmount      = "invalid_amount"
	CodeInvalidCurrency    = "unsupported_currency"
	CodeInvalidMethod      = "invalid_method_for_currency"
	CodeMissingField       = "missing_required_field"
	CodeInvalidField       = "invalid_field"
	CodeKYCRequired        = "kyc_required"
	CodePaymentFailed      = "payment_failed"
	CodeAdapterUnavailable = "adapter_unavailable"
	CodeTimedOut           = "timed_out"
)

// Request is a funding instruction from an authenticated user.
type Request struct {
	Currency        money.Currency
	Amount          decimal.Decimal
	Method          payment.Method
	CardToken       string
	PaymentMethodID string
	InteracEmail    string
	Description     string
}

// Result mirrors the ledger entry a funding request produced. Business
// rejections are reported here with Success=false and a Code.
type Result struct {
	Success             bool
	Code                string
	Message             string
	TransactionID       string
	ReferenceID         string
	ExternalReferenceID string
	Status              ledger.Status
	Currency            money.Currency
	Amount              decimal.Decimal
	PaymentURL          string
	VirtualAccount      *wallet.VirtualAccount
	EstimatedDeliveryAt *time.Time
}

func rejected(code string, err error) Result {
	return Result{Code: code, Message: err.Error()}
}

// KYCChecker answers whether a user may fund their wallets.
type KYCChecker interface {
	IsApproved(ctx context.Context, userID string) (bool, error)
}

// KYCFunc adapts a function to KYCChecker.
type KYCFunc func(ctx context.Context, userID string) (bool, error)

func (f KYCFunc) IsApproved(ctx context.Context, userID string) (bool, error) { return f(ctx, userID) }
