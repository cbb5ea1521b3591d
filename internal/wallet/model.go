package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

var (
	// ErrNotFound indicates no wallet matches the lookup.
	ErrNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds occurs when a debit or hold exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOverRelease occurs when a release exceeds the held amount.
	ErrOverRelease = errors.New("release exceeds held amount")

	// ErrVirtualAccountTaken indicates the account number is already bound to another wallet.
	ErrVirtualAccountTaken = errors.New("virtual account already assigned")
)

// Op names a balance mutation.
type Op string

const (
	OpCredit  Op = "credit"
	OpDebit   Op = "debit"
	OpHold    Op = "hold"
	OpRelease Op = "release"
)

// VirtualAccount is a provider-issued deposit destination bound to one wallet.
type VirtualAccount struct {
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
}

// Wallet is a per-user, per-currency custodial balance.
type Wallet struct {
	ID             string
	UserID         string
	Currency       money.Currency
	Balance        decimal.Decimal
	Held           decimal.Decimal
	VirtualAccount *VirtualAccount
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Available is the spendable portion of the balance.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Held)
}

// apply returns the wallet after op, leaving w untouched on error.
// Both stores route every mutation through here so held <= balance holds everywhere.
func (w Wallet) apply(op Op, amount decimal.Decimal, now time.Time) (Wallet, error) {
	if err := money.ValidateAmount(amount); err != nil {
		return w, err
	}

	next := w
	switch op {
	case OpCredit:
		next.Balance = w.Balance.Add(amount)
	case OpDebit:
		if amount.GreaterThan(w.Available()) {
			return w, ErrInsufficientFunds
		}
		next.Balance = w.Balance.Sub(amount)
	case OpHold:
		if amount.GreaterThan(w.Available()) {
			return w, ErrInsufficientFunds
		}
		next.Held = w.Held.Add(amount)
	case OpRelease:
		if amount.GreaterThan(w.Held) {
			return w, ErrOverRelease
		}
		next.Held = w.Held.Sub(amount)
	default:
		return w, fmt.Errorf("unknown wallet operation %q", op)
	}
	next.UpdatedAt = now
	return next, nil
}

func newWallet(id, userID string, currency money.Currency, now time.Time) Wallet {
	return Wallet{
		ID:        id,
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Held:      decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
