package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

var (
	// ErrNotFound indicates no transaction matches the lookup.
	ErrNotFound = errors.New("transaction not found")

	// ErrDuplicateReference indicates the internal reference id already exists.
	ErrDuplicateReference = errors.New("duplicate reference id")

	// ErrDuplicateExternalReference indicates the provider reference is already
	// bound to a different transaction.
	ErrDuplicateExternalReference = errors.New("duplicate external reference id")

	// ErrInvalidTransition is returned for a target status the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrExternalReferenceLocked is returned when attaching a provider reference
	// to a settled transaction or one that already carries a different reference.
	ErrExternalReferenceLocked = errors.New("external reference cannot be changed")

	// ErrNoWallet is returned when completing a transaction that has no wallet to credit.
	ErrNoWallet = errors.New("transaction has no wallet")
)

// Type classifies the monetary intent a transaction records.
type Type string

const (
	TypeFunding       Type = "funding"
	TypeWithdrawal    Type = "withdrawal"
	TypeRemittanceIn  Type = "remittance_in"
	TypeRemittanceOut Type = "remittance_out"
	TypeP2PExchange   Type = "p2p_exchange"
	TypeEscrowDeposit Type = "escrow_deposit"
	TypeEscrowRelease Type = "escrow_release"
	TypeRefund        Type = "refund"
)

var types = []Type{
	TypeFunding, TypeWithdrawal, TypeRemittanceIn, TypeRemittanceOut,
	TypeP2PExchange, TypeEscrowDeposit, TypeEscrowRelease, TypeRefund,
}

// ParseType resolves a transaction type, case-insensitively.
func ParseType(s string) (Type, error) {
	for _, t := range types {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// Status is a node of the transaction state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusReversed   Status = "reversed"
)

var statuses = []Status{
	StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusReversed,
}

// ParseStatus resolves a status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// IsTerminal reports whether no further transition is defined out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next.
// Pending may advance to Processing or any terminal state, Processing only to
// a terminal state, and nothing leaves a terminal state.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next.IsTerminal()
	case StatusProcessing:
		return next.IsTerminal()
	}
	return false
}

// Transaction is the durable audit record of one monetary intent.
type Transaction struct {
	ID                  string
	UserID              string
	WalletID            string
	Type                Type
	Currency            money.Currency
	Amount              decimal.Decimal
	Fee                 decimal.NullDecimal
	ExchangeRate        decimal.NullDecimal
	Status              Status
	ReferenceID         string
	ExternalReferenceID string
	FailureReason       string
	Description         string
	Method              string
	CounterpartyEmail   string
	EstimatedDeliveryAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
}

// Outcome is a terminal result to apply to a transaction.
type Outcome struct {
	Status            Status
	ExternalReference string
	FailureReason     string
}

// NewReference returns a fresh, time-sortable internal reference id.
func NewReference() string {
	return "TXN" + ulid.Make().String()
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Currency money.Currency
	Type     Type
	Status   Status
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f Filter) offset() int { return (f.Page - 1) * f.PageSize }

func (f Filter) matches(t Transaction) bool {
	if f.Currency != "" && t.Currency != f.Currency {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Page is one slice of a filtered listing.
type Page struct {
	Items      []Transaction
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

func newPage(items []Transaction, total int, f Filter) Page {
	pages := 0
	if total > 0 {
		pages = (total + f.PageSize - 1) / f.PageSize
	}
	if items == nil {
		items = []Transaction{}
	}
	return Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize, TotalPages: pages}
}

// Store is the transaction ledger. Settle is the only path to a terminal
// status; a Completed settlement credits the wallet in the same atomic unit.
type Store interface {
	Create(ctx context.Context, tx Transaction) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	GetForUser(ctx context.Context, userID, id string) (Transaction, error)
	GetByReference(ctx context.Context, referenceID string) (Transaction, error)
	GetByExternalReference(ctx context.Context, externalReferenceID string) (Transaction, error)
	AttachExternalReference(ctx context.Context, id, externalReferenceID string) (Transaction, error)
	Settle(ctx context.Context, id string, outcome Outcome) (Transaction, bool, error)
	FindPendingDeposits(ctx context.Context, walletID string, amount decimal.Decimal) ([]Transaction, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error)
	List(ctx context.Context, userID string, filter Filter) (Page, error)
}

// prepare fills the fields Create owns.
func prepare(tx Transaction, id string, now time.Time) (Transaction, error) {
	if err := money.ValidateAmount(tx.Amount); err != nil {
		return tx, err
	}
	if !tx.Currency.Valid() {
		return tx, money.ErrUnsupportedCurrency
	}
	tx.ID = id
	if tx.ReferenceID == "" {
		tx.ReferenceID = NewReference()
	}
	if tx.Type == "" {
		tx.Type = TypeFunding
	}
	tx.Status = StatusPending
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx.CompletedAt = nil
	return tx, nil
}

func checkOutcome(o Outcome) error {
	if !o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, o.Status)
	}
	return nil
}

// settled returns tx after a terminal transition to o.
func settled(tx Transaction, o Outcome, now time.Time) Transaction {
	tx.Status = o.Status
	if tx.ExternalReferenceID == "" && o.ExternalReference != "" {
		tx.ExternalReferenceID = o.ExternalReference
	}
	if o.FailureReason != "" {
		tx.FailureReason = o.FailureReason
	}
	tx.UpdatedAt = now
	if o.Status == StatusCompleted {
		tx.CompletedAt = &now
	}
	return tx
}
