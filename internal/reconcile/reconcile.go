package reconcile

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrUnknownProvider  = errors.New("unknown webhook provider")
)

// Outcome is the business result of applying one provider event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeIgnored   Outcome = "ignored"
)

// EventStatus is what the provider says happened to the money.
type EventStatus string

const (
	EventSucceeded EventStatus = "succeeded"
	EventFailed    EventStatus = "failed"
)

// Event is a provider notification reduced to what matching needs. Any of
// ExternalReference, Reference or AccountNumber may be empty.
type Event struct {
	ID                string
	Type              string
	Status            EventStatus
	ExternalReference string
	Reference         string
	AccountNumber     string
	Amount            decimal.Decimal
	Currency          money.Currency
	FailureReason     string
	Ignored           bool
}

// Provider verifies and decodes one provider's webhook format.
type Provider interface {
	Name() string
	SignatureHeader() string
	Verify(payload []byte, signature string) error
	Parse(payload []byte) (Event, error)
}

// Deduper remembers provider event ids that were already seen.
type Deduper interface {
	// Claim returns true the first time (provider, eventID) is seen.
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	// Release forgets a claim so a redelivery is processed again.
	Release(ctx context.Context, provider, eventID string)
}

// Result reports the outcome of one event.
type Result struct {
	Outcome       Outcome
	TransactionID string
}
