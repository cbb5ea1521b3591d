package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xchange/walletledger/internal/funding"
	"github.com/xchange/walletledger/internal/ledger"
	"github.com/xchange/walletledger/internal/notification"
	"github.com/xchange/walletledger/internal/wallet"
)

// Options configures optional collaborators of the Service.
type Options struct {
	Deduper  Deduper
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Service applies verified provider events to pending ledger transactions.
type Service struct {
	providers map[string]Provider
	ledger    ledger.Store
	wallets   wallet.Store
	dedup     Deduper
	notifier  notification.Notifier
	logger    *slog.Logger
}

func NewService(store ledger.Store, wallets wallet.Store, providers []Provider, opts Options) (*Service, error) {
	if store == nil || wallets == nil {
		return nil, errors.New("reconcile: ledger and wallet stores are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		byName[p.Name()] = p
	}
	return &Service{
		providers: byName,
		ledger:    store,
		wallets:   wallets,
		dedup:     opts.Deduper,
		notifier:  opts.Notifier,
		logger:    logger,
	}, nil
}

// SignatureHeader names the request header carrying the provider's signature.
func (s *Service) SignatureHeader(provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.SignatureHeader(), nil
}

// ApplyProviderEvent verifies, decodes and applies one webhook delivery.
// Replays of an already applied event report OutcomeDuplicate and never
// move money twice.
func (s *Service) ApplyProviderEvent(ctx context.Context, provider string, payload []byte, signature string) (Result, error) {
	p, ok := s.providers[provider]
	if !ok {
		return Result{}, ErrUnknownProvider
	}
	if err := p.Verify(payload, signature); err != nil {
		s.logger.Warn("webhook signature rejected", slog.String("provider", provider))
		if errors.Is(err, ErrInvalidSignature) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	ev, err := p.Parse(payload)
	if err != nil {
		return Result{}, err
	}

	log := s.logger.With(
		slog.String("provider", provider),
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
	)
	if ev.Ignored {
		log.Debug("webhook event ignored")
		return Result{Outcome: OutcomeIgnored}, nil
	}

	claimed := false
	if s.dedup != nil && ev.ID != "" {
		fresh, err := s.dedup.Claim(ctx, provider, ev.ID)
		switch {
		case err != nil:
			log.Warn("webhook dedup unavailable", slog.Any("error", err))
		case !fresh:
			log.Info("webhook event already seen")
			return Result{Outcome: OutcomeDuplicate}, nil
		default:
			claimed = true
		}
	}

	res, err := s.apply(ctx, log, ev)
	// Only a settled or already-terminal transaction makes a redelivery
	// redundant; an unmatched event must stay retryable.
	if claimed && (err != nil || res.Outcome == OutcomeNotFound) {
		s.dedup.Release(context.WithoutCancel(ctx), provider, ev.ID)
	}
	return res, err
}

func (s *Service) apply(ctx context.Context, log *slog.Logger, ev Event) (Result, error) {
	tx, err := s.match(ctx, ev)
	if errors.Is(err, ledger.ErrNotFound) {
		log.Warn("webhook event matched no transaction",
			slog.String("external_reference", ev.ExternalReference),
			slog.String("reference", ev.Reference),
			slog.String("account_number", ev.AccountNumber),
		)
		return Result{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}
	log = log.With(slog.String("transaction_id", tx.ID), slog.String("reference_id", tx.ReferenceID))

	if tx.Status.IsTerminal() {
		if tx.Status == ledger.StatusCancelled && ev.Status == EventSucceeded {
			log.Warn("provider confirmed a cancelled transaction; manual review required")
		}
		return Result{Outcome: OutcomeDuplicate, TransactionID: tx.ID}, nil
	}

	if ev.Status == EventSucceeded && !ev.Amount.IsZero() && !ev.Amount.Equal(tx.Amount) {
		log.Error("webhook amount does not match transaction",
			slog.String("event_amount", ev.Amount.String()),
			slog.String("transaction_amount", tx.Amount.String()),
		)
		return Result{Outcome: OutcomeNotFound}, nil
	}

	outcome := ledger.Outcome{Status: ledger.StatusCompleted, ExternalReference: ev.ExternalReference}
	kind := notification.KindFundingCompleted
	if ev.Status == EventFailed {
		outcome.Status = ledger.StatusFailed
		outcome.FailureReason = ev.FailureReason
		kind = notification.KindFundingFailed
	}

	settled, applied, err := s.ledger.Settle(ctx, tx.ID, outcome)
	switch {
	case errors.Is(err, ledger.ErrDuplicateExternalReference):
		log.Warn("external reference already bound to another transaction")
		return Result{Outcome: OutcomeDuplicate, TransactionID: tx.ID}, nil
	case err != nil:
		log.Error("failed to settle transaction from webhook", slog.Any("error", err))
		return Result{}, err
	case !applied:
		return Result{Outcome: OutcomeDuplicate, TransactionID: tx.ID}, nil
	}

	log.Info("transaction settled from webhook", slog.String("status", string(settled.Status)))
	notification.Deliver(ctx, s.notifier, s.logger, funding.EventFor(kind, settled))
	return Result{Outcome: OutcomeApplied, TransactionID: settled.ID}, nil
}

// match finds the transaction an event refers to: by provider reference,
// then by our own reference, then by deposit into a virtual account.
func (s *Service) match(ctx context.Context, ev Event) (ledger.Transaction, error) {
	if ev.ExternalReference != "" {
		tx, err := s.ledger.GetByExternalReference(ctx, ev.ExternalReference)
		if err == nil || !errors.Is(err, ledger.ErrNotFound) {
			return tx, err
		}
	}
	if ev.Reference != "" {
		tx, err := s.ledger.GetByReference(ctx, ev.Reference)
		if err == nil || !errors.Is(err, ledger.ErrNotFound) {
			return tx, err
		}
	}
	if ev.AccountNumber == "" || !ev.Amount.IsPositive() {
		return ledger.Transaction{}, ledger.ErrNotFound
	}

	w, err := s.wallets.FindByVirtualAccount(ctx, ev.AccountNumber)
	if errors.Is(err, wallet.ErrNotFound) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if ev.Currency != "" && ev.Currency != w.Currency {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	pending, err := s.ledger.FindPendingDeposits(ctx, w.ID, ev.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(pending) == 0 {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return pending[0], nil
}
