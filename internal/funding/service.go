package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/xchange/walletledger/internal/ledger"
	"github.com/xchange/walletledger/internal/money"
	"github.com/xchange/walletledger/internal/notification"
	"github.com/xchange/walletledger/internal/payment"
	"github.com/xchange/walletledger/internal/wallet"
)

const defaultAdapterTimeout = 30 * time.Second

// Options tune a Service. Zero values pick defaults.
type Options struct {
	KYC            KYCChecker
	Notifier       notification.Notifier
	AdapterTimeout time.Duration
	Logger         *slog.Logger
}

// Service routes funding requests to payment rails and records every attempt
// in the ledger before any external call is made.
type Service struct {
	wallets        *wallet.Service
	ledger         ledger.Store
	rails          payment.Registry
	kyc            KYCChecker
	notifier       notification.Notifier
	adapterTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewService prepares a funding service.
func NewService(wallets *wallet.Service, store ledger.Store, rails payment.Registry, opts Options) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = defaultAdapterTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		wallets:        wallets,
		ledger:         store,
		rails:          rails,
		kyc:            opts.KYC,
		notifier:       opts.Notifier,
		adapterTimeout: opts.AdapterTimeout,
		logger:         opts.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// FundWallet validates req, records a pending funding transaction and
// dispatches it to the rail serving (currency, method). A non-nil error means
// infrastructure failed; business outcomes are reported in Result.
func (s *Service) FundWallet(ctx context.Context, userID string, req Request) (Result, error) {
	rail, rej := validate(req)
	if rej != nil {
		return *rej, nil
	}
	if s.kyc != nil {
		approved, err := s.kyc.IsApproved(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("kyc check: %w", err)
		}
		if !approved {
			return Result{Code: CodeKYCRequired, Message: "identity verification required before funding"}, nil
		}
	}
	adapter, err := s.rails.For(rail)
	if err != nil {
		s.logger.Error("no adapter for rail", slog.String("rail", string(rail)))
		return rejected(CodeAdapterUnavailable, err), nil
	}

	w, err := s.wallets.GetOrCreate(ctx, userID, req.Currency)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWalletCreation, err)
	}

	eta := s.now().Add(payment.SettlementETA(rail))
	tx, err := s.ledger.Create(ctx, ledger.Transaction{
		UserID:              userID,
		WalletID:            w.ID,
		Type:                ledger.TypeFunding,
		Currency:            req.Currency,
		Amount:              req.Amount,
		Method:              string(req.Method),
		Description:         describe(req),
		CounterpartyEmail:   req.InteracEmail,
		EstimatedDeliveryAt: &eta,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create transaction: %w", err)
	}

	log := s.logger.With(
		slog.String("transaction_id", tx.ID),
		slog.String("reference_id", tx.ReferenceID),
		slog.String("wallet_id", w.ID),
		slog.String("rail", string(rail)),
	)
	log.Info("funding transaction created", slog.String("amount", req.Amount.String()), slog.String("currency", string(req.Currency)))

	if rail == payment.RailVirtualAccount {
		return s.fundByDeposit(ctx, log, adapter, w, tx)
	}
	return s.fundByCharge(ctx, log, adapter, tx, req)
}

func (s *Service) fundByCharge(ctx context.Context, log *slog.Logger, adapter payment.Adapter, tx ledger.Transaction, req Request) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
	defer cancel()

	res, err := adapter.Process(callCtx, payment.Charge{
		ReferenceID:       tx.ReferenceID,
		UserID:            tx.UserID,
		Currency:          tx.Currency,
		Amount:            tx.Amount,
		CardToken:         req.CardToken,
		PaymentMethodID:   req.PaymentMethodID,
		CounterpartyEmail: req.InteracEmail,
		Description:       tx.Description,
	})
	// Ledger writes past this point must land even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		return s.adapterFailed(ctx, log, tx, err)
	}

	switch {
	case res.Success:
		done, applied, err := s.ledger.Settle(ctx, tx.ID, ledger.Outcome{
			Status:            ledger.StatusCompleted,
			ExternalReference: res.ExternalReference,
		})
		if err != nil {
			log.Error("card settlement failed", slog.Any("error", err))
			return Result{}, fmt.Errorf("settle transaction: %w", err)
		}
		if !applied {
			// Another path settled it first; report what the ledger holds.
			log.Warn("card charge succeeded on an already settled transaction", slog.String("status", string(done.Status)))
			return toResult(done, done.Status == ledger.StatusCompleted), nil
		}
		log.Info("funding completed")
		s.notify(ctx, notification.KindFundingCompleted, done)
		return toResult(done, true), nil

	case res.Pending:
		if res.ExternalReference != "" {
			if tx, err = s.ledger.AttachExternalReference(ctx, tx.ID, res.ExternalReference); err != nil {
				return Result{}, fmt.Errorf("attach external reference: %w", err)
			}
		}
		log.Info("funding awaiting provider confirmation", slog.String("external_reference", res.ExternalReference))
		out := toResult(tx, true)
		out.PaymentURL = res.RedirectURL
		if res.EstimatedDeliveryAt != nil {
			out.EstimatedDeliveryAt = res.EstimatedDeliveryAt
		}
		return out, nil
	}

	reason := res.FailureReason
	if reason == "" {
		reason = "payment declined"
	}
	failed, _, err := s.ledger.Settle(ctx, tx.ID, ledger.Outcome{
		Status:            ledger.StatusFailed,
		ExternalReference: res.ExternalReference,
		FailureReason:     reason,
	})
	if err != nil {
		return Result{}, fmt.Errorf("settle transaction: %w", err)
	}
	log.Warn("funding failed", slog.String("reason", reason))
	s.notify(ctx, notification.KindFundingFailed, failed)
	out := toResult(failed, false)
	out.Code = CodePaymentFailed
	out.Message = reason
	return out, nil
}

func (s *Service) fundByDeposit(ctx context.Context, log *slog.Logger, adapter payment.Adapter, w wallet.Wallet, tx ledger.Transaction) (Result, error) {
	if w.VirtualAccount == nil {
		callCtx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
		defer cancel()

		res, err := adapter.CreateDepositDestination(callCtx, payment.DepositRequest{
			UserID:   w.UserID,
			WalletID: w.ID,
			Currency: w.Currency,
		})
		ctx = context.WithoutCancel(ctx)
		if err == nil && res.DepositAccount == nil {
			err = fmt.Errorf("%w: no deposit account issued", payment.ErrAdapterUnavailable)
		}
		if err != nil {
			return s.adapterFailed(ctx, log, tx, err)
		}

		w, err = s.wallets.Store().SetVirtualAccount(ctx, w.ID, wallet.VirtualAccount{
			AccountNumber: res.DepositAccount.AccountNumber,
			BankName:      res.DepositAccount.BankName,
		})
		if err != nil {
			return Result{}, fmt.Errorf("assign virtual account: %w", err)
		}
		log.Info("virtual account assigned", slog.String("account_number", w.VirtualAccount.AccountNumber))
	}

	out := toResult(tx, true)
	va := *w.VirtualAccount
	out.VirtualAccount = &va
	out.Message = fmt.Sprintf("transfer %s %s to %s at %s", tx.Amount.StringFixed(money.Scale), tx.Currency, va.AccountNumber, va.BankName)
	return out, nil
}

// adapterFailed leaves the transaction pending when the call timed out, since
// the provider may still have acted on it, and fails it otherwise.
func (s *Service) adapterFailed(ctx context.Context, log *slog.Logger, tx ledger.Transaction, err error) (Result, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("payment adapter timed out, leaving transaction pending", slog.Any("error", err))
		out := toResult(tx, false)
		out.Code = CodeTimedOut
		out.Message = "payment provider did not respond in time; the transaction will be reconciled"
		return out, nil
	}

	log.Error("payment adapter failed", slog.Any("error", err))
	failed, _, settleErr := s.ledger.Settle(ctx, tx.ID, ledger.Outcome{
		Status:        ledger.StatusFailed,
		FailureReason: "payment provider unavailable",
	})
	if settleErr != nil {
		return Result{}, fmt.Errorf("settle transaction: %w", settleErr)
	}
	s.notify(ctx, notification.KindFundingFailed, failed)
	out := toResult(failed, false)
	out.Code = CodeAdapterUnavailable
	out.Message = failed.FailureReason
	return out, nil
}

func (s *Service) notify(ctx context.Context, kind string, tx ledger.Transaction) {
	notification.Deliver(ctx, s.notifier, s.logger, EventFor(kind, tx))
}

// EventFor builds the notification for a settled funding transaction.
func EventFor(kind string, tx ledger.Transaction) notification.Event {
	return notification.Event{
		Kind:          kind,
		TransactionID: tx.ID,
		ReferenceID:   tx.ReferenceID,
		UserID:        tx.UserID,
		WalletID:      tx.WalletID,
		Currency:      string(tx.Currency),
		Amount:        tx.Amount.StringFixed(money.Scale),
		Status:        string(tx.Status),
		Reason:        tx.FailureReason,
		OccurredAt:    tx.UpdatedAt,
	}
}

func validate(req Request) (payment.Rail, *Result) {
	if !req.Currency.Valid() {
		r := rejected(CodeInvalidCurrency, money.ErrUnsupportedCurrency)
		return "", &r
	}
	if err := money.ValidateAmount(req.Amount); err != nil {
		r := rejected(CodeInvalidAmount, ErrInvalidAmount)
		return "", &r
	}
	rail, err := payment.SelectRail(req.Currency, req.Method)
	if err != nil {
		r := rejected(CodeInvalidMethod, err)
		return "", &r
	}

	switch rail {
	case payment.RailCard:
		if strings.TrimSpace(req.CardToken) == "" && strings.TrimSpace(req.PaymentMethodID) == "" {
			r := rejected(CodeMissingField, fmt.Errorf("%w: card_token or payment_method_id", ErrMissingRequiredField))
			return "", &r
		}
	case payment.RailInterac:
		if strings.TrimSpace(req.InteracEmail) == "" {
			r := rejected(CodeMissingField, fmt.Errorf("%w: interac_email", ErrMissingRequiredField))
			return "", &r
		}
		if _, err := mail.ParseAddress(req.InteracEmail); err != nil {
			r := rejected(CodeInvalidField, fmt.Errorf("%w: interac_email is not a valid address", ErrInvalidField))
			return "", &r
		}
	}
	return rail, nil
}

func describe(req Request) string {
	if req.Description != "" {
		return req.Description
	}
	return fmt.Sprintf("Wallet funding via %s", strings.ReplaceAll(string(req.Method), "_", " "))
}

func toResult(tx ledger.Transaction, success bool) Result {
	return Result{
		Success:             success,
		TransactionID:       tx.ID,
		ReferenceID:         tx.ReferenceID,
		ExternalReferenceID: tx.ExternalReferenceID,
		Status:              tx.Status,
		Currency:            tx.Currency,
		Amount:              tx.Amount,
		EstimatedDeliveryAt: tx.EstimatedDeliveryAt,
	}
}
