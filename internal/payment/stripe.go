package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/xchange/walletledger/internal/money"
)

type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeCard charges cards by creating and confirming a Stripe PaymentIntent.
type StripeCard struct {
	intents   intentCreator
	returnURL string
}

// NewStripeCard builds the live card adapter for secretKey.
func NewStripeCard(secretKey, returnURL string) *StripeCard {
	sc := client.New(secretKey, nil)
	return &StripeCard{intents: sc.PaymentIntents, returnURL: returnURL}
}

func (*StripeCard) Rail() Rail { return RailCard }

// Process confirms the intent synchronously. The reference id doubles as the
// Stripe idempotency key so a retried charge never bills twice.
func (s *StripeCard) Process(ctx context.Context, ch Charge) (Result, error) {
	pm := ch.PaymentMethodID
	if pm == "" {
		pm = ch.CardToken
	}
	cents, err := money.MinorUnits(ch.Amount)
	if err != nil {
		return Result{FailureReason: err.Error()}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(cents),
		Currency:           stripe.String(strings.ToLower(string(ch.Currency))),
		PaymentMethod:      stripe.String(pm),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	if s.returnURL != "" {
		params.ReturnURL = stripe.String(s.returnURL)
	}
	if ch.Description != "" {
		params.Description = stripe.String(ch.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(ch.ReferenceID)
	params.AddMetadata("reference_id", ch.ReferenceID)
	params.AddMetadata("user_id", ch.UserID)

	pi, err := s.intents.New(params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode > 0 && serr.HTTPStatusCode < 500 {
			reason := serr.Msg
			if reason == "" {
				reason = string(serr.Code)
			}
			return Result{FailureReason: reason}, nil
		}
		return Result{}, fmt.Errorf("%w: stripe: %v", ErrAdapterUnavailable, err)
	}

	res := Result{ExternalReference: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Success = true
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusProcessing:
		res.Pending = true
		if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
			res.RedirectURL = pi.NextAction.RedirectToURL.URL
		}
	default:
		res.FailureReason = fmt.Sprintf("payment intent %s", pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			res.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return res, nil
}

func (*StripeCard) CreateDepositDestination(context.Context, DepositRequest) (Result, error) {
	return Result{}, ErrUnsupportedOperation
}

// Adapters returns the rail set for the configured credentials. A Stripe key
// selects the live card adapter; every other rail runs simulated.
func Adapters(stripeSecretKey, stripeReturnURL string) Registry {
	var card Adapter = SimulatedCard{}
	if stripeSecretKey != "" {
		card = NewStripeCard(stripeSecretKey, stripeReturnURL)
	}
	return NewRegistry(card, SimulatedInterac{}, SimulatedVirtualAccount{})
}
