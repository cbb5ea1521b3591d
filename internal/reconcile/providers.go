package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/xchange/walletledger/internal/money"
)

// StripeProvider handles Stripe PaymentIntent webhooks.
type StripeProvider struct {
	secret string
}

func NewStripeProvider(signingSecret string) *StripeProvider {
	return &StripeProvider{secret: signingSecret}
}

func (*StripeProvider) Name() string            { return "stripe" }
func (*StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

func (p *StripeProvider) Verify(payload []byte, signature string) error {
	if p.secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, signature, p.secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (p *StripeProvider) Parse(payload []byte) (Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	out := Event{ID: evt.ID, Type: evt.Type}

	switch evt.Type {
	case "payment_intent.succeeded":
		out.Status = EventSucceeded
	case "payment_intent.payment_failed":
		out.Status = EventFailed
	default:
		out.Ignored = true
		return out, nil
	}
	if evt.Data == nil {
		return Event{}, fmt.Errorf("%w: missing data object", ErrMalformedPayload)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil || pi.ID == "" {
		return Event{}, fmt.Errorf("%w: payment intent object", ErrMalformedPayload)
	}
	out.ExternalReference = pi.ID
	out.Reference = pi.Metadata["reference_id"]
	out.Amount = decimal.New(pi.Amount, -money.Scale)
	out.Currency = money.Currency(strings.ToUpper(string(pi.Currency)))
	if out.Status == EventFailed {
		out.FailureReason = "card payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			out.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return out, nil
}

// FlutterwaveProvider handles Flutterwave charge webhooks, including bank
// transfers into issued virtual accounts.
type FlutterwaveProvider struct {
	secretHash string
}

func NewFlutterwaveProvider(secretHash string) *FlutterwaveProvider {
	return &FlutterwaveProvider{secretHash: secretHash}
}

func (*FlutterwaveProvider) Name() string            { return "flutterwave" }
func (*FlutterwaveProvider) SignatureHeader() string { return "verif-hash" }

// Verify compares the shared secret hash Flutterwave echoes in verif-hash.
func (p *FlutterwaveProvider) Verify(_ []byte, signature string) error {
	if p.secretHash == "" || subtle.ConstantTimeCompare([]byte(signature), []byte(p.secretHash)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

type flutterwavePayload struct {
	Event string `json:"event"`
	Data  struct {
		ID            json.Number `json:"id"`
		TxRef         string      `json:"tx_ref"`
		FlwRef        string      `json:"flw_ref"`
		Amount        json.Number `json:"amount"`
		Currency      string      `json:"currency"`
		Status        string      `json:"status"`
		AccountNumber string      `json:"account_number"`
		ProcessorResp string      `json:"processor_response"`
	} `json:"data"`
}

func (p *FlutterwaveProvider) Parse(payload []byte) (Event, error) {
	var body flutterwavePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	d := body.Data
	out := Event{
		ID:                d.ID.String(),
		Type:              body.Event,
		ExternalReference: d.FlwRef,
		Reference:         d.TxRef,
		AccountNumber:     d.AccountNumber,
		Currency:          money.Currency(strings.ToUpper(d.Currency)),
	}
	if out.ID == "" {
		out.ID = d.FlwRef
	}
	if body.Event != "charge.completed" {
		out.Ignored = true
		return out, nil
	}

	switch strings.ToLower(d.Status) {
	case "successful":
		out.Status = EventSucceeded
	case "failed":
		out.Status = EventFailed
		out.FailureReason = d.ProcessorResp
		if out.FailureReason == "" {
			out.FailureReason = "transfer failed"
		}
	default:
		out.Ignored = true
		return out, nil
	}

	if d.FlwRef == "" && d.TxRef == "" && d.AccountNumber == "" {
		return Event{}, fmt.Errorf("%w: no reference", ErrMalformedPayload)
	}
	if d.Amount != "" {
		amt, err := decimal.NewFromString(d.Amount.String())
		if err != nil {
			return Event{}, fmt.Errorf("%w: amount: %v", ErrMalformedPayload, err)
		}
		out.Amount = amt
	}
	return out, nil
}

// HMACProvider verifies a hex HMAC-SHA256 of the raw body and decodes a
// generic transfer notification. The Interac bridge speaks this format.
type HMACProvider struct {
	name   string
	header string
	secret []byte
}

func NewHMACProvider(name, header, secret string) *HMACProvider {
	if header == "" {
		header = "X-Signature"
	}
	return &HMACProvider{name: name, header: header, secret: []byte(secret)}
}

func (p *HMACProvider) Name() string            { return p.name }
func (p *HMACProvider) SignatureHeader() string { return p.header }

func (p *HMACProvider) Verify(payload []byte, signature string) error {
	if len(p.secret) == 0 {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil || !hmac.Equal(got, Sign(p.secret, payload)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

type hmacPayload struct {
	EventID           string          `json:"event_id"`
	Reference         string          `json:"reference"`
	ExternalReference string          `json:"external_reference"`
	Status            string          `json:"status"`
	Reason            string          `json:"reason"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
}

func (p *HMACProvider) Parse(payload []byte) (Event, error) {
	var body hmacPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.Reference == "" && body.ExternalReference == "" {
		return Event{}, fmt.Errorf("%w: no reference", ErrMalformedPayload)
	}
	out := Event{
		ID:                body.EventID,
		Type:              body.Status,
		Reference:         body.Reference,
		ExternalReference: body.ExternalReference,
		Amount:            body.Amount,
		Currency:          money.Currency(strings.ToUpper(body.Currency)),
	}
	switch strings.ToLower(body.Status) {
	case "completed", "succeeded", "deposited":
		out.Status = EventSucceeded
	case "failed", "declined", "cancelled", "expired":
		out.Status = EventFailed
		out.FailureReason = body.Reason
		if out.FailureReason == "" {
			out.FailureReason = "transfer " + strings.ToLower(body.Status)
		}
	default:
		out.Ignored = true
	}
	return out, nil
}
