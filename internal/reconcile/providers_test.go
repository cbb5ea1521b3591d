package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v72"

	"github.com/xchange/walletledger/internal/money"
)

func stripeSignature(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(id, typ, intentID, reference string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "api_version": %q,
  "type": %q,
  "data": {"object": {
    "id": %q,
    "object": "payment_intent",
    "amount": %d,
    "currency": "cad",
    "status": "succeeded",
    "metadata": {"reference_id": %q},
    "last_payment_error": {"message": "Your card was declined."}
  }}
}`, id, stripe.APIVersion, typ, intentID, amount, reference))
}

func TestStripeProviderVerifyAndParse(t *testing.T) {
	p := NewStripeProvider("whsec_test")
	payload := stripeEvent("evt_1", "payment_intent.succeeded", "pi_123", "TXN01", 2599)

	if err := p.Verify(payload, stripeSignature("whsec_test", payload, time.Now())); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	for name, sig := range map[string]string{
		"other secret": stripeSignature("whsec_other", payload, time.Now()),
		"empty":        "",
	} {
		if err := p.Verify(payload, sig); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}

	ev, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.ID != "evt_1" || ev.Status != EventSucceeded || ev.ExternalReference != "pi_123" || ev.Reference != "TXN01" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Currency != money.CAD || !ev.Amount.Equal(dec("25.99")) {
		t.Fatalf("amount %s %s, want 25.99 CAD", ev.Amount, ev.Currency)
	}

	failed, err := p.Parse(stripeEvent("evt_2", "payment_intent.payment_failed", "pi_9", "", 100))
	if err != nil || failed.Status != EventFailed || failed.FailureReason != "Your card was declined." {
		t.Fatalf("failed event %+v err=%v", failed, err)
	}

	other, err := p.Parse(stripeEvent("evt_3", "customer.created", "pi_9", "", 100))
	if err != nil || !other.Ignored {
		t.Fatalf("unrelated event %+v err=%v", other, err)
	}
}

func TestStripeWebhookCompletesPendingCardCharge(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	w, tx := h.pending(t, "user-1", money.CAD, "25.99", "card")
	if _, err := h.ledger.AttachExternalReference(ctx, tx.ID, "pi_pending"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	payload := stripeEvent("evt_9", "payment_intent.succeeded", "pi_pending", tx.ReferenceID, 2599)
	res, err := h.svc.ApplyProviderEvent(ctx, "stripe", payload, stripeSignature("whsec_test", payload, time.Now()))
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("ApplyProviderEvent: %+v err=%v", res, err)
	}
	if got := h.balance(t, w.ID); !got.Equal(dec("25.99")) {
		t.Fatalf("balance = %s, want 25.99", got)
	}
}

func TestFlutterwaveProviderParse(t *testing.T) {
	p := NewFlutterwaveProvider("hash")
	if err := p.Verify(nil, "hash"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := p.Verify(nil, "hashh"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("wrong hash: expected ErrInvalidSignature, got %v", err)
	}
	if err := NewFlutterwaveProvider("").Verify(nil, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("unconfigured hash: expected ErrInvalidSignature, got %v", err)
	}

	ev, err := p.Parse(flutterwaveBody(42, "FLW-42", "VA9", "1250.50", "successful"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.ID != "42" || ev.Status != EventSucceeded || ev.ExternalReference != "FLW-42" || ev.AccountNumber != "VA9" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Currency != money.NGN || !ev.Amount.Equal(dec("1250.5")) {
		t.Fatalf("amount %s %s, want 1250.5 NGN", ev.Amount, ev.Currency)
	}

	for name, body := range map[string][]byte{
		"pending charge": flutterwaveBody(43, "FLW-43", "VA9", "10", "pending"),
		"transfer":       []byte(`{"event":"transfer.completed","data":{"id":1}}`),
	} {
		ev, err := p.Parse(body)
		if err != nil || !ev.Ignored {
			t.Fatalf("%s: %+v err=%v, want ignored", name, ev, err)
		}
	}

	if _, err := p.Parse([]byte(`not json`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestHMACProviderAcceptsPrefixedSignature(t *testing.T) {
	p := NewHMACProvider("interac", "X-Interac-Signature", "s3cret")
	if p.SignatureHeader() != "X-Interac-Signature" {
		t.Fatalf("signature header %q", p.SignatureHeader())
	}
	payload := []byte(`{"reference":"TXN1","status":"completed"}`)
	sig := hex.EncodeToString(Sign([]byte("s3cret"), payload))

	for _, good := range []string{sig, "sha256=" + sig} {
		if err := p.Verify(payload, good); err != nil {
			t.Fatalf("Verify(%q): %v", good, err)
		}
	}
	if err := p.Verify(payload, "zz"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("garbage signature: expected ErrInvalidSignature, got %v", err)
	}
	if err := p.Verify([]byte(`{}`), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("signature over another body: expected ErrInvalidSignature, got %v", err)
	}

	if _, err := p.Parse([]byte(`{"status":"completed"}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
