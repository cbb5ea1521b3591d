package funding

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/ledger"
	"github.com/xchange/walletledger/internal/logging"
	"github.com/xchange/walletledger/internal/money"
	"github.com/xchange/walletledger/internal/notification"
	"github.com/xchange/walletledger/internal/payment"
	"github.com/xchange/walletledger/internal/wallet"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notification.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type stubAdapter struct {
	rail   payment.Rail
	result payment.Result
	err    error
	block  bool

	mu       sync.Mutex
	charges  []payment.Charge
	deposits int
}

func (s *stubAdapter) Rail() payment.Rail { return s.rail }

func (s *stubAdapter) Process(ctx context.Context, ch payment.Charge) (payment.Result, error) {
	s.mu.Lock()
	s.charges = append(s.charges, ch)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return payment.Result{}, ctx.Err()
	}
	return s.result, s.err
}

func (s *stubAdapter) CreateDepositDestination(ctx context.Context, _ payment.DepositRequest) (payment.Result, error) {
	s.mu.Lock()
	s.deposits++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return payment.Result{}, ctx.Err()
	}
	return s.result, s.err
}

type harness struct {
	svc      *Service
	wallets  *wallet.Service
	ledger   ledger.Store
	notifier *recordingNotifier
}

func newHarness(t *testing.T, opts Options, adapters ...payment.Adapter) harness {
	t.Helper()
	ws := wallet.NewService(wallet.NewMemoryStore(), logging.Discard())
	ls := ledger.NewMemoryStore(ws.Store())
	n := &recordingNotifier{}

	rails := payment.NewRegistry(payment.SimulatedCard{}, payment.SimulatedInterac{}, payment.SimulatedVirtualAccount{})
	for _, a := range adapters {
		rails[a.Rail()] = a
	}
	opts.Notifier = n
	opts.Logger = logging.Discard()
	svc, err := NewService(ws, ls, rails, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return harness{svc: svc, wallets: ws, ledger: ls, notifier: n}
}

func (h harness) transactions(t *testing.T, userID string) []ledger.Transaction {
	t.Helper()
	page, err := h.ledger.List(context.Background(), userID, ledger.Filter{PageSize: ledger.MaxPageSize})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return page.Items
}

func (h harness) fund(t *testing.T, userID string, req Request) Result {
	t.Helper()
	res, err := h.svc.FundWallet(context.Background(), userID, req)
	if err != nil {
		t.Fatalf("FundWallet: %v", err)
	}
	return res
}

func (h harness) wallet(t *testing.T, userID string, cur money.Currency) wallet.Wallet {
	t.Helper()
	w, err := h.wallets.ByCurrency(context.Background(), userID, cur)
	if err != nil {
		t.Fatalf("wallet %s/%s: %v", userID, cur, err)
	}
	return w
}

func (h harness) transaction(t *testing.T, id string) ledger.Transaction {
	t.Helper()
	tx, err := h.ledger.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	return tx
}

func (h harness) assertNotified(t *testing.T, kinds ...string) {
	t.Helper()
	if got := h.notifier.kinds(); !slices.Equal(got, kinds) {
		t.Fatalf("notifications %v, want %v", got, kinds)
	}
}

func cardRequest(amount string) Request {
	return Request{Currency: money.CAD, Amount: dec(amount), Method: payment.MethodCard, PaymentMethodID: "pm_card_visa"}
}

func TestFundCardCompletes(t *testing.T) {
	h := newHarness(t, Options{})

	res := h.fund(t, "user-1", cardRequest("100.00"))
	if !res.Success || res.Status != ledger.StatusCompleted || res.ReferenceID == "" || res.ExternalReferenceID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	w := h.wallet(t, "user-1", money.CAD)
	if !w.Balance.Equal(dec("100.00")) || !w.Held.IsZero() {
		t.Fatalf("wallet balance=%s held=%s", w.Balance, w.Held)
	}

	tx := h.transaction(t, res.TransactionID)
	if tx.Status != ledger.StatusCompleted || tx.CompletedAt == nil {
		t.Fatalf("transaction %+v", tx)
	}
	h.assertNotified(t, notification.KindFundingCompleted)
}

func TestFundCardDeclined(t *testing.T) {
	card := &stubAdapter{rail: payment.RailCard, result: payment.Result{FailureReason: "card declined", ExternalReference: "pi_x"}}
	h := newHarness(t, Options{}, card)

	res := h.fund(t, "user-1", cardRequest("20.00"))
	if res.Success || res.Code != CodePaymentFailed || res.Status != ledger.StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if tx := h.transaction(t, res.TransactionID); tx.FailureReason != "card declined" {
		t.Fatalf("failure reason %q", tx.FailureReason)
	}
	if w := h.wallet(t, "user-1", money.CAD); !w.Balance.IsZero() {
		t.Fatalf("declined card credited %s", w.Balance)
	}
	h.assertNotified(t, notification.KindFundingFailed)
}

// racingAdapter cancels the transaction through the ledger before reporting a
// successful charge, as a sweeper running mid-call would.
type racingAdapter struct {
	ledger ledger.Store
}

func (racingAdapter) Rail() payment.Rail { return payment.RailCard }

func (r racingAdapter) Process(ctx context.Context, ch payment.Charge) (payment.Result, error) {
	tx, err := r.ledger.GetByReference(ctx, ch.ReferenceID)
	if err != nil {
		return payment.Result{}, err
	}
	if _, _, err := r.ledger.Settle(ctx, tx.ID, ledger.Outcome{Status: ledger.StatusCancelled, FailureReason: "expired"}); err != nil {
		return payment.Result{}, err
	}
	return payment.Result{Success: true, ExternalReference: "pi_late"}, nil
}

func (racingAdapter) CreateDepositDestination(context.Context, payment.DepositRequest) (payment.Result, error) {
	return payment.Result{}, payment.ErrAdapterUnavailable
}

func TestFundCardSuccessAfterSettlementReportsLedgerStatus(t *testing.T) {
	h := newHarness(t, Options{})
	h.svc.rails[payment.RailCard] = racingAdapter{ledger: h.ledger}

	res := h.fund(t, "user-1", cardRequest("20.00"))
	if res.Success || res.Status != ledger.StatusCancelled {
		t.Fatalf("unexpected result %+v", res)
	}
	if w := h.wallet(t, "user-1", money.CAD); !w.Balance.IsZero() {
		t.Fatalf("cancelled transaction credited %s", w.Balance)
	}
	h.assertNotified(t)
}

func TestFundCardAdapterUnavailableFails(t *testing.T) {
	card := &stubAdapter{rail: payment.RailCard, err: errors.Join(payment.ErrAdapterUnavailable, errors.New("dial tcp"))}
	h := newHarness(t, Options{}, card)

	res := h.fund(t, "user-1", cardRequest("20.00"))
	if res.Code != CodeAdapterUnavailable || res.Status != ledger.StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFundCardTimeoutStaysPending(t *testing.T) {
	card := &stubAdapter{rail: payment.RailCard, block: true}
	h := newHarness(t, Options{AdapterTimeout: 20 * time.Millisecond}, card)

	res := h.fund(t, "user-1", cardRequest("20.00"))
	if res.Success || res.Code != CodeTimedOut || res.Status != ledger.StatusPending {
		t.Fatalf("unexpected result %+v", res)
	}
	if tx := h.transaction(t, res.TransactionID); tx.Status != ledger.StatusPending {
		t.Fatalf("status %s, want pending", tx.Status)
	}
	h.assertNotified(t)
}

func TestFundCardRequiresAction(t *testing.T) {
	card := &stubAdapter{rail: payment.RailCard, result: payment.Result{
		Pending:           true,
		ExternalReference: "pi_3ds",
		RedirectURL:       "https://hooks.stripe.com/3ds",
	}}
	h := newHarness(t, Options{}, card)

	res := h.fund(t, "user-1", cardRequest("55.00"))
	if !res.Success || res.Status != ledger.StatusPending || res.PaymentURL != "https://hooks.stripe.com/3ds" {
		t.Fatalf("unexpected result %+v", res)
	}

	tx, err := h.ledger.GetByExternalReference(context.Background(), "pi_3ds")
	if err != nil || tx.ID != res.TransactionID {
		t.Fatalf("GetByExternalReference: id=%s err=%v, want %s", tx.ID, err, res.TransactionID)
	}
}

func TestFundCardChargeCarriesReference(t *testing.T) {
	card := &stubAdapter{rail: payment.RailCard, result: payment.Result{Success: true, ExternalReference: "pi_ok"}}
	h := newHarness(t, Options{}, card)

	res := h.fund(t, "user-1", cardRequest("12.34"))
	if len(card.charges) != 1 {
		t.Fatalf("%d charges, want 1", len(card.charges))
	}
	ch := card.charges[0]
	if ch.ReferenceID != res.ReferenceID || !ch.Amount.Equal(dec("12.34")) || ch.PaymentMethodID != "pm_card_visa" {
		t.Fatalf("unexpected charge %+v", ch)
	}
}

func TestFundNGNBankTransferIssuesVirtualAccountOnce(t *testing.T) {
	h := newHarness(t, Options{})

	first := h.fund(t, "user-1", Request{Currency: money.NGN, Amount: dec("5000.00"), Method: payment.MethodBankTransfer})
	if !first.Success || first.Status != ledger.StatusPending || first.VirtualAccount == nil || first.EstimatedDeliveryAt == nil {
		t.Fatalf("unexpected result %+v", first)
	}
	if first.VirtualAccount.BankName != payment.SimulatedBankName {
		t.Fatalf("bank name %q", first.VirtualAccount.BankName)
	}

	w := h.wallet(t, "user-1", money.NGN)
	if !w.Balance.IsZero() || w.VirtualAccount == nil || w.VirtualAccount.AccountNumber != first.VirtualAccount.AccountNumber {
		t.Fatalf("wallet %+v", w)
	}

	second := h.fund(t, "user-1", Request{Currency: money.NGN, Amount: dec("10.00"), Method: payment.MethodVirtualAccount})
	if second.VirtualAccount == nil || second.VirtualAccount.AccountNumber != first.VirtualAccount.AccountNumber {
		t.Fatalf("second request issued another account: %+v", second.VirtualAccount)
	}
	if second.TransactionID == first.TransactionID {
		t.Fatalf("second request reused transaction %s", first.TransactionID)
	}
}

func TestFundVirtualAccountIssueCountsOnce(t *testing.T) {
	va := &stubAdapter{rail: payment.RailVirtualAccount, result: payment.Result{
		DepositAccount: &payment.DepositAccount{AccountNumber: "VA2024010100000001", BankName: "Test Bank"},
	}}
	h := newHarness(t, Options{}, va)
	req := Request{Currency: money.NGN, Amount: dec("1.00"), Method: payment.MethodBankTransfer}

	for i := 0; i < 3; i++ {
		h.fund(t, "user-1", req)
	}
	if va.deposits != 1 {
		t.Fatalf("%d deposit destinations requested, want 1", va.deposits)
	}
}

func TestFundInteracRegistersPending(t *testing.T) {
	h := newHarness(t, Options{})

	res := h.fund(t, "user-1", Request{
		Currency: money.CAD, Amount: dec("75.00"), Method: payment.MethodBankTransfer, InteracEmail: "payer@example.com",
	})
	if !res.Success || res.Status != ledger.StatusPending || res.ExternalReferenceID == "" || res.EstimatedDeliveryAt == nil {
		t.Fatalf("unexpected result %+v", res)
	}

	tx := h.transaction(t, res.TransactionID)
	if tx.CounterpartyEmail != "payer@example.com" || tx.ExternalReferenceID != res.ExternalReferenceID {
		t.Fatalf("transaction %+v", tx)
	}
}

func TestFundValidationHasNoSideEffects(t *testing.T) {
	h := newHarness(t, Options{})

	cases := map[string]struct {
		req  Request
		code string
	}{
		"card for NGN":        {Request{Currency: money.NGN, Amount: dec("10"), Method: payment.MethodCard, CardToken: "tok_visa"}, CodeInvalidMethod},
		"virtual account CAD": {Request{Currency: money.CAD, Amount: dec("10"), Method: payment.MethodVirtualAccount}, CodeInvalidMethod},
		"zero amount":         {Request{Currency: money.CAD, Amount: dec("0"), Method: payment.MethodCard, CardToken: "tok_visa"}, CodeInvalidAmount},
		"negative amount":     {Request{Currency: money.CAD, Amount: dec("-5"), Method: payment.MethodCard, CardToken: "tok_visa"}, CodeInvalidAmount},
		"sub-cent amount":     {Request{Currency: money.CAD, Amount: dec("1.001"), Method: payment.MethodCard, CardToken: "tok_visa"}, CodeInvalidAmount},
		"card without token":  {Request{Currency: money.CAD, Amount: dec("10"), Method: payment.MethodCard}, CodeMissingField},
		"interac no email":    {Request{Currency: money.CAD, Amount: dec("10"), Method: payment.MethodBankTransfer}, CodeMissingField},
		"interac bad email":   {Request{Currency: money.CAD, Amount: dec("10"), Method: payment.MethodBankTransfer, InteracEmail: "nope"}, CodeInvalidField},
		"amount over maximum": {Request{Currency: money.NGN, Amount: dec("1000000000000.01"), Method: payment.MethodBankTransfer}, CodeInvalidAmount},
		"unknown currency":    {Request{Currency: money.Currency("USD"), Amount: dec("10"), Method: payment.MethodCard}, CodeInvalidCurrency},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := h.fund(t, "user-1", tc.req)
			if res.Success || res.Code != tc.code || res.TransactionID != "" {
				t.Fatalf("got success=%v code=%q tx=%q, want code %q", res.Success, res.Code, res.TransactionID, tc.code)
			}
		})
	}

	if txs := h.transactions(t, "user-1"); len(txs) != 0 {
		t.Fatalf("rejected requests left %d transactions", len(txs))
	}
	wallets, err := h.wallets.Wallets(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Wallets: %v", err)
	}
	if len(wallets) != 0 {
		t.Fatalf("rejected requests created %d wallets", len(wallets))
	}
}

func TestFundKYCGate(t *testing.T) {
	kyc := KYCFunc(func(_ context.Context, userID string) (bool, error) { return userID == "verified", nil })
	h := newHarness(t, Options{KYC: kyc})

	if res := h.fund(t, "unverified", cardRequest("10.00")); res.Code != CodeKYCRequired {
		t.Fatalf("code %q, want %q", res.Code, CodeKYCRequired)
	}
	if txs := h.transactions(t, "unverified"); len(txs) != 0 {
		t.Fatalf("kyc rejection left %d transactions", len(txs))
	}
	if res := h.fund(t, "verified", cardRequest("10.00")); !res.Success {
		t.Fatalf("verified user rejected: %+v", res)
	}

	broken := newHarness(t, Options{KYC: KYCFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("kyc service down")
	})})
	if _, err := broken.svc.FundWallet(context.Background(), "verified", cardRequest("10.00")); err == nil {
		t.Fatalf("expected an error when kyc is unavailable")
	}
}

func TestFundConcurrentCardRequests(t *testing.T) {
	h := newHarness(t, Options{})

	const workers = 20
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			res, err := h.svc.FundWallet(context.Background(), "user-1", cardRequest("5.00"))
			if err == nil && !res.Success {
				err = errors.New(res.Message)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent funding: %v", err)
		}
	}

	if w := h.wallet(t, "user-1", money.CAD); !w.Balance.Equal(dec("100.00")) {
		t.Fatalf("balance = %s, want 100.00", w.Balance)
	}
	if txs := h.transactions(t, "user-1"); len(txs) != workers {
		t.Fatalf("%d transactions, want %d", len(txs), workers)
	}
}
