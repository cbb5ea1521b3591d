package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
	"github.com/xchange/walletledger/internal/wallet"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	wallets wallet.Store
	store   Store
	wallet  wallet.Wallet
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ws := wallet.NewMemoryStore()
	w, err := ws.GetOrCreate(context.Background(), "user-1", money.NGN)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	s := NewMemoryStore(ws).(*memoryStore)
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = c.Now
	return fixture{wallets: ws, store: s, wallet: w}
}

func (f fixture) memory() *memoryStore { return f.store.(*memoryStore) }

func (f fixture) pending(t *testing.T, amount string) Transaction {
	t.Helper()
	tx, err := f.store.Create(context.Background(), Transaction{
		UserID:   f.wallet.UserID,
		WalletID: f.wallet.ID,
		Type:     TypeFunding,
		Currency: f.wallet.Currency,
		Amount:   dec(amount),
	})
	if err != nil {
		t.Fatalf("create pending %s: %v", amount, err)
	}
	return tx
}

func (f fixture) assertBalance(t *testing.T, want string) {
	t.Helper()
	w, err := f.wallets.Get(context.Background(), f.wallet.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !w.Balance.Equal(dec(want)) {
		t.Fatalf("balance = %s, want %s", w.Balance, want)
	}
}

func (f fixture) settle(t *testing.T, id string, o Outcome) (Transaction, bool) {
	t.Helper()
	tx, applied, err := f.store.Settle(context.Background(), id, o)
	if err != nil {
		t.Fatalf("settle %s as %s: %v", id, o.Status, err)
	}
	return tx, applied
}

// testSettlement runs the creation and settlement behaviour every Store
// shares, each case against a fresh fixture.
func testSettlement(t *testing.T, newFixture func(t *testing.T) fixture) {
	cases := []struct {
		name string
		run  func(t *testing.T, f fixture)
	}{
		{"create starts pending", testCreateStartsPending},
		{"completed credits once", testSettleCompletedCreditsOnce},
		{"failed does not credit", testSettleFailedDoesNotCredit},
		{"rejects non-terminal outcome", testSettleRejectsNonTerminal},
		{"external reference is unique", testExternalReferenceIsUnique},
		{"concurrent settle applies once", testConcurrentSettleAppliesOnce},
		{"pending deposits oldest first", testFindPendingDepositsOldestFirst},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) { tc.run(t, newFixture(t)) })
	}
}

func TestMemorySettlement(t *testing.T) {
	testSettlement(t, newFixture)
}

func testCreateStartsPending(t *testing.T, f fixture) {
	ctx := context.Background()
	tx := f.pending(t, "25.00")
	if tx.Status != StatusPending || tx.ID == "" || tx.ReferenceID == "" || tx.CompletedAt != nil {
		t.Fatalf("unexpected new transaction %+v", tx)
	}

	byRef, err := f.store.GetByReference(ctx, tx.ReferenceID)
	if err != nil || byRef.ID != tx.ID {
		t.Fatalf("GetByReference: id=%s err=%v, want %s", byRef.ID, err, tx.ID)
	}

	_, err = f.store.Create(ctx, Transaction{
		UserID: f.wallet.UserID, Currency: money.NGN, Amount: dec("1.00"), ReferenceID: tx.ReferenceID,
	})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	_, err = f.store.Create(ctx, Transaction{UserID: f.wallet.UserID, Currency: money.NGN, Amount: dec("0")})
	if !errors.Is(err, money.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func testSettleCompletedCreditsOnce(t *testing.T, f fixture) {
	ctx := context.Background()
	tx := f.pending(t, "40.00")
	ext := "FLW-" + tx.ReferenceID

	done, applied := f.settle(t, tx.ID, Outcome{Status: StatusCompleted, ExternalReference: ext})
	if !applied || done.Status != StatusCompleted || done.CompletedAt == nil || done.ExternalReferenceID != ext {
		t.Fatalf("first settle: applied=%v tx=%+v", applied, done)
	}
	f.assertBalance(t, "40.00")

	if again, applied := f.settle(t, tx.ID, Outcome{Status: StatusCompleted}); applied || again.Status != StatusCompleted {
		t.Fatalf("repeat settle: applied=%v status=%s", applied, again.Status)
	}
	if _, applied := f.settle(t, tx.ID, Outcome{Status: StatusFailed, FailureReason: "late"}); applied {
		t.Fatalf("a later failure overwrote a completed transaction")
	}

	final, err := f.store.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusCompleted || final.FailureReason != "" {
		t.Fatalf("final transaction %+v", final)
	}
	f.assertBalance(t, "40.00")

	byExt, err := f.store.GetByExternalReference(ctx, ext)
	if err != nil || byExt.ID != tx.ID {
		t.Fatalf("GetByExternalReference: id=%s err=%v, want %s", byExt.ID, err, tx.ID)
	}
}

func testSettleFailedDoesNotCredit(t *testing.T, f fixture) {
	tx := f.pending(t, "40.00")

	done, applied := f.settle(t, tx.ID, Outcome{Status: StatusFailed, FailureReason: "declined"})
	if !applied || done.FailureReason != "declined" || done.CompletedAt != nil {
		t.Fatalf("failed settle: applied=%v tx=%+v", applied, done)
	}
	f.assertBalance(t, "0")
}

func testSettleRejectsNonTerminal(t *testing.T, f fixture) {
	ctx := context.Background()
	tx := f.pending(t, "1.00")
	if _, _, err := f.store.Settle(ctx, tx.ID, Outcome{Status: StatusProcessing}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, _, err := f.store.Settle(ctx, "missing", Outcome{Status: StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testExternalReferenceIsUnique(t *testing.T, f fixture) {
	ctx := context.Background()
	a := f.pending(t, "1.00")
	b := f.pending(t, "2.00")
	ref := "REF-" + a.ReferenceID

	if _, err := f.store.AttachExternalReference(ctx, a.ID, ref); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := f.store.AttachExternalReference(ctx, a.ID, ref); err != nil {
		t.Fatalf("re-attaching the same reference: %v", err)
	}
	if _, err := f.store.AttachExternalReference(ctx, b.ID, ref); !errors.Is(err, ErrDuplicateExternalReference) {
		t.Fatalf("expected ErrDuplicateExternalReference, got %v", err)
	}
	if _, err := f.store.AttachExternalReference(ctx, a.ID, ref+"-OTHER"); !errors.Is(err, ErrExternalReferenceLocked) {
		t.Fatalf("expected ErrExternalReferenceLocked, got %v", err)
	}

	// The credit and the status change roll back together.
	if _, _, err := f.store.Settle(ctx, b.ID, Outcome{Status: StatusCompleted, ExternalReference: ref}); !errors.Is(err, ErrDuplicateExternalReference) {
		t.Fatalf("expected ErrDuplicateExternalReference, got %v", err)
	}
	f.assertBalance(t, "0")
	got, err := f.store.Get(ctx, b.ID)
	if err != nil || got.Status != StatusPending {
		t.Fatalf("transaction after rejected settle: status=%s err=%v", got.Status, err)
	}
}

func testConcurrentSettleAppliesOnce(t *testing.T, f fixture) {
	tx := f.pending(t, "10.00")

	const workers = 16
	type result struct {
		applied bool
		err     error
	}
	results := make(chan result, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, applied, err := f.store.Settle(context.Background(), tx.ID, Outcome{Status: StatusCompleted})
			results <- result{applied, err}
		}()
	}
	wg.Wait()
	close(results)

	applies := 0
	for r := range results {
		if r.err != nil {
			t.Fatalf("concurrent settle: %v", r.err)
		}
		if r.applied {
			applies++
		}
	}
	if applies != 1 {
		t.Fatalf("%d settles applied, want 1", applies)
	}
	f.assertBalance(t, "10.00")
}

func testFindPendingDepositsOldestFirst(t *testing.T, f fixture) {
	first := f.pending(t, "500.00")
	f.pending(t, "250.00")
	third := f.pending(t, "500.00")
	cancelled := f.pending(t, "500.00")
	f.settle(t, cancelled.ID, Outcome{Status: StatusCancelled})

	got, err := f.store.FindPendingDeposits(context.Background(), f.wallet.ID, dec("500"))
	if err != nil {
		t.Fatalf("FindPendingDeposits: %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != third.ID {
		t.Fatalf("unexpected pending deposits %+v", got)
	}
}

func TestStatusMachine(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusReversed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		for _, next := range statuses {
			if s.CanTransition(next) {
				t.Fatalf("%s -> %s should be refused", s, next)
			}
		}
	}
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Fatalf("pending and processing are not terminal")
	}

	transitions := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range transitions {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNewReference(t *testing.T) {
	ref := NewReference()
	if !strings.HasPrefix(ref, "TXN") {
		t.Fatalf("reference %q lacks the TXN prefix", ref)
	}
	if _, err := ulid.Parse(strings.TrimPrefix(ref, "TXN")); err != nil {
		t.Fatalf("reference %q is not a ULID: %v", ref, err)
	}

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		r := NewReference()
		if seen[r] {
			t.Fatalf("duplicate reference %s", r)
		}
		seen[r] = true
	}
}

func TestSettleLeavesPendingWhenCreditFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, err := f.store.Create(ctx, Transaction{
		UserID: "user-1", WalletID: "no-such-wallet", Currency: money.NGN, Amount: dec("5.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, applied, err := f.store.Settle(ctx, tx.ID, Outcome{Status: StatusCompleted, ExternalReference: "EXT-9"})
	if !errors.Is(err, wallet.ErrNotFound) || applied {
		t.Fatalf("settle: applied=%v err=%v, want wallet.ErrNotFound", applied, err)
	}

	got, err := f.store.Get(ctx, tx.ID)
	if err != nil || got.Status != StatusPending {
		t.Fatalf("status after failed credit: %s err=%v", got.Status, err)
	}
	if _, err := f.store.GetByExternalReference(ctx, "EXT-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("external reference claim survived a failed settle: %v", err)
	}
}

func TestListStalePending(t *testing.T) {
	f := newFixture(t)
	old := f.pending(t, "1.00")
	cutoff := f.memory().now()
	f.pending(t, "2.00")

	got, err := f.store.ListStalePending(context.Background(), cutoff, 10)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Fatalf("unexpected stale transactions %+v", got)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 25; i++ {
		ids = append(ids, f.pending(t, "1.00").ID)
	}
	failed := f.pending(t, "3.00")
	f.settle(t, failed.ID, Outcome{Status: StatusFailed})
	if _, err := f.store.Create(ctx, Transaction{UserID: "someone-else", Currency: money.NGN, Amount: dec("1.00")}); err != nil {
		t.Fatalf("create: %v", err)
	}

	list := func(filter Filter) Page {
		t.Helper()
		page, err := f.store.List(ctx, "user-1", filter)
		if err != nil {
			t.Fatalf("List(%+v): %v", filter, err)
		}
		return page
	}

	page := list(Filter{})
	if page.Total != 26 || page.Page != 1 || page.PageSize != DefaultPageSize || page.TotalPages != 2 || len(page.Items) != 20 {
		t.Fatalf("first page: total=%d page=%d size=%d pages=%d items=%d",
			page.Total, page.Page, page.PageSize, page.TotalPages, len(page.Items))
	}
	if page.Items[0].ID != failed.ID {
		t.Fatalf("first item %s, want newest %s", page.Items[0].ID, failed.ID)
	}

	page = list(Filter{Page: 2})
	if len(page.Items) != 6 || page.Items[5].ID != ids[0] {
		t.Fatalf("second page: %d items, last %s", len(page.Items), page.Items[len(page.Items)-1].ID)
	}

	if page = list(Filter{Status: StatusFailed}); page.Total != 1 {
		t.Fatalf("failed filter total = %d, want 1", page.Total)
	}

	page = list(Filter{Currency: money.CAD})
	if page.Total != 0 || page.TotalPages != 0 || page.Items == nil {
		t.Fatalf("empty page: total=%d pages=%d items=%v", page.Total, page.TotalPages, page.Items)
	}

	page = list(Filter{PageSize: 1000, Page: 9})
	if page.PageSize != MaxPageSize || len(page.Items) != 0 {
		t.Fatalf("oversized page: size=%d items=%d", page.PageSize, len(page.Items))
	}
}

func TestListDateRange(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "1.00")
	mid := f.pending(t, "2.00")
	f.pending(t, "3.00")

	page, err := f.store.List(context.Background(), "user-1", Filter{From: mid.CreatedAt, To: mid.CreatedAt})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != mid.ID {
		t.Fatalf("unexpected range page %+v", page)
	}
}

func TestGetForUserHidesOthers(t *testing.T) {
	f := newFixture(t)
	tx := f.pending(t, "1.00")

	if _, err := f.store.GetForUser(context.Background(), "intruder", tx.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := f.store.GetForUser(context.Background(), "user-1", tx.ID)
	if err != nil || got.ID != tx.ID {
		t.Fatalf("GetForUser: id=%s err=%v", got.ID, err)
	}
}
