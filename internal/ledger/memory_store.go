package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/wallet"
)

type txEntry struct {
	mu sync.Mutex
	tx Transaction
}

// memoryStore keeps transactions in process memory. Lock order is always
// entry lock before index lock; the index lock is never held while waiting
// on an entry.
type memoryStore struct {
	wallets wallet.Store

	mu      sync.RWMutex
	entries map[string]*txEntry
	byRef   map[string]string
	byExt   map[string]string
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory ledger that credits wallets through wallets.
func NewMemoryStore(wallets wallet.Store) Store {
	return &memoryStore{
		wallets: wallets,
		entries: make(map[string]*txEntry),
		byRef:   make(map[string]string),
		byExt:   make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) Create(_ context.Context, in Transaction) (Transaction, error) {
	tx, err := prepare(in, uuid.NewString(), s.now())
	if err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byRef[tx.ReferenceID]; exists {
		return Transaction{}, ErrDuplicateReference
	}
	if tx.ExternalReferenceID != "" {
		if _, exists := s.byExt[tx.ExternalReferenceID]; exists {
			return Transaction{}, ErrDuplicateExternalReference
		}
		s.byExt[tx.ExternalReferenceID] = tx.ID
	}
	s.entries[tx.ID] = &txEntry{tx: tx}
	s.byRef[tx.ReferenceID] = tx.ID
	return tx, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Transaction, error) {
	e, ok := s.entry(id)
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return e.snapshot(), nil
}

func (s *memoryStore) GetForUser(ctx context.Context, userID, id string) (Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.UserID != userID {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (s *memoryStore) GetByReference(ctx context.Context, referenceID string) (Transaction, error) {
	s.mu.RLock()
	id, ok := s.byRef[referenceID]
	s.mu.RUnlock()
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *memoryStore) GetByExternalReference(ctx context.Context, externalReferenceID string) (Transaction, error) {
	s.mu.RLock()
	id, ok := s.byExt[externalReferenceID]
	s.mu.RUnlock()
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *memoryStore) AttachExternalReference(_ context.Context, id, externalReferenceID string) (Transaction, error) {
	e, ok := s.entry(id)
	if !ok {
		return Transaction{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tx.ExternalReferenceID == externalReferenceID {
		return e.tx, nil
	}
	if e.tx.Status.IsTerminal() || e.tx.ExternalReferenceID != "" {
		return e.tx, ErrExternalReferenceLocked
	}
	if err := s.claimExternal(externalReferenceID, id); err != nil {
		return e.tx, err
	}
	e.tx.ExternalReferenceID = externalReferenceID
	e.tx.UpdatedAt = s.now()
	return e.tx, nil
}

func (s *memoryStore) Settle(ctx context.Context, id string, o Outcome) (Transaction, bool, error) {
	if err := checkOutcome(o); err != nil {
		return Transaction{}, false, err
	}
	e, ok := s.entry(id)
	if !ok {
		return Transaction{}, false, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tx.Status.IsTerminal() {
		return e.tx, false, nil
	}

	claimed := false
	if o.ExternalReference != "" && e.tx.ExternalReferenceID == "" {
		if err := s.claimExternal(o.ExternalReference, id); err != nil {
			return e.tx, false, err
		}
		claimed = true
	}

	if o.Status == StatusCompleted {
		if e.tx.WalletID == "" {
			s.unclaim(claimed, o.ExternalReference)
			return e.tx, false, ErrNoWallet
		}
		if _, err := s.wallets.Apply(ctx, e.tx.WalletID, wallet.OpCredit, e.tx.Amount); err != nil {
			s.unclaim(claimed, o.ExternalReference)
			return e.tx, false, fmt.Errorf("credit wallet: %w", err)
		}
	}

	e.tx = settled(e.tx, o, s.now())
	return e.tx, true, nil
}

func (s *memoryStore) FindPendingDeposits(_ context.Context, walletID string, amount decimal.Decimal) ([]Transaction, error) {
	out := s.collect(func(tx Transaction) bool {
		return tx.WalletID == walletID &&
			tx.Type == TypeFunding &&
			tx.Status == StatusPending &&
			tx.Amount.Equal(amount)
	})
	sortOldestFirst(out)
	return out, nil
}

func (s *memoryStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]Transaction, error) {
	out := s.collect(func(tx Transaction) bool {
		return tx.Type == TypeFunding && tx.Status == StatusPending && tx.CreatedAt.Before(before)
	})
	sortOldestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) List(_ context.Context, userID string, filter Filter) (Page, error) {
	f := filter.Normalize()
	all := s.collect(func(tx Transaction) bool {
		return tx.UserID == userID && f.matches(tx)
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ReferenceID > all[j].ReferenceID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := f.offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return newPage(all[start:end], total, f), nil
}

func (s *memoryStore) entry(id string) (*txEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *memoryStore) collect(keep func(Transaction) bool) []Transaction {
	s.mu.RLock()
	entries := make([]*txEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []Transaction
	for _, e := range entries {
		if tx := e.snapshot(); keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}

func (s *memoryStore) claimExternal(ref, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, taken := s.byExt[ref]; taken && owner != id {
		return ErrDuplicateExternalReference
	}
	s.byExt[ref] = id
	return nil
}

func (s *memoryStore) unclaim(claimed bool, ref string) {
	if !claimed {
		return
	}
	s.mu.Lock()
	delete(s.byExt, ref)
	s.mu.Unlock()
}

func (e *txEntry) snapshot() Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx
}

func sortOldestFirst(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ReferenceID < txs[j].ReferenceID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}
