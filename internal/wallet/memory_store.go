package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

type ownerKey struct {
	userID   string
	currency money.Currency
}

type memoryEntry struct {
	mu     sync.Mutex
	wallet Wallet
}

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	byOwner map[ownerKey]string
	byVA    map[string]string
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory store with a lock per wallet.
func NewMemoryStore() Store {
	return &memoryStore{
		entries: make(map[string]*memoryEntry),
		byOwner: make(map[ownerKey]string),
		byVA:    make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) GetOrCreate(ctx context.Context, userID string, currency money.Currency) (Wallet, error) {
	if w, err := s.GetByUserAndCurrency(ctx, userID, currency); err == nil {
		return w, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey{userID: userID, currency: currency}
	if id, ok := s.byOwner[key]; ok {
		return s.snapshot(s.entries[id]), nil
	}
	w := newWallet(uuid.NewString(), userID, currency, s.now())
	s.entries[w.ID] = &memoryEntry{wallet: w}
	s.byOwner[key] = w.ID
	return w, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Wallet, error) {
	entry, ok := s.entry(id)
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return s.snapshot(entry), nil
}

func (s *memoryStore) GetByUserAndCurrency(_ context.Context, userID string, currency money.Currency) (Wallet, error) {
	s.mu.RLock()
	id, ok := s.byOwner[ownerKey{userID: userID, currency: currency}]
	entry := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return s.snapshot(entry), nil
}

func (s *memoryStore) ListByUser(_ context.Context, userID string) ([]Wallet, error) {
	s.mu.RLock()
	var entries []*memoryEntry
	for key, id := range s.byOwner {
		if key.userID == userID {
			entries = append(entries, s.entries[id])
		}
	}
	s.mu.RUnlock()

	out := make([]Wallet, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.snapshot(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (s *memoryStore) FindByVirtualAccount(_ context.Context, accountNumber string) (Wallet, error) {
	s.mu.RLock()
	id, ok := s.byVA[accountNumber]
	entry := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return s.snapshot(entry), nil
}

func (s *memoryStore) Apply(_ context.Context, id string, op Op, amount decimal.Decimal) (Wallet, error) {
	entry, ok := s.entry(id)
	if !ok {
		return Wallet{}, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	next, err := entry.wallet.apply(op, amount, s.now())
	if err != nil {
		return entry.wallet, err
	}
	entry.wallet = next
	return next, nil
}

func (s *memoryStore) SetVirtualAccount(_ context.Context, id string, va VirtualAccount) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.wallet.VirtualAccount != nil {
		return entry.wallet, nil
	}
	if owner, taken := s.byVA[va.AccountNumber]; taken && owner != id {
		return entry.wallet, ErrVirtualAccountTaken
	}
	entry.wallet.VirtualAccount = &VirtualAccount{AccountNumber: va.AccountNumber, BankName: va.BankName}
	entry.wallet.UpdatedAt = s.now()
	s.byVA[va.AccountNumber] = id
	return entry.wallet, nil
}

func (s *memoryStore) entry(id string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *memoryStore) snapshot(e *memoryEntry) Wallet {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.wallet
	if w.VirtualAccount != nil {
		va := *w.VirtualAccount
		w.VirtualAccount = &va
	}
	return w
}
