//go:build integration

package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/xchange/walletledger/internal/infra"
	"github.com/xchange/walletledger/internal/money"
	"github.com/xchange/walletledger/internal/wallet"
)

// Run with TEST_DATABASE_URL pointing at a scratch database:
//
//	go test -tags integration ./internal/ledger/...
func TestPostgresSettlement(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := infra.NewPostgresPool(ctx, url, "walletledger-test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := infra.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	wallets := wallet.NewPostgresStore(pool)
	store := NewPostgresStore(pool)
	testSettlement(t, func(t *testing.T) fixture {
		w, err := wallets.GetOrCreate(ctx, "user-"+uuid.NewString(), money.NGN)
		if err != nil {
			t.Fatalf("create wallet: %v", err)
		}
		return fixture{wallets: wallets, store: store, wallet: w}
	})
}
