package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
)

const walletColumns = `id, user_id, currency, balance::text, held::text,
	virtual_account_number, virtual_account_bank, created_at, updated_at`

// PostgresStore persists wallets in PostgreSQL. Mutations lock the row with
// SELECT ... FOR UPDATE so concurrent writers to one wallet serialize.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID string, currency money.Currency) (Wallet, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, user_id, currency, balance, held, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (user_id, currency) DO NOTHING`,
		uuid.New(), userID, string(currency), now)
	if err != nil {
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return s.GetByUserAndCurrency(ctx, userID, currency)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Wallet, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	return scanWallet(s.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, wid))
}

func (s *PostgresStore) GetByUserAndCurrency(ctx context.Context, userID string, currency money.Currency) (Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, string(currency)))
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY currency`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByVirtualAccount(ctx context.Context, accountNumber string) (Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE virtual_account_number = $1`, accountNumber))
}

func (s *PostgresStore) Apply(ctx context.Context, id string, op Op, amount decimal.Decimal) (Wallet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Wallet{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	w, err := ApplyTx(ctx, tx, id, op, amount)
	if err != nil {
		return w, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// ApplyTx mutates a wallet inside a caller-owned transaction so the balance
// change commits together with whatever else the caller writes.
func ApplyTx(ctx context.Context, tx pgx.Tx, id string, op Op, amount decimal.Decimal) (Wallet, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	w, err := scanWallet(tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, wid))
	if err != nil {
		return Wallet{}, err
	}

	next, err := w.apply(op, amount, time.Now().UTC())
	if err != nil {
		return w, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance = $2::numeric, held = $3::numeric, updated_at = $4 WHERE id = $1`,
		wid, next.Balance.String(), next.Held.String(), next.UpdatedAt)
	if err != nil {
		return w, fmt.Errorf("update wallet: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) SetVirtualAccount(ctx context.Context, id string, va VirtualAccount) (Wallet, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE wallets
		SET virtual_account_number = $2, virtual_account_bank = $3, updated_at = $4
		WHERE id = $1 AND virtual_account_number IS NULL`,
		wid, va.AccountNumber, va.BankName, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Wallet{}, ErrVirtualAccountTaken
		}
		return Wallet{}, err
	}
	return s.Get(ctx, id)
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w                Wallet
		id               uuid.UUID
		currency         string
		balance, held    string
		vaNumber, vaBank *string
	)
	if err := row.Scan(&id, &w.UserID, &currency, &balance, &held, &vaNumber, &vaBank, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.Currency = money.Currency(currency)

	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	if w.Held, err = decimal.NewFromString(held); err != nil {
		return Wallet{}, fmt.Errorf("parse held: %w", err)
	}
	if vaNumber != nil {
		bank := ""
		if vaBank != nil {
			bank = *vaBank
		}
		w.VirtualAccount = &VirtualAccount{AccountNumber: *vaNumber, BankName: bank}
	}
	return w, nil
}
