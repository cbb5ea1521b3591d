package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/money"
	"github.com/xchange/walletledger/internal/wallet"
)

const txColumns = `id, user_id, wallet_id, type, currency, amount::text, fee::text, exchange_rate::text,
	status, reference_id, external_reference_id, failure_reason, description, method,
	counterparty_email, estimated_delivery_at, created_at, updated_at, completed_at`

const (
	uniqueViolation       = "23505"
	referenceConstraint   = "transactions_reference_id_key"
	externalRefConstraint = "transactions_external_reference_id_key"
)

// PostgresStore persists transactions in PostgreSQL. Settlement locks the
// transaction row and credits the wallet row inside one database transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (l *PostgresStore) Create(ctx context.Context, in Transaction) (Transaction, error) {
	tx, err := prepare(in, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return Transaction{}, err
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO transactions (id, user_id, wallet_id, type, currency, amount, fee, exchange_rate,
			status, reference_id, external_reference_id, failure_reason, description, method,
			counterparty_email, estimated_delivery_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric,
			$9, $10, $11, $12, $13, $14, $15, $16, $17, $17)`,
		uuid.MustParse(tx.ID), tx.UserID, nullUUID(tx.WalletID), string(tx.Type), string(tx.Currency),
		tx.Amount.String(), nullDecimal(tx.Fee), nullDecimal(tx.ExchangeRate),
		string(tx.Status), tx.ReferenceID, nullString(tx.ExternalReferenceID), tx.FailureReason,
		tx.Description, tx.Method, tx.CounterpartyEmail, tx.EstimatedDeliveryAt, tx.CreatedAt)
	if err != nil {
		return Transaction{}, mapUniqueViolation(err)
	}
	return tx, nil
}

func (l *PostgresStore) Get(ctx context.Context, id string) (Transaction, error) {
	tid, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrNotFound
	}
	return scanTransaction(l.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, tid))
}

func (l *PostgresStore) GetForUser(ctx context.Context, userID, id string) (Transaction, error) {
	tid, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrNotFound
	}
	return scanTransaction(l.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, tid, userID))
}

func (l *PostgresStore) GetByReference(ctx context.Context, referenceID string) (Transaction, error) {
	return scanTransaction(l.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE reference_id = $1`, referenceID))
}

func (l *PostgresStore) GetByExternalReference(ctx context.Context, externalReferenceID string) (Transaction, error) {
	return scanTransaction(l.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE external_reference_id = $1`, externalReferenceID))
}

func (l *PostgresStore) AttachExternalReference(ctx context.Context, id, externalReferenceID string) (Transaction, error) {
	tid, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrNotFound
	}
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockTransaction(ctx, tx, tid)
	if err != nil {
		return Transaction{}, err
	}
	if current.ExternalReferenceID == externalReferenceID {
		return current, nil
	}
	if current.Status.IsTerminal() || current.ExternalReferenceID != "" {
		return current, ErrExternalReferenceLocked
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE transactions SET external_reference_id = $2, updated_at = $3 WHERE id = $1`,
		tid, externalReferenceID, now); err != nil {
		return current, mapUniqueViolation(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	current.ExternalReferenceID = externalReferenceID
	current.UpdatedAt = now
	return current, nil
}

func (l *PostgresStore) Settle(ctx context.Context, id string, o Outcome) (Transaction, bool, error) {
	if err := checkOutcome(o); err != nil {
		return Transaction{}, false, err
	}
	tid, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, false, ErrNotFound
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, false, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockTransaction(ctx, tx, tid)
	if err != nil {
		return Transaction{}, false, err
	}
	if current.Status.IsTerminal() {
		return current, false, nil
	}

	if o.Status == StatusCompleted {
		if current.WalletID == "" {
			return current, false, ErrNoWallet
		}
		if _, err := wallet.ApplyTx(ctx, tx, current.WalletID, wallet.OpCredit, current.Amount); err != nil {
			return current, false, fmt.Errorf("credit wallet: %w", err)
		}
	}

	next := settled(current, o, time.Now().UTC())
	_, err = tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2, external_reference_id = $3, failure_reason = $4, updated_at = $5, completed_at = $6
		WHERE id = $1`,
		tid, string(next.Status), nullString(next.ExternalReferenceID), next.FailureReason,
		next.UpdatedAt, next.CompletedAt)
	if err != nil {
		return current, false, mapUniqueViolation(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, false, err
	}
	return next, true, nil
}

func (l *PostgresStore) FindPendingDeposits(ctx context.Context, walletID string, amount decimal.Decimal) ([]Transaction, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return nil, nil
	}
	return l.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE wallet_id = $1 AND type = $2 AND status = $3 AND amount = $4::numeric
		ORDER BY created_at, reference_id`,
		wid, string(TypeFunding), string(StatusPending), amount.String())
}

func (l *PostgresStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = MaxPageSize
	}
	return l.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE type = $1 AND status = $2 AND created_at < $3
		ORDER BY created_at, reference_id
		LIMIT $4`,
		string(TypeFunding), string(StatusPending), before, limit)
}

func (l *PostgresStore) List(ctx context.Context, userID string, filter Filter) (Page, error) {
	f := filter.Normalize()

	where := []string{"user_id = $1"}
	args := []any{userID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Currency != "" {
		add("currency = $%d", string(f.Currency))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+cond, args...).Scan(&total); err != nil {
		return Page{}, err
	}

	args = append(args, f.PageSize, f.offset())
	items, err := l.query(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE %s
		ORDER BY created_at DESC, reference_id DESC
		LIMIT $%d OFFSET $%d`, txColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return Page{}, err
	}
	return newPage(items, total, f), nil
}

func (l *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func lockTransaction(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t                     Transaction
		id                    uuid.UUID
		walletID              *uuid.UUID
		typ, currency, status string
		amount                string
		fee, rate, extRef     *string
	)
	err := row.Scan(&id, &t.UserID, &walletID, &typ, &currency, &amount, &fee, &rate,
		&status, &t.ReferenceID, &extRef, &t.FailureReason, &t.Description, &t.Method,
		&t.CounterpartyEmail, &t.EstimatedDeliveryAt, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}

	t.ID = id.String()
	if walletID != nil {
		t.WalletID = walletID.String()
	}
	t.Type = Type(typ)
	t.Currency = money.Currency(currency)
	t.Status = Status(status)
	if extRef != nil {
		t.ExternalReferenceID = *extRef
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if t.Fee, err = parseNullDecimal(fee); err != nil {
		return Transaction{}, fmt.Errorf("parse fee: %w", err)
	}
	if t.ExchangeRate, err = parseNullDecimal(rate); err != nil {
		return Transaction{}, fmt.Errorf("parse exchange rate: %w", err)
	}
	return t, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func nullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case referenceConstraint:
		return ErrDuplicateReference
	case externalRefConstraint:
		return ErrDuplicateExternalReference
	}
	return err
}
