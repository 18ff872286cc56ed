package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow accounts in PostgreSQL. A unique index on
// transaction_id enforces the one-account-per-transaction rule; UpdateIf
// uses a conditional UPDATE on the previous status.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, transaction_id, payer_id, payee_id, amount, currency,
		      status, provider, provider_ref, refund_reason,
		      created_at, updated_at, funded_at, held_at, released_at, refunded_at`

func (p *PostgresStore) Create(ctx context.Context, account *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_accounts (
			id, transaction_id, payer_id, payee_id, amount, currency,
			status, provider, provider_ref, refund_reason,
			created_at, updated_at, funded_at, held_at, released_at, refunded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		account.ID, account.TransactionID, account.PayerID, account.PayeeID,
		account.Amount, account.Currency,
		string(account.Status), account.ProviderName,
		nullStr(account.ProviderRef), nullStr(account.RefundReason),
		account.CreatedAt, account.UpdatedAt,
		nullTime(account.FundedAt), nullTime(account.HeldAt),
		nullTime(account.ReleasedAt), nullTime(account.RefundedAt),
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrAccountExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1`, id)
	return p.scanOne(row)
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Account, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM escrow_accounts WHERE transaction_id = $1`, transactionID)
	return p.scanOne(row)
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Account, error) {
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	return account, err
}

func (p *PostgresStore) UpdateIf(ctx context.Context, account *Account, expect Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_accounts SET
			status = $1, provider_ref = $2, refund_reason = $3,
			updated_at = $4, funded_at = $5, held_at = $6,
			released_at = $7, refunded_at = $8
		WHERE id = $9 AND status = $10`,
		string(account.Status), nullStr(account.ProviderRef), nullStr(account.RefundReason),
		account.UpdatedAt, nullTime(account.FundedAt), nullTime(account.HeldAt),
		nullTime(account.ReleasedAt), nullTime(account.RefundedAt),
		account.ID, string(expect),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM escrow_accounts WHERE id = $1)`, account.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrStatusChanged
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var status string
	var providerRef, refundReason sql.NullString
	var fundedAt, heldAt, releasedAt, refundedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.TransactionID, &a.PayerID, &a.PayeeID, &a.Amount, &a.Currency,
		&status, &a.ProviderName, &providerRef, &refundReason,
		&a.CreatedAt, &a.UpdatedAt, &fundedAt, &heldAt, &releasedAt, &refundedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	a.ProviderRef = providerRef.String
	a.RefundReason = refundReason.String
	if fundedAt.Valid {
		t := fundedAt.Time
		a.FundedAt = &t
	}
	if heldAt.Valid {
		t := heldAt.Time
		a.HeldAt = &t
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		a.ReleasedAt = &t
	}
	if refundedAt.Valid {
		t := refundedAt.Time
		a.RefundedAt = &t
	}
	return &a, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
