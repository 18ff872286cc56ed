package transactions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/pagination"
	"github.com/ITDevS919/trustverify/internal/trust"
)

// PostgresStore persists transactions in PostgreSQL. UpdateIf uses a
// conditional UPDATE on the previous status so concurrent transitions
// cannot both win.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, buyer_id, seller_id, amount, currency, payment_method, description,
		      status, risk_score, risk_level, escrow_recommended, escrow_reason,
		      buffer_until, dispute_deadline,
		      created_at, updated_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, buyer_id, seller_id, amount, currency, payment_method, description,
			status, risk_score, risk_level, escrow_recommended, escrow_reason,
			buffer_until, dispute_deadline,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		tx.ID, tx.BuyerID, tx.SellerID, tx.Amount, tx.Currency,
		nullStr(tx.PaymentMethod), nullStr(tx.Description),
		string(tx.Status), tx.RiskScore, string(tx.RiskLevel),
		tx.EscrowRecommended, nullStr(tx.EscrowReason),
		nullTime(tx.BufferUntil), nullTime(tx.DisputeDeadline),
		tx.CreatedAt, tx.UpdatedAt, nullTime(tx.CompletedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}

func (p *PostgresStore) UpdateIf(ctx context.Context, tx *Transaction, expect Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			status = $1, risk_score = $2, risk_level = $3,
			escrow_recommended = $4, escrow_reason = $5,
			buffer_until = $6, dispute_deadline = $7,
			updated_at = $8, completed_at = $9
		WHERE id = $10 AND status = $11`,
		string(tx.Status), tx.RiskScore, string(tx.RiskLevel),
		tx.EscrowRecommended, nullStr(tx.EscrowReason),
		nullTime(tx.BufferUntil), nullTime(tx.DisputeDeadline),
		tx.UpdatedAt, nullTime(tx.CompletedAt),
		tx.ID, string(expect),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, tx.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrStatusChanged
	}
	return nil
}

func (p *PostgresStore) ListByEntity(ctx context.Context, entityID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE (buyer_id = $1 OR seller_id = $1)`
	args := []interface{}{entityID}
	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scannable) (*Transaction, error) {
	var tx Transaction
	var paymentMethod, description, escrowReason sql.NullString
	var status, riskLevel string
	var bufferUntil, disputeDeadline, completedAt sql.NullTime

	err := row.Scan(
		&tx.ID, &tx.BuyerID, &tx.SellerID, &tx.Amount, &tx.Currency,
		&paymentMethod, &description,
		&status, &tx.RiskScore, &riskLevel, &tx.EscrowRecommended, &escrowReason,
		&bufferUntil, &disputeDeadline,
		&tx.CreatedAt, &tx.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.PaymentMethod = paymentMethod.String
	tx.Description = description.String
	tx.EscrowReason = escrowReason.String
	tx.Status = Status(status)
	tx.RiskLevel = trust.RiskLevel(riskLevel)
	if bufferUntil.Valid {
		t := bufferUntil.Time
		tx.BufferUntil = &t
	}
	if disputeDeadline.Valid {
		t := disputeDeadline.Time
		tx.DisputeDeadline = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		tx.CompletedAt = &t
	}
	return &tx, nil
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
