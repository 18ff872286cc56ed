package trust

import (
	"context"
	"database/sql"
)

// PostgresStore persists entities in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed entity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entityColumns = `id, kind, display_name, verification_level, trust_score,
		       completed_transactions, successful_transactions, disputes, sanction_level,
		       kyc_verified, aml_cleared, device_verified, ip_verified,
		       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Entity) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, kind, display_name, verification_level, trust_score,
			completed_transactions, successful_transactions, disputes, sanction_level,
			kyc_verified, aml_cleared, device_verified, ip_verified,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.Kind, nullString(e.DisplayName), string(e.VerificationLevel), e.TrustScore,
		e.CompletedTransactions, e.SuccessfulTransactions, e.Disputes, e.SanctionLevel,
		e.KYCVerified, e.AMLCleared, e.DeviceVerified, e.IPVerified,
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Entity, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	return e, err
}

func (p *PostgresStore) Update(ctx context.Context, e *Entity) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE entities SET
			kind = $1, display_name = $2, verification_level = $3, trust_score = $4,
			completed_transactions = $5, successful_transactions = $6, disputes = $7,
			sanction_level = $8, kyc_verified = $9, aml_cleared = $10,
			device_verified = $11, ip_verified = $12, updated_at = $13
		WHERE id = $14`,
		e.Kind, nullString(e.DisplayName), string(e.VerificationLevel), e.TrustScore,
		e.CompletedTransactions, e.SuccessfulTransactions, e.Disputes,
		e.SanctionLevel, e.KYCVerified, e.AMLCleared,
		e.DeviceVerified, e.IPVerified, e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Entity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scannable) (*Entity, error) {
	var e Entity
	var displayName sql.NullString
	var level string

	err := row.Scan(
		&e.ID, &e.Kind, &displayName, &level, &e.TrustScore,
		&e.CompletedTransactions, &e.SuccessfulTransactions, &e.Disputes, &e.SanctionLevel,
		&e.KYCVerified, &e.AMLCleared, &e.DeviceVerified, &e.IPVerified,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.DisplayName = displayName.String
	e.VerificationLevel = Level(level)
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
