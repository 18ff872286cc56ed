package checks

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists checks in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed check store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const checkColumns = `id, application_id, check_type, status, score, risk_level,
		      signals, raw_response, processing_time_ms,
		      created_at, updated_at, completed_at`

func (p *PostgresStore) CreateBatch(ctx context.Context, checks []*Check) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range checks {
		signalsJSON, _ := json.Marshal(c.Signals)
		if c.Signals == nil {
			signalsJSON = []byte("[]")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checks (
				id, application_id, check_type, status, score, risk_level,
				signals, raw_response, processing_time_ms,
				created_at, updated_at, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			c.ID, c.ApplicationID, string(c.Type), string(c.Status),
			nullFloat(c.Score), nullStr(string(c.RiskLevel)),
			signalsJSON, nullBytes(c.RawResponse), c.ProcessingTimeMs,
			c.CreatedAt, c.UpdatedAt, nullTime(c.CompletedAt),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Check, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE id = $1`, id)

	c, err := scanCheck(row)
	if err == sql.ErrNoRows {
		return nil, ErrCheckNotFound
	}
	return c, err
}

func (p *PostgresStore) Update(ctx context.Context, c *Check) error {
	signalsJSON, _ := json.Marshal(c.Signals)
	if c.Signals == nil {
		signalsJSON = []byte("[]")
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE checks SET
			status = $1, score = $2, risk_level = $3, signals = $4,
			raw_response = $5, processing_time_ms = $6,
			updated_at = $7, completed_at = $8
		WHERE id = $9`,
		string(c.Status), nullFloat(c.Score), nullStr(string(c.RiskLevel)), signalsJSON,
		nullBytes(c.RawResponse), c.ProcessingTimeMs,
		c.UpdatedAt, nullTime(c.CompletedAt),
		c.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCheckNotFound
	}
	return nil
}

func (p *PostgresStore) ListByApplication(ctx context.Context, applicationID string) ([]*Check, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+checkColumns+`
		FROM checks
		WHERE application_id = $1
		ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanCheck(row scannable) (*Check, error) {
	var c Check
	var checkType, status string
	var score sql.NullFloat64
	var riskLevel sql.NullString
	var signalsJSON []byte
	var rawResponse []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.ApplicationID, &checkType, &status, &score, &riskLevel,
		&signalsJSON, &rawResponse, &c.ProcessingTimeMs,
		&c.CreatedAt, &c.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = CheckType(checkType)
	c.Status = Status(status)
	if score.Valid {
		s := score.Float64
		c.Score = &s
	}
	c.RiskLevel = RiskLevel(riskLevel.String)
	if len(signalsJSON) > 0 {
		_ = json.Unmarshal(signalsJSON, &c.Signals)
	}
	if len(rawResponse) > 0 {
		c.RawResponse = json.RawMessage(rawResponse)
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
