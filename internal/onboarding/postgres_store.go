package onboarding

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ITDevS919/trustverify/internal/checks"
	"github.com/ITDevS919/trustverify/internal/decision"
)

// PostgresStore persists applications in PostgreSQL. Create writes the
// application row and its pending check rows in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed application store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const applicationColumns = `id, entity_id, customer_type,
		      full_name, date_of_birth, email, country, document_ref,
		      business_name, registration_number, beneficial_owners, directors,
		      ip_address, device_id,
		      status, current_step, overall_trust_score, risk_level, decision,
		      created_at, updated_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, app *Application, pending []*checks.Check) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ownersJSON, _ := json.Marshal(app.BeneficialOwners)
	directorsJSON, _ := json.Marshal(app.Directors)
	if app.BeneficialOwners == nil {
		ownersJSON = []byte("[]")
	}
	if app.Directors == nil {
		directorsJSON = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO applications (
			id, entity_id, customer_type,
			full_name, date_of_birth, email, country, document_ref,
			business_name, registration_number, beneficial_owners, directors,
			ip_address, device_id,
			status, current_step, overall_trust_score, risk_level, decision,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			  $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		app.ID, app.EntityID, app.CustomerType,
		nullString(app.FullName), nullString(app.DateOfBirth), nullString(app.Email),
		nullString(app.Country), nullString(app.DocumentRef),
		nullString(app.BusinessName), nullString(app.RegistrationNumber),
		ownersJSON, directorsJSON,
		nullString(app.IPAddress), nullString(app.DeviceID),
		string(app.Status), app.CurrentStep,
		nullScore(app.OverallTrustScore), nullString(string(app.RiskLevel)),
		nullString(string(app.Decision)),
		app.CreatedAt, app.UpdatedAt, nullCompleted(app.CompletedAt),
	)
	if err != nil {
		return err
	}

	for _, c := range pending {
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
			nullScore(c.Score), nullString(string(c.RiskLevel)),
			signalsJSON, nil, c.ProcessingTimeMs,
			c.CreatedAt, c.UpdatedAt, nil,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Application, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)

	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationNotFound
	}
	return app, err
}

func (p *PostgresStore) Update(ctx context.Context, app *Application) error {
	ownersJSON, _ := json.Marshal(app.BeneficialOwners)
	directorsJSON, _ := json.Marshal(app.Directors)
	if app.BeneficialOwners == nil {
		ownersJSON = []byte("[]")
	}
	if app.Directors == nil {
		directorsJSON = []byte("[]")
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE applications SET
			full_name = $1, date_of_birth = $2, email = $3, country = $4,
			document_ref = $5, business_name = $6, registration_number = $7,
			beneficial_owners = $8, directors = $9,
			ip_address = $10, device_id = $11,
			status = $12, current_step = $13,
			overall_trust_score = $14, risk_level = $15, decision = $16,
			updated_at = $17, completed_at = $18
		WHERE id = $19`,
		nullString(app.FullName), nullString(app.DateOfBirth), nullString(app.Email),
		nullString(app.Country), nullString(app.DocumentRef),
		nullString(app.BusinessName), nullString(app.RegistrationNumber),
		ownersJSON, directorsJSON,
		nullString(app.IPAddress), nullString(app.DeviceID),
		string(app.Status), app.CurrentStep,
		nullScore(app.OverallTrustScore), nullString(string(app.RiskLevel)),
		nullString(string(app.Decision)),
		app.UpdatedAt, nullCompleted(app.CompletedAt),
		app.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

func (p *PostgresStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]*Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications
		WHERE entity_id = $1 ORDER BY created_at DESC`
	args := []interface{}{entityID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row scannable) (*Application, error) {
	var app Application
	var fullName, dob, email, country, docRef sql.NullString
	var businessName, regNumber sql.NullString
	var ownersJSON, directorsJSON []byte
	var ipAddress, deviceID sql.NullString
	var status string
	var score sql.NullFloat64
	var riskLevel, dec sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&app.ID, &app.EntityID, &app.CustomerType,
		&fullName, &dob, &email, &country, &docRef,
		&businessName, &regNumber, &ownersJSON, &directorsJSON,
		&ipAddress, &deviceID,
		&status, &app.CurrentStep, &score, &riskLevel, &dec,
		&app.CreatedAt, &app.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	app.FullName = fullName.String
	app.DateOfBirth = dob.String
	app.Email = email.String
	app.Country = country.String
	app.DocumentRef = docRef.String
	app.BusinessName = businessName.String
	app.RegistrationNumber = regNumber.String
	if len(ownersJSON) > 0 {
		_ = json.Unmarshal(ownersJSON, &app.BeneficialOwners)
	}
	if len(directorsJSON) > 0 {
		_ = json.Unmarshal(directorsJSON, &app.Directors)
	}
	app.IPAddress = ipAddress.String
	app.DeviceID = deviceID.String
	app.Status = Status(status)
	if score.Valid {
		s := score.Float64
		app.OverallTrustScore = &s
	}
	app.RiskLevel = checks.RiskLevel(riskLevel.String)
	app.Decision = decision.Decision(dec.String)
	if completedAt.Valid {
		t := completedAt.Time
		app.CompletedAt = &t
	}
	return &app, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullScore(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullCompleted(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
