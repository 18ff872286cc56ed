package dispute

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists disputes in PostgreSQL. UpdateIf uses a
// conditional UPDATE on the previous status/stage pair. A partial unique
// index on (transaction_id) WHERE status IN ('open','investigating')
// backs the one-active-dispute rule.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `id, transaction_id, escrow_account_id, raised_by, respondent_id, buyer_id,
		      reason, status, workflow_stage, priority_level, escrow_frozen,
		      evidence, evidence_deadline, sla_deadline,
		      verdict, manual_review, resolution_note,
		      created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	evidenceJSON, verdictJSON := marshalDispute(d)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, transaction_id, escrow_account_id, raised_by, respondent_id, buyer_id,
			reason, status, workflow_stage, priority_level, escrow_frozen,
			evidence, evidence_deadline, sla_deadline,
			verdict, manual_review, resolution_note,
			created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			  $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		d.ID, d.TransactionID, nullStr(d.EscrowAccountID), d.RaisedBy, d.RespondentID, d.BuyerID,
		d.Reason, string(d.Status), string(d.Stage), string(d.Priority), d.EscrowFrozen,
		evidenceJSON, d.EvidenceDeadline, d.SLADeadline,
		verdictJSON, d.ManualReview, nullStr(d.ResolutionNote),
		d.CreatedAt, d.UpdatedAt, nullTime(d.ResolvedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetActiveByTransaction(ctx context.Context, transactionID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE transaction_id = $1 AND status IN ('open', 'investigating')
		LIMIT 1`, transactionID)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) UpdateIf(ctx context.Context, d *Dispute, expectStatus Status, expectStage Stage) error {
	evidenceJSON, verdictJSON := marshalDispute(d)

	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			escrow_account_id = $1, status = $2, workflow_stage = $3,
			priority_level = $4, escrow_frozen = $5, evidence = $6,
			verdict = $7, manual_review = $8, resolution_note = $9,
			updated_at = $10, resolved_at = $11
		WHERE id = $12 AND status = $13 AND workflow_stage = $14`,
		nullStr(d.EscrowAccountID), string(d.Status), string(d.Stage),
		string(d.Priority), d.EscrowFrozen, evidenceJSON,
		verdictJSON, d.ManualReview, nullStr(d.ResolutionNote),
		d.UpdatedAt, nullTime(d.ResolvedAt),
		d.ID, string(expectStatus), string(expectStage),
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
			`SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrDisputeNotFound
		}
		return ErrStateChanged
	}
	return nil
}

func (p *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error) {
	return p.list(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE transaction_id = $1 ORDER BY created_at DESC`, transactionID)
}

func (p *PostgresStore) ListEvidenceExpired(ctx context.Context, now time.Time, limit int) ([]*Dispute, error) {
	return p.list(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status IN ('open', 'investigating')
		  AND workflow_stage IN ('created', 'evidence_collection')
		  AND evidence_deadline < $1
		ORDER BY evidence_deadline ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) ListSLAExpired(ctx context.Context, now time.Time, limit int) ([]*Dispute, error) {
	return p.list(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status IN ('open', 'investigating')
		  AND NOT manual_review
		  AND sla_deadline < $1
		ORDER BY sla_deadline ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func marshalDispute(d *Dispute) ([]byte, interface{}) {
	evidenceJSON, _ := json.Marshal(d.Evidence)
	if d.Evidence == nil {
		evidenceJSON = []byte("[]")
	}
	var verdictJSON interface{}
	if d.Verdict != nil {
		b, _ := json.Marshal(d.Verdict)
		verdictJSON = b
	}
	return evidenceJSON, verdictJSON
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanDispute(row scannable) (*Dispute, error) {
	var d Dispute
	var escrowAccountID, resolutionNote sql.NullString
	var status, stage, priority string
	var evidenceJSON, verdictJSON []byte
	var resolvedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.TransactionID, &escrowAccountID, &d.RaisedBy, &d.RespondentID, &d.BuyerID,
		&d.Reason, &status, &stage, &priority, &d.EscrowFrozen,
		&evidenceJSON, &d.EvidenceDeadline, &d.SLADeadline,
		&verdictJSON, &d.ManualReview, &resolutionNote,
		&d.CreatedAt, &d.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	d.EscrowAccountID = escrowAccountID.String
	d.ResolutionNote = resolutionNote.String
	d.Status = Status(status)
	d.Stage = Stage(stage)
	d.Priority = Priority(priority)
	if len(evidenceJSON) > 0 {
		_ = json.Unmarshal(evidenceJSON, &d.Evidence)
	}
	if len(verdictJSON) > 0 {
		var v Verdict
		if json.Unmarshal(verdictJSON, &v) == nil {
			d.Verdict = &v
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
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
