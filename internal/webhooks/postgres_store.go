package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists webhook subscriptions in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, entity_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.EntityID, sub.URL, sub.Secret, eventsJSON, sub.Active, sub.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	sub := &Subscription{}
	var eventsJSON []byte
	var lastSuccess sql.NullTime
	var lastError sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT id, entity_id, url, secret, events, active, created_at, last_success, last_error, consecutive_failures
		FROM webhook_subscriptions WHERE id = $1
	`, id).Scan(
		&sub.ID, &sub.EntityID, &sub.URL, &sub.Secret, &eventsJSON,
		&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError, &sub.ConsecutiveFailures,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(eventsJSON, &sub.Events); err != nil {
		return nil, err
	}

	if lastSuccess.Valid {
		sub.LastSuccess = &lastSuccess.Time
	}
	sub.LastError = lastError.String

	return sub, nil
}

func (p *PostgresStore) GetByEntity(ctx context.Context, entityID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entity_id, url, secret, events, active, created_at, last_success, last_error, consecutive_failures
		FROM webhook_subscriptions WHERE entity_id = $1 ORDER BY created_at DESC
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return p.scanSubscriptions(rows)
}

func (p *PostgresStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	// json.Marshal safely encodes the event type for the JSONB containment query
	eventsJSON, _ := json.Marshal([]string{string(eventType)})

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entity_id, url, secret, events, active, created_at, last_success, last_error, consecutive_failures
		FROM webhook_subscriptions
		WHERE active = TRUE AND events @> $1::jsonb
	`, string(eventsJSON))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return p.scanSubscriptions(rows)
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET
			active = $1,
			last_success = $2,
			last_error = $3,
			consecutive_failures = $4
		WHERE id = $5
	`, sub.Active, sub.LastSuccess, sub.LastError, sub.ConsecutiveFailures, sub.ID)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	return err
}

func (p *PostgresStore) scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		var eventsJSON []byte
		var lastSuccess sql.NullTime
		var lastError sql.NullString

		if err := rows.Scan(
			&sub.ID, &sub.EntityID, &sub.URL, &sub.Secret, &eventsJSON,
			&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError, &sub.ConsecutiveFailures,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(eventsJSON, &sub.Events); err != nil {
			return nil, err
		}

		if lastSuccess.Valid {
			sub.LastSuccess = &lastSuccess.Time
		}
		sub.LastError = lastError.String

		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
