// Package webhooks delivers event notifications to external services.
//
// Entities register webhook URLs to receive notifications about:
// - Verification decisions
// - Escrow transitions
// - Dispute resolutions
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ITDevS919/trustverify/internal/circuitbreaker"
	"github.com/ITDevS919/trustverify/internal/metrics"
	"github.com/ITDevS919/trustverify/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventDecisionCompleted EventType = "decision.completed"
	EventEscrowFunded      EventType = "escrow.funded"
	EventEscrowHeld        EventType = "escrow.held"
	EventEscrowReleased    EventType = "escrow.released"
	EventEscrowRefunded    EventType = "escrow.refunded"
	EventDisputeOpened     EventType = "dispute.opened"
	EventDisputeResolved   EventType = "dispute.resolved"
)

// maxConsecutiveFailures deactivates a subscription once its endpoint has
// failed this many deliveries in a row.
const maxConsecutiveFailures = 10

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	EntityID            string      `json:"entityId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"-"`
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByEntity(ctx context.Context, entityID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// RetryConfig controls delivery retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxFailures int // consecutive failures before the subscription is deactivated
}

// DefaultRetryConfig retries three times with exponential backoff.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	MaxFailures: maxConsecutiveFailures,
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	retry        RetryConfig
	breaker      *circuitbreaker.Breaker
	urlValidator func(string) error
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return NewDispatcherWithRetry(store, DefaultRetryConfig)
}

// NewDispatcherWithRetry creates a dispatcher with custom retry behavior.
func NewDispatcherWithRetry(store Store, retry RetryConfig) *Dispatcher {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: retry,
		// Trip after 5 consecutive failed deliveries per subscription and
		// back off for 30s before probing again.
		breaker:      circuitbreaker.New(5, 30*time.Second),
		urlValidator: security.ValidateWebhookURL,
	}
}

// Dispatch sends an event to all relevant subscribers
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Send async to avoid blocking
		go d.send(ctx, sub, event)
	}

	return nil
}

// DispatchToEntity sends an event to a specific entity's webhooks
func (d *Dispatcher) DispatchToEntity(ctx context.Context, entityID string, event *Event) error {
	subs, err := d.store.GetByEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		for _, et := range sub.Events {
			if et == event.Type {
				go d.send(ctx, sub, event)
				break
			}
		}
	}

	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if d.urlValidator != nil {
		if err := d.urlValidator(sub.URL); err != nil {
			d.updateError(ctx, sub, err.Error())
			return
		}
	}

	if !d.breaker.Allow(sub.ID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	delay := d.retry.BaseDelay
	var lastErr string
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				d.updateError(ctx, sub, "delivery canceled")
				return
			}
			delay *= 2
			if delay > d.retry.MaxDelay {
				delay = d.retry.MaxDelay
			}
		}

		if ok, errMsg := d.attempt(ctx, sub, event, payload); ok {
			d.breaker.RecordSuccess(sub.ID)
			d.updateSuccess(ctx, sub)
			return
		} else {
			lastErr = errMsg
		}
	}
	d.breaker.RecordFailure(sub.ID)
	d.updateError(ctx, sub, lastErr)
}

// attempt performs one delivery and reports success or an error string.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, event *Event, payload []byte) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return false, "failed to create request"
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trustverify-Event", string(event.Type))
	req.Header.Set("X-Trustverify-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if secret is set
	if sub.Secret != "" {
		signature := d.sign(payload, sub.Secret)
		req.Header.Set("X-Trustverify-Signature", signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks an HMAC-SHA256 signature against the payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	d.store.Update(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	limit := d.retry.MaxFailures
	if limit <= 0 {
		limit = maxConsecutiveFailures
	}
	if sub.ConsecutiveFailures >= limit {
		sub.Active = false
	}
	d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByEntity(ctx context.Context, entityID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.EntityID == entityID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
