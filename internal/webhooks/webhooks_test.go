package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/ITDevS919/trustverify/internal/circuitbreaker"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

// newTestDispatcher creates a dispatcher that skips SSRF checks for localhost test servers.
func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcherWithRetry(store, RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		MaxFailures: 50,
	})
	d.urlValidator = noopValidator
	return d
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		EntityID:  "ent_buyer",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventDecisionCompleted},
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	sub.Active = false
	store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	store.Delete(ctx, "wh_test1")
	if _, err := store.Get(ctx, "wh_test1"); err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByEntity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", EntityID: "ent_a", Events: []EventType{EventDecisionCompleted}})
	store.Create(ctx, &Subscription{ID: "wh2", EntityID: "ent_b", Events: []EventType{EventDecisionCompleted}})
	store.Create(ctx, &Subscription{ID: "wh3", EntityID: "ent_a", Events: []EventType{EventEscrowReleased}})

	subs, _ := store.GetByEntity(ctx, "ent_a")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for ent_a, got %d", len(subs))
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", Events: []EventType{EventDisputeResolved, EventEscrowRefunded}})
	store.Create(ctx, &Subscription{ID: "wh2", Events: []EventType{EventEscrowReleased}})
	store.Create(ctx, &Subscription{ID: "wh3", Events: []EventType{EventDisputeResolved}})

	subs, _ := store.GetByEvent(ctx, EventDisputeResolved)
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for dispute.resolved, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())

	payload := []byte(`{"type":"decision.completed","data":{}}`)
	secret := "test_secret_key"

	sig := d.sign(payload, secret)

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
	if !VerifySignature(payload, secret, sig) {
		t.Error("VerifySignature should accept a valid signature")
	}
	if VerifySignature(payload, "wrong", sig) {
		t.Error("VerifySignature should reject the wrong secret")
	}
}

func TestSign_DifferentSecrets(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())

	payload := []byte(`{"test": true}`)
	sig1 := d.sign(payload, "secret1")
	sig2 := d.sign(payload, "secret2")

	if sig1 == sig2 {
		t.Error("Different secrets should produce different signatures")
	}
}

// ---------------------------------------------------------------------------
// Dispatch tests
// ---------------------------------------------------------------------------

func TestDispatch_SendsToSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventDecisionCompleted},
		Active: true,
	})

	d := newTestDispatcher(store)
	event := &Event{
		Type:      EventDecisionCompleted,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"decision": "approved"},
	}

	if err := d.Dispatch(ctx, event); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// Wait for async delivery
	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 webhook delivery, got %d", received.Load())
	}
}

func TestDispatch_SkipsInactiveSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventDecisionCompleted},
		Active: false,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventDecisionCompleted, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 deliveries for inactive sub, got %d", received.Load())
	}
}

func TestDispatch_IncludesSignature(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotSig string
	var gotBody []byte
	secret := "test_webhook_secret" //nolint:gosec // test credential

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Trustverify-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventDisputeResolved},
		Active: true,
		Secret: secret,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{
		Type:      EventDisputeResolved,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"outcome": "buyer"},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if gotSig == "" {
		t.Fatal("Expected signature header")
	}
	if !VerifySignature(gotBody, secret, gotSig) {
		t.Error("Delivered signature did not verify")
	}
}

func TestDispatch_IncludesEventHeaders(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotEventType string
	var gotTimestamp string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotEventType = r.Header.Get("X-Trustverify-Event")
		gotTimestamp = r.Header.Get("X-Trustverify-Timestamp")
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventEscrowHeld},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventEscrowHeld, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if gotEventType != "escrow.held" {
		t.Errorf("Expected event type escrow.held, got %s", gotEventType)
	}
	if gotTimestamp == "" {
		t.Error("Expected timestamp header")
	}
}

func TestDispatch_PayloadFormat(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventDecisionCompleted},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{
		Type:      EventDecisionCompleted,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"applicationId": "app_1", "decision": "approved"},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var parsed Event
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("Failed to parse webhook payload: %v", err)
	}
	if parsed.Type != EventDecisionCompleted {
		t.Errorf("Expected type decision.completed, got %s", parsed.Type)
	}
}

func TestDispatch_ErrorUpdatesSubscription(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventDecisionCompleted},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventDecisionCompleted, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.LastError == "" {
		t.Error("Expected lastError to be set after 500 response")
	}
	if sub.ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 consecutive failure, got %d", sub.ConsecutiveFailures)
	}
}

func TestDispatch_DeactivatesAfterRepeatedFailures(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventDecisionCompleted},
		Active: true,
	})

	d := NewDispatcherWithRetry(store, RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		MaxFailures: 2,
	})
	d.urlValidator = noopValidator

	for i := 0; i < 2; i++ {
		d.Dispatch(ctx, &Event{Type: EventDecisionCompleted, Timestamp: time.Now()})
		time.Sleep(100 * time.Millisecond)
	}

	sub, _ := store.Get(ctx, "wh1")
	if sub.Active {
		t.Error("Subscription should deactivate after hitting the failure limit")
	}
}

func TestDispatch_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	store := NewMemoryStore()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventDecisionCompleted},
		Active: true,
	})

	d := newTestDispatcher(store)

	// Five failed deliveries trip the per-subscription circuit; the sixth
	// dispatch never reaches the endpoint.
	for i := 0; i < 6; i++ {
		d.Dispatch(ctx, &Event{Type: EventDecisionCompleted, Timestamp: time.Now()})
		time.Sleep(50 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&hits); got != 5 {
		t.Errorf("Expected 5 endpoint hits before the circuit opened, got %d", got)
	}
	if d.breaker.State("wh1") != circuitbreaker.StateOpen {
		t.Error("Expected circuit open after repeated failures")
	}
}

func TestDispatch_SuccessUpdatesSubscription(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:                  "wh1",
		URL:                 server.URL,
		Events:              []EventType{EventDecisionCompleted},
		Active:              true,
		ConsecutiveFailures: 3,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventDecisionCompleted, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.LastSuccess == nil {
		t.Error("Expected lastSuccess to be set after successful delivery")
	}
	if sub.LastError != "" {
		t.Errorf("Expected no error after success, got %s", sub.LastError)
	}
	if sub.ConsecutiveFailures != 0 {
		t.Error("Success should reset the failure counter")
	}
}

// ---------------------------------------------------------------------------
// DispatchToEntity tests
// ---------------------------------------------------------------------------

func TestDispatchToEntity_FiltersCorrectly(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{ID: "wh1", EntityID: "ent_a", URL: server.URL, Events: []EventType{EventDecisionCompleted}, Active: true})
	store.Create(ctx, &Subscription{ID: "wh2", EntityID: "ent_a", URL: server.URL, Events: []EventType{EventEscrowReleased}, Active: true})
	store.Create(ctx, &Subscription{ID: "wh3", EntityID: "ent_b", URL: server.URL, Events: []EventType{EventDecisionCompleted}, Active: true})

	d := newTestDispatcher(store)
	d.DispatchToEntity(ctx, "ent_a", &Event{Type: EventDecisionCompleted, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 delivery (ent_a, decision.completed only), got %d", received.Load())
	}
}

func TestDispatchToEntity_NoMatchingEvents(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{ID: "wh1", EntityID: "ent_a", URL: server.URL, Events: []EventType{EventEscrowReleased}, Active: true})

	d := newTestDispatcher(store)
	d.DispatchToEntity(ctx, "ent_a", &Event{Type: EventDecisionCompleted, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 deliveries for non-matching event, got %d", received.Load())
	}
}

// ---------------------------------------------------------------------------
// Emitter tests
// ---------------------------------------------------------------------------

func counterValue(t *testing.T, label string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := webhookEmitTotal.WithLabelValues(label).Write(m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestEmitterDeliversDecisionEvent(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		EntityID: "ent_applicant",
		URL:      server.URL,
		Events:   []EventType{EventDecisionCompleted},
		Active:   true,
	})

	d := newTestDispatcher(store)
	e := NewEmitter(d, slog.Default())

	before := counterValue(t, string(EventDecisionCompleted))
	e.EmitDecisionCompleted("app_1", "ent_applicant", "approved", 92.5, "low")
	time.Sleep(200 * time.Millisecond)

	if got := counterValue(t, string(EventDecisionCompleted)); got != before+1 {
		t.Errorf("emit counter = %v, want %v", got, before+1)
	}

	mu.Lock()
	defer mu.Unlock()
	var parsed Event
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if parsed.Data["decision"] != "approved" {
		t.Errorf("decision = %v, want approved", parsed.Data["decision"])
	}
	if parsed.Data["applicationId"] != "app_1" {
		t.Errorf("applicationId = %v", parsed.Data["applicationId"])
	}
}

func TestEmitterNilSafe(t *testing.T) {
	var e *Emitter
	// Must not panic when wired optionally.
	e.EmitDecisionCompleted("app_1", "ent_1", "approved", 90, "low")
	e.EmitDisputeResolved("dsp_1", "txn_1", "buyer", false)
}
