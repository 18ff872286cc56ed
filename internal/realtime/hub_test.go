package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// runHub starts the hub loop and stops it when the test finishes.
func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	return h
}

func subscriber(sub Subscription) *Client {
	return &Client{send: make(chan []byte, 256), sub: sub}
}

// ---------------------------------------------------------------------------
// subscription filtering
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := subscriber(Subscription{AllEvents: true})

	if !h.shouldSend(client, &Event{Type: EventDecision, Timestamp: time.Now()}) {
		t.Error("AllEvents client should receive every event")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := subscriber(Subscription{
		EventTypes: []EventType{EventDecision, EventEscrow},
	})

	for _, tc := range []struct {
		typ  EventType
		want bool
	}{
		{EventDecision, true},
		{EventEscrow, true},
		{EventDisputeStage, false},
	} {
		if got := h.shouldSend(client, &Event{Type: tc.typ}); got != tc.want {
			t.Errorf("shouldSend(%s) = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestShouldSend_EntityFilter(t *testing.T) {
	h := testHub()
	client := subscriber(Subscription{EntityIDs: []string{"ent_watched"}})

	for name, tc := range map[string]struct {
		event *Event
		want  bool
	}{
		"matches buyer": {&Event{
			Type: EventTransaction,
			Data: map[string]interface{}{"buyerId": "ent_watched", "sellerId": "ent_other"},
		}, true},
		"matches seller": {&Event{
			Type: EventTransaction,
			Data: map[string]interface{}{"buyerId": "ent_someone", "sellerId": "ent_watched"},
		}, true},
		"matches subject entity": {&Event{
			Type: EventDecision,
			Data: map[string]interface{}{"entityId": "ent_watched"},
		}, true},
		"unrelated parties": {&Event{
			Type: EventTransaction,
			Data: map[string]interface{}{"buyerId": "ent_other", "sellerId": "ent_another"},
		}, false},
	} {
		if got := h.shouldSend(client, tc.event); got != tc.want {
			t.Errorf("%s: shouldSend = %v, want %v", name, got, tc.want)
		}
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()
	client := subscriber(Subscription{MinAmount: 100.0})

	large := &Event{Type: EventTransaction, Data: map[string]interface{}{"amount": 150.0}}
	small := &Event{Type: EventTransaction, Data: map[string]interface{}{"amount": 50.0}}
	decision := &Event{Type: EventDecision, Data: map[string]interface{}{"decision": "approved"}}

	if !h.shouldSend(client, large) {
		t.Error("transaction above the floor should pass")
	}
	if h.shouldSend(client, small) {
		t.Error("transaction below the floor should be filtered")
	}
	if !h.shouldSend(client, decision) {
		t.Error("amount floor applies to transactions only")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := subscriber(Subscription{})

	if !h.shouldSend(client, &Event{Type: EventTransaction}) {
		t.Error("subscription with no filters should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()
	client := subscriber(Subscription{EntityIDs: []string{"ent_watched"}})

	// Entity filter cannot extract IDs from non-map data, so the event
	// passes through rather than being silently dropped.
	event := &Event{Type: EventDecision, Data: "not a map"}
	if !h.shouldSend(client, event) {
		t.Error("non-map data should pass the entity filter")
	}
}

// ---------------------------------------------------------------------------
// hub lifecycle
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	stats := testHub().Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("connectedClients = %v, want 0", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("totalEvents = %v, want 0", stats["totalEvents"])
	}
}

func TestHub_BroadcastCountsEvents(t *testing.T) {
	h := runHub(t)

	h.Broadcast(&Event{Type: EventTransaction, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	if got := h.Stats()["totalEvents"].(int64); got != 1 {
		t.Errorf("totalEvents = %v, want 1", got)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := runHub(t)

	client := subscriber(Subscription{AllEvents: true})
	client.hub = h

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("connectedClients = %v, want 1", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("peakClients = %v, want 1", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("connectedClients after unregister = %v, want 0", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("peakClients should survive disconnects, got %v", stats["peakClients"])
	}
}

func TestHub_DeliversToSubscribedClient(t *testing.T) {
	h := runHub(t)

	client := subscriber(Subscription{AllEvents: true})
	client.hub = h
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventDecision,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"decision": "approved"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("delivered message should not be empty")
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast")
	}
}

func TestHub_BroadcastHelpers(t *testing.T) {
	h := runHub(t)

	h.BroadcastDecision(map[string]interface{}{
		"applicationId": "app_1", "entityId": "ent_1", "decision": "approved",
	})
	h.BroadcastTransaction(map[string]interface{}{
		"buyerId": "ent_a", "sellerId": "ent_b", "amount": 100.0,
	})
	h.BroadcastEscrow(map[string]interface{}{
		"accountId": "esc_1", "status": "held",
	})
	h.BroadcastDisputeStage(map[string]interface{}{
		"disputeId": "dsp_1", "stage": "resolution",
	})
}

func TestHub_StopsOnContextCancel(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := runHub(t)

	// client only wants dispute stage changes
	client := subscriber(Subscription{EventTypes: []EventType{EventDisputeStage}})
	client.hub = h
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventTransaction, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("transaction event should have been filtered out")
	default:
	}

	h.Broadcast(&Event{Type: EventDisputeStage, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("delivered message should not be empty")
		}
	case <-time.After(time.Second):
		t.Error("dispute_stage event should have been delivered")
	}
}
