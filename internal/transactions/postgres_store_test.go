//go:build integration

package transactions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ITDevS919/trustverify/internal/pagination"
	"github.com/ITDevS919/trustverify/internal/testutil"
	"github.com/ITDevS919/trustverify/internal/trust"
)

func seedPGTransaction(t *testing.T, store *PostgresStore, id string, createdAt time.Time) *Transaction {
	t.Helper()
	tx := &Transaction{
		ID:            id,
		BuyerID:       "ent_buyer",
		SellerID:      "ent_seller",
		Amount:        250,
		Currency:      "USD",
		PaymentMethod: "card",
		Status:        StatusPending,
		RiskScore:     42,
		RiskLevel:     trust.RiskMedium,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if err := store.Create(context.Background(), tx); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return tx
}

func TestPostgresStore_TransactionRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	want := seedPGTransaction(t, store, "txn_pg_1", now)

	got, err := store.Get(context.Background(), "txn_pg_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BuyerID != want.BuyerID || got.SellerID != want.SellerID {
		t.Errorf("parties = (%s, %s), want (%s, %s)", got.BuyerID, got.SellerID, want.BuyerID, want.SellerID)
	}
	if got.Amount != 250 || got.Currency != "USD" || got.PaymentMethod != "card" {
		t.Errorf("payment fields lost: amount=%.0f currency=%s method=%s", got.Amount, got.Currency, got.PaymentMethod)
	}
	if got.Status != StatusPending || got.RiskLevel != trust.RiskMedium {
		t.Errorf("status=%s risk=%s, want pending/medium", got.Status, got.RiskLevel)
	}
	if got.CompletedAt != nil {
		t.Error("completedAt should be nil for a pending transaction")
	}
}

func TestPostgresStore_GetMissingTransaction(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	if _, err := store.Get(context.Background(), "txn_absent"); err != ErrTransactionNotFound {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestPostgresStore_UpdateIfConditional(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	tx := seedPGTransaction(t, store, "txn_pg_cas", now)

	tx.Status = StatusEscrow
	tx.UpdatedAt = now.Add(time.Second)
	if err := store.UpdateIf(context.Background(), tx, StatusPending); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// the same precondition again loses the race
	stale := *tx
	stale.Status = StatusCompleted
	if err := store.UpdateIf(context.Background(), &stale, StatusPending); err != ErrStatusChanged {
		t.Fatalf("stale err = %v, want ErrStatusChanged", err)
	}

	ghost := &Transaction{ID: "txn_pg_ghost", Status: StatusEscrow, UpdatedAt: now}
	if err := store.UpdateIf(context.Background(), ghost, StatusPending); err != ErrTransactionNotFound {
		t.Fatalf("ghost err = %v, want ErrTransactionNotFound", err)
	}
}

func TestPostgresStore_ListByEntityKeyset(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedPGTransaction(t, store, fmt.Sprintf("txn_pg_page_%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	ctx := context.Background()

	// first page: newest first
	page1, err := store.ListByEntity(ctx, "ent_buyer", 2, nil)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1 len = %d, want 2", len(page1))
	}
	if page1[0].ID != "txn_pg_page_4" || page1[1].ID != "txn_pg_page_3" {
		t.Fatalf("page 1 order = [%s, %s], want newest first", page1[0].ID, page1[1].ID)
	}

	// resume strictly after the last row of page 1
	cursor := &pagination.Cursor{CreatedAt: page1[1].CreatedAt, ID: page1[1].ID}
	page2, err := store.ListByEntity(ctx, "ent_buyer", 2, cursor)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page 2 len = %d, want 2", len(page2))
	}
	if page2[0].ID != "txn_pg_page_2" || page2[1].ID != "txn_pg_page_1" {
		t.Fatalf("page 2 = [%s, %s], want continuation without overlap", page2[0].ID, page2[1].ID)
	}

	// seller sees the same rows
	bySeller, err := store.ListByEntity(ctx, "ent_seller", 0, nil)
	if err != nil {
		t.Fatalf("by seller: %v", err)
	}
	if len(bySeller) != 5 {
		t.Fatalf("seller len = %d, want 5", len(bySeller))
	}
}
