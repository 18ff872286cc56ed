//go:build integration

package trust

import (
	"context"
	"testing"
	"time"

	"github.com/ITDevS919/trustverify/internal/testutil"
)

func seedPGEntity(t *testing.T, store *PostgresStore, id string, score float64) *Entity {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &Entity{
		ID:                     id,
		Kind:                   "individual",
		DisplayName:            "Integration Test",
		VerificationLevel:      LevelBasic,
		TrustScore:             score,
		CompletedTransactions:  12,
		SuccessfulTransactions: 11,
		Disputes:               1,
		KYCVerified:            true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := store.Create(context.Background(), e); err != nil {
		t.Fatalf("create entity: %v", err)
	}
	return e
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	want := seedPGEntity(t, store, "ent_pg_1", 62.5)

	got, err := store.Get(context.Background(), "ent_pg_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != want.Kind || got.DisplayName != want.DisplayName {
		t.Errorf("got kind=%s name=%q, want kind=%s name=%q", got.Kind, got.DisplayName, want.Kind, want.DisplayName)
	}
	if got.VerificationLevel != LevelBasic {
		t.Errorf("verification level = %s, want basic", got.VerificationLevel)
	}
	if got.TrustScore != 62.5 {
		t.Errorf("trust score = %.1f, want 62.5", got.TrustScore)
	}
	if got.CompletedTransactions != 12 || got.SuccessfulTransactions != 11 || got.Disputes != 1 {
		t.Errorf("history = (%d, %d, %d), want (12, 11, 1)",
			got.CompletedTransactions, got.SuccessfulTransactions, got.Disputes)
	}
	if !got.KYCVerified {
		t.Error("kyc flag lost on round trip")
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	if _, err := store.Get(context.Background(), "ent_absent"); err != ErrEntityNotFound {
		t.Fatalf("err = %v, want ErrEntityNotFound", err)
	}
}

func TestPostgresStore_Update(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	e := seedPGEntity(t, store, "ent_pg_upd", 40)
	e.TrustScore = 55
	e.CompletedTransactions = 13
	e.AMLCleared = true
	e.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	if err := store.Update(context.Background(), e); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(context.Background(), "ent_pg_upd")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.TrustScore != 55 || got.CompletedTransactions != 13 || !got.AMLCleared {
		t.Errorf("update not persisted: score=%.1f completed=%d aml=%v",
			got.TrustScore, got.CompletedTransactions, got.AMLCleared)
	}
}

func TestPostgresStore_UpdateMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	ghost := &Entity{ID: "ent_ghost", Kind: "individual", VerificationLevel: LevelNone}
	if err := store.Update(context.Background(), ghost); err != ErrEntityNotFound {
		t.Fatalf("err = %v, want ErrEntityNotFound", err)
	}
}

func TestPostgresStore_List(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	seedPGEntity(t, store, "ent_pg_a", 30)
	seedPGEntity(t, store, "ent_pg_b", 70)
	seedPGEntity(t, store, "ent_pg_c", 50)

	entities, err := store.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("len = %d, want 2 (limit applied)", len(entities))
	}
}
