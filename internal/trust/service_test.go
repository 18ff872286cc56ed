package trust

import (
	"context"
	"testing"
	"time"
)

func TestScoreEntityPersistsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store)

	entity := &Entity{
		ID:                    "ent_1",
		Kind:                  "individual",
		VerificationLevel:     LevelFull,
		CompletedTransactions: 60,
		CreatedAt:             time.Now().AddDate(-2, 0, 0),
	}
	if err := svc.RegisterEntity(ctx, entity); err != nil {
		t.Fatalf("RegisterEntity: %v", err)
	}

	fctx := FactorContext{TransactionAmount: 50, PaymentMethod: "escrow"}

	first, err := svc.ScoreEntity(ctx, "ent_1", fctx)
	if err != nil {
		t.Fatalf("ScoreEntity: %v", err)
	}
	second, err := svc.ScoreEntity(ctx, "ent_1", fctx)
	if err != nil {
		t.Fatalf("ScoreEntity (second): %v", err)
	}

	if first.Score != second.Score {
		t.Errorf("recompute changed score: %v != %v", first.Score, second.Score)
	}

	stored, err := store.Get(ctx, "ent_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.TrustScore != first.Score {
		t.Errorf("stored score = %v, want %v", stored.TrustScore, first.Score)
	}
	if stored.TrustScore < 0 || stored.TrustScore > 100 {
		t.Errorf("stored score out of bounds: %v", stored.TrustScore)
	}
}

func TestScoreEntityUnknown(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if _, err := svc.ScoreEntity(context.Background(), "ent_missing", FactorContext{}); err != ErrEntityNotFound {
		t.Errorf("err = %v, want ErrEntityNotFound", err)
	}
}

func TestRecordTransactionOutcome(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store)

	entity := &Entity{ID: "ent_1", Kind: "individual"}
	if err := svc.RegisterEntity(ctx, entity); err != nil {
		t.Fatalf("RegisterEntity: %v", err)
	}

	if err := svc.RecordTransactionOutcome(ctx, "ent_1", true, false); err != nil {
		t.Fatalf("RecordTransactionOutcome: %v", err)
	}
	if err := svc.RecordTransactionOutcome(ctx, "ent_1", false, true); err != nil {
		t.Fatalf("RecordTransactionOutcome: %v", err)
	}

	got, _ := store.Get(ctx, "ent_1")
	if got.CompletedTransactions != 2 || got.SuccessfulTransactions != 1 || got.Disputes != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1",
			got.CompletedTransactions, got.SuccessfulTransactions, got.Disputes)
	}
}

func TestFastTrackEligible(t *testing.T) {
	e := &Entity{VerificationLevel: LevelFull, TrustScore: 90}
	if !e.FastTrackEligible() {
		t.Error("expected fast-track eligibility")
	}

	e.SanctionLevel = 1
	if e.FastTrackEligible() {
		t.Error("sanction level must suppress fast-track")
	}

	e.SanctionLevel = 0
	e.TrustScore = 84
	if e.FastTrackEligible() {
		t.Error("score below threshold must suppress fast-track")
	}
}

func TestRegisterEntityDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	if err := svc.RegisterEntity(ctx, &Entity{ID: "ent_1"}); err != nil {
		t.Fatalf("RegisterEntity: %v", err)
	}
	if err := svc.RegisterEntity(ctx, &Entity{ID: "ent_1"}); err != ErrEntityExists {
		t.Errorf("err = %v, want ErrEntityExists", err)
	}
}
