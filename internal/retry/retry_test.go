package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_TransientFailureThenSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("provider timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	sentinel := errors.New("provider unavailable")
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDo_PermanentSkipsRemainingAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("malformed request")
	err := Do(context.Background(), 5, 10*time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("provider timeout")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c := calls.Load(); c > 3 {
		t.Fatalf("calls = %d, want at most 3", c)
	}
}

func TestDo_ZeroAttemptsRoundsUpToOne(t *testing.T) {
	calls := 0
	if err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestJittered_StaysWithinSpread(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jittered(base)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered(%v) = %v, want within +-25%%", base, d)
		}
	}
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("account closed")
	if !errors.Is(Permanent(inner), inner) {
		t.Fatal("Permanent should unwrap to the inner error")
	}
}
