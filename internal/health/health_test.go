package health

import (
	"context"
	"sync"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("dispute_timer", func(_ context.Context) Status {
		return Status{Name: "dispute_timer", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("dispute_timer", func(_ context.Context) Status {
		return Status{Name: "dispute_timer", Healthy: false, Detail: "not running"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "not running" {
		t.Fatalf("expected detail 'not running', got %q", statuses[1].Detail)
	}
}

func TestRunningChecker(t *testing.T) {
	running := true
	c := RunningChecker("dispute_timer", func() bool { return running })

	if s := c(context.Background()); !s.Healthy {
		t.Error("running checker should report healthy")
	}
	running = false
	if s := c(context.Background()); s.Healthy {
		t.Error("stopped checker should report unhealthy")
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}(i)
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
