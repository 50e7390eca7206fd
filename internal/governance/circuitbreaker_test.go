package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("simulated failure")

func TestCircuitBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 3,
		OpenTimeout: time.Second,
	}, WithClock(clock.Now), WithStateChangeHook(func(from, to CircuitBreakerState) {
		transitions = append(transitions, string(from)+"->"+string(to))
	}))

	// Phase 1: closed, failures accumulate
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected wrapped call error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("circuit should be open after 3 failures, got %s", cb.State())
	}

	// Phase 2: open, calls rejected without running
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open circuit must not invoke the call")
	}

	// Phase 3: half-open trial fails and reopens
	clock.Advance(time.Second)
	if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("trial should run, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("failed trial should reopen, got %s", cb.State())
	}

	// Phase 4: successful trial closes
	clock.Advance(time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial should succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("successful trial should close, got %s", cb.State())
	}

	want := []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute})

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })

	if cb.State() != StateClosed {
		t.Fatalf("non-consecutive failures should not open the circuit, got %s", cb.State())
	}
	stats := cb.Stats()
	if stats.Failures != 2 || stats.Successes != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 0})
	for i := 0; i < 20; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	if cb.State() != StateClosed {
		t.Fatalf("disabled breaker must stay closed, got %s", cb.State())
	}
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.ExecuteContext(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("caller cancellation should not trip the breaker, got %s", cb.State())
	}

	err = cb.ExecuteContext(ctx, func(context.Context) error {
		t.Fatal("cancelled context must short-circuit")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerManager(t *testing.T) {
	m := NewCircuitBreakerManager(CircuitBreakerConfig{MaxFailures: 5, OpenTimeout: time.Minute})
	m.Configure("form-strict", CircuitBreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute})

	if m.Get("form-strict") != m.Get("form-strict") {
		t.Fatal("manager should return the same breaker for the same name")
	}

	_ = m.Get("form-strict").Execute(func() error { return errBoom })
	_ = m.Get("form-lenient").Execute(func() error { return errBoom })

	stats := m.Stats()
	if stats["form-strict"].State != string(StateOpen) {
		t.Fatalf("form-strict should be open, got %+v", stats["form-strict"])
	}
	if stats["form-lenient"].State != string(StateClosed) {
		t.Fatalf("form-lenient should be closed, got %+v", stats["form-lenient"])
	}

	m.ResetAll()
	if m.Get("form-strict").State() != StateClosed {
		t.Fatal("ResetAll should close every breaker")
	}
}

func TestCircuitBreakerManagerStateChangeNamesBreaker(t *testing.T) {
	m := NewCircuitBreakerManager(CircuitBreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute})

	var mu sync.Mutex
	var seen []string
	m.OnStateChange(func(name string, from, to CircuitBreakerState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, name+":"+string(from)+"->"+string(to))
	})

	_ = m.Get("form-subscribe").Execute(func() error { return errBoom })

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "form-subscribe:closed->open" {
		t.Fatalf("unexpected transitions: %v", seen)
	}
}
