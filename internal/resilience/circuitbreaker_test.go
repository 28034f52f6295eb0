package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New(cfg)
	b.now = clk.Now
	return b, clk
}

func fail(context.Context) error    { return errTest }
func succeed(context.Context) error { return nil }

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "store"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{Name: "store", MaxFailures: 3, ResetTimeout: time.Minute})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, fail); !errors.Is(err, errTest) {
			t.Fatalf("call %d: err = %v, want errTest", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{MaxFailures: 3})
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []State
	b, clk := newTestBreaker(Config{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Second,
		OnStateChange: func(_ string, _, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.Advance(11 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", b.State())
	}

	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("half-open call: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a successful half-open call", b.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{MaxFailures: 2, ResetTimeout: 5 * time.Second})
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	clk.Advance(6 * time.Second)

	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after a failed half-open call", b.State())
	}
	if err := b.Do(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_CallTimeout(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxFailures: 1, CallTimeout: 10 * time.Millisecond})
	err := b.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, a timed-out call should count as a failure", b.State())
	}
}

func TestBreaker_ParentCancellationNotCounted(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want Canceled", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, caller cancellation must not open the breaker", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Do(context.Background(), fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", b.State())
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Fatalf("Do after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
