package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       1.0,
	}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected success after retries, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDo_BudgetExhausted(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastPolicy(2), func() error {
		calls++
		return errors.New("always failing")
	})

	if result.Err == nil {
		t.Error("expected error after exhausted budget")
	}
	if calls != 3 {
		t.Errorf("expected first attempt plus 2 retries = 3 calls, got %d", calls)
	}
}

func TestDo_PermanentStopsRetries(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return Permanent(errors.New("bad credentials"))
	})

	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
	if !IsPermanent(result.Err) {
		t.Errorf("expected permanent error, got %v", result.Err)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxRetries: -1, InitialDelay: time.Minute, MaxDelay: time.Minute, Factor: 1.0}

	calls := 0
	done := make(chan Result, 1)
	go func() {
		done <- Do(ctx, policy, func() error {
			calls++
			return errors.New("failing")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		if !errors.Is(result.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", result.Err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call before cancellation, got %d", calls)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestPolicy_AllowsUnlimited(t *testing.T) {
	p := Policy{MaxRetries: -1}
	if !p.Allows(1) || !p.Allows(1_000_000) {
		t.Error("unlimited policy refused a retry")
	}

	limited := Policy{MaxRetries: 2}
	if !limited.Allows(2) {
		t.Error("Allows(2) = false with budget 2")
	}
	if limited.Allows(3) {
		t.Error("Allows(3) = true with budget 2")
	}

	zero := Policy{MaxRetries: 0}
	if zero.Allows(1) {
		t.Error("Allows(1) = true with zero budget")
	}
}

func TestPolicy_FixedDelay(t *testing.T) {
	p := StreamDefaults()
	for _, retry := range []int{1, 2, 7} {
		if got := p.Delay(retry); got != 10*time.Second {
			t.Errorf("Delay(%d) = %v, want fixed 10s", retry, got)
		}
	}
}

func TestPolicy_ExponentialGrowthAndCap(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Factor: 2.0}

	if got := p.Delay(1); got != 100*time.Millisecond {
		t.Errorf("Delay(1) = %v, want 100ms", got)
	}
	if got := p.Delay(2); got != 200*time.Millisecond {
		t.Errorf("Delay(2) = %v, want 200ms", got)
	}
	if got := p.Delay(3); got != 300*time.Millisecond {
		t.Errorf("Delay(3) = %v, want the 300ms cap", got)
	}
}

func TestPolicy_JitterBounds(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 1.0, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms]", d)
		}
	}
}

func TestWait(t *testing.T) {
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("Wait(0) = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, result := DoWithValue(context.Background(), fastPolicy(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "answer", nil
	})

	if result.Err != nil {
		t.Errorf("expected success, got %v", result.Err)
	}
	if value != "answer" {
		t.Errorf("value = %q, want %q", value, "answer")
	}
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("underlying")
	wrapped := Permanent(base)

	if !errors.Is(wrapped, base) {
		t.Error("Permanent broke the error chain")
	}
	if wrapped.Error() != "underlying" {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), "underlying")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
	if IsPermanent(base) {
		t.Error("IsPermanent(plain error) = true")
	}
}
