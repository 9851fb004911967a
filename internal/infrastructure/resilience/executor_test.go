package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func retryAll(error) ErrorClassification {
	return ErrorClassification{Retryable: true, RecordFailure: true}
}

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	exec := NewExecutor(testConfig(4), nil)
	calls := 0

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	}, retryAll)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(testConfig(4), nil)
	calls := 0

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient %d", calls)
		}
		return nil
	}, retryAll)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecutor_ExhaustsAttempts(t *testing.T) {
	exec := NewExecutor(testConfig(4), nil)
	calls := 0
	boom := errors.New("still broken")

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	}, retryAll)
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want the last failure", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want MaxAttempts = 4", calls)
	}
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	exec := NewExecutor(testConfig(4), nil)
	calls := 0
	fatal := errors.New("validation")

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return fatal
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a non-retryable error", calls)
	}
}

func TestExecutor_BackoffDoubles(t *testing.T) {
	cfg := Config{
		MaxAttempts:    4,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Multiplier:     2.0,
	}
	exec := NewExecutor(cfg, nil)
	var stamps []time.Time

	_ = exec.Execute(context.Background(), "op", func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("transient")
	}, retryAll)

	if len(stamps) != 4 {
		t.Fatalf("attempts = %d, want 4", len(stamps))
	}
	// Waits of roughly 10ms, 20ms, 40ms between attempts.
	wants := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for i, want := range wants {
		gap := stamps[i+1].Sub(stamps[i])
		if gap < want || gap > want+50*time.Millisecond {
			t.Errorf("gap %d = %v, want >= %v", i, gap, want)
		}
	}
}

func TestExecutor_ContextCancelStopsRetrying(t *testing.T) {
	exec := NewExecutor(Config{
		MaxAttempts:    10,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Multiplier:     1.0,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := exec.Execute(ctx, "op", func(context.Context) error {
		calls++
		return errors.New("transient")
	}, retryAll)
	if err == nil {
		t.Fatal("Execute() succeeded, want failure after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want the backoff wait to observe cancellation", calls)
	}
}

func TestExecutor_BreakerOpensOnRepeatedFailures(t *testing.T) {
	cfg := testConfig(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 3
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	exec := NewExecutor(cfg, nil)

	fail := func(context.Context) error { return errors.New("down") }
	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "flaky", fail, retryAll)
	}

	calls := 0
	err := exec.Execute(context.Background(), "flaky", func(context.Context) error {
		calls++
		return nil
	}, retryAll)
	if !IsCircuitOpen(err) {
		t.Fatalf("error = %v, want an open-circuit error", err)
	}
	if calls != 0 {
		t.Errorf("operation ran %d times behind an open breaker", calls)
	}
}

func TestExecutor_BreakerIgnoresUnrecordedFailures(t *testing.T) {
	cfg := testConfig(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 3
	cfg.BreakerFailureRatio = 0.5
	exec := NewExecutor(cfg, nil)

	noRecord := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	fail := func(context.Context) error { return errors.New("client mistake") }
	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "op", fail, noRecord)
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		return nil
	}, noRecord)
	if err != nil {
		t.Errorf("Execute() error = %v, unrecorded failures must not trip the breaker", err)
	}
}

func TestExecutor_BreakersArePerOperation(t *testing.T) {
	cfg := testConfig(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	exec := NewExecutor(cfg, nil)

	fail := func(context.Context) error { return errors.New("down") }
	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "broken_op", fail, retryAll)
	}
	if err := exec.Execute(context.Background(), "broken_op", fail, retryAll); !IsCircuitOpen(err) {
		t.Fatalf("error = %v, want open circuit for broken_op", err)
	}

	if err := exec.Execute(context.Background(), "healthy_op", func(context.Context) error {
		return nil
	}, retryAll); err != nil {
		t.Errorf("healthy_op error = %v, breakers must be isolated per operation", err)
	}
}

func TestExecutor_NilCallback(t *testing.T) {
	exec := NewExecutor(testConfig(1), nil)
	if err := exec.Execute(context.Background(), "op", nil, nil); err == nil {
		t.Error("Execute(nil) succeeded, want an error")
	}
}
