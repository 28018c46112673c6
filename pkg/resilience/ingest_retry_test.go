package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type transientErr struct{ after time.Duration }

func (e *transientErr) Error() string             { return "transient" }
func (e *transientErr) Retryable() bool           { return true }
func (e *transientErr) RetryAfter() time.Duration { return e.after }

func fastConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 4, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
}

func TestDo_TransientFailuresUseFullAttemptCap(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return &transientErr{}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Errorf("fn called %d times, want 4", calls)
	}
}

func TestDo_PermanentFailureReturnsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("permanent")
	})
	if err == nil || calls != 1 {
		t.Errorf("fn called %d times with err %v, want 1 call and an error", calls, err)
	}
}

func TestDo_RateLimitedCallRetriedOnce(t *testing.T) {
	calls := 0
	throttled := &transientErr{after: time.Millisecond}
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return throttled
	})
	if !errors.Is(err, throttled) {
		t.Fatalf("err = %v, want the throttle error", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2 (initial call plus one retry)", calls)
	}
}

func TestDo_RecoveryAfterRateLimitSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls == 1 {
			return &transientErr{after: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
}

func TestDo_ContextCancelInterruptsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, &RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}, func() error {
		return &transientErr{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
