package retrypolicy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/obra/lace-sub007/internal/engineerr"
)

func fastConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Millisecond,
	}
}

func TestClassify_NonRetriableNeverWaits(t *testing.T) {
	err := errors.New("401 unauthorized")
	decision := Classify(err, fastConfig(), 0)
	if decision.Retriable {
		t.Fatalf("expected a non-retriable decision for an auth error")
	}
	if decision.Category != engineerr.CategoryNonRetriable {
		t.Errorf("expected CategoryNonRetriable, got %v", decision.Category)
	}
}

func TestClassify_CircuitOpenIsNonRetriable(t *testing.T) {
	decision := Classify(engineerr.CircuitOpenError("http"), fastConfig(), 0)
	if decision.Retriable {
		t.Errorf("expected circuit_open to be non-retriable regardless of category")
	}
}

func TestClassify_RateLimitUsesFixedHint(t *testing.T) {
	decision := Classify(errors.New("429 too many requests"), fastConfig(), 2)
	if !decision.Retriable {
		t.Fatalf("expected rate limit to be retriable")
	}
	if decision.RetryAfter != 60*time.Second {
		t.Errorf("expected the fixed 60s rate-limit hint, got %v", decision.RetryAfter)
	}
}

func TestClassify_UnknownUsesExponentialBackoff(t *testing.T) {
	cfg := fastConfig()
	d0 := Classify(errors.New("something odd happened"), cfg, 0)
	d1 := Classify(errors.New("something odd happened"), cfg, 1)
	if !d0.Retriable || !d1.Retriable {
		t.Fatalf("expected unknown errors to default to retriable")
	}
	if d1.RetryAfter <= d0.RetryAfter {
		t.Errorf("expected attempt 1's backoff (%v) to exceed attempt 0's (%v)", d1.RetryAfter, d0.RetryAfter)
	}
}

func TestClassify_BackoffCapsAtMaxDelay(t *testing.T) {
	cfg := fastConfig()
	decision := Classify(errors.New("something odd happened"), cfg, 20)
	// jitter multiplies by up to 1.1, so allow some headroom above MaxDelay.
	if decision.RetryAfter > cfg.MaxDelay+cfg.MaxDelay/5 {
		t.Errorf("expected backoff to cap near MaxDelay (%v), got %v", cfg.MaxDelay, decision.RetryAfter)
	}
}

func TestDo_SucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(attempt int) error {
		calls++
		if calls < 2 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_StopsImmediatelyOnNonRetriableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(attempt int) error {
		calls++
		return errors.New("403 forbidden")
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt for a non-retriable error, got %d", calls)
	}
}

func TestDo_ExhaustsRetryBudget(t *testing.T) {
	calls := 0
	cfg := fastConfig()
	err := Do(context.Background(), cfg, func(attempt int) error {
		calls++
		return errors.New("connection reset")
	})
	if err == nil {
		t.Fatalf("expected the last error once the retry budget is exhausted")
	}
	if calls != cfg.MaxRetries {
		t.Errorf("expected %d attempts, got %d", cfg.MaxRetries, calls)
	}
}

func TestDo_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func(attempt int) error {
		t.Fatalf("op should not run against an already-cancelled context")
		return nil
	})
	if !engineerr.Is(err, engineerr.KindCancelled) {
		t.Errorf("expected KindCancelled, got %v", err)
	}
}
