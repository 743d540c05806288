// Package retrypolicy implements error categorization by substring
// match, fixed retryAfter hints per category, and exponential backoff
// with jitter for retriable categories.
package retrypolicy

import (
	"context"
	"math/rand"
	"time"

	"github.com/obra/lace-sub007/internal/engineerr"
)

// Config configures backoff. Zero values are filled by sanitize to
// the package's suggested defaults.
type Config struct {
	// MaxRetries bounds the retry budget for a single call.
	MaxRetries int

	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultConfig returns the package's suggested defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

func (c Config) sanitize() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// fixedRetryAfter is the per-category retry hint. Categories not
// listed here (non_retriable, unknown) have no fixed hint; unknown
// falls back to exponential backoff.
var fixedRetryAfter = map[engineerr.RetryCategory]time.Duration{
	engineerr.CategoryRateLimit: 60 * time.Second,
	engineerr.CategoryOverload:  10 * time.Second,
	engineerr.CategoryNetwork:   5 * time.Second,
}

// Decision is the outcome of evaluating an error against the policy.
type Decision struct {
	Category    engineerr.RetryCategory
	Retriable   bool
	RetryAfter  time.Duration
}

// Classify categorizes err and decides whether/how long to wait before
// the next attempt.
func Classify(err error, cfg Config, attempt int) Decision {
	cfg = cfg.sanitize()
	category := engineerr.Classify(err)

	if category == engineerr.CategoryNonRetriable {
		return Decision{Category: category, Retriable: false}
	}

	if hint, ok := fixedRetryAfter[category]; ok {
		return Decision{Category: category, Retriable: true, RetryAfter: hint}
	}

	// CategoryUnknown: "treated as retriable with default backoff".
	return Decision{
		Category:   category,
		Retriable:  true,
		RetryAfter: backoff(attempt, cfg),
	}
}

// backoff computes delay(attempt) = min(maxDelay, baseDelay *
// multiplier^attempt) * (1 + random[0,0.1]).
func backoff(attempt int, cfg Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(cfg.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= cfg.BackoffMultiplier
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	jitter := 1 + rand.Float64()*0.1 // #nosec G404 -- jitter, not security sensitive
	return time.Duration(delay * jitter)
}

// Do runs op, retrying per the policy until it succeeds, the retry
// budget is exhausted, the category is non-retriable, or ctx is
// cancelled. It returns the last error on exhaustion.
func Do(ctx context.Context, cfg Config, op func(attempt int) error) error {
	cfg = cfg.sanitize()
	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return engineerr.CancelledError(ctx.Err())
		}
		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		decision := Classify(err, cfg, attempt)
		if !decision.Retriable {
			return err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}
		select {
		case <-time.After(decision.RetryAfter):
		case <-ctx.Done():
			return engineerr.CancelledError(ctx.Err())
		}
	}
	return lastErr
}
