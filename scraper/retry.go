package scraper

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"car_scrooper/config"
)

// RetryPolicy decides how often and how patiently a navigation is retried
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Retryable       func(error) bool
}

var errorKinds = map[string]error{
	"navigation":       ErrNavigation,
	"transient_status": ErrTransientStatus,
	"selector_missing": ErrSelectorMissing,
}

// NewRetryPolicy builds a policy from site config. Unknown kinds in retry_on are ignored.
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	var kinds []error
	for _, name := range cfg.RetryOn {
		if kind, ok := errorKinds[name]; ok {
			kinds = append(kinds, kind)
		} else {
			log.Printf("Warning: unknown retry kind %q", name)
		}
	}

	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
		Retryable:       RetryOn(kinds...),
	}
}

// RetryOn matches errors wrapping any of kinds
func RetryOn(kinds ...error) func(error) bool {
	return func(err error) bool {
		for _, kind := range kinds {
			if errors.Is(err, kind) {
				return true
			}
		}
		return false
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or attempts run out
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && (p.Retryable == nil || !p.Retryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Printf("Retrying in %s after: %v", wait.Round(time.Millisecond), err)
	})
}
