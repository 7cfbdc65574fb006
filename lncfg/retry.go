package lncfg

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/torpath/circuit"
	"golang.org/x/time/rate"
)

// Retry holds the options controlling how failed circuit builds are retried.
type Retry struct {
	MaxAttempts int           `long:"maxattempts" description:"The maximum number of build attempts, 0 retries forever"`
	Backoff     time.Duration `long:"backoff" description:"The delay before every retry"`
	Rate        float64       `long:"rate" description:"The maximum number of build attempts per second, 0 disables pacing"`
	Burst       int           `long:"burst" description:"The number of attempts allowed in a burst when rate is set"`
}

// DefaultRetry returns the default retry options. Failed builds are retried
// immediately and forever.
func DefaultRetry() Retry {
	return Retry{
		Burst: 1,
	}
}

// Validate checks the retry options.
func (r *Retry) Validate() error {
	switch {
	case r.MaxAttempts < 0:
		return fmt.Errorf("retry.maxattempts must not be negative, "+
			"got %d", r.MaxAttempts)

	case r.Backoff < 0:
		return fmt.Errorf("retry.backoff must not be negative, got %v",
			r.Backoff)

	case r.Rate < 0:
		return fmt.Errorf("retry.rate must not be negative, got %v",
			r.Rate)

	case r.Rate > 0 && r.Burst < 1:
		return fmt.Errorf("retry.burst must be at least 1, got %d",
			r.Burst)
	}

	return nil
}

// Policy converts the options into a circuit retry policy.
func (r *Retry) Policy() circuit.RetryPolicy {
	policy := circuit.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Backoff:     r.Backoff,
	}
	if r.Rate > 0 {
		policy.Limiter = rate.NewLimiter(rate.Limit(r.Rate), r.Burst)
	}

	return policy
}
