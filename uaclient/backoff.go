package uaclient

import (
	"errors"
	"time"
)

const retryDelayFactor = 2

// ConnectStrategy controls the retry behaviour of Connection.Open.
type ConnectStrategy struct {
	// AllowEndpointMismatch tolerates a server that reports a different endpoint URL.
	AllowEndpointMismatch bool
	// MaxRetry is the number of retries after the first attempt.
	MaxRetry int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponentially growing wait.
	MaxDelay time.Duration
}

// DefaultConnectStrategy returns two retries starting at 2 seconds, capped at 10 seconds.
func DefaultConnectStrategy() ConnectStrategy {
	return ConnectStrategy{
		AllowEndpointMismatch: false,
		MaxRetry:              2,
		InitialDelay:          2 * time.Second,
		MaxDelay:              10 * time.Second,
	}
}

// Validate checks MaxRetry >= 0, InitialDelay > 0 and MaxDelay >= InitialDelay.
func (s ConnectStrategy) Validate() error {
	switch {
	case s.MaxRetry < 0:
		return errors.New("max retry must not be negative")
	case s.InitialDelay <= 0:
		return errors.New("initial delay must be positive")
	case s.MaxDelay < s.InitialDelay:
		return errors.New("max delay must not be less than initial delay")
	}

	return nil
}

// Delay returns the wait before retry number attempt (zero based).
func (s ConnectStrategy) Delay(attempt int) time.Duration {
	return BackoffDelay(attempt, s.InitialDelay, s.MaxDelay)
}

// BackoffDelay returns min(initial * 2^attempt, max). A negative attempt is treated as zero.
func BackoffDelay(attempt int, initial time.Duration, maxDelay time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}

	delay := initial
	for i := 0; i < attempt; i++ {
		// exponential backoff with a maximum delay, checked before multiplying to avoid overflow
		if delay > maxDelay/retryDelayFactor {
			return maxDelay
		}
		delay *= retryDelayFactor
	}

	return min(delay, maxDelay)
}
