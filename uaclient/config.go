package uaclient

import (
	"errors"
	"sync"
	"time"

	"github.com/arloliu/go-uaclient/internal/clock"
	"github.com/arloliu/go-uaclient/logger"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultRequestTimeout    = 10 * time.Second
	defaultSessionTimeout    = 60 * time.Second
	defaultSessionNamePrefix = "go-uaclient"
)

// Config holds the client configuration shared by the components created from it.
// Fields are accessed through getter methods and can only be changed by Option values.
type Config struct {
	mu sync.RWMutex

	// strategy controls connect retries and the endpoint mismatch policy.
	strategy ConnectStrategy
	// connectTimeout bounds one connect attempt.
	connectTimeout time.Duration
	// requestTimeout bounds session, browse, read and subscription requests.
	requestTimeout time.Duration
	// sessionTimeout is the session timeout requested from the server.
	sessionTimeout time.Duration
	// sessionNamePrefix is the prefix of generated session names.
	sessionNamePrefix string

	clock  clock.Clock
	logger logger.Logger
}

// NewConfig creates a Config with default values and applies opts on top of them.
//
// Default values:
//   - connect strategy: 2 retries, 2 seconds initial delay, 10 seconds max delay, no endpoint mismatch
//   - connect timeout: 10 seconds
//   - request timeout: 10 seconds
//   - session timeout: 60 seconds
//   - session name prefix: "go-uaclient"
//   - clock: wall clock
//   - logger: logger.GetLogger()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		strategy:          DefaultConnectStrategy(),
		connectTimeout:    defaultConnectTimeout,
		requestTimeout:    defaultRequestTimeout,
		sessionTimeout:    defaultSessionTimeout,
		sessionNamePrefix: defaultSessionNamePrefix,
		clock:             clock.Real(),
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ConnectStrategy returns the connect strategy.
func (cfg *Config) ConnectStrategy() ConnectStrategy {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.strategy
}

// ConnectTimeout returns the timeout of one connect attempt.
func (cfg *Config) ConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connectTimeout
}

// RequestTimeout returns the timeout of one service request.
func (cfg *Config) RequestTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.requestTimeout
}

// SessionTimeout returns the requested session timeout.
func (cfg *Config) SessionTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.sessionTimeout
}

// SessionNamePrefix returns the prefix of generated session names.
func (cfg *Config) SessionNamePrefix() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.sessionNamePrefix
}

// Clock returns the clock used for backoff waits and watchdogs.
func (cfg *Config) Clock() clock.Clock {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.clock
}

// Logger returns the logger.
func (cfg *Config) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// Update applies opts to an existing Config.
func (cfg *Config) Update(opts ...Option) error {
	if cfg == nil {
		return ErrConfigNil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}

	return nil
}

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithConnectStrategy sets the connect retry strategy.
// An error is returned if MaxRetry is negative, InitialDelay is not positive or MaxDelay is
// less than InitialDelay.
func WithConnectStrategy(s ConnectStrategy) Option {
	return newOptFunc("WithConnectStrategy", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if err := s.Validate(); err != nil {
			return err
		}
		cfg.strategy = s

		return nil
	})
}

// WithConnectTimeout sets the timeout of one connect attempt.
// An error is returned if the timeout is outside the range [10ms, 5m].
//
// The default value is 10 seconds.
func WithConnectTimeout(val time.Duration) Option {
	return newOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 10*time.Millisecond || val > 5*time.Minute {
			return errors.New("connect timeout out of range [10ms, 5m]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithRequestTimeout sets the timeout of session, browse, read and subscription requests.
// An error is returned if the timeout is outside the range [10ms, 5m].
//
// The default value is 10 seconds.
func WithRequestTimeout(val time.Duration) Option {
	return newOptFunc("WithRequestTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 10*time.Millisecond || val > 5*time.Minute {
			return errors.New("request timeout out of range [10ms, 5m]")
		}
		cfg.requestTimeout = val

		return nil
	})
}

// WithSessionTimeout sets the session timeout requested from the server.
// An error is returned if the timeout is outside the range [1s, 24h].
//
// The default value is 60 seconds.
func WithSessionTimeout(val time.Duration) Option {
	return newOptFunc("WithSessionTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < time.Second || val > 24*time.Hour {
			return errors.New("session timeout out of range [1s, 24h]")
		}
		cfg.sessionTimeout = val

		return nil
	})
}

// WithSessionNamePrefix sets the prefix of generated session names.
// An error is returned if the prefix is empty.
func WithSessionNamePrefix(prefix string) Option {
	return newOptFunc("WithSessionNamePrefix", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if prefix == "" {
			return errors.New("session name prefix must not be empty")
		}
		cfg.sessionNamePrefix = prefix

		return nil
	})
}

// WithClock sets the clock for backoff waits, watchdogs and timestamps. Tests inject a fake clock.
func WithClock(c clock.Clock) Option {
	return newOptFunc("WithClock", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if c == nil {
			return errors.New("clock is nil")
		}
		cfg.clock = c

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
