package uaclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-uaclient/internal/clock"
)

func TestNewConfigDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig()
	require.NoError(err)
	require.Equal(DefaultConnectStrategy(), cfg.ConnectStrategy())
	require.Equal(10*time.Second, cfg.ConnectTimeout())
	require.Equal(10*time.Second, cfg.RequestTimeout())
	require.Equal(60*time.Second, cfg.SessionTimeout())
	require.Equal("go-uaclient", cfg.SessionNamePrefix())
	require.NotNil(cfg.Clock())
	require.NotNil(cfg.Logger())
}

func TestConfigOptions(t *testing.T) {
	require := require.New(t)

	fake := clock.NewFake(time.Now())
	strategy := ConnectStrategy{AllowEndpointMismatch: true, MaxRetry: 5, InitialDelay: time.Second, MaxDelay: time.Minute}

	cfg, err := NewConfig(
		WithConnectStrategy(strategy),
		WithConnectTimeout(3*time.Second),
		WithRequestTimeout(4*time.Second),
		WithSessionTimeout(time.Hour),
		WithSessionNamePrefix("inspector"),
		WithClock(fake),
		WithLogger(testLogger()),
		nil,
	)
	require.NoError(err)
	require.Equal(strategy, cfg.ConnectStrategy())
	require.Equal(3*time.Second, cfg.ConnectTimeout())
	require.Equal(4*time.Second, cfg.RequestTimeout())
	require.Equal(time.Hour, cfg.SessionTimeout())
	require.Equal("inspector", cfg.SessionNamePrefix())
	require.Same(fake, cfg.Clock())

	require.NoError(cfg.Update(WithRequestTimeout(time.Second)))
	require.Equal(time.Second, cfg.RequestTimeout())
}

func TestConfigInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"negative retry", WithConnectStrategy(ConnectStrategy{MaxRetry: -1, InitialDelay: time.Second, MaxDelay: time.Second})},
		{"zero initial delay", WithConnectStrategy(ConnectStrategy{MaxRetry: 1, MaxDelay: time.Second})},
		{"max below initial", WithConnectStrategy(ConnectStrategy{MaxRetry: 1, InitialDelay: time.Minute, MaxDelay: time.Second})},
		{"connect timeout too small", WithConnectTimeout(time.Millisecond)},
		{"connect timeout too large", WithConnectTimeout(time.Hour)},
		{"request timeout too small", WithRequestTimeout(0)},
		{"session timeout too small", WithSessionTimeout(time.Millisecond)},
		{"empty prefix", WithSessionNamePrefix("")},
		{"nil clock", WithClock(nil)},
		{"nil logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(tt.opt)
			require.Error(t, err)
			require.Nil(t, cfg)
		})
	}

	var cfg *Config
	require.ErrorIs(t, cfg.Update(WithRequestTimeout(time.Second)), ErrConfigNil)
	require.ErrorIs(t, WithRequestTimeout(time.Second).apply(nil), ErrConfigNil)
}
