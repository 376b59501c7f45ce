package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/ua"
	"github.com/arloliu/go-uaclient/uaclient"
)

func TestDefaultConfig(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	require.NoError(cfg.Validate())

	ep, err := cfg.EndpointURL()
	require.NoError(err)
	require.Equal("opc.tcp://opcuademo.sterfive.com:26543", ep.String())

	node, err := cfg.NodeID()
	require.NoError(err)
	require.Equal(ua.NewStringNodeID(1, "Temperature"), node)

	start, err := cfg.StartNodeID()
	require.NoError(err)
	require.Equal(ua.RootFolderID, start)

	require.Equal(uaclient.ConnectStrategy{
		AllowEndpointMismatch: true,
		MaxRetry:              2,
		InitialDelay:          2 * time.Second,
		MaxDelay:              10 * time.Second,
	}, cfg.ConnectStrategy())

	require.Equal(ua.SubscriptionParameters{
		PublishingInterval:         time.Second,
		LifetimeCount:              10,
		MaxKeepAliveCount:          2,
		MaxNotificationsPerPublish: 10,
		Priority:                   10,
		PublishingEnabled:          true,
	}, cfg.SubscriptionParameters())

	require.Equal(ua.MonitoringParameters{
		SamplingInterval: 100 * time.Millisecond,
		QueueSize:        10,
		DiscardOldest:    true,
	}, cfg.MonitoringParameters())

	require.Equal(10*time.Second, cfg.Wait)
	require.Equal(logger.InfoLevel, cfg.Level())
}

func TestParseConfig_Overrides(t *testing.T) {
	require := require.New(t)

	cfg, err := ParseConfig([]byte(`
endpoint: ws://127.0.0.1:4841/ua
node: ns=2;i=1001
startNode: ObjectsFolder
logLevel: debug
wait: 1500ms
connect:
  endpointMustExist: true
  maxRetry: 5
  initialDelay: 100ms
  maxDelay: 1s
subscription:
  publishingInterval: 250ms
  lifetimeCount: 30
  maxKeepAliveCount: 5
  publishingEnabled: false
monitoring:
  queueSize: 2
  discardOldest: false
`))
	require.NoError(err)

	require.Equal("ws://127.0.0.1:4841/ua", cfg.Endpoint)
	node, err := cfg.NodeID()
	require.NoError(err)
	require.Equal(ua.NewNumericNodeID(2, 1001), node)
	start, err := cfg.StartNodeID()
	require.NoError(err)
	require.Equal(ua.ObjectsFolderID, start)
	require.Equal(logger.DebugLevel, cfg.Level())
	require.Equal(1500*time.Millisecond, cfg.Wait)

	strategy := cfg.ConnectStrategy()
	require.False(strategy.AllowEndpointMismatch)
	require.Equal(5, strategy.MaxRetry)
	require.Equal(100*time.Millisecond, strategy.InitialDelay)
	require.Equal(time.Second, strategy.MaxDelay)

	params := cfg.SubscriptionParameters()
	require.Equal(250*time.Millisecond, params.PublishingInterval)
	require.Equal(uint32(30), params.LifetimeCount)
	require.Equal(uint32(5), params.MaxKeepAliveCount)
	require.False(params.PublishingEnabled)
	// untouched keys keep their defaults
	require.Equal(uint8(10), params.Priority)
	require.Equal(uint32(10), params.MaxNotificationsPerPublish)

	mon := cfg.MonitoringParameters()
	require.Equal(uint32(2), mon.QueueSize)
	require.False(mon.DiscardOldest)
	require.Equal(100*time.Millisecond, mon.SamplingInterval)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "endpoint: [unterminated"},
		{"endpoint scheme", "endpoint: http://example.com"},
		{"node", "node: ns=x;s=Temperature"},
		{"start node", "startNode: NoSuchFolder"},
		{"log level", "logLevel: loud"},
		{"negative wait", "wait: -1s"},
		{"negative retry", "connect: {maxRetry: -1}"},
		{"max below initial", "connect: {initialDelay: 5s, maxDelay: 1s}"},
		{"lifetime not above keepalive", "subscription: {lifetimeCount: 2, maxKeepAliveCount: 2}"},
		{"zero queue", "monitoring: {queueSize: 0}"},
		{"bad duration", "wait: soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.yaml))
			require.Nil(t, cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(os.WriteFile(path, []byte("endpoint: mem://demo\nwait: 2s\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(err)
	require.Equal("mem://demo", cfg.Endpoint)
	require.Equal(2*time.Second, cfg.Wait)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(err, os.ErrNotExist)
}

func TestConfig_ClientOptions(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	cfg.Connect.Timeout = 3 * time.Second
	cfg.Connect.RequestTimeout = 4 * time.Second

	clientCfg, err := uaclient.NewConfig(cfg.ClientOptions()...)
	require.NoError(err)
	require.Equal(cfg.ConnectStrategy(), clientCfg.ConnectStrategy())
	require.Equal(3*time.Second, clientCfg.ConnectTimeout())
	require.Equal(4*time.Second, clientCfg.RequestTimeout())
}
