package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/ua"
	"github.com/arloliu/go-uaclient/uaclient"
)

// Default values of the reference scenario.
const (
	DefaultEndpoint  = "opc.tcp://opcuademo.sterfive.com:26543"
	DefaultNode      = "ns=1;s=Temperature"
	DefaultStartNode = "RootFolder"
	DefaultWait      = 10 * time.Second
)

// ErrInvalidConfig is wrapped by every configuration validation error.
var ErrInvalidConfig = errors.New("invalid scenario config")

// ConnectConfig is the connection part of Config.
type ConnectConfig struct {
	// EndpointMustExist rejects a server whose endpoint URL differs from the requested one.
	EndpointMustExist bool          `yaml:"endpointMustExist"`
	MaxRetry          int           `yaml:"maxRetry"`
	InitialDelay      time.Duration `yaml:"initialDelay"`
	MaxDelay          time.Duration `yaml:"maxDelay"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
}

// SubscriptionConfig is the requested subscription timing.
type SubscriptionConfig struct {
	PublishingInterval         time.Duration `yaml:"publishingInterval"`
	LifetimeCount              uint32        `yaml:"lifetimeCount"`
	MaxKeepAliveCount          uint32        `yaml:"maxKeepAliveCount"`
	MaxNotificationsPerPublish uint32        `yaml:"maxNotificationsPerPublish"`
	Priority                   uint8         `yaml:"priority"`
	PublishingEnabled          bool          `yaml:"publishingEnabled"`
}

// MonitoringConfig is the requested sampling of the monitored node.
type MonitoringConfig struct {
	SamplingInterval time.Duration `yaml:"samplingInterval"`
	QueueSize        uint32        `yaml:"queueSize"`
	DiscardOldest    bool          `yaml:"discardOldest"`
}

// Config describes one scenario run. Durations are Go duration strings in YAML, e.g. "2s".
type Config struct {
	Endpoint     string             `yaml:"endpoint"`
	Node         string             `yaml:"node"`
	StartNode    string             `yaml:"startNode"`
	LogLevel     string             `yaml:"logLevel"`
	Wait         time.Duration      `yaml:"wait"`
	Connect      ConnectConfig      `yaml:"connect"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

// DefaultConfig returns the configuration of the reference scenario.
func DefaultConfig() *Config {
	strategy := uaclient.DefaultConnectStrategy()
	sub := ua.DefaultSubscriptionParameters()
	mon := ua.DefaultMonitoringParameters()

	return &Config{
		Endpoint:  DefaultEndpoint,
		Node:      DefaultNode,
		StartNode: DefaultStartNode,
		LogLevel:  logger.InfoLevel.String(),
		Wait:      DefaultWait,
		Connect: ConnectConfig{
			EndpointMustExist: false,
			MaxRetry:          strategy.MaxRetry,
			InitialDelay:      strategy.InitialDelay,
			MaxDelay:          strategy.MaxDelay,
			Timeout:           10 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Subscription: SubscriptionConfig{
			PublishingInterval:         sub.PublishingInterval,
			LifetimeCount:              sub.LifetimeCount,
			MaxKeepAliveCount:          sub.MaxKeepAliveCount,
			MaxNotificationsPerPublish: sub.MaxNotificationsPerPublish,
			Priority:                   sub.Priority,
			PublishingEnabled:          sub.PublishingEnabled,
		},
		Monitoring: MonitoringConfig{
			SamplingInterval: mon.SamplingInterval,
			QueueSize:        mon.QueueSize,
			DiscardOldest:    mon.DiscardOldest,
		},
	}
}

// ParseConfig parses YAML on top of the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario config %s: %w", path, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks every field that has a parsed form.
func (c *Config) Validate() error {
	if _, err := c.EndpointURL(); err != nil {
		return fmt.Errorf("%w: endpoint: %w", ErrInvalidConfig, err)
	}

	if _, err := c.NodeID(); err != nil {
		return fmt.Errorf("%w: node: %w", ErrInvalidConfig, err)
	}

	if _, err := c.StartNodeID(); err != nil {
		return fmt.Errorf("%w: startNode: %w", ErrInvalidConfig, err)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: logLevel: %w", ErrInvalidConfig, err)
	}

	if c.Wait < 0 {
		return fmt.Errorf("%w: wait must not be negative", ErrInvalidConfig)
	}

	if err := c.ConnectStrategy().Validate(); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrInvalidConfig, err)
	}

	if err := c.SubscriptionParameters().Validate(); err != nil {
		return fmt.Errorf("%w: subscription: %w", ErrInvalidConfig, err)
	}

	if err := c.MonitoringParameters().Validate(); err != nil {
		return fmt.Errorf("%w: monitoring: %w", ErrInvalidConfig, err)
	}

	return nil
}

// EndpointURL returns the parsed endpoint.
func (c *Config) EndpointURL() (ua.Endpoint, error) {
	return ua.ParseEndpoint(c.Endpoint)
}

// NodeID returns the node that is read and monitored.
func (c *Config) NodeID() (ua.NodeID, error) {
	return ua.ResolveNodeID(c.Node)
}

// StartNodeID returns the node where browsing starts. Well-known aliases such as
// "RootFolder" are accepted.
func (c *Config) StartNodeID() (ua.NodeID, error) {
	return ua.ResolveNodeID(c.StartNode)
}

// Level returns the parsed log level, or info if it cannot be parsed.
func (c *Config) Level() logger.Level {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.InfoLevel
	}

	return level
}

// ConnectStrategy returns the connector strategy.
func (c *Config) ConnectStrategy() uaclient.ConnectStrategy {
	return uaclient.ConnectStrategy{
		AllowEndpointMismatch: !c.Connect.EndpointMustExist,
		MaxRetry:              c.Connect.MaxRetry,
		InitialDelay:          c.Connect.InitialDelay,
		MaxDelay:              c.Connect.MaxDelay,
	}
}

// ClientOptions returns the uaclient options derived from the connect section.
func (c *Config) ClientOptions() []uaclient.Option {
	opts := []uaclient.Option{uaclient.WithConnectStrategy(c.ConnectStrategy())}
	if c.Connect.Timeout > 0 {
		opts = append(opts, uaclient.WithConnectTimeout(c.Connect.Timeout))
	}
	if c.Connect.RequestTimeout > 0 {
		opts = append(opts, uaclient.WithRequestTimeout(c.Connect.RequestTimeout))
	}

	return opts
}

// SubscriptionParameters returns the requested subscription timing.
func (c *Config) SubscriptionParameters() ua.SubscriptionParameters {
	s := c.Subscription

	return ua.SubscriptionParameters{
		PublishingInterval:         s.PublishingInterval,
		LifetimeCount:              s.LifetimeCount,
		MaxKeepAliveCount:          s.MaxKeepAliveCount,
		MaxNotificationsPerPublish: s.MaxNotificationsPerPublish,
		Priority:                   s.Priority,
		PublishingEnabled:          s.PublishingEnabled,
	}
}

// MonitoringParameters returns the requested sampling of the monitored node.
func (c *Config) MonitoringParameters() ua.MonitoringParameters {
	m := c.Monitoring

	return ua.MonitoringParameters{
		SamplingInterval: m.SamplingInterval,
		QueueSize:        m.QueueSize,
		DiscardOldest:    m.DiscardOldest,
	}
}
