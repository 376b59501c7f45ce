package memserver

import (
	"time"

	"github.com/arloliu/go-uaclient/internal/clock"
	"github.com/arloliu/go-uaclient/logger"
)

// Option configures a Server.
type Option func(*options)

type options struct {
	name               string
	endpointURL        string
	clock              clock.Clock
	logger             logger.Logger
	publishingInterval time.Duration
	minPublishing      time.Duration
	maxQueueSize       uint32
	browseLimit        int
	initialValues      bool
}

func defaultOptions() *options {
	return &options{
		name:          "demo",
		clock:         clock.Real(),
		minPublishing: 10 * time.Millisecond,
		maxQueueSize:  100,
	}
}

// WithName sets the simulator name, used in logs and in mem:// endpoints.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithEndpointURL makes Connect compare the requested endpoint with url. A different URL is
// rejected with remote.ErrEndpointMismatch unless the caller allows mismatches.
func WithEndpointURL(url string) Option {
	return func(o *options) { o.endpointURL = url }
}

// WithClock sets the time source of publish loops and value timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPublishingInterval forces the revised publishing interval of every subscription to d,
// regardless of the requested one.
func WithPublishingInterval(d time.Duration) Option {
	return func(o *options) { o.publishingInterval = d }
}

// WithMaxQueueSize caps the revised queue size of monitored items.
func WithMaxQueueSize(n uint32) Option {
	return func(o *options) { o.maxQueueSize = n }
}

// WithBrowseLimit limits the number of references returned per browse call. When a node has
// more references, the result carries a continuation point. Zero means unlimited.
func WithBrowseLimit(n int) Option {
	return func(o *options) { o.browseLimit = n }
}

// WithInitialValues makes new monitored items report the current value once, as most
// servers do. By default only changes after creation are reported.
func WithInitialValues(enabled bool) Option {
	return func(o *options) { o.initialValues = enabled }
}
