package antonpaar

import (
	"net/http"
	"time"

	"github.com/goburrow/serial"
)

const (
	defaultSettleDelay = 150 * time.Millisecond
	defaultMaxPolls    = 50
	defaultHTTPTimeout = 10 * time.Second
)

// Option denotes a functional option for any of the instrument constructors
type Option func(*config)

type config struct {
	logger         Logger
	updateInterval time.Duration
	retryDelay     time.Duration

	httpClient *http.Client

	serialPort  serial.Port
	settleDelay time.Duration
	maxPolls    int
	pollTimeout time.Duration
	skipInitial bool
	clock       func() time.Time
}

func newConfig(options []Option) *config {
	cfg := &config{
		logger:         &NullLogger{},
		updateInterval: MinUpdateInterval,
		settleDelay:    defaultSettleDelay,
		maxPolls:       defaultMaxPolls,
		clock:          time.Now,
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(cfg)
	}

	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.pollTimeout <= 0 {
		cfg.pollTimeout = cfg.settleDelay
	}

	return cfg
}

// WithLogger sets a logger
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithUpdateInterval sets the initial update interval (subject to MinUpdateInterval)
func WithUpdateInterval(interval time.Duration) Option {
	return func(c *config) {
		c.updateInterval = interval
	}
}

// WithRetryDelay sets the delay before a sampling loop retries a failed update
// (defaults to the update interval)
func WithRetryDelay(delay time.Duration) Option {
	return func(c *config) {
		c.retryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client used to query the XML interface
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithSerialPort sets an already opened serial port (skipping the port setup)
func WithSerialPort(port serial.Port) Option {
	return func(c *config) {
		c.serialPort = port
	}
}

// WithSettleDelay sets the delay between writing a command / polling for data
// on the serial interface
func WithSettleDelay(delay time.Duration) Option {
	return func(c *config) {
		c.settleDelay = delay
	}
}

// WithMaxPolls sets the maximum number of read attempts per serial response
func WithMaxPolls(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPolls = n
		}
	}
}

// WithPollTimeout sets the time a single serial read waits for data to become
// available (defaults to the settle delay)
func WithPollTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.pollTimeout = timeout
	}
}

// WithoutInitialUpdate skips the full update usually performed upon construction
func WithoutInitialUpdate() Option {
	return func(c *config) {
		c.skipInitial = true
	}
}
