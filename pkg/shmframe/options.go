package shmframe

import (
	"log/slog"
	"os"
	"time"
)

// Defaults for the lifecycle and wait policy.
const (
	// DefaultDir is where segments live. It is a tmpfs on Linux.
	DefaultDir = "/dev/shm"
	// DefaultMode is the permission of newly created segments. Readers map
	// the segment read-write to register as waiters, so they need write access.
	DefaultMode os.FileMode = 0o660
	// DefaultLivenessInterval bounds how long a blocked reader or lock waiter
	// sleeps before re-checking the owner's holder record.
	DefaultLivenessInterval = 250 * time.Millisecond
	// DefaultRecoveryGrace is how long a producer waits after scrapping a
	// poisoned or stale block, so lingering readers observe the destruction.
	DefaultRecoveryGrace = time.Second
	// DefaultRetryInterval is the fixed delay between consumer open attempts.
	DefaultRetryInterval = 3 * time.Second
)

// Hooks are optional lifecycle callbacks. They run synchronously on the
// goroutine performing the operation and must not block.
type Hooks struct {
	// OnCreated is called after a producer created its block.
	OnCreated func(info Info)
	// OnRecovered is called after a producer scrapped a poisoned or stale block.
	OnRecovered func(stale Info)
	// OnAttached is called after a consumer attached to a block.
	OnAttached func(info Info)
	// OnLost is called when a consumer observes that its producer is gone.
	OnLost func(name string)
}

type config struct {
	dir              string
	mode             os.FileMode
	logger           *slog.Logger
	livenessInterval time.Duration
	recoveryGrace    time.Duration
	retryInterval    time.Duration
	latestOnly       bool
	hooks            Hooks
}

// Option configures blocks, producers and consumers.
type Option func(*config)

// WithDir sets the directory holding segment files. Default is DefaultDir.
func WithDir(dir string) Option {
	return func(c *config) {
		c.dir = dir
	}
}

// WithMode sets the permission bits of created segments.
func WithMode(mode os.FileMode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithLogger sets the logger. Default is slog.Default() with component=shmframe.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLivenessInterval sets how often blocked waits re-check owner liveness.
func WithLivenessInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.livenessInterval = d
		}
	}
}

// WithRecoveryGrace sets the producer's wait after scrapping a stale block.
// It is also the age after which a segment whose header was never published
// counts as abandoned.
func WithRecoveryGrace(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.recoveryGrace = d
		}
	}
}

// WithRetryInterval sets the consumer's delay between open attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithLatestOnly makes reads skip to the newest frame instead of the oldest
// retained frame the reader has not seen yet.
func WithLatestOnly() Option {
	return func(c *config) {
		c.latestOnly = true
	}
}

// WithHooks sets lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(c *config) {
		c.hooks = h
	}
}

func newConfig(opts []Option) config {
	c := config{
		dir:              DefaultDir,
		mode:             DefaultMode,
		livenessInterval: DefaultLivenessInterval,
		recoveryGrace:    DefaultRecoveryGrace,
		retryInterval:    DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "shmframe")
	}
	return c
}
