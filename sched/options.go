// File: sched/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/timewheel"
)

// DefaultShutdownGrace bounds how long Shutdown drains before forcing.
const DefaultShutdownGrace = 5 * time.Second

// Config collects the runtime construction parameters. Built from Options;
// not used directly.
type Config struct {
	Workers        int
	NamePrefix     string
	Pinning        bool
	Backend        api.Backend
	ShutdownGrace  time.Duration
	TickResolution time.Duration
	Logger         *logrus.Logger
}

func defaultConfig() Config {
	return Config{
		Workers:        runtime.NumCPU(),
		NamePrefix:     "strand",
		Backend:        api.BackendAuto,
		ShutdownGrace:  DefaultShutdownGrace,
		TickResolution: timewheel.DefaultResolution,
		Logger:         logrus.StandardLogger(),
	}
}

// Option adjusts runtime construction.
type Option func(*Config)

// WithWorkers sets the worker thread count; values below one fall back to
// GOMAXPROCS-style core counting.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithNamePrefix sets the OS thread name prefix for workers.
func WithNamePrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" {
			c.NamePrefix = prefix
		}
	}
}

// WithPinning pins each worker thread to the CPU matching its index.
// Pinning failures degrade to a warning, never an error.
func WithPinning(on bool) Option {
	return func(c *Config) { c.Pinning = on }
}

// WithBackend forces the I/O backend instead of probing.
func WithBackend(b api.Backend) Option {
	return func(c *Config) { c.Backend = b }
}

// WithShutdownGrace sets the drain window before Shutdown force-cancels.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ShutdownGrace = d
		}
	}
}

// WithTickResolution sets the timer wheel tick length per worker.
func WithTickResolution(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.TickResolution = d
		}
	}
}

// WithLogger routes runtime logging to a specific logrus instance.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}
