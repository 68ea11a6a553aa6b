// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral construction of the per-worker I/O driver. Backend
// selection happens once, here; above this layer the backend is visible
// only as api.Driver plus the cached api.Backend tag.

package reactor

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/strandio/strand/api"
)

const (
	// defaultMaxEvents bounds one kernel poll batch.
	defaultMaxEvents = 128

	// defaultRingEntries is the io_uring submission queue depth.
	defaultRingEntries = 256
)

// Config controls driver construction. The zero value selects the backend
// automatically with default sizing.
type Config struct {
	// Backend forces a specific mechanism; BackendAuto probes io_uring
	// first on Linux and falls back to epoll.
	Backend api.Backend
	// MaxEvents bounds one poll batch; 0 means defaultMaxEvents.
	MaxEvents int
	// RingEntries is the io_uring SQ depth; 0 means defaultRingEntries.
	RingEntries int
	// Logger receives backend selection and fallback messages.
	Logger *logrus.Logger
}

func (c *Config) normalize() {
	if c.MaxEvents <= 0 {
		c.MaxEvents = defaultMaxEvents
	}
	if c.RingEntries <= 0 {
		c.RingEntries = defaultRingEntries
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// New constructs the platform driver for cfg. The selected backend is fixed
// for the driver's lifetime.
func New(cfg Config) (api.Driver, error) {
	cfg.normalize()
	return newPlatformDriver(cfg)
}

// fdInterest tracks the armed waker per fd side for readiness backends.
type fdInterest struct {
	readW  api.Waker
	writeW api.Waker
}

// interestTable is the fd -> interest map shared by the readiness backends.
type interestTable struct {
	mu  sync.Mutex
	fds map[int]*fdInterest
}

func newInterestTable() *interestTable {
	return &interestTable{fds: make(map[int]*fdInterest)}
}

func (t *interestTable) get(fd int) *fdInterest {
	ent, ok := t.fds[fd]
	if !ok {
		ent = &fdInterest{}
		t.fds[fd] = ent
	}
	return ent
}

// dispatch invokes a batch of wakers, isolating the reactor from panics in
// waker implementations the same way the poll loop isolates task panics.
func dispatch(wakers []api.Waker) int {
	n := 0
	for _, w := range wakers {
		if w == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			w.Wake()
		}()
		n++
	}
	return n
}
