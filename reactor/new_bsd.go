//go:build darwin || dragonfly || freebsd || openbsd

// File: reactor/new_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/strandio/strand/api"
)

// newPlatformDriver selects the BSD backend; kqueue is the only mechanism
// here, so forcing io_uring or epoll is a configuration error.
func newPlatformDriver(cfg Config) (api.Driver, error) {
	switch cfg.Backend {
	case api.BackendURing, api.BackendEpoll:
		return nil, fmt.Errorf("%w: %s unavailable on this platform",
			api.ErrDriverInit, cfg.Backend)
	default:
		d, err := newKqueueDriver(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrDriverInit, err)
		}
		return d, nil
	}
}
