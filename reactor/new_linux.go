// File: reactor/new_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/strandio/strand/api"
)

// newPlatformDriver selects the Linux backend. BackendAuto probes io_uring
// and degrades to epoll when the kernel refuses (old kernel, seccomp policy,
// locked-down container runtime).
func newPlatformDriver(cfg Config) (api.Driver, error) {
	switch cfg.Backend {
	case api.BackendURing:
		d, err := newURingDriver(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrDriverInit, err)
		}
		return d, nil
	case api.BackendEpoll:
		d, err := newEpollDriver(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrDriverInit, err)
		}
		return d, nil
	case api.BackendKqueue:
		return nil, fmt.Errorf("%w: kqueue unavailable on linux", api.ErrDriverInit)
	default:
		d, err := newURingDriver(cfg)
		if err == nil {
			return d, nil
		}
		cfg.Logger.WithFields(logrus.Fields{
			"backend": api.BackendEpoll.String(),
			"reason":  err.Error(),
		}).Warn("io_uring unavailable, falling back")
		d, err = newEpollDriver(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrDriverInit, err)
		}
		return d, nil
	}
}
