//go:build !linux && !darwin && !dragonfly && !freebsd && !openbsd

// File: reactor/new_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"
	"runtime"

	"github.com/strandio/strand/api"
)

func newPlatformDriver(Config) (api.Driver, error) {
	return nil, fmt.Errorf("%w: no event backend for %s", api.ErrDriverInit, runtime.GOOS)
}
