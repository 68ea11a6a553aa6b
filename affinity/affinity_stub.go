//go:build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import "github.com/strandio/strand/api"

func pin(int) error { return api.ErrNotSupported }
