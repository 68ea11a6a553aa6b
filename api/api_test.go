// File: api/api_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendRoundTrip(t *testing.T) {
	for _, b := range []Backend{BackendAuto, BackendURing, BackendEpoll, BackendKqueue} {
		assert.Equal(t, b, ParseBackend(b.String()))
	}
	assert.Equal(t, BackendAuto, ParseBackend("something-else"))
	assert.Equal(t, BackendURing, ParseBackend("uring"))
}

func TestBindErrorUnwraps(t *testing.T) {
	cause := errors.New("address in use")
	err := &BindError{Addr: ":8080", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), ":8080")
}

func TestTaskPanicErrorMessage(t *testing.T) {
	err := &TaskPanicError{Value: "boom"}
	assert.Contains(t, err.Error(), "boom")
}

func TestOpCompleteOnce(t *testing.T) {
	op := NewOp(OpRecv, 3, make([]byte, 8))
	fired := 0
	op.SetWaker(WakerFunc(func() { fired++ }))
	require.False(t, op.Done())

	w := op.Complete(5, 0)
	require.NotNil(t, w)
	w.Wake()
	assert.Equal(t, 1, fired)
	assert.True(t, op.Done())

	// Second completion loses.
	assert.Nil(t, op.Complete(9, 0))
	n, err := op.Result()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestOpResultErrno(t *testing.T) {
	op := NewOp(OpSend, 3, nil)
	op.Complete(0, syscall.ECONNRESET)
	_, err := op.Result()
	assert.ErrorIs(t, err, syscall.ECONNRESET)
}

func TestOpNegativeResultMapsToErrno(t *testing.T) {
	op := NewOp(OpSend, 3, nil)
	op.Complete(-int32(syscall.EPIPE), 0)
	_, err := op.Result()
	assert.ErrorIs(t, err, syscall.EPIPE)
}

func TestWakerFunc(t *testing.T) {
	n := 0
	var w Waker = WakerFunc(func() { n++ })
	w.Wake()
	w.Wake()
	assert.Equal(t, 2, n)
}
