// File: transport/dial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/sched"
)

// Dial resolves addr synchronously and returns a future that completes the
// nonblocking connect. Resolution errors surface on the first poll.
func Dial(addr string) *DialFuture {
	f := &DialFuture{fd: -1}
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		f.err = fmt.Errorf("resolve %s: %w", addr, err)
		return f
	}
	f.target = ta
	return f
}

// DialFuture resolves to an established TCPStream.
type DialFuture struct {
	target  *net.TCPAddr
	fd      int
	pending bool
	err     error
}

// Poll implements sched.Future. The connect is issued on the first poll so
// the socket lands on the worker that will own it.
func (f *DialFuture) Poll(cx *sched.Context) (*TCPStream, bool, error) {
	if f.err != nil {
		return nil, true, f.err
	}
	d := cx.Driver()

	if f.fd < 0 {
		sa, family, err := ipSockaddr(f.target.IP, f.target.Port, f.target.Zone)
		if err != nil {
			return nil, true, err
		}
		fd, err := newSocket(family, unix.SOCK_STREAM)
		if err != nil {
			return nil, true, err
		}
		switch cerr := unix.Connect(fd, sa); cerr {
		case nil:
			f.fd = fd
			return newTCPStream(fd), true, nil
		case unix.EINPROGRESS:
			f.fd = fd
			f.pending = true
			if aerr := d.AddWrite(fd, cx.Waker()); aerr != nil {
				unix.Close(fd)
				f.err = aerr
				return nil, true, aerr
			}
			return nil, false, nil
		default:
			unix.Close(fd)
			f.err = fmt.Errorf("connect %s: %w", f.target, cerr)
			return nil, true, f.err
		}
	}

	// Write readiness on a connecting socket means the handshake resolved;
	// SO_ERROR tells us which way.
	soerr, err := unix.GetsockoptInt(f.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		f.fail(d, fmt.Errorf("connect %s: %w", f.target, err))
		return nil, true, f.err
	}
	switch unix.Errno(soerr) {
	case 0:
		f.pending = false
		return newTCPStream(f.fd), true, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		if aerr := d.AddWrite(f.fd, cx.Waker()); aerr != nil {
			f.fail(d, aerr)
			return nil, true, f.err
		}
		return nil, false, nil
	default:
		f.fail(d, fmt.Errorf("connect %s: %w", f.target, unix.Errno(soerr)))
		return nil, true, f.err
	}
}

func (f *DialFuture) fail(d api.Driver, err error) {
	_ = d.Del(f.fd)
	unix.Close(f.fd)
	f.fd = -1
	f.err = err
}

// CancelIO abandons the half-open connect and closes the socket.
func (f *DialFuture) CancelIO(cx *sched.Context) {
	if f.fd >= 0 && f.pending {
		f.fail(cx.Driver(), api.ErrOperationTimeout)
	}
}
