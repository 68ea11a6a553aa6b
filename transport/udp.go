// File: transport/udp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Async UDP surface. Datagram I/O uses the readiness style on every
// backend: on io_uring the AddRead/AddWrite registrations are expressed as
// poll submissions by the driver itself, so the code here stays uniform.

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/sched"
)

// UDPSocket is a bound, nonblocking datagram socket.
type UDPSocket struct {
	fd     int
	addr   net.Addr
	closed bool
}

// BindUDP binds a datagram socket to a "host:port" address. Failures are
// *api.BindError.
func BindUDP(addr string) (*UDPSocket, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	sa, family, err := ipSockaddr(ua.IP, ua.Port, ua.Zone)
	if err != nil {
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	fd, err := newSocket(family, unix.SOCK_DGRAM)
	if err != nil {
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	return &UDPSocket{fd: fd, addr: udpAddrOf(bound)}, nil
}

// Addr returns the bound address.
func (u *UDPSocket) Addr() net.Addr { return u.addr }

// Fd exposes the raw descriptor.
func (u *UDPSocket) Fd() int { return u.fd }

// Close deregisters and closes the socket. Must run inside Poll.
func (u *UDPSocket) Close(cx *sched.Context) error {
	if u.closed {
		return nil
	}
	u.closed = true
	_ = cx.Driver().Del(u.fd)
	return unix.Close(u.fd)
}

// Datagram is one received datagram: byte count and sender.
type Datagram struct {
	N    int
	Peer net.Addr
}

// RecvFrom returns a future resolving to the next datagram read into buf.
// Datagrams longer than buf are truncated by the kernel.
func (u *UDPSocket) RecvFrom(buf []byte) *RecvFromFuture {
	return &RecvFromFuture{u: u, buf: buf}
}

// RecvFromFuture resolves to one inbound datagram.
type RecvFromFuture struct {
	u   *UDPSocket
	buf []byte
}

// Poll implements sched.Future.
func (f *RecvFromFuture) Poll(cx *sched.Context) (Datagram, bool, error) {
	for {
		n, sa, err := unix.Recvfrom(f.u.fd, f.buf, 0)
		if err == nil {
			return Datagram{N: n, Peer: udpAddrOf(sa)}, true, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if aerr := cx.Driver().AddRead(f.u.fd, cx.Waker()); aerr != nil {
				return Datagram{}, true, aerr
			}
			return Datagram{}, false, nil
		default:
			return Datagram{}, true, fmt.Errorf("recvfrom: %w", err)
		}
	}
}

// CancelIO drops the pending readiness registration.
func (f *RecvFromFuture) CancelIO(cx *sched.Context) {
	_ = cx.Driver().Del(f.u.fd)
}

// SendTo returns a future that sends buf to addr as one datagram.
func (u *UDPSocket) SendTo(buf []byte, addr net.Addr) *SendToFuture {
	return &SendToFuture{u: u, buf: buf, addr: addr}
}

// SendToFuture resolves to the datagram length once the kernel accepts it.
type SendToFuture struct {
	u    *UDPSocket
	buf  []byte
	addr net.Addr
}

// Poll implements sched.Future.
func (f *SendToFuture) Poll(cx *sched.Context) (int, bool, error) {
	sa, err := udpSockaddrOf(f.addr)
	if err != nil {
		return 0, true, err
	}
	for {
		err := unix.Sendto(f.u.fd, f.buf, 0, sa)
		if err == nil {
			return len(f.buf), true, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if aerr := cx.Driver().AddWrite(f.u.fd, cx.Waker()); aerr != nil {
				return 0, true, aerr
			}
			return 0, false, nil
		default:
			return 0, true, fmt.Errorf("sendto: %w", err)
		}
	}
}

// CancelIO drops the pending readiness registration.
func (f *SendToFuture) CancelIO(cx *sched.Context) {
	_ = cx.Driver().Del(f.u.fd)
}
