// File: transport/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Async TCP surface. Every operation is a poll-driven future: on readiness
// backends the syscall runs here and EAGAIN re-arms interest; on the
// completion backend the transfer itself is submitted to the kernel through
// a pool-owned bounce buffer so cancellation can never expose caller memory.

package transport

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/pool"
	"github.com/strandio/strand/sched"
)

// Listener is a bound, listening TCP socket.
type Listener struct {
	fd   int
	addr net.Addr
}

// Listen binds and listens on a "host:port" address. Failures are
// *api.BindError; the listener is nonblocking and close-on-exec.
func Listen(addr string) (*Listener, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	sa, family, err := ipSockaddr(ta.IP, ta.Port, ta.Zone)
	if err != nil {
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	fd, err := newSocket(family, unix.SOCK_STREAM)
	if err != nil {
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, &api.BindError{Addr: addr, Err: err}
	}
	return &Listener{fd: fd, addr: tcpAddrOf(bound)}, nil
}

// Addr returns the bound address, with the kernel-assigned port for ":0".
func (l *Listener) Addr() net.Addr { return l.addr }

// Fd exposes the raw descriptor.
func (l *Listener) Fd() int { return l.fd }

// Accept returns a future resolving to the next inbound connection.
// One accept future at a time per listener.
func (l *Listener) Accept() *AcceptFuture {
	return &AcceptFuture{l: l}
}

// Close releases the socket. In-flight accept futures resolve with an
// error; deregister them first via their CancelIO.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Accepted is one inbound connection and its peer address.
type Accepted struct {
	Conn *TCPStream
	Peer net.Addr
}

// AcceptFuture resolves to the next inbound connection.
type AcceptFuture struct {
	l  *Listener
	op *api.Op
}

// Poll implements sched.Future.
func (f *AcceptFuture) Poll(cx *sched.Context) (Accepted, bool, error) {
	d := cx.Driver()
	if d.Backend() == api.BackendURing {
		return f.pollCompletion(cx, d)
	}
	for {
		nfd, sa, err := acceptOne(f.l.fd)
		if err == nil {
			return Accepted{Conn: newTCPStream(nfd), Peer: tcpAddrOf(sa)}, true, nil
		}
		switch err {
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			if aerr := d.AddRead(f.l.fd, cx.Waker()); aerr != nil {
				return Accepted{}, true, aerr
			}
			return Accepted{}, false, nil
		default:
			return Accepted{}, true, fmt.Errorf("accept: %w", err)
		}
	}
}

func (f *AcceptFuture) pollCompletion(cx *sched.Context, d api.Driver) (Accepted, bool, error) {
	if f.op == nil {
		f.op = api.NewOp(api.OpAccept, f.l.fd, nil)
		f.op.SetWaker(cx.Waker())
		if err := d.Submit(f.op); err != nil {
			f.op = nil
			return Accepted{}, true, err
		}
		return Accepted{}, false, nil
	}
	if !f.op.Done() {
		f.op.SetWaker(cx.Waker())
		return Accepted{}, false, nil
	}
	nfd, err := f.op.Result()
	f.op = nil
	if err != nil {
		return Accepted{}, true, fmt.Errorf("accept: %w", err)
	}
	var peer net.Addr
	if sa, perr := unix.Getpeername(nfd); perr == nil {
		peer = tcpAddrOf(sa)
	}
	return Accepted{Conn: newTCPStream(nfd), Peer: peer}, true, nil
}

// CancelIO tears down the pending kernel registration when a combinator
// abandons this future.
func (f *AcceptFuture) CancelIO(cx *sched.Context) {
	d := cx.Driver()
	if f.op != nil && !f.op.Done() {
		_ = d.CancelOp(f.op)
		return
	}
	_ = d.Del(f.l.fd)
}

// TCPStream is one established nonblocking TCP connection.
type TCPStream struct {
	fd     int
	closed bool
}

func newTCPStream(fd int) *TCPStream {
	return &TCPStream{fd: fd}
}

// Fd exposes the raw descriptor.
func (s *TCPStream) Fd() int { return s.fd }

// SetNoDelay toggles Nagle's algorithm.
func (s *TCPStream) SetNoDelay(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// Read returns a future resolving to the next chunk of inbound data, up to
// len(buf) bytes. Zero-length reads mean the peer closed; that surfaces as
// io.EOF.
func (s *TCPStream) Read(buf []byte) *ReadFuture {
	return &ReadFuture{s: s, buf: buf}
}

// Write returns a future performing one write attempt; the result is the
// byte count actually accepted by the kernel, possibly short.
func (s *TCPStream) Write(buf []byte) *WriteFuture {
	return &WriteFuture{s: s, buf: buf}
}

// WriteAll returns a future that keeps writing across polls until every
// byte of buf is flushed.
func (s *TCPStream) WriteAll(buf []byte) *WriteAllFuture {
	return &WriteAllFuture{s: s, buf: buf}
}

// Close deregisters the stream from the worker's driver and closes the fd.
// Must run inside Poll, on the owning worker.
func (s *TCPStream) Close(cx *sched.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = cx.Driver().Del(s.fd)
	return unix.Close(s.fd)
}

// ReadFuture resolves to a count of bytes read into the caller's buffer.
type ReadFuture struct {
	s   *TCPStream
	buf []byte
	op  *api.Op
	pb  []byte // pool bounce buffer, completion backend only
}

// Poll implements sched.Future.
func (f *ReadFuture) Poll(cx *sched.Context) (int, bool, error) {
	d := cx.Driver()
	if d.Backend() == api.BackendURing {
		return f.pollCompletion(cx, d)
	}
	for {
		n, err := unix.Read(f.s.fd, f.buf)
		if err == nil {
			if n == 0 {
				return 0, true, io.EOF
			}
			return n, true, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if aerr := d.AddRead(f.s.fd, cx.Waker()); aerr != nil {
				return 0, true, aerr
			}
			return 0, false, nil
		default:
			return 0, true, fmt.Errorf("read: %w", err)
		}
	}
}

// pollCompletion reads through a pool buffer: the kernel writes into memory
// the pool owns, and the caller's buffer is only touched after the
// completion is observed. An op abandoned mid-flight leaks its bounce
// buffer to the GC instead of racing the kernel.
func (f *ReadFuture) pollCompletion(cx *sched.Context, d api.Driver) (int, bool, error) {
	if f.op == nil {
		f.pb = pool.Default.Get(len(f.buf))
		n := len(f.buf)
		f.op = api.NewOp(api.OpRecv, f.s.fd, f.pb[:n])
		f.op.SetWaker(cx.Waker())
		if err := d.Submit(f.op); err != nil {
			pool.Default.Put(f.pb)
			f.op, f.pb = nil, nil
			return 0, true, err
		}
		return 0, false, nil
	}
	if !f.op.Done() {
		f.op.SetWaker(cx.Waker())
		return 0, false, nil
	}
	n, err := f.op.Result()
	copy(f.buf, f.op.Buf[:max(n, 0)])
	pool.Default.Put(f.pb)
	f.op, f.pb = nil, nil
	if err != nil {
		return 0, true, fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return 0, true, io.EOF
	}
	return n, true, nil
}

// CancelIO abandons the in-flight registration. On the completion backend
// the bounce buffer stays pinned in the driver until the terminal CQE.
func (f *ReadFuture) CancelIO(cx *sched.Context) {
	d := cx.Driver()
	if f.op != nil && !f.op.Done() {
		_ = d.CancelOp(f.op)
		return
	}
	_ = d.Del(f.s.fd)
}

// WriteFuture resolves to the count of one write attempt.
type WriteFuture struct {
	s   *TCPStream
	buf []byte
	op  *api.Op
	pb  []byte
}

// Poll implements sched.Future.
func (f *WriteFuture) Poll(cx *sched.Context) (int, bool, error) {
	d := cx.Driver()
	if d.Backend() == api.BackendURing {
		return f.pollCompletion(cx, d)
	}
	for {
		n, err := unix.Write(f.s.fd, f.buf)
		if err == nil {
			return n, true, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if aerr := d.AddWrite(f.s.fd, cx.Waker()); aerr != nil {
				return 0, true, aerr
			}
			return 0, false, nil
		default:
			return 0, true, fmt.Errorf("write: %w", err)
		}
	}
}

func (f *WriteFuture) pollCompletion(cx *sched.Context, d api.Driver) (int, bool, error) {
	if f.op == nil {
		f.pb = pool.Default.Get(len(f.buf))
		n := copy(f.pb, f.buf)
		f.op = api.NewOp(api.OpSend, f.s.fd, f.pb[:n])
		f.op.SetWaker(cx.Waker())
		if err := d.Submit(f.op); err != nil {
			pool.Default.Put(f.pb)
			f.op, f.pb = nil, nil
			return 0, true, err
		}
		return 0, false, nil
	}
	if !f.op.Done() {
		f.op.SetWaker(cx.Waker())
		return 0, false, nil
	}
	n, err := f.op.Result()
	pool.Default.Put(f.pb)
	f.op, f.pb = nil, nil
	if err != nil {
		return 0, true, fmt.Errorf("write: %w", err)
	}
	return n, true, nil
}

// CancelIO abandons the in-flight registration.
func (f *WriteFuture) CancelIO(cx *sched.Context) {
	d := cx.Driver()
	if f.op != nil && !f.op.Done() {
		_ = d.CancelOp(f.op)
		return
	}
	_ = d.Del(f.s.fd)
}

// WriteAllFuture flushes the whole buffer, restarting short writes.
type WriteAllFuture struct {
	s    *TCPStream
	buf  []byte
	off  int
	step *WriteFuture
}

// Poll implements sched.Future; the result is len(buf) on success.
func (f *WriteAllFuture) Poll(cx *sched.Context) (int, bool, error) {
	for f.off < len(f.buf) {
		if f.step == nil {
			f.step = f.s.Write(f.buf[f.off:])
		}
		n, done, err := f.step.Poll(cx)
		if err != nil {
			return f.off, true, err
		}
		if !done {
			return 0, false, nil
		}
		f.step = nil
		f.off += n
	}
	return f.off, true, nil
}

// CancelIO forwards to the in-flight write step.
func (f *WriteAllFuture) CancelIO(cx *sched.Context) {
	if f.step != nil {
		f.step.CancelIO(cx)
	}
}
