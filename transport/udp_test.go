// File: transport/udp_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/sched"
)

// udpEchoOnce receives one datagram and sends it back to the sender.
type udpEchoOnce struct {
	sock  *UDPSocket
	state int
	rcv   *RecvFromFuture
	snd   *SendToFuture
	buf   []byte
	dg    Datagram
}

func (e *udpEchoOnce) Poll(cx *sched.Context) (struct{}, bool, error) {
	for {
		switch e.state {
		case 0:
			if e.rcv == nil {
				e.buf = make([]byte, 512)
				e.rcv = e.sock.RecvFrom(e.buf)
			}
			dg, done, err := e.rcv.Poll(cx)
			if err != nil {
				return struct{}{}, true, err
			}
			if !done {
				return struct{}{}, false, nil
			}
			e.dg = dg
			e.state = 1
		case 1:
			if e.snd == nil {
				e.snd = e.sock.SendTo(e.buf[:e.dg.N], e.dg.Peer)
			}
			_, done, err := e.snd.Poll(cx)
			if err != nil {
				return struct{}{}, true, err
			}
			if !done {
				return struct{}{}, false, nil
			}
			return struct{}{}, true, nil
		}
	}
}

// udpPing sends a datagram and waits for the reply.
type udpPing struct {
	sock  *UDPSocket
	to    *UDPSocket
	msg   []byte
	state int
	snd   *SendToFuture
	rcv   *RecvFromFuture
	buf   []byte
}

func (p *udpPing) Poll(cx *sched.Context) (string, bool, error) {
	for {
		switch p.state {
		case 0:
			if p.snd == nil {
				p.snd = p.sock.SendTo(p.msg, p.to.Addr())
			}
			_, done, err := p.snd.Poll(cx)
			if err != nil {
				return "", true, err
			}
			if !done {
				return "", false, nil
			}
			p.state = 1
		case 1:
			if p.rcv == nil {
				p.buf = make([]byte, 512)
				p.rcv = p.sock.RecvFrom(p.buf)
			}
			dg, done, err := p.rcv.Poll(cx)
			if err != nil {
				return "", true, err
			}
			if !done {
				return "", false, nil
			}
			return string(p.buf[:dg.N]), true, nil
		}
	}
}

func TestBindUDPBadAddress(t *testing.T) {
	_, err := BindUDP("nope")
	var be *api.BindError
	assert.ErrorAs(t, err, &be)
}

func TestBindUDPAssignsPort(t *testing.T) {
	u, err := BindUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer unix.Close(u.Fd())
	assert.NotContains(t, u.Addr().String(), ":0")
}

func TestUDPEchoRoundTrip(t *testing.T) {
	rt := testRuntime(t)

	server, err := BindUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer unix.Close(server.Fd())
	client, err := BindUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer unix.Close(client.Fd())

	srv, err := sched.Spawn[struct{}](rt.Handle(), &udpEchoOnce{sock: server})
	require.NoError(t, err)
	cli, err := sched.Spawn[string](rt.Handle(), &udpPing{
		sock: client,
		to:   server,
		msg:  []byte("datagram"),
	})
	require.NoError(t, err)

	got, err := cli.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "datagram", got)
	_, err = srv.Wait(waitCtx(t))
	require.NoError(t, err)
}
