// File: transport/sock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw socket plumbing shared by the TCP and UDP surfaces: nonblocking
// socket creation and net.Addr <-> unix.Sockaddr conversion.

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const listenBacklog = 1024

// newSocket creates a nonblocking close-on-exec socket.
func newSocket(domain, typ int) (int, error) {
	fd, err := unix.Socket(domain, typ, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	return fd, nil
}

// ipSockaddr converts an IP and port to the kernel form, choosing the
// address family from the IP. A nil IP binds the IPv4 wildcard.
func ipSockaddr(ip net.IP, port int, zone string) (unix.Sockaddr, int, error) {
	if ip == nil {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], ip16)
		if zone != "" {
			if ifi, err := net.InterfaceByName(zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("unsupported address %v", ip)
}

// tcpAddrOf recovers a net.Addr from a kernel sockaddr.
func tcpAddrOf(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP{}, a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP{}, a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}

// udpAddrOf recovers a net.Addr from a kernel sockaddr.
func udpAddrOf(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append(net.IP{}, a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append(net.IP{}, a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}

// udpSockaddrOf converts a destination net.Addr for sendto.
func udpSockaddrOf(addr net.Addr) (unix.Sockaddr, error) {
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("not a UDP address: %v", addr)
	}
	sa, _, err := ipSockaddr(ua.IP, ua.Port, ua.Zone)
	return sa, err
}
