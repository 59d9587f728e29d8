//go:build linux

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// before binding, so a restarted sidecar can rebind its port at once.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}

// recv reads one datagram with MSG_DONTWAIT so an empty queue returns at once.
func (m *Multiplexer) recv(buf []byte) (int, *net.UDPAddr, error) {
	raw, err := m.conn.SyscallConn()
	if err != nil {
		return 0, nil, err
	}

	var (
		n    int
		from syscall.Sockaddr
		rerr error
	)
	err = raw.Read(func(fd uintptr) bool {
		n, from, rerr = syscall.Recvfrom(int(fd), buf, syscall.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	if rerr != nil {
		if rerr == syscall.EAGAIN || rerr == syscall.EWOULDBLOCK || rerr == syscall.EINTR {
			return 0, nil, errWouldBlock
		}
		return 0, nil, rerr
	}

	return n, sockaddrToUDP(from), nil
}

func sockaddrToUDP(sa syscall.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	case *syscall.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	default:
		return &net.UDPAddr{}
	}
}
