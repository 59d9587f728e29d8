//go:build !linux

package network

import (
	"errors"
	"net"
	"os"
	"time"
)

// pollWindow bounds how long the final empty read of a drain may wait.
const pollWindow = time.Millisecond

// ReuseAddrListenConfig returns a plain ListenConfig on platforms where the
// sidecar does not tune socket options.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}

// recv reads one datagram under a very short deadline.
func (m *Multiplexer) recv(buf []byte) (int, *net.UDPAddr, error) {
	if err := m.conn.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
		return 0, nil, err
	}
	n, from, err := m.conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil, errWouldBlock
		}
		return 0, nil, err
	}
	return n, from, nil
}
