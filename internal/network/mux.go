// Package network owns the UDP socket shared with the game engine and
// multiplexes inbound datagrams to the admin and sound subsystems.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/metrics"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/util"
)

// ErrNoReplyTarget is returned by Send before any well-formed datagram arrived.
var ErrNoReplyTarget = errors.New("no reply address known yet")

// errWouldBlock signals that the socket queue is empty.
var errWouldBlock = errors.New("would block")

// maxDatagram is the largest datagram read in one call.
const maxDatagram = 65535

// Router receives every well-formed inbound packet, in receipt order.
type Router interface {
	Route(pkt protocol.Packet)
}

// Multiplexer drains the UDP socket without blocking and remembers the last
// sender as the reply target.
type Multiplexer struct {
	conn    *net.UDPConn
	buf     []byte
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	reply *net.UDPAddr
}

// Listen binds the engine-facing UDP socket with SO_REUSEADDR.
func Listen(ctx context.Context, addr string, readBuffer int, m *metrics.Metrics) (*Multiplexer, error) {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	mux := NewMultiplexer(conn, m)
	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			mux.logger.Warn().Err(err).Int("bytes", readBuffer).Msg("failed to set socket read buffer")
		}
	}
	return mux, nil
}

// NewMultiplexer wraps an already bound socket.
func NewMultiplexer(conn *net.UDPConn, m *metrics.Metrics) *Multiplexer {
	return &Multiplexer{
		conn:    conn,
		buf:     make([]byte, maxDatagram),
		logger:  util.ComponentLogger("mux"),
		metrics: m,
	}
}

// LocalAddr returns the bound address.
func (m *Multiplexer) LocalAddr() *net.UDPAddr {
	return m.conn.LocalAddr().(*net.UDPAddr)
}

// ReplyAddr returns the last sender of a well-formed datagram, or nil.
func (m *Multiplexer) ReplyAddr() *net.UDPAddr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reply
}

// Drain processes every datagram currently queued on the socket and returns
// the number routed. It never waits for new data.
func (m *Multiplexer) Drain(router Router) int {
	routed := 0
	for {
		n, from, err := m.recv(m.buf)
		if err != nil {
			if !errors.Is(err, errWouldBlock) && !errors.Is(err, net.ErrClosed) {
				m.logger.Warn().Err(err).Msg("udp receive failed")
			}
			return routed
		}
		if m.handle(m.buf[:n], from, router) {
			routed++
		}
	}
}

// handle decodes one datagram. Malformed input is dropped before the reply
// address is touched.
func (m *Multiplexer) handle(data []byte, from *net.UDPAddr, router Router) bool {
	pkt, err := protocol.Decode(data)
	if err != nil {
		m.metrics.RecordDrop()
		m.logger.Trace().Err(err).Str("from", from.String()).Msg("dropped datagram")
		return false
	}

	m.mu.Lock()
	m.reply = from
	m.mu.Unlock()

	m.metrics.RecordPacket(fmt.Sprintf("0x%02x", pkt.Tag()))
	router.Route(pkt)
	return true
}

// Send writes one packet to the remembered engine address.
func (m *Multiplexer) Send(pkt []byte) error {
	addr := m.ReplyAddr()
	if addr == nil {
		return ErrNoReplyTarget
	}
	if _, err := m.conn.WriteToUDP(pkt, addr); err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	if len(pkt) > 0 {
		m.metrics.RecordSent(fmt.Sprintf("0x%02x", pkt[0]))
	}
	return nil
}

// Close closes the socket.
func (m *Multiplexer) Close() error {
	return m.conn.Close()
}
