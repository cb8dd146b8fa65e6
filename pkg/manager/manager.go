// Package manager implements the Connection Manager: the four-tuple
// keyed connection table, ephemeral port allocation, the flush loop that
// drains connections with outbound data, and the retransmission/
// TIME-WAIT timers that drive the rest of the engine forward in time.
package manager

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-utcp/pkg/conn"
	"github.com/simeonmiteff/go-utcp/pkg/metrics"
	"github.com/simeonmiteff/go-utcp/pkg/segment"
	"github.com/simeonmiteff/go-utcp/pkg/state"
	"github.com/simeonmiteff/go-utcp/pkg/timer"
)

// DatagramSink is the external collaborator of §6: fire-and-forget
// outbound delivery. The manager supplies peerIP because the underlying
// transport needs an address to route to; the destination port already
// travels inside b's header. pkg/udpio.Bridge is the reference
// implementation over a real net.PacketConn; tests use an in-memory
// stub.
type DatagramSink interface {
	SendDatagram(peerIP uint32, b []byte)
}

var (
	// ErrAddrInUse is returned by Listen when the requested port is
	// already bound.
	ErrAddrInUse = errors.New("address already in use")
	// ErrPortExhausted is returned by Connect when no ephemeral port
	// could be found after 65536 attempts.
	ErrPortExhausted = conn.ErrPortExhausted
)

// Manager is the connection table and scheduler described in §4.5. The
// zero value is not usable; construct with New.
type Manager struct {
	mu           sync.Mutex
	idMap        map[conn.FourTuple]*conn.Connection
	unused       map[*conn.Connection]struct{}
	unreferenced map[*conn.Connection]struct{}
	waitSend     map[*conn.Connection]struct{}

	hostIP            uint32
	initialWindow     uint16
	retransmitTimeout time.Duration
	timeWaitDuration  time.Duration
	flushInterval     time.Duration

	sink    DatagramSink
	timers  *timer.Service
	metrics *metrics.Collector
	log     *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs a Manager bound to hostIP (a raw IPv4 address) and sink,
// applying any Options over the package defaults.
func New(hostIP uint32, sink DatagramSink, opts ...Option) *Manager {
	m := &Manager{
		idMap:             make(map[conn.FourTuple]*conn.Connection),
		unused:            make(map[*conn.Connection]struct{}),
		unreferenced:      make(map[*conn.Connection]struct{}),
		waitSend:          make(map[*conn.Connection]struct{}),
		hostIP:            hostIP,
		initialWindow:     1024,
		retransmitTimeout: 5 * time.Second,
		timeWaitDuration:  5 * time.Second,
		flushInterval:     200 * time.Millisecond,
		sink:              sink,
		timers:            timer.New(4),
		log:               logrus.NewEntry(logrus.StandardLogger()),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timers.Schedule(m.periodicFlush, m.flushInterval)
	return m
}

// Stop stops the timer service, dropping pending timers. No further retransmissions or
// TIME-WAIT expiries will run after it returns.
func (m *Manager) Stop() {
	m.timers.Stop()
}

// ConnectionCount reports the number of connections currently bound in
// id_map, for diagnostics and tests.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.idMap)
}

// ------------------------------------------------------------------
// Socket-facing operations (new_socket, listen, connect, accept, send,
// recv, close).
// ------------------------------------------------------------------

// NewSocket creates an unbound, Closed connection and places it in the
// unused set.
func (m *Manager) NewSocket() *conn.Connection {
	c := conn.New(m, m.log, m.initialWindow)

	m.mu.Lock()
	m.unused[c] = struct{}{}
	m.mu.Unlock()

	return c
}

// Listen binds c to (hostIP, port, 0, 0) and fires its Listen event.
func (m *Manager) Listen(c *conn.Connection, port uint16) error {
	tuple := conn.FourTuple{HostIP: m.hostIP, HostPort: port}

	m.mu.Lock()
	if _, exists := m.idMap[tuple]; exists {
		m.mu.Unlock()
		return ErrAddrInUse
	}
	delete(m.unused, c)
	m.idMap[tuple] = c
	m.mu.Unlock()

	c.Tuple = tuple
	if err := c.Listen(); err != nil {
		m.mu.Lock()
		delete(m.idMap, tuple)
		m.unused[c] = struct{}{}
		m.mu.Unlock()
		return err
	}
	if m.metrics != nil {
		m.metrics.ConnectionOpened()
	}
	return nil
}

// Connect allocates an ephemeral host port, binds c under the full
// four-tuple, sends the SYN produced by Connection.Connect, and blocks
// (via Connection.WaitEstab) until the handshake completes.
func (m *Manager) Connect(c *conn.Connection, peerIP uint32, peerPort uint16) error {
	m.mu.Lock()
	port, err := m.getPortLocked(peerIP, peerPort)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	tuple := conn.FourTuple{HostIP: m.hostIP, HostPort: port, PeerIP: peerIP, PeerPort: peerPort}
	delete(m.unused, c)
	m.idMap[tuple] = c
	m.mu.Unlock()

	c.Tuple = tuple
	iss := m.randISN()
	pkts, err := c.Connect(iss)
	if err != nil {
		m.mu.Lock()
		delete(m.idMap, tuple)
		m.mu.Unlock()
		return err
	}
	m.emit(c, pkts)

	if err := c.WaitEstab(); err != nil {
		m.mu.Lock()
		delete(m.idMap, tuple)
		m.mu.Unlock()
		return err
	}
	if m.metrics != nil {
		m.metrics.ConnectionOpened()
	}
	return nil
}

// Accept blocks until a child connection is available, matching
// Connection.Accept.
func (m *Manager) Accept(c *conn.Connection) (*conn.Connection, error) {
	return c.Accept()
}

// Send appends bytes to c's sending buffer and flushes it immediately,
// in addition to the periodic flush that covers window-opening ACKs
// arriving later.
func (m *Manager) Send(c *conn.Connection, p []byte) {
	c.SendBytes(p)
}

// Recv blocks until n bytes are available and copies them out.
func (m *Manager) Recv(c *conn.Connection, buf []byte, n int) (int, error) {
	return c.Recv(buf, n)
}

// Close fires the protocol Close event (emitting a FIN where
// appropriate) and runs the handle-destructor bookkeeping described in
// §4.5's internal_closing.
func (m *Manager) Close(c *conn.Connection) error {
	pkts, err := c.Close()
	m.emit(c, pkts)
	m.internalClosing(c)
	if err != nil {
		return err
	}
	return nil
}

func (m *Manager) internalClosing(c *conn.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.unused[c]; ok {
		delete(m.unused, c)
		return
	}
	m.unreferenced[c] = struct{}{}
}

// ------------------------------------------------------------------
// conn.Sender implementation: callbacks the Connection invokes to ask the
// manager for outbound work.
// ------------------------------------------------------------------

// NotifyWaitSend records that c has data ready and drains it right away.
func (m *Manager) NotifyWaitSend(c *conn.Connection) {
	m.mu.Lock()
	m.waitSend[c] = struct{}{}
	m.mu.Unlock()

	m.drain(c)
}

// ScheduleTimeWait arms the one-shot reset-and-unbind timer.
func (m *Manager) ScheduleTimeWait(c *conn.Connection) {
	m.timers.Schedule(func() bool {
		m.internalTimeWait(c)
		return false
	}, m.timeWaitDuration)
}

func (m *Manager) internalTimeWait(c *conn.Connection) {
	m.mu.Lock()
	delete(m.idMap, c.Tuple)
	delete(m.waitSend, c)
	delete(m.unreferenced, c)
	m.mu.Unlock()

	c.Reset()
	if m.metrics != nil {
		m.metrics.ConnectionClosed()
	}
}

// ------------------------------------------------------------------
// Inbound path.
// ------------------------------------------------------------------

// ReceivePacket is receive_datagram: called for every raw datagram
// arriving from peerIP. Datagrams shorter than the header are dropped
// silently.
func (m *Manager) ReceivePacket(peerIP uint32, raw []byte) {
	if len(raw) < segment.HeaderSize {
		return
	}

	hdr := segment.DecodeHeader(raw)
	payload := raw[segment.HeaderSize:]

	pseudo := segment.PseudoHeader{SrcIP: peerIP, DstIP: m.hostIP, Protocol: segment.ProtocolNumber, Length: uint16(len(raw))}
	checksumOK := segment.VerifyChecksum(pseudo, raw)

	key := conn.FourTuple{HostIP: m.hostIP, HostPort: hdr.DstPort, PeerIP: peerIP, PeerPort: hdr.SrcPort}

	m.mu.Lock()
	c, ok := m.idMap[key]
	if !ok {
		listenerKey := conn.FourTuple{HostIP: m.hostIP, HostPort: hdr.DstPort}
		c, ok = m.idMap[listenerKey]
	}
	m.mu.Unlock()

	if !ok {
		if checksumOK && !hdr.HasFlag(segment.FlagRST) {
			m.sendRST(peerIP, hdr)
		}
		return
	}

	if m.metrics != nil && !checksumOK {
		m.metrics.ChecksumFailure()
	}

	wasListener := c.Tuple.IsListener()
	pkts, wantsChild := c.RecvPacket(hdr, payload, checksumOK, 0)
	m.emit(c, pkts)

	if wasListener && wantsChild {
		m.internalNewConnection(c, peerIP, hdr, payload, checksumOK)
	}
}

func (m *Manager) sendRST(peerIP uint32, inHdr segment.Header) {
	p := segment.NewPacket(0)
	h := segment.NewHeader()
	h.SrcPort = inHdr.DstPort
	h.DstPort = inHdr.SrcPort
	h.AckNum = inHdr.SeqNum + 1
	h.SetFlag(segment.FlagRST | segment.FlagACK)
	p.SetHeader(h)
	m.sendPacket(peerIP, p)
}

// internalNewConnection materializes a child connection from an inbound
// SYN addressed to a listener, replaying the same segment through the
// child's own (initially Closed) state machine.
func (m *Manager) internalNewConnection(parent *conn.Connection, peerIP uint32, hdr segment.Header, payload []byte, checksumOK bool) {
	child := conn.New(m, m.log, m.initialWindow)
	child.Tuple = conn.FourTuple{HostIP: m.hostIP, HostPort: hdr.DstPort, PeerIP: peerIP, PeerPort: hdr.SrcPort}

	m.mu.Lock()
	if _, exists := m.idMap[child.Tuple]; exists {
		m.mu.Unlock()
		return
	}
	m.idMap[child.Tuple] = child
	m.mu.Unlock()

	iss := m.randISN()
	pkts, _ := child.RecvPacket(hdr, payload, checksumOK, iss)

	if child.CurrentState() == state.Closed {
		m.mu.Lock()
		delete(m.idMap, child.Tuple)
		m.mu.Unlock()
		m.emit(child, pkts)
		return
	}

	m.emit(child, pkts)
	parent.PublishChild(child)
}

// ------------------------------------------------------------------
// Outbound path: emit, send, retransmission, flush.
// ------------------------------------------------------------------

// emit transmits every packet in pkts on behalf of c, arranging
// retransmission for anything that consumes sequence space (SYN, FIN, or
// a payload-bearing ACK).
func (m *Manager) emit(c *conn.Connection, pkts []*segment.Packet) {
	for _, p := range pkts {
		h := p.Header()
		consumesSeq := h.HasFlag(segment.FlagSYN) || h.HasFlag(segment.FlagFIN)
		payloadLen := uint32(p.Len())

		switch {
		case consumesSeq:
			m.sendPacketWithResend(c, p, h.SeqNum+1)
		case payloadLen > 0:
			m.sendPacketWithResend(c, p, h.SeqNum+payloadLen)
		default:
			m.sendPacket(c.Tuple.PeerIP, p)
		}
	}
}

// sendPacket stamps the checksum and hands the packet to the datagram
// sink. peerIP supplies the pseudo-header's destination address.
func (m *Manager) sendPacket(peerIP uint32, p *segment.Packet) {
	pseudo := segment.PseudoHeader{SrcIP: m.hostIP, DstIP: peerIP, Protocol: segment.ProtocolNumber, Length: uint16(len(p.Bytes()))}
	p.StampChecksum(pseudo)
	m.sink.SendDatagram(peerIP, p.Bytes())
}

// sendPacketWithResend sends once and arms a retransmission timer that
// keeps resending every retransmitTimeout until c.StillPending(seqEnd)
// goes false (the bytes were acknowledged or the connection died).
func (m *Manager) sendPacketWithResend(c *conn.Connection, p *segment.Packet, seqEnd uint32) {
	peerIP := c.Tuple.PeerIP
	m.sendPacket(peerIP, p)

	p.Ref()
	m.timers.Schedule(func() bool {
		if !c.StillPending(seqEnd) {
			p.Release()
			return false
		}
		if m.metrics != nil {
			m.metrics.Retransmit()
		}
		m.sink.SendDatagram(peerIP, p.Bytes())
		return true
	}, m.retransmitTimeout)
}

// drain carves as many packets as c's effective window allows and emits
// them, then retires c from wait_send once its buffer is empty.
func (m *Manager) drain(c *conn.Connection) {
	for {
		window := c.EffectiveWindow()
		if window <= 0 {
			break
		}
		pkt, ok := c.GetPacketForSend(window)
		if !ok {
			break
		}
		m.emit(c, []*segment.Packet{pkt})
		if m.metrics != nil {
			m.metrics.BytesSent(pkt.Len())
		}
	}

	if c.SendBufferEmpty() {
		m.mu.Lock()
		delete(m.waitSend, c)
		m.mu.Unlock()
	}
}

// periodicFlush is the timer callback backing the ~200ms flush loop: it
// drains every connection with outstanding data, then reschedules
// itself (true forever, until Stop()).
func (m *Manager) periodicFlush() bool {
	m.mu.Lock()
	pending := make([]*conn.Connection, 0, len(m.waitSend))
	for c := range m.waitSend {
		pending = append(pending, c)
	}
	m.mu.Unlock()

	for _, c := range pending {
		m.drain(c)
	}
	return true
}

// ------------------------------------------------------------------
// Port and sequence-number allocation.
// ------------------------------------------------------------------

// getPortLocked draws ephemeral ports from [1, 65535] until one yields a
// four-tuple not already present in id_map, or fails after 65536
// attempts. Callers must hold m.mu.
func (m *Manager) getPortLocked(peerIP uint32, peerPort uint16) (uint16, error) {
	for attempt := 0; attempt < 65536; attempt++ {
		port := uint16(m.randUint32()%65535) + 1
		tuple := conn.FourTuple{HostIP: m.hostIP, HostPort: port, PeerIP: peerIP, PeerPort: peerPort}
		if _, exists := m.idMap[tuple]; !exists {
			return port, nil
		}
	}
	return 0, fmt.Errorf("manager: %w", ErrPortExhausted)
}

// randISN draws a random initial sequence number in [10, 10000), the
// configured default range.
func (m *Manager) randISN() uint32 {
	return 10 + m.randUint32()%9990
}

func (m *Manager) randUint32() uint32 {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Uint32()
}
