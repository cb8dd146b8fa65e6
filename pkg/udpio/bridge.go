// Package udpio implements the reference datagram-sink collaborator of
// §6: a thin bridge between a real net.PacketConn and the manager's
// SendDatagram/ReceivePacket contract. It deliberately does no framing
// beyond one read call per datagram, matching the Non-goal that the I/O
// loop itself stays out of scope.
package udpio

import (
	"encoding/binary"
	"net"

	"github.com/sirupsen/logrus"
)

// Receiver is the inbound half of pkg/manager.Manager that Bridge
// drives: one packet per received UDP datagram.
type Receiver interface {
	ReceivePacket(peerIP uint32, raw []byte)
}

// Bridge owns a net.PacketConn and pumps datagrams between it and a
// Receiver. Construct with New and run Serve in its own goroutine;
// Close stops the read loop.
type Bridge struct {
	pc  net.PacketConn
	mgr Receiver
	log *logrus.Entry
}

// New wraps an already-bound net.PacketConn (typically a *net.UDPConn
// from net.ListenUDP).
func New(pc net.PacketConn, mgr Receiver, log *logrus.Entry) *Bridge {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{pc: pc, mgr: mgr, log: log}
}

// Serve reads datagrams until the underlying connection is closed,
// handing each to the Receiver. It returns the error that ended the
// loop, which is nil only if never called (Serve blocks until error).
func (b *Bridge) Serve() error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := b.pc.ReadFrom(buf)
		if err != nil {
			b.log.WithError(err).Info("udpio: read loop ending")
			return err
		}

		peerIP, ok := addrToIPv4(addr)
		if !ok {
			b.log.WithField("addr", addr).Warn("udpio: dropping datagram from non-IPv4 peer")
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		b.mgr.ReceivePacket(peerIP, payload)
	}
}

// Close closes the underlying socket, ending any in-flight Serve call.
func (b *Bridge) Close() error {
	return b.pc.Close()
}

// SendDatagram implements manager.DatagramSink. The destination port
// travels inside payload's header (offset 2, width 2); peerIP supplies
// the address the virtual port space doesn't carry.
func (b *Bridge) SendDatagram(peerIP uint32, payload []byte) {
	if len(payload) < 4 {
		return
	}
	dstPort := binary.BigEndian.Uint16(payload[2:4])
	addr := &net.UDPAddr{IP: ipv4FromUint32(peerIP), Port: int(dstPort)}
	if _, err := b.pc.WriteTo(payload, addr); err != nil {
		b.log.WithError(err).Warn("udpio: send failed, dropping")
	}
}

func addrToIPv4(addr net.Addr) (uint32, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, false
	}
	ip4 := udpAddr.IP.To4()
	if ip4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(ip4), true
}

func ipv4FromUint32(ip uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, ip)
	return b
}
