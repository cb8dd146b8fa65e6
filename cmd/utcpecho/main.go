// Command utcpecho listens with the engine over a real loopback UDP
// socket and echoes back every chunk of bytes it receives, exercising
// pkg/udpio end to end.
package main

import (
	"encoding/binary"
	"flag"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-utcp/pkg/conn"
	"github.com/simeonmiteff/go-utcp/pkg/manager"
	"github.com/simeonmiteff/go-utcp/pkg/state"
	"github.com/simeonmiteff/go-utcp/pkg/udpio"
)

// bridgeSink indirects SendDatagram to a *udpio.Bridge that doesn't
// exist yet when the Manager is constructed: the Manager needs a sink
// up front, and the Bridge needs the Manager as its Receiver.
type bridgeSink struct {
	bridge *udpio.Bridge
}

func (s *bridgeSink) SendDatagram(peerIP uint32, b []byte) {
	s.bridge.SendDatagram(peerIP, b)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "UDP address to listen on")
	port := flag.Uint("port", 7, "virtual port to accept connections on")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	pc, err := net.ListenPacket("udp", *addr)
	if err != nil {
		log.WithError(err).Fatal("listen udp")
	}
	defer pc.Close()

	hostIP := localIPv4(pc.LocalAddr())
	sink := &bridgeSink{}
	mgr := manager.New(hostIP, sink, manager.WithLogger(log))
	sink.bridge = udpio.New(pc, mgr, log)

	go func() {
		if err := sink.bridge.Serve(); err != nil {
			log.WithError(err).Info("udp read loop ended")
		}
	}()

	listener := mgr.NewSocket()
	if err := mgr.Listen(listener, uint16(*port)); err != nil {
		log.WithError(err).Fatal("listen")
	}
	log.WithField("addr", *addr).Info("echoing")

	for {
		c, err := mgr.Accept(listener)
		if err != nil {
			log.WithError(err).Error("accept")
			continue
		}
		go echo(mgr, c, log)
	}
}

// echo reads one byte at a time and sends it straight back. Recv blocks
// indefinitely once there is nothing left to wait for, so echo watches
// CurrentState on a separate goroutine to notice the peer closing
// rather than waiting for Recv to return an error (it never does on
// close). The final in-flight Recv call, if any, is simply abandoned.
func echo(mgr *manager.Manager, c *conn.Connection, log *logrus.Entry) {
	type chunk struct {
		b   []byte
		err error
	}
	got := make(chan chunk)

	go func() {
		for {
			buf := make([]byte, 1)
			n, err := mgr.Recv(c, buf, 1)
			got <- chunk{buf[:n], err}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ch := <-got:
			if ch.err != nil {
				log.WithError(ch.err).Info("connection closed")
				return
			}
			mgr.Send(c, ch.b)
		case <-ticker.C:
			if c.CurrentState() != state.Estab {
				log.Info("connection closed")
				return
			}
		}
	}
}

func localIPv4(addr net.Addr) uint32 {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || udpAddr.IP.To4() == nil {
		return 0x7f000001 // 127.0.0.1
	}
	return binary.BigEndian.Uint32(udpAddr.IP.To4())
}
