// Command utcpdial connects to a listening utcpecho instance over real
// UDP, sends a message, and logs what comes back.
package main

import (
	"encoding/binary"
	"flag"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-utcp/pkg/manager"
	"github.com/simeonmiteff/go-utcp/pkg/udpio"
)

type bridgeSink struct {
	bridge *udpio.Bridge
}

func (s *bridgeSink) SendDatagram(peerIP uint32, b []byte) {
	s.bridge.SendDatagram(peerIP, b)
}

func main() {
	peerAddr := flag.String("peer", "127.0.0.1:9000", "UDP address of the listening peer")
	peerPort := flag.Uint("peer-port", 7, "virtual port the peer is listening on")
	message := flag.String("message", "hello from utcpdial", "message to send")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		log.WithError(err).Fatal("listen udp")
	}
	defer pc.Close()

	udpAddr, err := net.ResolveUDPAddr("udp", *peerAddr)
	if err != nil {
		log.WithError(err).Fatal("resolve peer address")
	}

	hostIP := localIPv4(pc.LocalAddr())
	sink := &bridgeSink{}
	mgr := manager.New(hostIP, sink, manager.WithLogger(log))
	sink.bridge = udpio.New(pc, mgr, log)

	go func() {
		if err := sink.bridge.Serve(); err != nil {
			log.WithError(err).Info("udp read loop ended")
		}
	}()

	c := mgr.NewSocket()
	peerIP := localIPv4(udpAddr)
	if err := mgr.Connect(c, peerIP, uint16(*peerPort)); err != nil {
		log.WithError(err).Fatal("connect")
	}
	log.Info("handshake complete")

	mgr.Send(c, []byte(*message))

	buf := make([]byte, len(*message))
	n, err := mgr.Recv(c, buf, len(*message))
	if err != nil {
		log.WithError(err).Fatal("recv")
	}
	log.WithField("reply", string(buf[:n])).Info("echo received")

	time.Sleep(100 * time.Millisecond)
	if err := mgr.Close(c); err != nil {
		log.WithError(err).Error("close")
	}
}

func localIPv4(addr net.Addr) uint32 {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || udpAddr.IP.To4() == nil {
		return 0x7f000001 // 127.0.0.1
	}
	return binary.BigEndian.Uint32(udpAddr.IP.To4())
}
