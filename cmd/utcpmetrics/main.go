// Command utcpmetrics runs a manager over real loopback UDP and exposes
// its pkg/metrics.Collector on /metrics.
package main

import (
	"encoding/binary"
	"flag"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-utcp/pkg/conn"
	"github.com/simeonmiteff/go-utcp/pkg/manager"
	"github.com/simeonmiteff/go-utcp/pkg/metrics"
	"github.com/simeonmiteff/go-utcp/pkg/state"
	"github.com/simeonmiteff/go-utcp/pkg/udpio"
)

type bridgeSink struct {
	bridge *udpio.Bridge
}

func (s *bridgeSink) SendDatagram(peerIP uint32, b []byte) {
	s.bridge.SendDatagram(peerIP, b)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9001", "UDP address to listen on")
	port := flag.Uint("port", 7, "virtual port to accept connections on")
	httpAddr := flag.String("http", ":18080", "address to serve /metrics on")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	pc, err := net.ListenPacket("udp", *addr)
	if err != nil {
		log.WithError(err).Fatal("listen udp")
	}
	defer pc.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("utcp", reg)

	hostIP := localIPv4(pc.LocalAddr())
	sink := &bridgeSink{}
	mgr := manager.New(hostIP, sink, manager.WithLogger(log), manager.WithMetrics(collector))
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

	go func() {
		for {
			c, err := mgr.Accept(listener)
			if err != nil {
				log.WithError(err).Error("accept")
				continue
			}
			go drain(mgr, c)
		}
	}()

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.WithField("http", *httpAddr).Info("serving metrics")
	log.Fatal(http.ListenAndServe(*httpAddr, nil))
}

// drain discards everything a connection sends, keeping it alive purely
// so its traffic shows up in the scraped metrics. Recv blocks
// indefinitely once there is nothing left to wait for, so it never
// signals end-of-connection on its own; drain instead watches
// CurrentState on a separate goroutine and stops waiting on new bytes
// once the peer has started closing. The final in-flight Recv call (if
// any) is abandoned rather than cancelled, since Recv's contract gives
// callers no way to interrupt it.
func drain(mgr *manager.Manager, c *conn.Connection) {
	buf := make([]byte, 1)
	recvd := make(chan struct{})

	go func() {
		for {
			if _, err := mgr.Recv(c, buf, 1); err != nil {
				return
			}
			recvd <- struct{}{}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-recvd:
		case <-ticker.C:
			if c.CurrentState() != state.Estab {
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
