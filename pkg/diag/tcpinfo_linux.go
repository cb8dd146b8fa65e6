//go:build linux

package diag

import (
	"errors"
	"net"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// ErrKernelTooOld signals that TCP_INFO is unavailable: the
// getsockopt(2) option was added in Linux 2.6.2.
var ErrKernelTooOld = errors.New("diag: tcp_info is not available on Linux prior to kernel 2.6.2")

var minTCPInfoKernel = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}

// ReadReal reads the real kernel's TCP_INFO for conn via getsockopt(2)
// and trims it down to RealTCPInfo. conn must wrap a connected TCP
// socket (e.g. the loopback side of a demo run).
func ReadReal(conn *net.TCPConn) (RealTCPInfo, error) {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		return RealTCPInfo{}, err
	}
	if kernel.CompareKernelVersion(*v, minTCPInfoKernel) < 0 {
		return RealTCPInfo{}, ErrKernelTooOld
	}

	fd := netfd.GetFdFromConn(conn)
	info, err := unix.GetsockoptTCPInfo(fd, unix.SOL_TCP, unix.TCP_INFO)
	if err != nil {
		return RealTCPInfo{}, err
	}

	return RealTCPInfo{
		State:       info.State,
		Retransmits: info.Retransmits,
		RTTMicros:   info.Rtt,
		SndCwnd:     info.Snd_cwnd,
		SndMSS:      info.Snd_mss,
		RcvMSS:      info.Rcv_mss,
	}, nil
}
