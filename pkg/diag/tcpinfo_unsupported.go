//go:build !linux

package diag

import (
	"errors"
	"net"
)

// ErrUnsupported is returned by ReadReal on platforms other than Linux,
// where TCP_INFO isn't available through getsockopt(2) the same way.
var ErrUnsupported = errors.New("diag: real tcp_info comparison is only implemented on Linux")

// ReadReal always fails on non-Linux platforms; see tcpinfo_linux.go.
func ReadReal(conn *net.TCPConn) (RealTCPInfo, error) {
	return RealTCPInfo{}, ErrUnsupported
}
