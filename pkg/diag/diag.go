// Package diag compares this engine's virtual transmission control block
// against the real kernel's view of a loopback TCP connection carrying
// the same traffic pattern. It exists for demo/debugging only: running
// the real kernel stack and this engine side by side over the same
// workload puts the kernel's figures (state, retransmits, RTT,
// congestion window) next to the engine's TCB counters without needing
// a packet capture.
package diag

import (
	"github.com/simeonmiteff/go-utcp/pkg/state"
)

// Report pairs one real kernel TCP_INFO snapshot with the engine's own
// TCB at the same moment, for side-by-side logging.
type Report struct {
	Real    RealTCPInfo
	Virtual VirtualInfo
}

// RealTCPInfo is the subset of the kernel's tcp_info this package reads.
// Apart from State, none of these fields has a counterpart in our TCB.
type RealTCPInfo struct {
	State       uint8
	Retransmits uint8
	RTTMicros   uint32
	SndCwnd     uint32
	SndMSS      uint32
	RcvMSS      uint32
}

// VirtualInfo is the engine-side half of a Report, read from a
// connection's state and TCB.
type VirtualInfo struct {
	State  state.State
	SndUna uint32
	SndNxt uint32
	RcvNxt uint32
	SndWnd uint16
	RcvWnd uint16
}

// VirtualInfoOf snapshots the fields of a TCB worth comparing against
// the kernel. Callers take whatever lock guards st/tcb before calling
// this (pkg/conn.Connection.CurrentState plus direct TCB field reads
// from a diagnostic hook, never concurrently with the connection's own
// mutations).
func VirtualInfoOf(st state.State, tcb state.TCB) VirtualInfo {
	return VirtualInfo{
		State:  st,
		SndUna: tcb.SndUna,
		SndNxt: tcb.SndNxt,
		RcvNxt: tcb.RcvNxt,
		SndWnd: tcb.SndWnd,
		RcvWnd: tcb.RcvWnd,
	}
}

// InFlight returns the number of host sequence bytes sent but not yet
// acknowledged, the closest virtual analogue to tcp_info's unacked
// counter.
func (v VirtualInfo) InFlight() uint32 {
	return v.SndNxt - v.SndUna
}
