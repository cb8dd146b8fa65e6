// Package state implements the eleven-state connection automaton: a
// closed set of State values, each with a segment-event dispatch
// function, plus one app-event dispatch function over all states, producing a reaction (a slice of Commands) and the
// next state. Modeled as a flat switch over a tagged enum rather than a
// virtual-dispatch class hierarchy, per Go idiom and so the compiler can
// flag a missing case.
package state

import "fmt"

// State is one of the eleven connection states. The zero value is
// Closed, matching a freshly constructed connection.
type State int

const (
	Closed State = iota
	Listen
	SynSent
	SynRcvd
	Estab
	FinWait1
	FinWait2
	Closing
	TimeWait
	CloseWait
	LastAck
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case SynSent:
		return "SYN_SENT"
	case SynRcvd:
		return "SYN_RCVD"
	case Estab:
		return "ESTABLISHED"
	case FinWait1:
		return "FIN_WAIT_1"
	case FinWait2:
		return "FIN_WAIT_2"
	case Closing:
		return "CLOSING"
	case TimeWait:
		return "TIME_WAIT"
	case CloseWait:
		return "CLOSE_WAIT"
	case LastAck:
		return "LAST_ACK"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Segment is the subset of an inbound packet the automaton needs to
// decide a transition: its sequence/ack numbers, flags, advertised
// window, and payload.
type Segment struct {
	SeqNum  uint32
	AckNum  uint32
	Flags   uint8
	Window  uint16
	Payload []byte
}

func (s Segment) hasFlag(mask uint8) bool { return s.Flags&mask == mask }

// logicalLen is the sequence-space length of the segment: payload bytes,
// plus one each for SYN and FIN (each consumes a sequence number).
func (s Segment) logicalLen() uint32 {
	n := uint32(len(s.Payload))
	if s.hasFlag(flagSYN) {
		n++
	}
	if s.hasFlag(flagFIN) {
		n++
	}
	return n
}

// Flag bit values, duplicated from pkg/segment to keep this package
// dependency-free and independently testable; pkg/conn is responsible for
// translating pkg/segment.Header flags into these when building a
// Segment.
const (
	flagFIN uint8 = 1 << iota
	flagSYN
	flagRST
	flagPSH
	flagACK
	flagURG
)

const (
	FlagFIN = flagFIN
	FlagSYN = flagSYN
	FlagRST = flagRST
	FlagPSH = flagPSH
	FlagACK = flagACK
	FlagURG = flagURG
)
