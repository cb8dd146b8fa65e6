package state

import "fmt"

// AppEvent is an event originated by the local application rather than
// by an inbound header.
type AppEvent int

const (
	AppListen AppEvent = iota
	AppConnect
	AppClose
)

func (e AppEvent) String() string {
	switch e {
	case AppListen:
		return "Listen"
	case AppConnect:
		return "Connect"
	case AppClose:
		return "Close"
	default:
		return fmt.Sprintf("AppEvent(%d)", int(e))
	}
}

// ConnectParams carries the values the Connect event needs to seed the
// TCB: a freshly chosen initial sequence number and the configured
// initial host window.
type ConnectParams struct {
	ISS           uint32
	InitialWindow uint16
}

// DispatchApp applies an application-originated event to the automaton.
// params is only consulted for AppConnect. It returns the next state and
// the reaction commands.
func DispatchApp(s State, tcb *TCB, ev AppEvent, params ConnectParams) (State, []Command) {
	switch ev {
	case AppListen:
		if s != Closed {
			return s, invalidOp(fmt.Errorf("%w: Listen from %s", ErrInvalidOperation, s))
		}
		return Listen, []Command{{Kind: CmdDiscard}}

	case AppConnect:
		if s != Closed {
			return s, invalidOp(fmt.Errorf("%w: Connect from %s", ErrInvalidOperation, s))
		}
		tcb.ISS = params.ISS
		tcb.SndUna = params.ISS
		tcb.SndNxt = params.ISS + 1
		tcb.SndWnd = params.InitialWindow
		return SynSent, []Command{{Kind: CmdSendSyn}}

	case AppClose:
		switch s {
		case Closed:
			// Boundary behavior: closing an already-closed connection is
			// a no-op, not an error.
			return Closed, []Command{{Kind: CmdDiscard}}
		case Estab:
			tcb.SndNxt++
			return FinWait1, []Command{{Kind: CmdSendFin}}
		case CloseWait:
			tcb.SndNxt++
			return LastAck, []Command{{Kind: CmdSendFin}}
		default:
			return s, invalidOp(fmt.Errorf("%w: Close from %s", ErrInvalidOperation, s))
		}
	}

	return s, invalidOp(fmt.Errorf("%w: unknown app event %v from %s", ErrInvalidOperation, ev, s))
}
