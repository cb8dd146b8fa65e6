package state

// SegmentParams carries values the automaton cannot derive purely from
// (state, tcb, segment) without breaking referential transparency: a
// freshly chosen initial sequence number and the configured initial host
// window, needed only when a segment event materializes a brand new TCB
// (the Closed+SYN transition).
type SegmentParams struct {
	ISS           uint32
	InitialWindow uint16
}

// DispatchSegment applies an inbound-header event to the automaton. The
// checksum gate is evaluated first and is fixed regardless of state: a
// failed checksum always yields Discard+SendAck with no state change.
func DispatchSegment(s State, tcb *TCB, seg Segment, checksumOK bool, params SegmentParams) (State, []Command) {
	if !checksumOK {
		return s, []Command{{Kind: CmdDiscard}, {Kind: CmdSendAck}}
	}

	switch s {
	case Closed:
		return dispatchClosed(tcb, seg, params)
	case Listen:
		return dispatchListen(tcb, seg)
	case SynSent:
		return dispatchSynSent(tcb, seg)
	case SynRcvd:
		return dispatchSynRcvd(tcb, seg)
	case Estab:
		return dispatchEstab(tcb, seg)
	case FinWait1:
		return dispatchFinWait1(tcb, seg)
	case FinWait2:
		return dispatchFinWait2(tcb, seg)
	case CloseWait:
		return dispatchCloseWait(tcb, seg)
	case Closing:
		return dispatchClosing(tcb, seg)
	case LastAck:
		return dispatchLastAck(tcb, seg)
	case TimeWait:
		// Any header arriving in TIME-WAIT is discarded; the state never
		// changes until the TIME-WAIT timer fires (driven externally by
		// pkg/timer, not by a header event).
		return TimeWait, discard()
	default:
		return s, discard()
	}
}

func dispatchClosed(tcb *TCB, seg Segment, params SegmentParams) (State, []Command) {
	if seg.hasFlag(flagSYN) {
		tcb.ISS = params.ISS
		tcb.SndUna = params.ISS
		tcb.SndNxt = params.ISS + 1
		tcb.SndWnd = params.InitialWindow
		tcb.RcvNxt = seg.SeqNum + seg.logicalLen()
		return SynRcvd, []Command{{Kind: CmdAccept, Payload: seg.Payload}, {Kind: CmdSendSynAck}}
	}
	return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdSendRst}}
}

func dispatchListen(_ *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagSYN) {
		// The listening connection itself does not adopt the SYN's
		// sequence space; the manager materializes a separate child
		// connection (starting Closed) and feeds it this same segment,
		// which drives dispatchClosed above for the child.
		return Listen, []Command{{Kind: CmdAccept}, {Kind: CmdNewConnection}}
	}
	return Listen, discard()
}

func dispatchSynSent(tcb *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}

	if seg.hasFlag(flagSYN) && seg.hasFlag(flagACK) {
		if seg.AckNum != tcb.SndNxt {
			return SynSent, discard()
		}
		tcb.SndUna = seg.AckNum
		tcb.RcvNxt = seg.SeqNum + 1
		tcb.RcvWnd = seg.Window
		return Estab, []Command{{Kind: CmdAccept}, {Kind: CmdSendAck}, {Kind: CmdConnected}}
	}

	if seg.hasFlag(flagSYN) {
		// Simultaneous open: both sides sent a bare SYN.
		tcb.RcvNxt = seg.SeqNum + 1
		return SynRcvd, []Command{{Kind: CmdAccept}, {Kind: CmdSendAck}}
	}

	return SynSent, discard()
}

func dispatchSynRcvd(tcb *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}

	if seg.hasFlag(flagACK) && seg.AckNum == tcb.SndNxt {
		tcb.SndUna = seg.AckNum
		tcb.RcvWnd = seg.Window
		return Estab, []Command{{Kind: CmdAccept}, {Kind: CmdConnected}}
	}

	return SynRcvd, discard()
}

func dispatchEstab(tcb *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}

	if seg.hasFlag(flagFIN) && seg.AckNum <= tcb.SndNxt && seg.SeqNum == tcb.RcvNxt {
		tcb.RcvNxt += seg.logicalLen()
		tcb.RcvWnd = seg.Window
		return CloseWait, []Command{{Kind: CmdAccept, Payload: seg.Payload}, {Kind: CmdSendAck}}
	}

	if seg.hasFlag(flagACK) && seg.AckNum <= tcb.SndNxt && seg.SeqNum == tcb.RcvNxt {
		if seg.AckNum > tcb.SndUna {
			tcb.SndUna = seg.AckNum
		}
		tcb.RcvNxt += seg.logicalLen()
		cmds := []Command{{Kind: CmdAccept, Payload: seg.Payload}, {Kind: CmdRecvAck}}
		if len(seg.Payload) > 0 {
			cmds = append(cmds, Command{Kind: CmdSendAck})
		}
		return Estab, cmds
	}

	return Estab, discard()
}

func dispatchFinWait1(tcb *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}

	if seg.hasFlag(flagFIN) {
		tcb.RcvNxt += seg.logicalLen()
		if seg.AckNum == tcb.SndNxt {
			return TimeWait, []Command{{Kind: CmdAccept, Payload: seg.Payload}, {Kind: CmdSendAck}, {Kind: CmdTimeWait}}
		}
		return Closing, []Command{{Kind: CmdAccept, Payload: seg.Payload}, {Kind: CmdSendAck}}
	}

	if seg.hasFlag(flagACK) {
		if seg.AckNum == tcb.SndNxt && seg.SeqNum == tcb.RcvNxt {
			return FinWait2, []Command{{Kind: CmdAccept}}
		}
		if seg.AckNum < tcb.SndNxt {
			return FinWait1, []Command{{Kind: CmdAccept}}
		}
	}

	return FinWait1, discard()
}

func dispatchFinWait2(tcb *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}

	if seg.hasFlag(flagFIN) && seg.AckNum == tcb.SndNxt {
		tcb.RcvNxt = seg.SeqNum + seg.logicalLen()
		return TimeWait, []Command{{Kind: CmdAccept, Payload: seg.Payload}, {Kind: CmdSendAck}, {Kind: CmdTimeWait}}
	}

	return FinWait2, discard()
}

func dispatchCloseWait(_ *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}
	return CloseWait, discard()
}

func dispatchClosing(tcb *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}
	if seg.hasFlag(flagACK) && seg.AckNum == tcb.SndNxt {
		return TimeWait, []Command{{Kind: CmdAccept}, {Kind: CmdTimeWait}}
	}
	return Closing, discard()
}

func dispatchLastAck(tcb *TCB, seg Segment) (State, []Command) {
	if seg.hasFlag(flagRST) {
		return Closed, []Command{{Kind: CmdDiscard}, {Kind: CmdClose}}
	}
	if seg.hasFlag(flagACK) && seg.AckNum == tcb.SndNxt {
		return Closed, []Command{{Kind: CmdAccept}, {Kind: CmdClose}}
	}
	return LastAck, discard()
}
