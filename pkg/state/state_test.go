package state

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func cmdKinds(cmds []Command) []CommandKind {
	out := make([]CommandKind, len(cmds))
	for i, c := range cmds {
		out[i] = c.Kind
	}
	return out
}

func containsKind(cmds []Command, k CommandKind) bool {
	for _, c := range cmds {
		if c.Kind == k {
			return true
		}
	}
	return false
}

func TestClosedConnectSendsSyn(t *testing.T) {
	var tcb TCB
	next, cmds := DispatchApp(Closed, &tcb, AppConnect, ConnectParams{ISS: 100, InitialWindow: 1024})

	assert.Equal(t, next, SynSent)
	assert.Assert(t, containsKind(cmds, CmdSendSyn))
	assert.Equal(t, tcb.SndUna, uint32(100))
	assert.Equal(t, tcb.SndNxt, uint32(101))
	assert.Equal(t, tcb.SndWnd, uint16(1024))
}

func TestClosedListen(t *testing.T) {
	var tcb TCB
	next, _ := DispatchApp(Closed, &tcb, AppListen, ConnectParams{})
	assert.Equal(t, next, Listen)
}

func TestClosedSynYieldsSynRcvd(t *testing.T) {
	var tcb TCB
	seg := Segment{SeqNum: 500, Flags: FlagSYN}
	next, cmds := DispatchSegment(Closed, &tcb, seg, true, SegmentParams{ISS: 9, InitialWindow: 1024})

	assert.Equal(t, next, SynRcvd)
	assert.Assert(t, containsKind(cmds, CmdAccept))
	assert.Assert(t, containsKind(cmds, CmdSendSynAck))
	assert.Equal(t, tcb.RcvNxt, uint32(501))
	assert.Equal(t, tcb.SndNxt, uint32(10))
}

func TestClosedOtherYieldsRst(t *testing.T) {
	var tcb TCB
	seg := Segment{Flags: FlagACK}
	next, cmds := DispatchSegment(Closed, &tcb, seg, true, SegmentParams{})

	assert.Equal(t, next, Closed)
	assert.Assert(t, containsKind(cmds, CmdSendRst))
}

func TestThreeWayHandshakeActiveSide(t *testing.T) {
	var tcb TCB
	next, _ := DispatchApp(Closed, &tcb, AppConnect, ConnectParams{ISS: 1, InitialWindow: 1024})
	assert.Equal(t, next, SynSent)

	seg := Segment{SeqNum: 777, AckNum: tcb.SndNxt, Flags: FlagSYN | FlagACK, Window: 2048}
	next, cmds := DispatchSegment(next, &tcb, seg, true, SegmentParams{})

	assert.Equal(t, next, Estab)
	assert.Assert(t, containsKind(cmds, CmdConnected))
	assert.Equal(t, tcb.RcvNxt, uint32(778))
	assert.Equal(t, tcb.RcvWnd, uint16(2048))
}

func TestThreeWayHandshakePassiveSide(t *testing.T) {
	var tcb TCB
	next, _ := DispatchSegment(Closed, &tcb, Segment{SeqNum: 50, Flags: FlagSYN}, true, SegmentParams{ISS: 5, InitialWindow: 1024})
	assert.Equal(t, next, SynRcvd)

	next, cmds := DispatchSegment(next, &tcb, Segment{AckNum: tcb.SndNxt, Flags: FlagACK, Window: 4096}, true, SegmentParams{})
	assert.Equal(t, next, Estab)
	assert.Assert(t, containsKind(cmds, CmdConnected))
	assert.Equal(t, tcb.RcvWnd, uint16(4096))
}

func TestEstabAckWithPayloadSendsAck(t *testing.T) {
	tcb := TCB{SndUna: 10, SndNxt: 10, RcvNxt: 100}
	seg := Segment{SeqNum: 100, AckNum: 10, Flags: FlagACK, Payload: []byte("hi")}

	next, cmds := DispatchSegment(Estab, &tcb, seg, true, SegmentParams{})

	assert.Equal(t, next, Estab)
	assert.Equal(t, tcb.RcvNxt, uint32(102))
	assert.Assert(t, containsKind(cmds, CmdSendAck))
	assert.Assert(t, containsKind(cmds, CmdRecvAck))
}

func TestEstabPureAckNoPayloadNoSendAck(t *testing.T) {
	tcb := TCB{SndUna: 10, SndNxt: 10, RcvNxt: 100}
	seg := Segment{SeqNum: 100, AckNum: 10, Flags: FlagACK}

	_, cmds := DispatchSegment(Estab, &tcb, seg, true, SegmentParams{})
	assert.Assert(t, !containsKind(cmds, CmdSendAck))
}

func TestEstabFinMovesToCloseWait(t *testing.T) {
	tcb := TCB{SndUna: 10, SndNxt: 10, RcvNxt: 100}
	seg := Segment{SeqNum: 100, AckNum: 10, Flags: FlagFIN, Window: 500}

	next, cmds := DispatchSegment(Estab, &tcb, seg, true, SegmentParams{})
	assert.Equal(t, next, CloseWait)
	assert.Equal(t, tcb.RcvNxt, uint32(101))
	assert.Assert(t, containsKind(cmds, CmdSendAck))
}

func TestEstabFinWithTrailingPayloadAdvancesByLogicalLen(t *testing.T) {
	tcb := TCB{SndUna: 10, SndNxt: 10, RcvNxt: 100}
	seg := Segment{SeqNum: 100, AckNum: 10, Flags: FlagFIN, Window: 500, Payload: []byte("bye")}

	next, cmds := DispatchSegment(Estab, &tcb, seg, true, SegmentParams{})
	assert.Equal(t, next, CloseWait)
	// 3 payload bytes plus one sequence number for the FIN itself.
	assert.Equal(t, tcb.RcvNxt, uint32(104))
	for _, c := range cmds {
		if c.Kind == CmdAccept {
			assert.DeepEqual(t, c.Payload, []byte("bye"))
		}
	}
}

func TestPassiveCloseSequence(t *testing.T) {
	// Estab -> app Close -> FinWait1
	tcb := TCB{SndUna: 10, SndNxt: 10, RcvNxt: 100}
	next, cmds := DispatchApp(Estab, &tcb, AppClose, ConnectParams{})
	assert.Equal(t, next, FinWait1)
	assert.Assert(t, containsKind(cmds, CmdSendFin))
	assert.Equal(t, tcb.SndNxt, uint32(11))

	// Peer acks the FIN -> FinWait2
	next, cmds = DispatchSegment(next, &tcb, Segment{AckNum: 11, SeqNum: 100, Flags: FlagACK}, true, SegmentParams{})
	assert.Equal(t, next, FinWait2)
	assert.Assert(t, containsKind(cmds, CmdAccept))

	// Peer sends its own FIN -> TimeWait
	next, cmds = DispatchSegment(next, &tcb, Segment{AckNum: 11, SeqNum: 100, Flags: FlagFIN}, true, SegmentParams{})
	assert.Equal(t, next, TimeWait)
	assert.Assert(t, containsKind(cmds, CmdTimeWait))
	assert.Equal(t, tcb.RcvNxt, uint32(101))
}

func TestActiveCloseOtherSide(t *testing.T) {
	// CloseWait -> app Close -> LastAck -> ACK -> Closed
	tcb := TCB{SndUna: 50, SndNxt: 50, RcvNxt: 200}
	next, cmds := DispatchApp(CloseWait, &tcb, AppClose, ConnectParams{})
	assert.Equal(t, next, LastAck)
	assert.Assert(t, containsKind(cmds, CmdSendFin))

	next, cmds = DispatchSegment(next, &tcb, Segment{AckNum: tcb.SndNxt, Flags: FlagACK}, true, SegmentParams{})
	assert.Equal(t, next, Closed)
	assert.Assert(t, containsKind(cmds, CmdClose))
}

func TestTimeWaitDiscardsEverything(t *testing.T) {
	tcb := TCB{RcvNxt: 900}
	next, cmds := DispatchSegment(TimeWait, &tcb, Segment{Flags: FlagSYN | FlagACK}, true, SegmentParams{})
	assert.Equal(t, next, TimeWait)
	assert.DeepEqual(t, cmdKinds(cmds), []CommandKind{CmdDiscard})
	assert.Equal(t, tcb.RcvNxt, uint32(900)) // unchanged
}

func TestChecksumFailureAlwaysDiscardsAndAcks(t *testing.T) {
	tcb := TCB{RcvNxt: 42}
	for _, s := range []State{Closed, Listen, SynSent, SynRcvd, Estab, FinWait1, FinWait2, Closing, TimeWait, CloseWait, LastAck} {
		next, cmds := DispatchSegment(s, &tcb, Segment{Flags: FlagACK, Payload: []byte("x")}, false, SegmentParams{})
		assert.Equal(t, next, s)
		assert.DeepEqual(t, cmdKinds(cmds), []CommandKind{CmdDiscard, CmdSendAck})
	}
}

func TestInvalidAppEventSurfacesError(t *testing.T) {
	var tcb TCB
	next, cmds := DispatchApp(Listen, &tcb, AppConnect, ConnectParams{})
	assert.Equal(t, next, Listen)
	assert.Equal(t, len(cmds), 1)
	assert.Equal(t, cmds[0].Kind, CmdInvalidOp)
	assert.Assert(t, errors.Is(cmds[0].Err, ErrInvalidOperation))
}

func TestCloseInClosedIsNoOpNotError(t *testing.T) {
	var tcb TCB
	next, cmds := DispatchApp(Closed, &tcb, AppClose, ConnectParams{})
	assert.Equal(t, next, Closed)
	assert.Equal(t, len(cmds), 1)
	assert.Equal(t, cmds[0].Kind, CmdDiscard)
}

func TestDuplicateAckAtUnaAcceptedAsNoOp(t *testing.T) {
	tcb := TCB{SndUna: 10, SndNxt: 20, RcvNxt: 100}
	// ack == una (duplicate, not advancing), still within nxt and seq
	// matches rcv.nxt so it's accepted as a (no-op) ack update, not
	// rejected outright -- guard only rejects ack > nxt or seq mismatch.
	next, cmds := DispatchSegment(Estab, &tcb, Segment{SeqNum: 100, AckNum: 10, Flags: FlagACK}, true, SegmentParams{})
	assert.Equal(t, next, Estab)
	assert.Equal(t, tcb.SndUna, uint32(10))
	assert.Assert(t, containsKind(cmds, CmdRecvAck))
}

func TestGuardFailureSeqMismatchDiscards(t *testing.T) {
	tcb := TCB{SndUna: 10, SndNxt: 10, RcvNxt: 100}
	next, cmds := DispatchSegment(Estab, &tcb, Segment{SeqNum: 999, AckNum: 10, Flags: FlagACK}, true, SegmentParams{})
	assert.Equal(t, next, Estab)
	assert.DeepEqual(t, cmdKinds(cmds), []CommandKind{CmdDiscard})
	assert.Equal(t, tcb.RcvNxt, uint32(100)) // unchanged
}

func TestRstResetsToClosedFromEstab(t *testing.T) {
	tcb := TCB{SndUna: 1, SndNxt: 1, RcvNxt: 1}
	next, cmds := DispatchSegment(Estab, &tcb, Segment{Flags: FlagRST}, true, SegmentParams{})
	assert.Equal(t, next, Closed)
	assert.Assert(t, containsKind(cmds, CmdClose))
}
