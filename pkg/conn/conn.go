// Package conn implements the Connection component: the transmission
// control block, sending and receive buffers, and the blocking
// application-facing API (Listen/Connect/Accept/Send/Recv/Close) bound
// together under a single mutex with condition variables for its
// suspension points.
package conn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-utcp/pkg/segment"
	"github.com/simeonmiteff/go-utcp/pkg/sendbuf"
	"github.com/simeonmiteff/go-utcp/pkg/state"
)

// FourTuple identifies a connection and is used directly as a map key.
// Equality compares every field, so a listening socket's peer-less
// identity (host_ip, host_port, 0, 0) and a connected one on the same
// host port are distinct keys.
type FourTuple struct {
	HostIP   uint32
	HostPort uint16
	PeerIP   uint32
	PeerPort uint16
}

func (t FourTuple) String() string {
	return fmt.Sprintf("%08x:%d<->%08x:%d", t.HostIP, t.HostPort, t.PeerIP, t.PeerPort)
}

// IsListener reports whether t is a listening identity (no peer bound).
func (t FourTuple) IsListener() bool {
	return t.PeerIP == 0 && t.PeerPort == 0
}

// Sentinel errors surfaced to callers on API misuse.
var (
	ErrInvalidOperation = state.ErrInvalidOperation
	ErrPortExhausted    = errors.New("no ephemeral port available")
	ErrClosed           = errors.New("connection closed")
)

// Sender is the manager back-reference a Connection uses to ask for
// outbound work: flush newly queued send data, and arm the TIME-WAIT
// expiry timer. It is implemented by pkg/manager.Manager; Connection only
// depends on this narrow interface to keep the two packages decoupled
// and independently testable.
type Sender interface {
	NotifyWaitSend(c *Connection)
	ScheduleTimeWait(c *Connection)
}

// Connection is one transmission control block plus its buffers and
// waiters. The zero value is not usable; construct with New.
type Connection struct {
	ID xid.ID

	mu    sync.Mutex
	condC *sync.Cond // Connect() waiter: broadcast on Estab
	condA *sync.Cond // Accept() waiter: broadcast on new_conn push
	condR *sync.Cond // Recv() waiter: broadcast on receive buffer growth

	Tuple FourTuple
	State state.State
	TCB   state.TCB

	Send sendbuf.Buffer
	recv []byte

	initialWindow uint16
	mgr           Sender
	log           *logrus.Entry

	pending []*Connection // new_conn: children awaiting Accept, Listen only
	closed  bool          // app handle dropped
}

// New constructs an unbound, Closed connection. mgr may be nil, in which
// case manager notifications are skipped; a nil log falls back to the
// standard logger.
func New(mgr Sender, log *logrus.Entry, initialWindow uint16) *Connection {
	c := &Connection{
		ID:            xid.New(),
		mgr:           mgr,
		initialWindow: initialWindow,
	}
	c.condC = sync.NewCond(&c.mu)
	c.condA = sync.NewCond(&c.mu)
	c.condR = sync.NewCond(&c.mu)
	if log != nil {
		c.log = log.WithField("xid", c.ID.String())
	} else {
		c.log = logrus.NewEntry(logrus.StandardLogger()).WithField("xid", c.ID.String())
	}
	return c
}

// ------------------------------------------------------------------
// App-facing operations. All lock the connection mutex.
// ------------------------------------------------------------------

// Listen fires the Listen app event. Requires Closed.
func (c *Connection) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, cmds := state.DispatchApp(c.State, &c.TCB, state.AppListen, state.ConnectParams{})
	c.State = next
	if err := c.firstErr(cmds); err != nil {
		return err
	}
	c.log.WithField("state", next).Info("listening")
	return nil
}

// Connect fires the Connect app event and returns the resulting SYN for
// transmission. It does not block: the caller (the manager) must send
// the returned packets before calling WaitEstab, or the peer can never
// answer the SYN it hasn't received yet.
func (c *Connection) Connect(iss uint32) ([]*segment.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, cmds := state.DispatchApp(c.State, &c.TCB, state.AppConnect,
		state.ConnectParams{ISS: iss, InitialWindow: c.initialWindow})
	c.State = next
	if err := c.firstErr(cmds); err != nil {
		return nil, err
	}
	return c.runReactions(cmds), nil
}

// WaitEstab blocks until the handshake completes (state becomes Estab)
// or the connection is reset to Closed.
func (c *Connection) WaitEstab() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.State != state.Estab && c.State != state.Closed {
		c.condC.Wait()
	}
	if c.State == state.Closed {
		return fmt.Errorf("connect: connection reset: %w", ErrClosed)
	}
	return nil
}

// Accept blocks until a child connection is queued and returns it,
// removing it from the pending queue. Requires Listen.
func (c *Connection) Accept() (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State != state.Listen {
		return nil, fmt.Errorf("%w: Accept from %s", ErrInvalidOperation, c.State)
	}
	for len(c.pending) == 0 {
		c.condA.Wait()
	}
	child := c.pending[0]
	c.pending = c.pending[1:]
	return child, nil
}

// SendBytes appends to the sending buffer and notifies the manager that
// this connection has data ready for the next flush.
func (c *Connection) SendBytes(p []byte) {
	c.mu.Lock()
	c.Send.Push(p)
	c.mu.Unlock()

	if c.mgr != nil {
		c.mgr.NotifyWaitSend(c)
	}
}

// Recv blocks until at least n bytes are in the receive buffer, then
// transfers exactly n bytes into buf and returns n. Never returns a
// short read: this engine does not support partial recv.
func (c *Connection) Recv(buf []byte, n int) (int, error) {
	if len(buf) < n {
		return 0, fmt.Errorf("recv: buffer shorter than requested n=%d", n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.recv) < n {
		c.condR.Wait()
	}
	copy(buf, c.recv[:n])
	c.recv = c.recv[n:]
	return n, nil
}

// Close fires the Close app event. It does not block on peer
// acknowledgment of the FIN; draining to Closed happens asynchronously
// via the state machine and the TIME-WAIT timer. Returns any FIN packet
// that needs transmission.
func (c *Connection) Close() ([]*segment.Packet, error) {
	c.mu.Lock()
	next, cmds := state.DispatchApp(c.State, &c.TCB, state.AppClose, state.ConnectParams{})
	c.State = next
	c.closed = true
	pkts := c.runReactions(cmds)
	c.mu.Unlock()

	if err := c.firstErr(cmds); err != nil {
		return nil, err
	}
	return pkts, nil
}

// ------------------------------------------------------------------
// Manager-facing operations.
// ------------------------------------------------------------------

// RecvPacket dispatches an inbound segment to the state machine under the
// connection lock, runs the resulting reactions, and wakes any blocked
// waiters the reactions satisfy. It returns any packets that now need
// transmission and whether the segment asked for a new child connection
// to be materialized (Listen + inbound SYN).
func (c *Connection) RecvPacket(hdr segment.Header, payload []byte, checksumOK bool, childISS uint32) (pkts []*segment.Packet, wantsChild bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seg := state.Segment{
		SeqNum:  hdr.SeqNum,
		AckNum:  hdr.AckNum,
		Flags:   hdr.Flags,
		Window:  hdr.Window,
		Payload: payload,
	}

	next, cmds := state.DispatchSegment(c.State, &c.TCB, seg, checksumOK,
		state.SegmentParams{ISS: childISS, InitialWindow: c.initialWindow})
	c.State = next
	pkts = c.runReactions(cmds)
	for _, cmd := range cmds {
		if cmd.Kind == state.CmdNewConnection {
			wantsChild = true
		}
	}
	return pkts, wantsChild
}

// GetPacketForSend carves as many bytes as maxLen (the effective window)
// allows off the sending buffer, advances snd.nxt by the payload length,
// stamps a fresh ACK header starting at the old snd.nxt, and returns the packet ready for the manager to checksum and transmit.
// ok is false if there is nothing to send.
func (c *Connection) GetPacketForSend(maxLen int) (pkt *segment.Packet, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, has := c.Send.CarvePacket(maxLen)
	if !has {
		return nil, false
	}

	startSeq := c.TCB.SndNxt
	c.TCB.SndNxt += uint32(len(payload))

	p := segment.NewPacketFromBytes(payload)
	h := segment.NewHeader()
	h.SrcPort = c.Tuple.HostPort
	h.DstPort = c.Tuple.PeerPort
	h.SeqNum = startSeq
	h.AckNum = c.TCB.RcvNxt
	h.SetFlag(segment.FlagACK)
	h.Window = c.TCB.SndWnd
	p.SetHeader(h)
	return p, true
}

// StillPending is the retransmission predicate: true iff the connection
// is still live and the packet's sequence interval has not yet been
// fully acknowledged. The manager attaches this, bound to seqEnd, at
// emit time.
func (c *Connection) StillPending(seqEnd uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == state.Closed {
		return false
	}
	return seqEnd > c.TCB.SndUna
}

// Reset wipes the TCB, clears both buffers, and moves the state to
// Closed, used when the manager recycles a connection after TIME-WAIT.
func (c *Connection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.TCB.Reset()
	c.Send = sendbuf.Buffer{}
	c.recv = nil
	c.State = state.Closed
}

// SendBufferEmpty reports whether every queued byte has already been
// carved into at least one outbound packet, the signal the manager uses
// to retire this connection from its wait_send set.
func (c *Connection) SendBufferEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Send.Empty()
}

// EffectiveWindow is the peer-advertised window this connection must
// respect when carving outbound packets.
func (c *Connection) EffectiveWindow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.TCB.RcvWnd)
}

// CurrentState returns the connection's state under lock, for manager
// bookkeeping decisions (e.g. whether to move a connection to
// unreferenced).
func (c *Connection) CurrentState() state.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}

// AppHandleDropped reports whether Close has already been called.
func (c *Connection) AppHandleDropped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ------------------------------------------------------------------
// Internal reaction interpreter.
// ------------------------------------------------------------------

// runReactions interprets the tagged command list produced by a
// transition, mutating the receive buffer and sending buffer, waking
// blocked waiters, and building any control packets (SYN/SYN-ACK/ACK/
// FIN/RST) the reaction calls for. It is called with the connection lock
// held, so packet headers reflect exactly the TCB values the transition
// just committed. Control packets are returned rather than transmitted
// here: transmission needs the manager's pseudo-header/datagram sink and
// must not run while the connection lock is held.
func (c *Connection) runReactions(cmds []state.Command) []*segment.Packet {
	var pkts []*segment.Packet
	wokeRecv := false

	for _, cmd := range cmds {
		switch cmd.Kind {
		case state.CmdAccept:
			if len(cmd.Payload) > 0 {
				c.recv = append(c.recv, cmd.Payload...)
				wokeRecv = true
			}
		case state.CmdRecvAck:
			c.Send.Ack(c.TCB.SndUna)
		case state.CmdConnected:
			c.Send.InitAck(c.TCB.SndUna)
			c.condC.Broadcast()
		case state.CmdNewConnection:
			// Handled by the manager, which owns construction of the
			// child Connection for a SYN addressed to a listener; the
			// listener itself adopts no new sequence-space state.
		case state.CmdTimeWait:
			if c.mgr != nil {
				c.mgr.ScheduleTimeWait(c)
			}
		case state.CmdClose:
			c.condC.Broadcast()
			c.condR.Broadcast()
		case state.CmdSendSyn:
			pkts = append(pkts, c.buildControlPacket(segment.FlagSYN, c.TCB.SndUna))
		case state.CmdSendSynAck:
			pkts = append(pkts, c.buildControlPacket(segment.FlagSYN|segment.FlagACK, c.TCB.SndUna))
		case state.CmdSendAck:
			pkts = append(pkts, c.buildControlPacket(segment.FlagACK, c.TCB.SndNxt))
		case state.CmdSendFin:
			pkts = append(pkts, c.buildControlPacket(segment.FlagFIN|segment.FlagACK, c.TCB.SndNxt-1))
		case state.CmdSendRst:
			pkts = append(pkts, c.buildControlPacket(segment.FlagRST, c.TCB.SndNxt))
		}
	}
	if wokeRecv {
		c.condR.Broadcast()
	}
	return pkts
}

// buildControlPacket stamps a zero-payload header carrying flags and seq,
// using the connection's current four-tuple and window. The caller holds
// the connection lock.
func (c *Connection) buildControlPacket(flags uint8, seq uint32) *segment.Packet {
	p := segment.NewPacket(0)
	h := segment.NewHeader()
	h.SrcPort = c.Tuple.HostPort
	h.DstPort = c.Tuple.PeerPort
	h.SeqNum = seq
	h.AckNum = c.TCB.RcvNxt
	h.SetFlag(flags)
	h.Window = c.TCB.SndWnd
	p.SetHeader(h)
	return p
}

// PublishChild appends child to the pending accept queue and wakes any
// blocked Accept call. Called by the manager with the parent listener's
// connection already identified; takes the parent's own lock.
func (c *Connection) PublishChild(child *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, child)
	c.condA.Broadcast()
}

func (c *Connection) firstErr(cmds []state.Command) error {
	for _, cmd := range cmds {
		if cmd.Kind == state.CmdInvalidOp {
			return cmd.Err
		}
	}
	return nil
}
