// Package sendbuf implements the per-connection outbound byte queue: a
// deque of unacknowledged-or-unsent bytes plus the last_ack/last_get
// cursor pair used to carve packets under a peer-advertised window and
// reclaim bytes as ACKs arrive.
//
// A Buffer is not safe for concurrent use; callers (pkg/conn) serialize
// access under the owning connection's mutex.
package sendbuf

// Buffer is the sending-side byte queue described by the sending-buffer
// component of the design: a byte deque plus last_ack (the sequence
// number of the oldest unacknowledged byte) and last_get (the count of
// bytes already carved into outbound packets since last_ack).
type Buffer struct {
	data    []byte
	lastAck uint32
	lastGet int
}

// InitAck is called once at connection establishment with the peer's
// initial acknowledgment (ISS+1). It sets last_ack and resets last_get.
func (b *Buffer) InitAck(ack uint32) {
	b.lastAck = ack
	b.lastGet = 0
}

// LastAck returns the current last_ack cursor, equal to snd.una by
// invariant.
func (b *Buffer) LastAck() uint32 {
	return b.lastAck
}

// Size returns the total number of bytes still held in the buffer,
// acknowledged or not.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Push appends bytes to the deque. It does not change either cursor.
func (b *Buffer) Push(p []byte) {
	b.data = append(b.data, p...)
}

// Ack advances the buffer state in response to a peer ACK for newAck.
// newAck must be >= LastAck(); callers are expected to have already
// guarded for this (the state machine never calls Ack on a regressing
// ACK). If newAck acknowledges more than is currently queued, the buffer
// resets to empty rather than going negative — this can only happen if
// the connection was reset and resynchronized underneath the buffer.
func (b *Buffer) Ack(newAck uint32) {
	if int32(newAck-b.lastAck) < 0 {
		return
	}
	advance := int(newAck - b.lastAck)
	if advance <= len(b.data) {
		b.data = b.data[advance:]
		b.lastGet -= advance
		if b.lastGet < 0 {
			b.lastGet = 0
		}
	} else {
		b.data = b.data[:0]
		b.lastGet = 0
	}
	b.lastAck = newAck
}

// CarvePacket copies up to maxLen bytes starting at last_get into a new
// slice and advances last_get by that amount. It returns ok=false (and a
// nil slice) if the buffer is empty or maxLen is zero, matching the
// boundary rule that a zero peer window yields no packet.
func (b *Buffer) CarvePacket(maxLen int) (payload []byte, ok bool) {
	if maxLen <= 0 || b.Empty() {
		return nil, false
	}
	avail := len(b.data) - b.lastGet
	n := maxLen
	if n > avail {
		n = avail
	}
	if n == 0 {
		return nil, false
	}
	start := b.lastGet
	b.lastGet += n
	out := make([]byte, n)
	copy(out, b.data[start:start+n])
	return out, true
}

// Empty reports whether every byte currently queued has already been
// carved into at least one outbound packet (it may still be unacked).
func (b *Buffer) Empty() bool {
	return b.lastGet == len(b.data)
}
