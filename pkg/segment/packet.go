package segment

import "sync/atomic"

// Packet is an owned, contiguous, reference-counted byte buffer: a 20-byte
// header immediately followed by its payload. The same underlying buffer
// can be referenced simultaneously by the send path and a retransmission
// timer, so lifetime is managed with a ref count rather than a single
// owner.
type Packet struct {
	buf    []byte
	refs   atomic.Int32
	Pseudo PseudoHeader
}

// NewPacket allocates a packet with the given payload size and a zeroed
// header. The pseudo-header's TCP-length field is filled in later, by
// StampChecksum, from the full buffer length.
func NewPacket(payloadSize int) *Packet {
	p := &Packet{buf: make([]byte, HeaderSize+payloadSize)}
	p.refs.Store(1)
	return p
}

// NewPacketFromBytes allocates a packet sized for len(payload) and copies
// payload into it.
func NewPacketFromBytes(payload []byte) *Packet {
	p := NewPacket(len(payload))
	copy(p.Payload(), payload)
	return p
}

// Header returns the decoded host-endian header.
func (p *Packet) Header() Header {
	return DecodeHeader(p.buf[:HeaderSize])
}

// SetHeader encodes h into the packet's header bytes.
func (p *Packet) SetHeader(h Header) {
	h.Encode(p.buf[:HeaderSize])
}

// Payload returns the mutable payload slice (everything after the header).
func (p *Packet) Payload() []byte {
	return p.buf[HeaderSize:]
}

// Bytes returns the full wire-ready buffer (header + payload). Callers
// must not retain it past the packet's lifetime without taking a Ref.
func (p *Packet) Bytes() []byte {
	return p.buf
}

// Len returns the payload length.
func (p *Packet) Len() int {
	return len(p.buf) - HeaderSize
}

// Ref increments the reference count and returns the same packet, for
// callers (e.g. a retransmission timer) that need to keep the buffer
// alive independently of the original sender.
func (p *Packet) Ref() *Packet {
	p.refs.Add(1)
	return p
}

// Release decrements the reference count. The underlying buffer is left
// for the garbage collector once the count reaches zero; Release exists
// so callers can reason about ownership symmetrically with Ref.
func (p *Packet) Release() {
	p.refs.Add(-1)
}

// StampChecksum zeroes the checksum field, computes the checksum over the
// full buffer against pseudo, and writes the result back into the header.
func (p *Packet) StampChecksum(pseudo PseudoHeader) {
	p.Pseudo = pseudo
	pseudo.Length = uint16(len(p.buf))
	h := p.Header()
	h.Checksum = 0
	h.Encode(p.buf[:HeaderSize])
	h.Checksum = Checksum(pseudo, p.buf)
	h.Encode(p.buf[:HeaderSize])
}
