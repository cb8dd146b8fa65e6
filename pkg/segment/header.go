// Package segment implements the 20-byte wire header, the pseudo-header
// checksum, and the owned packet buffer described in the protocol's wire
// format.
package segment

import "encoding/binary"

// HeaderSize is the fixed, option-free TCP header length in bytes.
const HeaderSize = 20

// Flag bits occupy the low six bits of the 16-bit field that follows the
// data-offset nibble, in the order URG, ACK, PSH, RST, SYN, FIN.
const (
	FlagFIN uint8 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// dataOffsetWords is the data-offset value for a header with no options,
// expressed in 32-bit words (5 words == 20 bytes).
const dataOffsetWords = 5

// Header is the host-endian, in-memory representation of a 20-byte TCP
// header. Field order matches the wire layout; Encode and DecodeHeader
// convert each field to and from network byte order.
type Header struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8 // upper 4 bits used, value is dataOffsetWords
	Flags      uint8
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// NewHeader returns a zero-valued header with the data offset already set
// for a fixed, option-free 20-byte header.
func NewHeader() Header {
	return Header{DataOffset: dataOffsetWords << 4}
}

// HasFlag reports whether all bits in mask are set.
func (h Header) HasFlag(mask uint8) bool {
	return h.Flags&mask == mask
}

// SetFlag ORs mask into the flags field.
func (h *Header) SetFlag(mask uint8) {
	h.Flags |= mask
}

// Encode writes h to b in network byte order. b must be at least
// HeaderSize bytes.
func (h Header) Encode(b []byte) {
	_ = b[HeaderSize-1]
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.SeqNum)
	binary.BigEndian.PutUint32(b[8:12], h.AckNum)
	b[12] = h.DataOffset
	b[13] = h.Flags
	binary.BigEndian.PutUint16(b[14:16], h.Window)
	binary.BigEndian.PutUint16(b[16:18], h.Checksum)
	binary.BigEndian.PutUint16(b[18:20], h.Urgent)
}

// DecodeHeader reads a network-byte-order header out of b. b must be at
// least HeaderSize bytes.
func DecodeHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		SrcPort:    binary.BigEndian.Uint16(b[0:2]),
		DstPort:    binary.BigEndian.Uint16(b[2:4]),
		SeqNum:     binary.BigEndian.Uint32(b[4:8]),
		AckNum:     binary.BigEndian.Uint32(b[8:12]),
		DataOffset: b[12],
		Flags:      b[13],
		Window:     binary.BigEndian.Uint16(b[14:16]),
		Checksum:   binary.BigEndian.Uint16(b[16:18]),
		Urgent:     binary.BigEndian.Uint16(b[18:20]),
	}
}

// PseudoHeader is the 12-byte pseudo-header used only to compute the
// checksum; it is never transmitted.
type PseudoHeader struct {
	SrcIP    uint32
	DstIP    uint32
	Protocol uint8
	Length   uint16
}

// ProtocolNumber is the IANA protocol number carried in the pseudo-header,
// by convention the same value TCP uses.
const ProtocolNumber uint8 = 6

// Encode writes the 12-byte pseudo-header to b in network byte order.
func (p PseudoHeader) Encode(b []byte) {
	_ = b[11]
	binary.BigEndian.PutUint32(b[0:4], p.SrcIP)
	binary.BigEndian.PutUint32(b[4:8], p.DstIP)
	b[8] = 0
	b[9] = p.Protocol
	binary.BigEndian.PutUint16(b[10:12], p.Length)
}
