package segment

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestChecksumRoundTrip(t *testing.T) {
	pseudo := PseudoHeader{SrcIP: 1, DstIP: 2, Protocol: ProtocolNumber}

	p := NewPacketFromBytes([]byte("hello"))
	h := NewHeader()
	h.SrcPort = 10
	h.DstPort = 20
	h.SeqNum = 1
	h.AckNum = 1
	h.Window = 1024
	p.SetHeader(h)

	p.StampChecksum(pseudo)

	pseudo.Length = uint16(len(p.Bytes()))
	assert.Assert(t, VerifyChecksum(pseudo, p.Bytes()))
}

func TestChecksumDetectsCorruption(t *testing.T) {
	pseudo := PseudoHeader{SrcIP: 1, DstIP: 2, Protocol: ProtocolNumber}

	p := NewPacketFromBytes([]byte("hello"))
	p.StampChecksum(pseudo)
	pseudo.Length = uint16(len(p.Bytes()))

	p.Bytes()[HeaderSize] ^= 0xff // corrupt one payload byte

	assert.Assert(t, !VerifyChecksum(pseudo, p.Bytes()))
}

func TestPacketRefCounting(t *testing.T) {
	p := NewPacketFromBytes([]byte("x"))
	p2 := p.Ref()
	assert.Assert(t, p == p2)
	p.Release()
	p2.Release()
}
