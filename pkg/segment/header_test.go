package segment

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		SrcPort:    1234,
		DstPort:    80,
		SeqNum:     0xdeadbeef,
		AckNum:     0x0badf00d,
		DataOffset: dataOffsetWords << 4,
		Flags:      FlagSYN | FlagACK,
		Window:     1024,
		Checksum:   0xaaaa,
		Urgent:     0,
	}

	var buf [HeaderSize]byte
	h.Encode(buf[:])
	got := DecodeHeader(buf[:])

	assert.Equal(t, got, h)
}

func TestHeaderFlags(t *testing.T) {
	h := NewHeader()
	h.SetFlag(FlagSYN)
	h.SetFlag(FlagACK)

	assert.Assert(t, h.HasFlag(FlagSYN))
	assert.Assert(t, h.HasFlag(FlagACK))
	assert.Assert(t, !h.HasFlag(FlagFIN))
	assert.Assert(t, h.HasFlag(FlagSYN|FlagACK))
}

func TestNewHeaderDataOffset(t *testing.T) {
	h := NewHeader()
	assert.Equal(t, h.DataOffset, uint8(dataOffsetWords<<4))
}
