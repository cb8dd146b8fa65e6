package sendbuf

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestPushAckEmpties(t *testing.T) {
	var b Buffer
	b.InitAck(100)

	b.Push([]byte("hello"))
	assert.Assert(t, !b.Empty())

	b.Ack(b.LastAck() + uint32(len("hello")))
	assert.Assert(t, b.Empty())
	assert.Equal(t, b.Size(), 0)
}

func TestCarveAdvancesLastGetNotAck(t *testing.T) {
	var b Buffer
	b.InitAck(0)
	b.Push([]byte("abcdefghij"))

	p, ok := b.CarvePacket(4)
	assert.Assert(t, ok)
	assert.DeepEqual(t, p, []byte("abcd"))
	assert.Assert(t, !b.Empty())
	assert.Equal(t, b.Size(), 10)

	p2, ok := b.CarvePacket(100)
	assert.Assert(t, ok)
	assert.DeepEqual(t, p2, []byte("efghij"))
	assert.Assert(t, b.Empty())
}

func TestCarveZeroWindowYieldsNothing(t *testing.T) {
	var b Buffer
	b.InitAck(0)
	b.Push([]byte("data"))

	_, ok := b.CarvePacket(0)
	assert.Assert(t, !ok)
}

func TestAckSlidesLastGetDown(t *testing.T) {
	var b Buffer
	b.InitAck(0)
	b.Push([]byte("abcdefghij"))

	// Carve everything, then ack only part of it: last_get must slide
	// down by the acked amount, so the already-carved, unacked remainder
	// is not carved again and the next carve starts at newly pushed bytes.
	_, _ = b.CarvePacket(10)
	assert.Assert(t, b.Empty())

	b.Ack(4)
	assert.Equal(t, b.Size(), 6)
	assert.Assert(t, b.Empty()) // the 6 unacked bytes were already carved

	b.Push([]byte("klm"))
	p, ok := b.CarvePacket(100)
	assert.Assert(t, ok)
	assert.DeepEqual(t, p, []byte("klm"))
}

func TestAckBeyondQueuedResets(t *testing.T) {
	var b Buffer
	b.InitAck(0)
	b.Push([]byte("ab"))

	b.Ack(100)
	assert.Equal(t, b.Size(), 0)
	assert.Equal(t, b.LastAck(), uint32(100))
	assert.Assert(t, b.Empty())
}

func TestDuplicateAckAtOrBeforeUnaDiscarded(t *testing.T) {
	var b Buffer
	b.InitAck(10)
	b.Push([]byte("xyz"))

	// A regressing ack (newAck < lastAck) must not be applied.
	b.Ack(5)
	assert.Equal(t, b.LastAck(), uint32(10))
	assert.Equal(t, b.Size(), 3)
}

func TestRegressingAckNeverWipesBuffer(t *testing.T) {
	var b Buffer
	// newAck - lastAck underflows to a huge uint32 here; Ack must still
	// recognize it as regressing rather than treating it as a
	// far-in-the-future ack that empties the buffer.
	b.InitAck(1000)
	b.Push([]byte("hello world"))

	b.Ack(10)
	assert.Equal(t, b.LastAck(), uint32(1000))
	assert.Equal(t, b.Size(), len("hello world"))
}
