package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestScheduleRunsOnce(t *testing.T) {
	s := New(2)
	defer s.Stop()

	var n atomic.Int32
	done := make(chan struct{})
	s.Schedule(func() bool {
		n.Add(1)
		close(done)
		return false
	}, 5*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}

	s.WaitIdle()
	assert.Equal(t, n.Load(), int32(1))
}

func TestScheduleRepeatsUntilFalse(t *testing.T) {
	s := New(2)
	defer s.Stop()

	var n atomic.Int32
	s.Schedule(func() bool {
		count := n.Add(1)
		return count < 3
	}, 2*time.Millisecond)

	deadline := time.After(time.Second)
	for n.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("callback only ran %d times", n.Load())
		case <-time.After(time.Millisecond):
		}
	}

	s.WaitIdle()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n.Load(), int32(3))
}

func TestEarlierScheduleRunsFirst(t *testing.T) {
	s := New(1)
	defer s.Stop()

	order := make(chan string, 2)
	s.Schedule(func() bool { order <- "late"; return false }, 40*time.Millisecond)
	s.Schedule(func() bool { order <- "early"; return false }, 5*time.Millisecond)

	first := <-order
	second := <-order
	assert.Equal(t, first, "early")
	assert.Equal(t, second, "late")
}

func TestWaitIdleBlocksUntilQueueDrains(t *testing.T) {
	s := New(2)
	defer s.Stop()

	s.Schedule(func() bool { return false }, 20*time.Millisecond)

	idleDone := make(chan struct{})
	go func() {
		s.WaitIdle()
		close(idleDone)
	}()

	select {
	case <-idleDone:
		t.Fatal("WaitIdle returned before the pending entry ran")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case <-idleDone:
	case <-time.After(time.Second):
		t.Fatal("WaitIdle never unblocked")
	}
}

func TestStopStopsFurtherCallbacks(t *testing.T) {
	s := New(1)

	var n atomic.Int32
	s.Schedule(func() bool {
		n.Add(1)
		return true
	}, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	s.Stop()
	seen := n.Load()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n.Load(), seen)
}
