package spdy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pingWithID(id uint32) *PingFrame {
	return &PingFrame{FrameHeader: FrameHeader{Type: FramePing}, PingID: id}
}

func drainIDs(s *Scheduler) []uint32 {
	var out []uint32
	for {
		f, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, f.(*PingFrame).PingID)
	}
}

// Frames submitted at priorities 2, 1, 2, 0 must come out in priority
// order 0, 1, 2, 2 with the two level-2 frames in arrival order.
func TestSchedulerStrictPriorityOrder(t *testing.T) {
	s := NewScheduler()
	s.Submit(1, pingWithID(10), 2)
	s.Submit(2, pingWithID(11), 1)
	s.Submit(3, pingWithID(12), 2)
	s.Submit(4, pingWithID(13), 0)

	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []uint32{13, 11, 10, 12}, drainIDs(s))
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerFIFOWithinLevel(t *testing.T) {
	s := NewScheduler()
	for id := uint32(1); id <= 5; id++ {
		s.Submit(id, pingWithID(id), 4)
	}
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, drainIDs(s))
}

func TestSchedulerNextEmpty(t *testing.T) {
	s := NewScheduler()
	f, ok := s.Next()
	assert.Nil(t, f)
	assert.False(t, ok)
}

func TestSchedulerClampsPriority(t *testing.T) {
	s := NewScheduler()
	s.Submit(1, pingWithID(1), 200)
	s.Submit(2, pingWithID(2), PriorityMin)
	// Both land at the lowest level, arrival order preserved.
	assert.Equal(t, []uint32{1, 2}, drainIDs(s))
}

// Moving a stream to a new level must keep the moved frames' arrival order
// relative to frames already waiting there.
func TestSchedulerReprioritizeMergesByArrival(t *testing.T) {
	s := NewScheduler()
	s.Submit(1, pingWithID(1), 3) // seq 0
	s.Submit(2, pingWithID(2), 7) // seq 1
	s.Submit(1, pingWithID(3), 3) // seq 2
	s.Submit(2, pingWithID(4), 7) // seq 3

	s.Reprioritize(1, 7)
	// Level 7 now holds seqs 0,1,2,3 interleaved by arrival.
	assert.Equal(t, []uint32{1, 2, 3, 4}, drainIDs(s))
}

func TestSchedulerReprioritizeRaises(t *testing.T) {
	s := NewScheduler()
	s.Submit(1, pingWithID(1), 7)
	s.Submit(2, pingWithID(2), 7)
	s.Submit(1, pingWithID(3), 7)

	s.Reprioritize(1, 0)
	// Stream 1's frames jump the queue but stay in order among themselves.
	assert.Equal(t, []uint32{1, 3, 2}, drainIDs(s))
}

func TestSchedulerReprioritizeUnknownStream(t *testing.T) {
	s := NewScheduler()
	s.Submit(1, pingWithID(1), 3)
	s.Reprioritize(99, 0)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []uint32{1}, drainIDs(s))
}

func TestSchedulerDiscardStream(t *testing.T) {
	s := NewScheduler()
	s.Submit(1, pingWithID(1), 2)
	s.Submit(2, pingWithID(2), 2)
	s.Submit(1, pingWithID(3), 5)

	dropped := s.DiscardStream(1)
	assert.Equal(t, 2, dropped)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, []uint32{2}, drainIDs(s))
}

func TestSchedulerReset(t *testing.T) {
	s := NewScheduler()
	s.Submit(1, pingWithID(1), 0)
	s.Submit(2, pingWithID(2), 7)
	s.Reset()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Next()
	assert.False(t, ok)
}
