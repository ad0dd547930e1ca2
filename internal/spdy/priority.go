package spdy

// queuedFrame is one outbound frame waiting in the scheduler. seq is a
// session-wide arrival counter; within a level, frames always stay in seq
// order, which is what preserves FIFO fairness.
type queuedFrame struct {
	seq      uint64
	streamID uint32
	frame    Frame
}

// Scheduler orders outbound frames across all active streams by strict
// priority: Next always serves the lowest-numbered non-empty level, with
// ties broken by arrival order. Strict rather than weighted priority means
// bulk traffic parked at the lowest level can never starve urgent frames.
//
// The Scheduler is not safe for concurrent use; like the rest of the
// engine, it expects the host to serialize access per session.
type Scheduler struct {
	levels  [NumPriorityLevels][]queuedFrame
	nextSeq uint64
	queued  int
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Submit queues a frame for the given stream at the given priority level.
// Priorities below PriorityMax or above PriorityMin are clamped.
func (s *Scheduler) Submit(streamID uint32, f Frame, priority uint8) {
	if priority > PriorityMin {
		priority = PriorityMin
	}
	s.levels[priority] = append(s.levels[priority], queuedFrame{
		seq:      s.nextSeq,
		streamID: streamID,
		frame:    f,
	})
	s.nextSeq++
	s.queued++
}

// Next removes and returns the frame that should be sent next, or ok=false
// when nothing is queued.
func (s *Scheduler) Next() (Frame, bool) {
	for level := range s.levels {
		q := s.levels[level]
		if len(q) == 0 {
			continue
		}
		item := q[0]
		copy(q, q[1:])
		s.levels[level] = q[:len(q)-1]
		s.queued--
		return item.frame, true
	}
	return nil, false
}

// Len returns the number of queued frames across all levels.
func (s *Scheduler) Len() int {
	return s.queued
}

// Reprioritize moves every queued frame belonging to streamID to the new
// priority level. Moved frames keep their arrival order relative to frames
// already waiting at the target level, so raising a stream's priority never
// reorders frames within a level. Used by hosts to resolve priority
// inversion while frames are still queued.
func (s *Scheduler) Reprioritize(streamID uint32, priority uint8) {
	if priority > PriorityMin {
		priority = PriorityMin
	}
	var moved []queuedFrame
	for level := range s.levels {
		if uint8(level) == priority {
			continue
		}
		q := s.levels[level]
		kept := q[:0]
		for _, item := range q {
			if item.streamID == streamID {
				moved = append(moved, item)
			} else {
				kept = append(kept, item)
			}
		}
		s.levels[level] = kept
	}
	if len(moved) == 0 {
		return
	}
	s.levels[priority] = mergeBySeq(s.levels[priority], moved)
}

// DiscardStream drops every queued frame for streamID, returning how many
// were removed. Called when a stream is torn down before its output drains.
func (s *Scheduler) DiscardStream(streamID uint32) int {
	dropped := 0
	for level := range s.levels {
		q := s.levels[level]
		kept := q[:0]
		for _, item := range q {
			if item.streamID == streamID {
				dropped++
			} else {
				kept = append(kept, item)
			}
		}
		s.levels[level] = kept
	}
	s.queued -= dropped
	return dropped
}

// Reset drops all queued frames.
func (s *Scheduler) Reset() {
	for level := range s.levels {
		s.levels[level] = nil
	}
	s.queued = 0
}

// mergeBySeq merges two seq-ordered queues into one seq-ordered queue.
func mergeBySeq(a, b []queuedFrame) []queuedFrame {
	out := make([]queuedFrame, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].seq < b[j].seq {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
