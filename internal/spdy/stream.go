package spdy

import "fmt"

// StreamState is the lifecycle state of one stream.
type StreamState int

const (
	// StreamIdle: the id is known but no frame has been processed yet.
	StreamIdle StreamState = iota
	// StreamOpen: both directions may still carry frames.
	StreamOpen
	// StreamHalfClosedLocal: we sent FIN; the peer may still send.
	StreamHalfClosedLocal
	// StreamHalfClosedRemote: the peer sent FIN; we may still send.
	StreamHalfClosedRemote
	// StreamClosed: both directions finished.
	StreamClosed
	// StreamErrored: terminal error state, reachable from any non-terminal
	// state via a stream-level protocol error or an RST_STREAM.
	StreamErrored
)

// String returns the string representation of the StreamState.
func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "Idle"
	case StreamOpen:
		return "Open"
	case StreamHalfClosedLocal:
		return "HalfClosed(local)"
	case StreamHalfClosedRemote:
		return "HalfClosed(remote)"
	case StreamClosed:
		return "Closed"
	case StreamErrored:
		return "Errored"
	default:
		return fmt.Sprintf("UnknownStreamState(%d)", int(s))
	}
}

// terminal reports whether no further transitions are possible.
func (s StreamState) terminal() bool {
	return s == StreamClosed || s == StreamErrored
}

// noDeclaredLength marks a stream that carries no content-length.
const noDeclaredLength int64 = -1

// Stream tracks one logical exchange multiplexed over the session. All
// mutation happens on the session's single processing path; a Stream is
// identified by its id and owned by exactly one Conn, which stores it in an
// id-keyed table (no back-reference, so no ownership cycle).
type Stream struct {
	id       uint32
	state    StreamState
	priority uint8

	// headers is the stream's canonical header set: the SYN block plus any
	// later blocks that passed the duplicate-name rule.
	headers HeaderBlock
	// seenNames records every header name from previous blocks; a later
	// block reusing any of them is a stream-level protocol error.
	seenNames map[string]struct{}

	// declaredLen is the content-length announced in the header set, or
	// noDeclaredLength. receivedLen accumulates DATA payload lengths, and
	// dataLens keeps the ordered per-frame lengths for diagnostics.
	declaredLen int64
	receivedLen int64
	dataLens    []uint32
	// sawData flips once the first DATA frame is processed; after that,
	// incoming HEADERS are subject to the trailing-header policy.
	sawData bool
	// gotReply flips when the first SYN_REPLY arrives; a second one is a
	// stream-level protocol error.
	gotReply bool
}

func newStream(id uint32, priority uint8) *Stream {
	return &Stream{
		id:          id,
		state:       StreamIdle,
		priority:    priority,
		seenNames:   make(map[string]struct{}),
		declaredLen: noDeclaredLength,
	}
}

// ID returns the stream identifier.
func (s *Stream) ID() uint32 { return s.id }

// State returns the current lifecycle state.
func (s *Stream) State() StreamState { return s.state }

// Priority returns the stream's scheduling priority.
func (s *Stream) Priority() uint8 { return s.priority }

// Headers returns the stream's canonical header set.
func (s *Stream) Headers() HeaderBlock { return s.headers }

// open moves Idle to Open. First frame on the stream.
func (s *Stream) open() {
	if s.state == StreamIdle {
		s.state = StreamOpen
	}
}

// recordHeaders merges a header block into the canonical set. Any name that
// already appeared in an earlier block on this stream is a stream-level
// protocol error; the caller then moves the stream to Errored. The block is
// merged atomically: on error nothing is recorded.
func (s *Stream) recordHeaders(block HeaderBlock) *StreamError {
	for _, f := range block {
		if _, dup := s.seenNames[f.Name]; dup {
			return NewStreamError(s.id, StatusProtocolError,
				fmt.Sprintf("header %q repeated across header blocks", f.Name))
		}
	}
	for _, f := range block {
		s.seenNames[f.Name] = struct{}{}
		s.headers = append(s.headers, f)
	}
	if n, ok := block.ContentLength(); ok && s.declaredLen == noDeclaredLength {
		s.declaredLen = n
	}
	return nil
}

// recordData accounts for one DATA frame's payload length.
func (s *Stream) recordData(n uint32) {
	s.sawData = true
	s.dataLens = append(s.dataLens, n)
	s.receivedLen += int64(n)
}

// closeRemote marks the peer's direction finished and reconciles the
// content-length contract. A mismatch between the declared length and the
// sum of received payload lengths means the peer's framing cannot be
// trusted, so the failure is session-fatal (Bad-Request-equivalent), not
// stream-scoped.
func (s *Stream) closeRemote() *SessionError {
	if s.declaredLen != noDeclaredLength && s.receivedLen != s.declaredLen {
		return NewSessionError(KindContentLengthMismatch, GoAwayProtocolError,
			fmt.Sprintf("stream %d declared content-length %d but received %d bytes over %d DATA frames",
				s.id, s.declaredLen, s.receivedLen, len(s.dataLens)))
	}
	switch s.state {
	case StreamIdle, StreamOpen:
		s.state = StreamHalfClosedRemote
	case StreamHalfClosedLocal:
		s.state = StreamClosed
	}
	return nil
}

// closeLocal marks our direction finished.
func (s *Stream) closeLocal() {
	switch s.state {
	case StreamIdle, StreamOpen:
		s.state = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.state = StreamClosed
	}
}

// setErrored forces the terminal error state.
func (s *Stream) setErrored() {
	s.state = StreamErrored
}

// canReceiveData reports whether a DATA frame from the peer is acceptable
// in the current state.
func (s *Stream) canReceiveData() bool {
	return s.state == StreamOpen || s.state == StreamHalfClosedLocal || s.state == StreamIdle
}

// canSend reports whether we may still emit frames on this stream.
func (s *Stream) canSend() bool {
	return s.state == StreamIdle || s.state == StreamOpen || s.state == StreamHalfClosedRemote
}
