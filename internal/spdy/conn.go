// Package spdy implements the protocol engine for a SPDY-style framed,
// multiplexed application protocol: frame codec, compressed header blocks,
// per-stream state machines, strict-priority output scheduling and
// session-wide error handling.
//
// The engine is transport-agnostic. It consumes raw bytes through
// (*Conn).Feed and produces raw bytes through (*Conn).Drain; sockets, TLS
// and blocking I/O belong to the host. One Conn is a single-threaded
// cooperative state machine: frame ordering on a transport session is
// inherently sequential, so Feed and Drain never block and take no locks.
// Distinct Conns share no mutable state and may be driven in parallel.
package spdy

import (
	"errors"
	"fmt"

	"example.com/spdyengine/internal/config"
	"example.com/spdyengine/internal/logger"
)

// ErrSessionClosed is returned by operations on a Conn after Close.
var ErrSessionClosed = errors.New("spdy: session closed")

// Conn owns every stream of one transport session. It demultiplexes
// incoming frames to stream state machines and multiplexes outgoing frames
// through the priority scheduler.
type Conn struct {
	opts  config.Options
	log   *logger.Logger
	codec *Codec
	sched *Scheduler

	// streams maps stream id to state. Streams stay in the table after they
	// finish so that late frames for a finished stream can be told apart
	// from frames for a stream that never existed.
	streams map[uint32]*Stream
	in      []byte

	highestRemoteID uint32
	nextLocalID     uint32
	nextPingID      uint32
	pendingPings    map[uint32]struct{}

	sentGoAway bool
	recvGoAway bool
	closed     bool
	fatal      *SessionError
}

// NewConn creates the engine for one transport session. opts is validated
// (zero values become defaults). A nil logger means no logging.
func NewConn(opts config.Options, log *logger.Logger) (*Conn, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Conn{
		opts:         opts,
		log:          log,
		codec:        NewCodec(opts.MaxFrameSize),
		sched:        NewScheduler(),
		streams:      make(map[uint32]*Stream),
		pendingPings: make(map[uint32]struct{}),
	}
	// Client-initiated stream and ping ids are odd, server ids even.
	if opts.Side == config.SideClient {
		c.nextLocalID = 1
		c.nextPingID = 1
	} else {
		c.nextLocalID = 2
		c.nextPingID = 2
	}
	return c, nil
}

// remoteParity is the id parity the peer must use for streams it initiates.
func (c *Conn) remoteParity() uint32 {
	if c.opts.Side == config.SideClient {
		return 0 // peer is the server
	}
	return 1
}

// Feed accepts newly arrived transport bytes and returns the application
// events they produced. Input may be split at arbitrary boundaries;
// incomplete trailing frames are buffered until the next call.
//
// Stream-scoped errors surface as StreamErrorEvent and do not interrupt
// processing. A session-fatal error is returned (after being surfaced as a
// ConnectionErrorEvent); the host should Drain the queued GOAWAY and close
// the transport. Feed never blocks.
func (c *Conn) Feed(p []byte) ([]Event, error) {
	if c.closed {
		return nil, ErrSessionClosed
	}
	if c.fatal != nil {
		return nil, c.fatal
	}
	c.in = append(c.in, p...)

	var events []Event
	for {
		frame, consumed, err := c.codec.Decode(c.in)
		if err != nil {
			if se, ok := err.(*StreamError); ok {
				c.in = c.in[consumed:]
				events = append(events, c.failStream(se))
				continue
			}
			fatal := asSessionError(err)
			events = append(events, c.fail(fatal))
			return events, fatal
		}
		if frame == nil {
			break // incomplete frame, wait for more input
		}
		c.in = c.in[consumed:]

		evs, fatal := c.dispatch(frame)
		events = append(events, evs...)
		if fatal != nil {
			events = append(events, c.fail(fatal))
			return events, fatal
		}
	}
	return events, nil
}

// Drain pulls frames from the scheduler and serializes them until the
// scheduler is empty or roughly budget bytes have been produced. Frames are
// emitted whole, never split, so the result may overshoot the budget by up
// to one frame. budget <= 0 means no limit. The returned bytes are written
// to the transport verbatim. Drain never blocks.
func (c *Conn) Drain(budget int) []byte {
	var out []byte
	for {
		if budget > 0 && len(out) >= budget {
			break
		}
		frame, ok := c.sched.Next()
		if !ok {
			break
		}
		out = append(out, c.codec.Encode(frame)...)
	}
	return out
}

// Pending returns the number of frames waiting in the scheduler. Hosts poll
// it to decide whether the transport wants a write.
func (c *Conn) Pending() int {
	return c.sched.Len()
}

// Close tears the session down: every owned stream moves to a terminal
// state and all queued outbound frames are discarded. No partial frame is
// ever left half-emitted because Drain only produces whole frames.
func (c *Conn) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for _, st := range c.streams {
		if !st.state.terminal() {
			st.state = StreamClosed
		}
	}
	discarded := c.sched.Len()
	c.sched.Reset()
	c.in = nil
	c.log.Info("session closed", logger.LogFields{
		"streams":          len(c.streams),
		"discarded_frames": discarded,
	})
}

// Stream looks up a stream by id.
func (c *Conn) Stream(id uint32) (*Stream, bool) {
	st, ok := c.streams[id]
	return st, ok
}

// fail records a session-fatal error, discards queued output and queues a
// GOAWAY describing it, so the host's final Drain tells the peer why.
func (c *Conn) fail(se *SessionError) Event {
	se.LastStreamID = c.highestRemoteID
	c.fatal = se
	c.sentGoAway = true
	c.sched.Reset()
	c.sched.Submit(0, &GoAwayFrame{
		FrameHeader:  FrameHeader{Type: FrameGoAway},
		LastStreamID: c.highestRemoteID,
		Reason:       se.Reason,
	}, PriorityMax)
	c.log.Error("session failed", logger.LogFields{
		"kind":   se.Kind.String(),
		"reason": se.Reason.String(),
		"detail": se.Msg,
	})
	return ConnectionErrorEvent{Err: se}
}

// failStream tears down one stream with an RST_STREAM and reports it as an
// event. Other streams on the session are unaffected.
//
// The failed id is recorded in the stream table even when the stream never
// got far enough to be created (a SYN_STREAM whose header block failed
// validation), so the peer's in-flight frames for it are dropped as late
// frames instead of tripping the unknown-stream check.
func (c *Conn) failStream(se *StreamError) Event {
	st, ok := c.streams[se.StreamID]
	if !ok {
		st = newStream(se.StreamID, c.opts.DefaultPriority)
		c.streams[se.StreamID] = st
		if se.StreamID%2 == c.remoteParity() && se.StreamID > c.highestRemoteID {
			c.highestRemoteID = se.StreamID
		}
	}
	st.setErrored()
	c.sched.DiscardStream(se.StreamID)
	c.sched.Submit(se.StreamID, &RSTStreamFrame{
		FrameHeader: FrameHeader{Type: FrameRSTStream, StreamID: se.StreamID},
		Status:      se.Status,
	}, PriorityMax)
	c.log.Warn("stream failed", logger.LogFields{
		"stream_id": se.StreamID,
		"status":    se.Status.String(),
		"detail":    se.Msg,
	})
	return StreamErrorEvent{StreamID: se.StreamID, Status: se.Status, Err: se}
}

// dispatch routes one decoded frame to the addressed stream or to session
// handling. It returns the events produced and, for violations that make
// the peer untrustworthy, a session-fatal error.
func (c *Conn) dispatch(frame Frame) ([]Event, *SessionError) {
	switch f := frame.(type) {
	case *SynStreamFrame:
		return c.handleSynStream(f)
	case *SynReplyFrame:
		return c.handleSynReply(f)
	case *HeadersFrame:
		return c.handleHeaders(f)
	case *DataFrame:
		return c.handleData(f)
	case *RSTStreamFrame:
		return c.handleRSTStream(f)
	case *SettingsFrame:
		return []Event{SettingsReceivedEvent{
			Settings: f.Settings,
			Clear:    f.Flags&FlagClearSettings != 0,
		}}, nil
	case *PingFrame:
		return c.handlePing(f)
	case *GoAwayFrame:
		c.recvGoAway = true
		return []Event{GoAwayReceivedEvent{LastStreamID: f.LastStreamID, Reason: f.Reason}}, nil
	case *WindowUpdateFrame:
		// Flow control windows are not modeled by this engine; the frame is
		// parsed for wire compatibility and otherwise ignored.
		c.log.Debug("ignoring WINDOW_UPDATE", logger.LogFields{
			"stream_id": f.StreamID,
			"increment": f.Increment,
		})
		return nil, nil
	}
	return nil, NewSessionError(KindInternalError, GoAwayInternalError,
		fmt.Sprintf("dispatch reached with unknown frame type %T", frame))
}

func (c *Conn) handleSynStream(f *SynStreamFrame) ([]Event, *SessionError) {
	id := f.StreamID
	if c.sentGoAway {
		// After our GOAWAY the peer may have streams in flight; they are
		// ignored, not errors.
		c.log.Debugf("ignoring SYN_STREAM %d after GOAWAY", id)
		return nil, nil
	}
	if id == 0 {
		return nil, NewSessionError(KindInvalidStreamReference, GoAwayProtocolError,
			"SYN_STREAM with stream id 0")
	}
	if id%2 != c.remoteParity() {
		return nil, NewSessionError(KindInvalidStreamReference, GoAwayProtocolError,
			fmt.Sprintf("SYN_STREAM id %d has the wrong parity for the peer", id))
	}
	if id < c.highestRemoteID {
		return nil, NewSessionError(KindInvalidStreamReference, GoAwayProtocolError,
			fmt.Sprintf("SYN_STREAM id %d is lower than already-accepted id %d", id, c.highestRemoteID))
	}
	if id == c.highestRemoteID {
		return []Event{c.failStream(NewStreamError(id, StatusProtocolError,
			"duplicate SYN_STREAM for an already-accepted stream id"))}, nil
	}

	st := newStream(id, f.Priority)
	st.open()
	c.streams[id] = st
	c.highestRemoteID = id

	if err := st.recordHeaders(f.Headers); err != nil {
		return []Event{c.failStream(err)}, nil
	}

	events := []Event{StreamOpenedEvent{
		StreamID:       id,
		Headers:        st.Headers(),
		Priority:       f.Priority,
		Unidirectional: f.Flags&FlagUnidirectional != 0,
		Fin:            f.Fin(),
	}}
	if f.Fin() {
		if se := st.closeRemote(); se != nil {
			return events, se
		}
		events = append(events, StreamClosedEvent{StreamID: id})
	}
	return events, nil
}

func (c *Conn) handleSynReply(f *SynReplyFrame) ([]Event, *SessionError) {
	st, ok := c.streams[f.StreamID]
	if !ok {
		return nil, NewSessionError(KindInvalidStreamReference, GoAwayProtocolError,
			fmt.Sprintf("SYN_REPLY for stream %d which was never opened", f.StreamID))
	}
	if st.state.terminal() {
		c.log.Debug("ignoring SYN_REPLY for finished stream", logger.LogFields{"stream_id": f.StreamID})
		return nil, nil
	}
	if st.gotReply {
		return []Event{c.failStream(NewStreamError(f.StreamID, StatusProtocolError,
			"duplicate SYN_REPLY"))}, nil
	}
	st.gotReply = true
	if err := st.recordHeaders(f.Headers); err != nil {
		return []Event{c.failStream(err)}, nil
	}

	events := []Event{HeadersReceivedEvent{StreamID: f.StreamID, Headers: f.Headers, Fin: f.Fin()}}
	if f.Fin() {
		if se := st.closeRemote(); se != nil {
			return events, se
		}
		events = append(events, StreamClosedEvent{StreamID: f.StreamID})
	}
	return events, nil
}

func (c *Conn) handleHeaders(f *HeadersFrame) ([]Event, *SessionError) {
	st, ok := c.streams[f.StreamID]
	if !ok {
		return nil, NewSessionError(KindInvalidStreamReference, GoAwayProtocolError,
			fmt.Sprintf("HEADERS for stream %d which was never opened", f.StreamID))
	}
	if st.state.terminal() {
		c.log.Debug("ignoring HEADERS for finished stream", logger.LogFields{"stream_id": f.StreamID})
		return nil, nil
	}

	if st.sawData && c.opts.TrailingHeaders == config.TrailingHeadersDiscard {
		// The sole intentional discard-without-signaling case: a header
		// block arriving after DATA is dropped so it cannot be misapplied
		// as a new header set. No event is emitted and stream state is
		// unchanged, including the FIN bit of the discarded frame.
		c.log.Debug("discarding trailing HEADERS after DATA", logger.LogFields{"stream_id": f.StreamID})
		return nil, nil
	}

	if err := st.recordHeaders(f.Headers); err != nil {
		return []Event{c.failStream(err)}, nil
	}

	events := []Event{HeadersReceivedEvent{StreamID: f.StreamID, Headers: f.Headers, Fin: f.Fin()}}
	if f.Fin() {
		if se := st.closeRemote(); se != nil {
			return events, se
		}
		events = append(events, StreamClosedEvent{StreamID: f.StreamID})
	}
	return events, nil
}

func (c *Conn) handleData(f *DataFrame) ([]Event, *SessionError) {
	st, ok := c.streams[f.StreamID]
	if !ok {
		return nil, NewSessionError(KindInvalidStreamReference, GoAwayProtocolError,
			fmt.Sprintf("DATA for stream %d which was never opened", f.StreamID))
	}
	if st.state == StreamErrored {
		// Already reset locally; frames still in flight are dropped.
		c.log.Debug("ignoring DATA for errored stream", logger.LogFields{"stream_id": f.StreamID})
		return nil, nil
	}
	if !st.canReceiveData() {
		return []Event{c.failStream(NewStreamError(f.StreamID, StatusStreamAlreadyClosed,
			fmt.Sprintf("DATA in state %s", st.state)))}, nil
	}

	st.recordData(uint32(len(f.Data)))
	events := []Event{DataReceivedEvent{StreamID: f.StreamID, Data: f.Data, Fin: f.Fin()}}
	if f.Fin() {
		if se := st.closeRemote(); se != nil {
			return events, se
		}
		events = append(events, StreamClosedEvent{StreamID: f.StreamID})
	}
	return events, nil
}

func (c *Conn) handleRSTStream(f *RSTStreamFrame) ([]Event, *SessionError) {
	st, ok := c.streams[f.StreamID]
	if !ok {
		// Resetting an unknown stream must not provoke another RST, or two
		// endpoints could loop forever.
		c.log.Debug("ignoring RST_STREAM for unknown stream", logger.LogFields{
			"stream_id": f.StreamID,
			"status":    f.Status.String(),
		})
		return nil, nil
	}
	st.setErrored()
	c.sched.DiscardStream(f.StreamID)
	return []Event{StreamErrorEvent{StreamID: f.StreamID, Status: f.Status}}, nil
}

func (c *Conn) handlePing(f *PingFrame) ([]Event, *SessionError) {
	if f.PingID%2 != c.nextPingID%2 {
		// Peer-initiated ping: echo it back ahead of everything else.
		c.sched.Submit(0, &PingFrame{
			FrameHeader: FrameHeader{Type: FramePing},
			PingID:      f.PingID,
		}, PriorityMax)
		return nil, nil
	}
	if _, ok := c.pendingPings[f.PingID]; !ok {
		// A reply to a ping we never sent (or one already answered) is
		// ignored per the framing rules.
		c.log.Warn("reply to unknown ping", logger.LogFields{"ping_id": f.PingID})
		return nil, nil
	}
	delete(c.pendingPings, f.PingID)
	return []Event{PingReplyEvent{PingID: f.PingID}}, nil
}

// OpenStream opens a locally-initiated stream carrying the given header
// block and queues its SYN_STREAM. priority < 0 selects the configured
// default; other values are clamped to the valid range. fin marks the
// stream as carrying no body. The header block is validated here, so frame
// encoding later cannot fail.
//
// A body-bearing stream should declare a content-length even though the
// body is frame-chunked; its absence is only a warning, kept for
// interoperability with strict peers.
func (c *Conn) OpenStream(headers HeaderBlock, priority int, fin bool) (uint32, error) {
	if c.closed {
		return 0, ErrSessionClosed
	}
	if c.fatal != nil {
		return 0, c.fatal
	}
	if c.recvGoAway {
		return 0, errors.New("spdy: peer sent GOAWAY, no new streams accepted")
	}
	block := collapseDuplicates(headers)
	if err := block.validate(); err != nil {
		return 0, fmt.Errorf("spdy: invalid header block: %w", err)
	}
	if c.nextLocalID > MaxStreamID {
		return 0, errors.New("spdy: stream ids exhausted")
	}

	prio := c.clampPriority(priority)
	if !fin {
		if _, ok := block.ContentLength(); !ok {
			c.log.Warn("body-bearing stream opened without content-length", logger.LogFields{
				"stream_id": c.nextLocalID,
			})
		}
	}

	id := c.nextLocalID
	c.nextLocalID += 2

	st := newStream(id, prio)
	st.open()
	if err := st.recordHeaders(block); err != nil {
		return 0, err // unreachable after validate; kept for safety
	}
	flags := Flags(0)
	if fin {
		flags |= FlagFin
		st.closeLocal()
	}
	c.streams[id] = st

	c.sched.Submit(id, &SynStreamFrame{
		FrameHeader: FrameHeader{Type: FrameSynStream, Flags: flags, StreamID: id},
		Priority:    prio,
		Headers:     block,
	}, prio)
	return id, nil
}

// Reply queues a SYN_REPLY on a peer-initiated stream.
func (c *Conn) Reply(streamID uint32, headers HeaderBlock, fin bool) error {
	st, block, err := c.checkOutbound(streamID, headers)
	if err != nil {
		return err
	}
	flags := Flags(0)
	if fin {
		flags |= FlagFin
		st.closeLocal()
	}
	c.sched.Submit(streamID, &SynReplyFrame{
		FrameHeader: FrameHeader{Type: FrameSynReply, Flags: flags, StreamID: streamID},
		Headers:     block,
	}, st.priority)
	return nil
}

// SendHeaders queues an additional HEADERS block on an existing stream.
func (c *Conn) SendHeaders(streamID uint32, headers HeaderBlock, fin bool) error {
	st, block, err := c.checkOutbound(streamID, headers)
	if err != nil {
		return err
	}
	flags := Flags(0)
	if fin {
		flags |= FlagFin
		st.closeLocal()
	}
	c.sched.Submit(streamID, &HeadersFrame{
		FrameHeader: FrameHeader{Type: FrameHeaders, Flags: flags, StreamID: streamID},
		Headers:     block,
	}, st.priority)
	return nil
}

// WriteData queues body bytes on a stream, split into DATA frames no larger
// than the configured frame size. fin closes our side after the final
// chunk; an empty p with fin queues a bare FIN frame.
func (c *Conn) WriteData(streamID uint32, p []byte, fin bool) error {
	st, err := c.sendableStream(streamID)
	if err != nil {
		return err
	}
	max := int(c.opts.MaxFrameSize)
	for first := true; first || len(p) > 0; first = false {
		chunk := p
		if len(chunk) > max {
			chunk = chunk[:max]
		}
		p = p[len(chunk):]
		flags := Flags(0)
		if fin && len(p) == 0 {
			flags |= FlagFin
		}
		data := make([]byte, len(chunk))
		copy(data, chunk)
		c.sched.Submit(streamID, &DataFrame{
			FrameHeader: FrameHeader{Type: FrameData, Flags: flags, StreamID: streamID},
			Data:        data,
		}, st.priority)
	}
	if fin {
		st.closeLocal()
	}
	return nil
}

// Ping queues a PING and returns its id; the eventual answer surfaces as a
// PingReplyEvent.
func (c *Conn) Ping() (uint32, error) {
	if c.closed {
		return 0, ErrSessionClosed
	}
	if c.fatal != nil {
		return 0, c.fatal
	}
	id := c.nextPingID
	c.nextPingID += 2
	c.pendingPings[id] = struct{}{}
	c.sched.Submit(0, &PingFrame{
		FrameHeader: FrameHeader{Type: FramePing},
		PingID:      id,
	}, PriorityMax)
	return id, nil
}

// SendSettings queues a SETTINGS frame with the given entries. clear asks
// the peer to drop settings it persisted from earlier sessions.
func (c *Conn) SendSettings(settings []Setting, clear bool) error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.fatal != nil {
		return c.fatal
	}
	for _, s := range settings {
		if s.ID == 0 || s.ID > maxKnownSettingID {
			return fmt.Errorf("spdy: unknown settings id %d", uint32(s.ID))
		}
	}
	flags := Flags(0)
	if clear {
		flags |= FlagClearSettings
	}
	c.sched.Submit(0, &SettingsFrame{
		FrameHeader: FrameHeader{Type: FrameSettings, Flags: flags},
		Settings:    settings,
	}, PriorityMax)
	return nil
}

// GoAway announces that this side accepts no new streams. Streams already
// open keep running; SYN_STREAMs arriving afterwards are ignored.
func (c *Conn) GoAway(reason GoAwayReason) error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.fatal != nil {
		return c.fatal
	}
	c.sentGoAway = true
	c.sched.Submit(0, &GoAwayFrame{
		FrameHeader:  FrameHeader{Type: FrameGoAway},
		LastStreamID: c.highestRemoteID,
		Reason:       reason,
	}, PriorityMax)
	return nil
}

// ResetStream aborts a stream with the given status, discarding any of its
// frames still queued for output.
func (c *Conn) ResetStream(streamID uint32, status StatusCode) error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.fatal != nil {
		return c.fatal
	}
	if st, ok := c.streams[streamID]; ok {
		st.setErrored()
	}
	c.sched.DiscardStream(streamID)
	c.sched.Submit(streamID, &RSTStreamFrame{
		FrameHeader: FrameHeader{Type: FrameRSTStream, StreamID: streamID},
		Status:      status,
	}, PriorityMax)
	return nil
}

// Reprioritize raises or lowers a stream's priority. Frames of the stream
// already waiting in the scheduler move with it, keeping their arrival
// order within the new level, so a host can resolve a priority-inversion
// stall without reordering anything else.
func (c *Conn) Reprioritize(streamID uint32, priority int) error {
	st, ok := c.streams[streamID]
	if !ok {
		return fmt.Errorf("spdy: no stream %d", streamID)
	}
	prio := c.clampPriority(priority)
	st.priority = prio
	c.sched.Reprioritize(streamID, prio)
	return nil
}

func (c *Conn) clampPriority(priority int) uint8 {
	switch {
	case priority < 0:
		return c.opts.DefaultPriority
	case priority > int(PriorityMin):
		return PriorityMin
	default:
		return uint8(priority)
	}
}

func (c *Conn) sendableStream(streamID uint32) (*Stream, error) {
	if c.closed {
		return nil, ErrSessionClosed
	}
	if c.fatal != nil {
		return nil, c.fatal
	}
	st, ok := c.streams[streamID]
	if !ok {
		return nil, fmt.Errorf("spdy: no stream %d", streamID)
	}
	if !st.canSend() {
		return nil, fmt.Errorf("spdy: stream %d is %s, cannot send", streamID, st.state)
	}
	return st, nil
}

func (c *Conn) checkOutbound(streamID uint32, headers HeaderBlock) (*Stream, HeaderBlock, error) {
	st, err := c.sendableStream(streamID)
	if err != nil {
		return nil, nil, err
	}
	block := collapseDuplicates(headers)
	if err := block.validate(); err != nil {
		return nil, nil, fmt.Errorf("spdy: invalid header block: %w", err)
	}
	return st, block, nil
}

func asSessionError(err error) *SessionError {
	if se, ok := err.(*SessionError); ok {
		return se
	}
	return NewSessionErrorWithCause(KindInternalError, GoAwayInternalError, "unexpected engine error", err)
}
