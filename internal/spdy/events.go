package spdy

// Event is the tagged variant surfaced to the application layer by Feed.
// Hosts switch on the concrete type.
type Event interface {
	event()
}

// StreamOpenedEvent: the peer opened a new stream with an initial header set.
type StreamOpenedEvent struct {
	StreamID uint32
	Headers  HeaderBlock
	Priority uint8
	// Unidirectional is set when the initiator expects no reply.
	Unidirectional bool
	// Fin is set when the stream carried no body and is already remote-closed.
	Fin bool
}

// HeadersReceivedEvent: an additional header block was accepted for a stream
// (a SYN_REPLY on a stream we opened, or a later HEADERS frame).
type HeadersReceivedEvent struct {
	StreamID uint32
	Headers  HeaderBlock
	Fin      bool
}

// DataReceivedEvent: a chunk of body payload arrived for a stream.
type DataReceivedEvent struct {
	StreamID uint32
	Data     []byte
	Fin      bool
}

// StreamClosedEvent: the stream reached Closed normally.
type StreamClosedEvent struct {
	StreamID uint32
}

// StreamErrorEvent: a stream-scoped protocol error. The stream was torn
// down (RST_STREAM queued when we detected it locally); the session keeps
// serving other streams.
type StreamErrorEvent struct {
	StreamID uint32
	Status   StatusCode
	Err      *StreamError // nil when the peer reset the stream
}

// ConnectionErrorEvent: a session-fatal error. A GOAWAY has been queued;
// the host should drain remaining output and close the transport.
type ConnectionErrorEvent struct {
	Err *SessionError
}

// PingReplyEvent: the peer answered one of our PINGs.
type PingReplyEvent struct {
	PingID uint32
}

// GoAwayReceivedEvent: the peer announced it will accept no new streams.
type GoAwayReceivedEvent struct {
	LastStreamID uint32
	Reason       GoAwayReason
}

// SettingsReceivedEvent: the peer communicated session parameters.
type SettingsReceivedEvent struct {
	Settings []Setting
	// Clear is set when the peer asked for persisted settings to be dropped.
	Clear bool
}

func (StreamOpenedEvent) event()     {}
func (HeadersReceivedEvent) event()  {}
func (DataReceivedEvent) event()     {}
func (StreamClosedEvent) event()     {}
func (StreamErrorEvent) event()      {}
func (ConnectionErrorEvent) event()  {}
func (PingReplyEvent) event()        {}
func (GoAwayReceivedEvent) event()   {}
func (SettingsReceivedEvent) event() {}
