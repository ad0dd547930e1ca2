package spdy

import "fmt"

// StatusCode is a stream status code carried by RST_STREAM frames.
type StatusCode uint32

// Stream status codes from the SPDY/3 framing layer.
const (
	// StatusProtocolError (1): generic stream-level protocol violation.
	StatusProtocolError StatusCode = 1
	// StatusInvalidStream (2): frame received for an inactive stream.
	StatusInvalidStream StatusCode = 2
	// StatusRefusedStream (3): stream was declined before any processing.
	StatusRefusedStream StatusCode = 3
	// StatusUnsupportedVersion (4): peer speaks an unsupported protocol version.
	StatusUnsupportedVersion StatusCode = 4
	// StatusCancel (5): stream no longer needed by its initiator.
	StatusCancel StatusCode = 5
	// StatusInternalError (6): unexpected implementation fault.
	StatusInternalError StatusCode = 6
	// StatusFlowControlError (7): peer violated the flow control protocol.
	StatusFlowControlError StatusCode = 7
	// StatusStreamInUse (8): stream id already in use.
	StatusStreamInUse StatusCode = 8
	// StatusStreamAlreadyClosed (9): frame received for a closed stream.
	StatusStreamAlreadyClosed StatusCode = 9
	// StatusInvalidCredentials (10): client certificate slot mismatch.
	StatusInvalidCredentials StatusCode = 10
	// StatusFrameTooLarge (11): frame exceeded the receiver's size limit.
	StatusFrameTooLarge StatusCode = 11
)

// String returns the string representation of the StatusCode.
func (s StatusCode) String() string {
	switch s {
	case StatusProtocolError:
		return "PROTOCOL_ERROR"
	case StatusInvalidStream:
		return "INVALID_STREAM"
	case StatusRefusedStream:
		return "REFUSED_STREAM"
	case StatusUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	case StatusCancel:
		return "CANCEL"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusFlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StatusStreamInUse:
		return "STREAM_IN_USE"
	case StatusStreamAlreadyClosed:
		return "STREAM_ALREADY_CLOSED"
	case StatusInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case StatusFrameTooLarge:
		return "FRAME_TOO_LARGE"
	default:
		return fmt.Sprintf("UNKNOWN_STATUS_CODE_%d", uint32(s))
	}
}

// GoAwayReason is the session termination reason carried by GOAWAY frames.
type GoAwayReason uint32

const (
	// GoAwayOK (0): graceful shutdown, no error.
	GoAwayOK GoAwayReason = 0
	// GoAwayProtocolError (1): session terminated due to a protocol violation.
	GoAwayProtocolError GoAwayReason = 1
	// GoAwayInternalError (2): session terminated due to an implementation fault.
	GoAwayInternalError GoAwayReason = 2
)

// String returns the string representation of the GoAwayReason.
func (r GoAwayReason) String() string {
	switch r {
	case GoAwayOK:
		return "OK"
	case GoAwayProtocolError:
		return "PROTOCOL_ERROR"
	case GoAwayInternalError:
		return "INTERNAL_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_GOAWAY_REASON_%d", uint32(r))
	}
}

// ErrorKind classifies session-fatal failures.
type ErrorKind int

const (
	// KindMalformedFrame is a codec-level structural violation: bad length
	// field, unknown control type, invalid flags, unsupported version.
	KindMalformedFrame ErrorKind = iota
	// KindContentLengthMismatch means the sum of DATA payload lengths on a
	// completed stream did not match its declared content-length. Reported as
	// a Bad-Request-equivalent condition; the peer's framing is untrustworthy.
	KindContentLengthMismatch
	// KindInvalidStreamReference means a frame addressed a stream id that was
	// never legitimately opened.
	KindInvalidStreamReference
	// KindCompressionError means a header block could not be decompressed.
	// The codec cannot recover, so the session must end.
	KindCompressionError
	// KindInternalError covers unexpected engine faults.
	KindInternalError
)

// String returns the string representation of the ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedFrame:
		return "MALFORMED_FRAME"
	case KindContentLengthMismatch:
		return "CONTENT_LENGTH_MISMATCH"
	case KindInvalidStreamReference:
		return "INVALID_STREAM_REFERENCE"
	case KindCompressionError:
		return "COMPRESSION_ERROR"
	case KindInternalError:
		return "INTERNAL_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_KIND_%d", int(k))
	}
}

// StreamError is an error scoped to a single stream. It is recoverable: the
// stream is torn down with an RST_STREAM and the session continues serving
// other streams. It implements the standard Go error interface.
type StreamError struct {
	StreamID uint32
	Status   StatusCode
	Msg      string
	Cause    error // optional underlying cause
}

// Error returns a string representation of the StreamError.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream error on stream %d: %s (status %s): %s", e.StreamID, e.Msg, e.Status, e.Cause)
	}
	return fmt.Sprintf("stream error on stream %d: %s (status %s)", e.StreamID, e.Msg, e.Status)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// NewStreamError creates a new StreamError.
func NewStreamError(streamID uint32, status StatusCode, msg string) *StreamError {
	return &StreamError{StreamID: streamID, Status: status, Msg: msg}
}

// NewStreamErrorWithCause creates a new StreamError with an underlying cause.
func NewStreamErrorWithCause(streamID uint32, status StatusCode, msg string, cause error) *StreamError {
	return &StreamError{StreamID: streamID, Status: status, Msg: msg, Cause: cause}
}

// SessionError is an error that is fatal to the whole session. After a
// SessionError the engine queues a GOAWAY frame and refuses further input;
// the caller is expected to drain the remaining output and close the
// transport. It implements the standard Go error interface.
type SessionError struct {
	Kind         ErrorKind
	Reason       GoAwayReason
	LastStreamID uint32
	Msg          string
	Cause        error // optional underlying cause
}

// Error returns a string representation of the SessionError.
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session error: %s (kind %s, reason %s, last_stream_id %d): %s", e.Msg, e.Kind, e.Reason, e.LastStreamID, e.Cause)
	}
	return fmt.Sprintf("session error: %s (kind %s, reason %s, last_stream_id %d)", e.Msg, e.Kind, e.Reason, e.LastStreamID)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// NewSessionError creates a new SessionError.
func NewSessionError(kind ErrorKind, reason GoAwayReason, msg string) *SessionError {
	return &SessionError{Kind: kind, Reason: reason, Msg: msg}
}

// NewSessionErrorWithCause creates a new SessionError with an underlying cause.
func NewSessionErrorWithCause(kind ErrorKind, reason GoAwayReason, msg string, cause error) *SessionError {
	return &SessionError{Kind: kind, Reason: reason, Msg: msg, Cause: cause}
}
