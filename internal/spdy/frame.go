package spdy

import (
	"encoding/binary"
	"fmt"
)

// FrameType identifies a frame kind. DATA frames have no type octet on the
// wire (they are distinguished by the control bit); FrameData is their
// in-memory tag.
type FrameType uint16

const (
	// FrameData carries a chunk of a stream's body (0x0).
	FrameData FrameType = 0x0
	// FrameSynStream opens a new stream (0x1).
	FrameSynStream FrameType = 0x1
	// FrameSynReply answers a stream opened by the peer (0x2).
	FrameSynReply FrameType = 0x2
	// FrameRSTStream tears down a single stream (0x3).
	FrameRSTStream FrameType = 0x3
	// FrameSettings communicates session parameters (0x4).
	FrameSettings FrameType = 0x4
	// FramePing measures round-trip time (0x6).
	FramePing FrameType = 0x6
	// FrameGoAway announces session shutdown (0x7).
	FrameGoAway FrameType = 0x7
	// FrameHeaders carries an additional header block for a stream (0x8).
	FrameHeaders FrameType = 0x8
	// FrameWindowUpdate adjusts a flow control window (0x9).
	FrameWindowUpdate FrameType = 0x9
)

// String returns the string representation of the FrameType.
func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameSynStream:
		return "SYN_STREAM"
	case FrameSynReply:
		return "SYN_REPLY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameHeaders:
		return "HEADERS"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%d", uint16(t))
	}
}

// Flags represents the 8-bit flags field of a frame.
type Flags uint8

const (
	// FlagFin marks the sender's final frame on a stream.
	FlagFin Flags = 0x01
	// FlagUnidirectional marks a SYN_STREAM whose initiator expects no reply.
	FlagUnidirectional Flags = 0x02
	// FlagClearSettings asks the receiver to drop previously persisted settings.
	FlagClearSettings Flags = 0x01
)

// SettingID identifies a SETTINGS parameter.
type SettingID uint32

const (
	SettingUploadBandwidth       SettingID = 1
	SettingDownloadBandwidth     SettingID = 2
	SettingRoundTripTime         SettingID = 3
	SettingMaxConcurrentStreams  SettingID = 4
	SettingCurrentCwnd           SettingID = 5
	SettingDownloadRetransRate   SettingID = 6
	SettingInitialWindowSize     SettingID = 7
	SettingClientCertVectorSize  SettingID = 8
	maxKnownSettingID            SettingID = SettingClientCertVectorSize
)

// SettingFlags are per-entry flags inside a SETTINGS frame.
type SettingFlags uint8

const (
	SettingFlagNone         SettingFlags = 0x00
	SettingFlagPersistValue SettingFlags = 0x01
	SettingFlagPersisted    SettingFlags = 0x02
)

// Setting is one (flags, id, value) triple from a SETTINGS frame.
type Setting struct {
	Flags SettingFlags
	ID    SettingID
	Value uint32
}

// Priority bounds. Lower numbers schedule first.
const (
	// PriorityMax is the most urgent level (0).
	PriorityMax uint8 = 0
	// PriorityMin is the least urgent level (7); the conservative default
	// for unclassified bulk resources such as images.
	PriorityMin uint8 = 7
	// NumPriorityLevels is the number of distinct scheduling levels.
	NumPriorityLevels = 8
)

const (
	// Version is the framing protocol version spoken by this engine.
	Version = 3

	// FrameHeaderLen is the length of the common frame header.
	FrameHeaderLen = 8

	// streamIDMask clears the reserved high bit of 31-bit stream id fields.
	streamIDMask = 0x7fffffff

	// MaxStreamID is the largest legal stream identifier.
	MaxStreamID uint32 = streamIDMask

	// maxFramePayload is the hard wire-format cap: the length field is 24 bits.
	maxFramePayload = 1<<24 - 1
)

// FrameHeader holds the fields common to every frame. Length is the payload
// length as transmitted; the codec fills it in during encode and decode.
type FrameHeader struct {
	Type     FrameType
	Flags    Flags
	StreamID uint32 // 0 for session-scoped frames (SETTINGS, PING, GOAWAY)
	Length   uint32
}

// Fin reports whether the FIN flag is set.
func (h *FrameHeader) Fin() bool { return h.Flags&FlagFin != 0 }

// Frame is the interface implemented by all frame kinds. Frames are a
// tagged variant: the codec and the dispatch logic switch exhaustively on
// the concrete type.
type Frame interface {
	Header() *FrameHeader
}

// DataFrame carries a chunk of a stream's body payload.
type DataFrame struct {
	FrameHeader
	Data []byte
}

func (f *DataFrame) Header() *FrameHeader { return &f.FrameHeader }

// SynStreamFrame opens a new stream with an initial header block.
type SynStreamFrame struct {
	FrameHeader
	AssocStreamID uint32 // 0 unless this stream is pushed alongside another
	Priority      uint8  // 0 (highest) .. 7 (lowest)
	Slot          uint8  // credential slot; 0 when unused
	Headers       HeaderBlock
}

func (f *SynStreamFrame) Header() *FrameHeader { return &f.FrameHeader }

// SynReplyFrame answers a peer-initiated stream with a header block.
type SynReplyFrame struct {
	FrameHeader
	Headers HeaderBlock
}

func (f *SynReplyFrame) Header() *FrameHeader { return &f.FrameHeader }

// HeadersFrame carries an additional header block for an existing stream.
type HeadersFrame struct {
	FrameHeader
	Headers HeaderBlock
}

func (f *HeadersFrame) Header() *FrameHeader { return &f.FrameHeader }

// RSTStreamFrame aborts a single stream with a status code.
type RSTStreamFrame struct {
	FrameHeader
	Status StatusCode
}

func (f *RSTStreamFrame) Header() *FrameHeader { return &f.FrameHeader }

// SettingsFrame carries session parameter triples.
type SettingsFrame struct {
	FrameHeader
	Settings []Setting
}

func (f *SettingsFrame) Header() *FrameHeader { return &f.FrameHeader }

// PingFrame carries an opaque ping identifier.
type PingFrame struct {
	FrameHeader
	PingID uint32
}

func (f *PingFrame) Header() *FrameHeader { return &f.FrameHeader }

// GoAwayFrame announces that the sender will accept no new streams.
type GoAwayFrame struct {
	FrameHeader
	LastStreamID uint32
	Reason       GoAwayReason
}

func (f *GoAwayFrame) Header() *FrameHeader { return &f.FrameHeader }

// WindowUpdateFrame adjusts the flow control window of a stream.
type WindowUpdateFrame struct {
	FrameHeader
	Increment uint32
}

func (f *WindowUpdateFrame) Header() *FrameHeader { return &f.FrameHeader }

// validFlags is the set of flag bits defined for each frame type; any other
// bit on the wire is a structural violation.
var validFlags = map[FrameType]Flags{
	FrameData:         FlagFin,
	FrameSynStream:    FlagFin | FlagUnidirectional,
	FrameSynReply:     FlagFin,
	FrameRSTStream:    0,
	FrameSettings:     FlagClearSettings,
	FramePing:         0,
	FrameGoAway:       0,
	FrameHeaders:      FlagFin,
	FrameWindowUpdate: 0,
}

// minPayloadLen is the smallest payload that can hold each frame type's
// fixed fields.
var minPayloadLen = map[FrameType]uint32{
	FrameData:         0,
	FrameSynStream:    10,
	FrameSynReply:     4,
	FrameRSTStream:    8,
	FrameSettings:     4,
	FramePing:         4,
	FrameGoAway:       8,
	FrameHeaders:      4,
	FrameWindowUpdate: 8,
}

// Codec serializes and deserializes frames. Decoding is resumable: when the
// input holds less than one whole frame, Decode consumes nothing and reports
// that more input is needed, so callers can accumulate bytes from a
// streaming socket and retry.
type Codec struct {
	maxFrameSize uint32
	headers      headerCodec
}

// NewCodec creates a Codec that rejects frames whose payload exceeds
// maxFrameSize octets.
func NewCodec(maxFrameSize uint32) *Codec {
	if maxFrameSize == 0 || maxFrameSize > maxFramePayload {
		maxFrameSize = maxFramePayload
	}
	return &Codec{maxFrameSize: maxFrameSize}
}

// Decode parses the first frame in buf.
//
// Returns (nil, 0, nil) when buf does not yet hold a complete frame: nothing
// was consumed and the caller should retry with more input. On success it
// returns the frame and the number of bytes consumed. A *StreamError return
// (with consumed > 0) means the frame was structurally sound but its header
// block violated per-stream semantics; the caller can skip the frame and
// keep the session alive. A *SessionError return is fatal.
func (c *Codec) Decode(buf []byte) (Frame, int, error) {
	if len(buf) < FrameHeaderLen {
		return nil, 0, nil
	}
	word := binary.BigEndian.Uint32(buf[0:4])
	flags := Flags(buf[4])
	length := uint32(buf[5])<<16 | uint32(binary.BigEndian.Uint16(buf[6:8]))

	var ftype FrameType
	var streamID uint32
	if word>>31 == 1 {
		version := (word >> 16) & 0x7fff
		if version != Version {
			return nil, 0, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
				fmt.Sprintf("unsupported protocol version %d", version))
		}
		ftype = FrameType(word & 0xffff)
		if _, known := validFlags[ftype]; !known || ftype == FrameData {
			return nil, 0, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
				fmt.Sprintf("unknown control frame type %d", word&0xffff))
		}
	} else {
		ftype = FrameData
		streamID = word & streamIDMask
	}

	if flags&^validFlags[ftype] != 0 {
		return nil, 0, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
			fmt.Sprintf("invalid flags 0x%02x for %s frame", uint8(flags), ftype))
	}
	if length > c.maxFrameSize {
		return nil, 0, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
			fmt.Sprintf("%s frame payload %d exceeds limit %d", ftype, length, c.maxFrameSize))
	}
	if length < minPayloadLen[ftype] {
		return nil, 0, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
			fmt.Sprintf("%s frame payload %d shorter than minimum %d", ftype, length, minPayloadLen[ftype]))
	}

	total := FrameHeaderLen + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}
	payload := buf[FrameHeaderLen:total]

	hdr := FrameHeader{Type: ftype, Flags: flags, StreamID: streamID, Length: length}
	frame, err := c.parsePayload(hdr, payload)
	if err != nil {
		// Stream-scoped header problems still consume the frame so the
		// session can resynchronize on the next one.
		if _, ok := err.(*StreamError); ok {
			return nil, total, err
		}
		return nil, 0, err
	}
	return frame, total, nil
}

func (c *Codec) parsePayload(hdr FrameHeader, payload []byte) (Frame, error) {
	switch hdr.Type {
	case FrameData:
		data := make([]byte, len(payload))
		copy(data, payload)
		return &DataFrame{FrameHeader: hdr, Data: data}, nil

	case FrameSynStream:
		hdr.StreamID = binary.BigEndian.Uint32(payload[0:4]) & streamIDMask
		assoc := binary.BigEndian.Uint32(payload[4:8]) & streamIDMask
		priority := payload[8] >> 5
		slot := payload[9]
		block, err := c.headers.decode(payload[10:], hdr.StreamID)
		if err != nil {
			return nil, err
		}
		return &SynStreamFrame{
			FrameHeader:   hdr,
			AssocStreamID: assoc,
			Priority:      priority,
			Slot:          slot,
			Headers:       block,
		}, nil

	case FrameSynReply:
		hdr.StreamID = binary.BigEndian.Uint32(payload[0:4]) & streamIDMask
		block, err := c.headers.decode(payload[4:], hdr.StreamID)
		if err != nil {
			return nil, err
		}
		return &SynReplyFrame{FrameHeader: hdr, Headers: block}, nil

	case FrameHeaders:
		hdr.StreamID = binary.BigEndian.Uint32(payload[0:4]) & streamIDMask
		block, err := c.headers.decode(payload[4:], hdr.StreamID)
		if err != nil {
			return nil, err
		}
		return &HeadersFrame{FrameHeader: hdr, Headers: block}, nil

	case FrameRSTStream:
		if hdr.Length != 8 {
			return nil, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
				fmt.Sprintf("RST_STREAM payload must be 8 bytes, got %d", hdr.Length))
		}
		hdr.StreamID = binary.BigEndian.Uint32(payload[0:4]) & streamIDMask
		status := StatusCode(binary.BigEndian.Uint32(payload[4:8]))
		return &RSTStreamFrame{FrameHeader: hdr, Status: status}, nil

	case FrameSettings:
		count := binary.BigEndian.Uint32(payload[0:4])
		// Widen before multiplying: a hostile count must not wrap the size
		// check and drive the allocation below.
		if uint64(len(payload)) != 4+uint64(count)*8 {
			return nil, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
				fmt.Sprintf("SETTINGS declares %d entries but payload is %d bytes", count, len(payload)))
		}
		settings := make([]Setting, 0, count)
		for i := uint32(0); i < count; i++ {
			off := 4 + i*8
			word := binary.BigEndian.Uint32(payload[off : off+4])
			value := binary.BigEndian.Uint32(payload[off+4 : off+8])
			sflags := SettingFlags(word >> 24)
			id := SettingID(word & 0xffffff)
			if sflags > SettingFlagPersisted {
				return nil, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
					fmt.Sprintf("unknown settings entry flags 0x%02x", uint8(sflags)))
			}
			if id == 0 || id > maxKnownSettingID {
				return nil, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
					fmt.Sprintf("unknown settings id %d", uint32(id)))
			}
			settings = append(settings, Setting{Flags: sflags, ID: id, Value: value})
		}
		return &SettingsFrame{FrameHeader: hdr, Settings: settings}, nil

	case FramePing:
		if hdr.Length != 4 {
			return nil, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
				fmt.Sprintf("PING payload must be 4 bytes, got %d", hdr.Length))
		}
		return &PingFrame{FrameHeader: hdr, PingID: binary.BigEndian.Uint32(payload[0:4])}, nil

	case FrameGoAway:
		if hdr.Length != 8 {
			return nil, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
				fmt.Sprintf("GOAWAY payload must be 8 bytes, got %d", hdr.Length))
		}
		last := binary.BigEndian.Uint32(payload[0:4]) & streamIDMask
		reason := GoAwayReason(binary.BigEndian.Uint32(payload[4:8]))
		return &GoAwayFrame{FrameHeader: hdr, LastStreamID: last, Reason: reason}, nil

	case FrameWindowUpdate:
		if hdr.Length != 8 {
			return nil, NewSessionError(KindMalformedFrame, GoAwayProtocolError,
				fmt.Sprintf("WINDOW_UPDATE payload must be 8 bytes, got %d", hdr.Length))
		}
		hdr.StreamID = binary.BigEndian.Uint32(payload[0:4]) & streamIDMask
		incr := binary.BigEndian.Uint32(payload[4:8]) & streamIDMask
		return &WindowUpdateFrame{FrameHeader: hdr, Increment: incr}, nil
	}
	// Decode validated the type before reaching payload parsing.
	return nil, NewSessionError(KindInternalError, GoAwayInternalError,
		fmt.Sprintf("parsePayload reached with unvalidated type %d", hdr.Type))
}

// Encode serializes a frame. It never fails for well-formed frames; a frame
// that cannot be represented on the wire (oversized payload, unknown type)
// is a caller programming error and panics. Use the frame constructors or
// the Conn API, which validate at construction time.
func (c *Codec) Encode(f Frame) []byte {
	hdr := f.Header()
	var payload []byte

	switch frame := f.(type) {
	case *DataFrame:
		if len(frame.Data) > maxFramePayload {
			panic(fmt.Sprintf("spdy: DATA payload %d exceeds wire capacity", len(frame.Data)))
		}
		hdr.Length = uint32(len(frame.Data))
		out := make([]byte, 0, FrameHeaderLen+len(frame.Data))
		out = binary.BigEndian.AppendUint32(out, frame.StreamID&streamIDMask)
		out = appendFlagsAndLength(out, hdr.Flags, hdr.Length)
		return append(out, frame.Data...)

	case *SynStreamFrame:
		block := c.headers.encode(frame.Headers)
		payload = make([]byte, 0, 10+len(block))
		payload = binary.BigEndian.AppendUint32(payload, frame.StreamID&streamIDMask)
		payload = binary.BigEndian.AppendUint32(payload, frame.AssocStreamID&streamIDMask)
		payload = append(payload, frame.Priority<<5, frame.Slot)
		payload = append(payload, block...)

	case *SynReplyFrame:
		block := c.headers.encode(frame.Headers)
		payload = make([]byte, 0, 4+len(block))
		payload = binary.BigEndian.AppendUint32(payload, frame.StreamID&streamIDMask)
		payload = append(payload, block...)

	case *HeadersFrame:
		block := c.headers.encode(frame.Headers)
		payload = make([]byte, 0, 4+len(block))
		payload = binary.BigEndian.AppendUint32(payload, frame.StreamID&streamIDMask)
		payload = append(payload, block...)

	case *RSTStreamFrame:
		payload = make([]byte, 0, 8)
		payload = binary.BigEndian.AppendUint32(payload, frame.StreamID&streamIDMask)
		payload = binary.BigEndian.AppendUint32(payload, uint32(frame.Status))

	case *SettingsFrame:
		// Entries are sorted by id on the wire.
		sorted := make([]Setting, len(frame.Settings))
		copy(sorted, frame.Settings)
		for i := 1; i < len(sorted); i++ {
			for j := i; j > 0 && sorted[j].ID < sorted[j-1].ID; j-- {
				sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			}
		}
		payload = make([]byte, 0, 4+8*len(sorted))
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(sorted)))
		for _, s := range sorted {
			payload = binary.BigEndian.AppendUint32(payload, uint32(s.Flags)<<24|uint32(s.ID)&0xffffff)
			payload = binary.BigEndian.AppendUint32(payload, s.Value)
		}

	case *PingFrame:
		payload = binary.BigEndian.AppendUint32(make([]byte, 0, 4), frame.PingID)

	case *GoAwayFrame:
		payload = make([]byte, 0, 8)
		payload = binary.BigEndian.AppendUint32(payload, frame.LastStreamID&streamIDMask)
		payload = binary.BigEndian.AppendUint32(payload, uint32(frame.Reason))

	case *WindowUpdateFrame:
		payload = make([]byte, 0, 8)
		payload = binary.BigEndian.AppendUint32(payload, frame.StreamID&streamIDMask)
		payload = binary.BigEndian.AppendUint32(payload, frame.Increment&streamIDMask)

	default:
		panic(fmt.Sprintf("spdy: cannot encode frame of type %T", f))
	}

	if len(payload) > maxFramePayload {
		panic(fmt.Sprintf("spdy: %s payload %d exceeds wire capacity", hdr.Type, len(payload)))
	}
	hdr.Length = uint32(len(payload))
	out := make([]byte, 0, FrameHeaderLen+len(payload))
	out = binary.BigEndian.AppendUint32(out, 1<<31|Version<<16|uint32(hdr.Type))
	out = appendFlagsAndLength(out, hdr.Flags, hdr.Length)
	return append(out, payload...)
}

func appendFlagsAndLength(out []byte, flags Flags, length uint32) []byte {
	return append(out, byte(flags), byte(length>>16), byte(length>>8), byte(length))
}
