package spdy

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeaders() HeaderBlock {
	return HeaderBlock{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/index.html"},
		{Name: ":scheme", Value: "https"},
		{Name: "accept", Value: "text/html"},
	}
}

// decodeOne decodes exactly one frame and requires that it consumed the
// whole buffer.
func decodeOne(t *testing.T, c *Codec, wire []byte) Frame {
	t.Helper()
	frame, consumed, err := c.Decode(wire)
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.Equal(t, len(wire), consumed)
	return frame
}

func TestCodecRoundTripData(t *testing.T) {
	c := NewCodec(0)
	orig := &DataFrame{
		FrameHeader: FrameHeader{Type: FrameData, Flags: FlagFin, StreamID: 5},
		Data:        []byte("hello world"),
	}
	frame := decodeOne(t, c, c.Encode(orig))

	got, ok := frame.(*DataFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(5), got.StreamID)
	assert.True(t, got.Fin())
	assert.Equal(t, []byte("hello world"), got.Data)
	assert.Equal(t, uint32(len("hello world")), got.Length)
}

func TestCodecRoundTripSynStream(t *testing.T) {
	c := NewCodec(0)
	orig := &SynStreamFrame{
		FrameHeader: FrameHeader{Type: FrameSynStream, Flags: FlagFin | FlagUnidirectional, StreamID: 1},
		Priority:    3,
		Headers:     sampleHeaders(),
	}
	frame := decodeOne(t, c, c.Encode(orig))

	got, ok := frame.(*SynStreamFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.StreamID)
	assert.Equal(t, uint8(3), got.Priority)
	assert.True(t, got.Fin())
	assert.Equal(t, Flags(FlagFin|FlagUnidirectional), got.Flags)
	// The codec normalizes blocks (sorted by name), so compare as sets.
	for _, f := range sampleHeaders() {
		v, found := got.Headers.Get(f.Name)
		assert.True(t, found, "header %q missing after round trip", f.Name)
		assert.Equal(t, f.Value, v)
	}
	assert.Len(t, got.Headers, len(sampleHeaders()))
}

func TestCodecRoundTripSynReply(t *testing.T) {
	c := NewCodec(0)
	orig := &SynReplyFrame{
		FrameHeader: FrameHeader{Type: FrameSynReply, StreamID: 7},
		Headers:     HeaderBlock{{Name: ":status", Value: "200"}},
	}
	frame := decodeOne(t, c, c.Encode(orig))

	got, ok := frame.(*SynReplyFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(7), got.StreamID)
	assert.False(t, got.Fin())
	v, found := got.Headers.Get(":status")
	require.True(t, found)
	assert.Equal(t, "200", v)
}

func TestCodecRoundTripHeaders(t *testing.T) {
	c := NewCodec(0)
	orig := &HeadersFrame{
		FrameHeader: FrameHeader{Type: FrameHeaders, Flags: FlagFin, StreamID: 9},
		Headers:     HeaderBlock{{Name: "x-checksum", Value: "abc123"}},
	}
	frame := decodeOne(t, c, c.Encode(orig))

	got, ok := frame.(*HeadersFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(9), got.StreamID)
	assert.True(t, got.Fin())
	v, found := got.Headers.Get("x-checksum")
	require.True(t, found)
	assert.Equal(t, "abc123", v)
}

func TestCodecRoundTripRSTStream(t *testing.T) {
	c := NewCodec(0)
	frame := decodeOne(t, c, c.Encode(&RSTStreamFrame{
		FrameHeader: FrameHeader{Type: FrameRSTStream, StreamID: 3},
		Status:      StatusRefusedStream,
	}))
	got, ok := frame.(*RSTStreamFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(3), got.StreamID)
	assert.Equal(t, StatusRefusedStream, got.Status)
}

func TestCodecRoundTripSettings(t *testing.T) {
	c := NewCodec(0)
	frame := decodeOne(t, c, c.Encode(&SettingsFrame{
		FrameHeader: FrameHeader{Type: FrameSettings, Flags: FlagClearSettings},
		Settings: []Setting{
			{ID: SettingInitialWindowSize, Value: 65536},
			{Flags: SettingFlagPersistValue, ID: SettingMaxConcurrentStreams, Value: 100},
		},
	}))
	got, ok := frame.(*SettingsFrame)
	require.True(t, ok)
	assert.Equal(t, Flags(FlagClearSettings), got.Flags)
	require.Len(t, got.Settings, 2)
	// Entries come back sorted by id.
	assert.Equal(t, SettingMaxConcurrentStreams, got.Settings[0].ID)
	assert.Equal(t, uint32(100), got.Settings[0].Value)
	assert.Equal(t, SettingFlagPersistValue, got.Settings[0].Flags)
	assert.Equal(t, SettingInitialWindowSize, got.Settings[1].ID)
	assert.Equal(t, uint32(65536), got.Settings[1].Value)
}

func TestCodecRoundTripPing(t *testing.T) {
	c := NewCodec(0)
	frame := decodeOne(t, c, c.Encode(&PingFrame{
		FrameHeader: FrameHeader{Type: FramePing},
		PingID:      0x01020304,
	}))
	got, ok := frame.(*PingFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(0x01020304), got.PingID)
}

func TestCodecRoundTripGoAway(t *testing.T) {
	c := NewCodec(0)
	frame := decodeOne(t, c, c.Encode(&GoAwayFrame{
		FrameHeader:  FrameHeader{Type: FrameGoAway},
		LastStreamID: 41,
		Reason:       GoAwayProtocolError,
	}))
	got, ok := frame.(*GoAwayFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(41), got.LastStreamID)
	assert.Equal(t, GoAwayProtocolError, got.Reason)
}

func TestCodecRoundTripWindowUpdate(t *testing.T) {
	c := NewCodec(0)
	frame := decodeOne(t, c, c.Encode(&WindowUpdateFrame{
		FrameHeader: FrameHeader{Type: FrameWindowUpdate, StreamID: 11},
		Increment:   32768,
	}))
	got, ok := frame.(*WindowUpdateFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(11), got.StreamID)
	assert.Equal(t, uint32(32768), got.Increment)
}

func TestCodecDecodeEmptyHeaderBlock(t *testing.T) {
	c := NewCodec(0)
	frame := decodeOne(t, c, c.Encode(&SynReplyFrame{
		FrameHeader: FrameHeader{Type: FrameSynReply, StreamID: 1},
	}))
	got, ok := frame.(*SynReplyFrame)
	require.True(t, ok)
	assert.Empty(t, got.Headers)
}

// Splitting the input at any byte boundary must never change the decode
// result: every prefix shorter than the full frame yields (nil, 0, nil).
func TestCodecDecodePartialInput(t *testing.T) {
	c := NewCodec(0)
	wire := c.Encode(&SynStreamFrame{
		FrameHeader: FrameHeader{Type: FrameSynStream, StreamID: 1},
		Priority:    2,
		Headers:     sampleHeaders(),
	})

	for cut := 0; cut < len(wire); cut++ {
		frame, consumed, err := c.Decode(wire[:cut])
		require.NoError(t, err, "prefix of %d bytes", cut)
		assert.Nil(t, frame, "prefix of %d bytes", cut)
		assert.Zero(t, consumed, "prefix of %d bytes", cut)
	}

	frame, consumed, err := c.Decode(wire)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, len(wire), consumed)
}

func TestCodecDecodeBackToBackFrames(t *testing.T) {
	c := NewCodec(0)
	first := c.Encode(&PingFrame{FrameHeader: FrameHeader{Type: FramePing}, PingID: 1})
	second := c.Encode(&DataFrame{
		FrameHeader: FrameHeader{Type: FrameData, StreamID: 3},
		Data:        []byte("abc"),
	})
	buf := append(append([]byte{}, first...), second...)

	frame, consumed, err := c.Decode(buf)
	require.NoError(t, err)
	require.IsType(t, &PingFrame{}, frame)
	assert.Equal(t, len(first), consumed)

	frame, consumed, err = c.Decode(buf[consumed:])
	require.NoError(t, err)
	require.IsType(t, &DataFrame{}, frame)
	assert.Equal(t, len(second), consumed)
}

// rawControlFrame builds a control frame header plus payload by hand so
// malformed inputs can be constructed.
func rawControlFrame(version uint16, ftype uint16, flags uint8, payload []byte) []byte {
	out := make([]byte, 0, FrameHeaderLen+len(payload))
	out = binary.BigEndian.AppendUint32(out, 1<<31|uint32(version)<<16|uint32(ftype))
	out = append(out, flags, byte(len(payload)>>16), byte(len(payload)>>8), byte(len(payload)))
	return append(out, payload...)
}

func requireSessionErrorKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	se, ok := err.(*SessionError)
	require.True(t, ok, "expected *SessionError, got %T: %v", err, err)
	assert.Equal(t, kind, se.Kind)
}

func TestCodecDecodeUnsupportedVersion(t *testing.T) {
	c := NewCodec(0)
	wire := rawControlFrame(2, uint16(FramePing), 0, make([]byte, 4))
	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindMalformedFrame)
}

func TestCodecDecodeUnknownControlType(t *testing.T) {
	c := NewCodec(0)
	wire := rawControlFrame(Version, 0x5, 0, make([]byte, 8)) // 0x5 is not assigned
	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindMalformedFrame)
}

func TestCodecDecodeInvalidFlags(t *testing.T) {
	c := NewCodec(0)
	wire := rawControlFrame(Version, uint16(FramePing), 0x01, make([]byte, 4))
	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindMalformedFrame)
}

func TestCodecDecodePayloadTooShort(t *testing.T) {
	c := NewCodec(0)
	// RST_STREAM needs 8 payload bytes; declare 4.
	wire := rawControlFrame(Version, uint16(FrameRSTStream), 0, make([]byte, 4))
	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindMalformedFrame)
}

func TestCodecDecodeOversizedFrame(t *testing.T) {
	c := NewCodec(16)
	wire := rawControlFrame(Version, uint16(FramePing), 0, make([]byte, 32))
	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindMalformedFrame)
}

func TestCodecDecodeSettingsCountMismatch(t *testing.T) {
	c := NewCodec(0)
	payload := make([]byte, 12) // one 8-byte entry would need count 1
	binary.BigEndian.PutUint32(payload[0:4], 2)
	wire := rawControlFrame(Version, uint16(FrameSettings), 0, payload)
	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindMalformedFrame)
}

// A count chosen so count*8 wraps to 0 in 32-bit arithmetic must be
// rejected like any other length lie, not trusted as an allocation size.
func TestCodecDecodeSettingsCountOverflow(t *testing.T) {
	c := NewCodec(0)
	for _, extra := range []int{0, 8} {
		payload := make([]byte, 4+extra)
		binary.BigEndian.PutUint32(payload[0:4], 0x20000000)
		wire := rawControlFrame(Version, uint16(FrameSettings), 0, payload)
		_, _, err := c.Decode(wire)
		requireSessionErrorKind(t, err, KindMalformedFrame)
	}
}

func TestCodecDecodeSettingsUnknownID(t *testing.T) {
	c := NewCodec(0)
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], 1)
	binary.BigEndian.PutUint32(payload[4:8], 99) // flags 0, id 99
	wire := rawControlFrame(Version, uint16(FrameSettings), 0, payload)
	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindMalformedFrame)
}

// A structurally sound frame whose header block breaks per-stream rules
// must come back as a *StreamError with the frame consumed, so the caller
// can resynchronize on the next frame.
func TestCodecDecodeBadHeaderBlockIsStreamScoped(t *testing.T) {
	c := NewCodec(0)
	wire := c.Encode(&SynReplyFrame{
		FrameHeader: FrameHeader{Type: FrameSynReply, StreamID: 3},
		Headers:     HeaderBlock{{Name: "connection", Value: "close"}},
	})

	frame, consumed, err := c.Decode(wire)
	assert.Nil(t, frame)
	assert.Equal(t, len(wire), consumed)
	se, ok := err.(*StreamError)
	require.True(t, ok, "expected *StreamError, got %T: %v", err, err)
	assert.Equal(t, uint32(3), se.StreamID)
	assert.Equal(t, StatusProtocolError, se.Status)
}

func TestCodecDecodeCorruptHeaderBlockIsFatal(t *testing.T) {
	c := NewCodec(0)
	payload := make([]byte, 0, 14)
	payload = binary.BigEndian.AppendUint32(payload, 1)
	payload = binary.BigEndian.AppendUint32(payload, 0)
	payload = append(payload, 0, 0)                   // priority, slot
	payload = append(payload, 0xde, 0xad, 0xbe, 0xef) // not a zlib stream
	wire := rawControlFrame(Version, uint16(FrameSynStream), 0, payload)

	_, _, err := c.Decode(wire)
	requireSessionErrorKind(t, err, KindCompressionError)
}

func TestCodecEncodePanicsOnUnknownFrame(t *testing.T) {
	c := NewCodec(0)
	assert.Panics(t, func() { c.Encode(nil) })
}

func TestCodecDataControlBitClear(t *testing.T) {
	c := NewCodec(0)
	wire := c.Encode(&DataFrame{
		FrameHeader: FrameHeader{Type: FrameData, StreamID: 3},
		Data:        []byte("x"),
	})
	assert.Zero(t, wire[0]&0x80, "DATA frame must not set the control bit")

	ctrl := c.Encode(&PingFrame{FrameHeader: FrameHeader{Type: FramePing}, PingID: 1})
	assert.NotZero(t, ctrl[0]&0x80, "control frame must set the control bit")
	assert.Equal(t, uint16(Version), binary.BigEndian.Uint16(ctrl[0:2])&0x7fff)
}
