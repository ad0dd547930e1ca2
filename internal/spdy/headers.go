package spdy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// HeaderField is a single name/value pair from a header block. A value may
// hold several logical values separated by NUL octets, per the wire format.
type HeaderField struct {
	Name  string
	Value string
}

// HeaderBlock is the ordered list of header fields carried by one
// SYN_STREAM, SYN_REPLY or HEADERS frame.
type HeaderBlock []HeaderField

// Get returns the first value for name (lower-case) and whether it was found.
func (b HeaderBlock) Get(name string) (string, bool) {
	for _, f := range b {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Names returns the set of header names present in the block.
func (b HeaderBlock) Names() map[string]struct{} {
	names := make(map[string]struct{}, len(b))
	for _, f := range b {
		names[f.Name] = struct{}{}
	}
	return names
}

// ContentLength returns the declared content-length, or ok=false if the
// block does not carry one or it does not parse as a non-negative integer.
func (b HeaderBlock) ContentLength() (int64, bool) {
	v, ok := b.Get("content-length")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// reservedHeaders are hop-by-hop names that must not appear in a header
// block; connection management is the framing layer's job here.
var reservedHeaders = map[string]struct{}{
	"connection":          {},
	"host":                {},
	"keep-alive":          {},
	"upgrade":             {},
	"proxy-authorization": {},
	"proxy-authenticate":  {},
	"proxy-connection":    {},
	"te":                  {},
	"transfer-encoding":   {},
	"trailers":            {},
}

// validate checks the per-block header semantics: names are non-empty,
// lower-case, NUL-free and unique within the block; values never start or
// end with NUL and never contain consecutive NULs; reserved hop-by-hop
// names are absent. Violations are stream-scoped, so the caller maps the
// returned error onto the owning stream.
func (b HeaderBlock) validate() error {
	seen := make(map[string]struct{}, len(b))
	for _, f := range b {
		if f.Name == "" {
			return fmt.Errorf("zero-length header name")
		}
		if strings.ToLower(f.Name) != f.Name {
			return fmt.Errorf("header name %q not in lower case", f.Name)
		}
		if strings.ContainsRune(f.Name, 0) {
			return fmt.Errorf("header name %q contains a NUL octet", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate header name %q within one block", f.Name)
		}
		seen[f.Name] = struct{}{}
		if _, bad := reservedHeaders[f.Name]; bad {
			return fmt.Errorf("header %q is not allowed", f.Name)
		}
		if len(f.Value) > 0 {
			if f.Value[0] == 0 || f.Value[len(f.Value)-1] == 0 || strings.Contains(f.Value, "\x00\x00") {
				return fmt.Errorf("invalid NUL placement in value of header %q", f.Name)
			}
		}
	}
	return nil
}

// collapseDuplicates merges fields sharing a name into a single field whose
// value joins the individual values with NUL separators, and sorts the
// result by name. The wire format forbids repeated names inside a block, so
// encoding always goes through this normalization.
func collapseDuplicates(b HeaderBlock) HeaderBlock {
	byName := make(map[string][]string, len(b))
	order := make([]string, 0, len(b))
	for _, f := range b {
		name := strings.ToLower(f.Name)
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], f.Value)
	}
	sort.Strings(order)
	out := make(HeaderBlock, 0, len(order))
	for _, name := range order {
		out = append(out, HeaderField{Name: name, Value: strings.Join(byName[name], "\x00")})
	}
	return out
}

// headerCodec compresses and decompresses header blocks. Each block is a
// self-contained zlib stream primed with the SPDY dictionary; the codec
// carries no cross-frame compression context, so blocks decode
// independently of each other.
type headerCodec struct {
	buf bytes.Buffer
}

// encode serializes and compresses a header block. The block is normalized
// (lower-cased, duplicates collapsed, sorted) first. Encoding only writes to
// in-memory buffers and cannot fail for a block accepted by validate; the
// engine validates at construction time, so a failure here is a programming
// error and panics.
func (c *headerCodec) encode(b HeaderBlock) []byte {
	b = collapseDuplicates(b)
	raw := serializeHeaderBlock(b)

	c.buf.Reset()
	zw, err := zlib.NewWriterLevelDict(&c.buf, zlib.DefaultCompression, headerDictionary)
	if err != nil {
		panic(fmt.Sprintf("spdy: zlib writer init: %v", err))
	}
	if _, err := zw.Write(raw); err != nil {
		panic(fmt.Sprintf("spdy: compressing header block: %v", err))
	}
	if err := zw.Close(); err != nil {
		panic(fmt.Sprintf("spdy: flushing header block: %v", err))
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out
}

// decode decompresses and parses a header block for the given stream.
// Decompression failures poison the codec state and are session-fatal;
// structural or semantic violations inside a decompressed block are
// stream-scoped and returned as *StreamError.
func (c *headerCodec) decode(compressed []byte, streamID uint32) (HeaderBlock, error) {
	if len(compressed) == 0 {
		return HeaderBlock{}, nil
	}
	zr, err := zlib.NewReaderDict(bytes.NewReader(compressed), headerDictionary)
	if err != nil {
		return nil, NewSessionErrorWithCause(KindCompressionError, GoAwayInternalError,
			fmt.Sprintf("opening header block for stream %d", streamID), err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, NewSessionErrorWithCause(KindCompressionError, GoAwayInternalError,
			fmt.Sprintf("decompressing header block for stream %d", streamID), err)
	}

	block, err := parseHeaderBlock(raw)
	if err != nil {
		return nil, NewStreamErrorWithCause(streamID, StatusProtocolError, "malformed header block", err)
	}
	if err := block.validate(); err != nil {
		return nil, NewStreamErrorWithCause(streamID, StatusProtocolError, "invalid header block", err)
	}
	return block, nil
}

// serializeHeaderBlock writes the uncompressed wire form: a uint32 pair
// count followed by length-prefixed name and value strings.
func serializeHeaderBlock(b HeaderBlock) []byte {
	size := 4
	for _, f := range b {
		size += 8 + len(f.Name) + len(f.Value)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
	for _, f := range b {
		out = binary.BigEndian.AppendUint32(out, uint32(len(f.Name)))
		out = append(out, f.Name...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(f.Value)))
		out = append(out, f.Value...)
	}
	return out
}

// parseHeaderBlock parses the uncompressed wire form. It reports structural
// problems only; semantic checks live in HeaderBlock.validate.
func parseHeaderBlock(raw []byte) (HeaderBlock, error) {
	if len(raw) == 0 {
		return HeaderBlock{}, nil
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("header block truncated: %d bytes", len(raw))
	}
	count := binary.BigEndian.Uint32(raw[:4])
	cursor := 4
	block := make(HeaderBlock, 0, count)
	for cursor < len(raw) {
		name, next, err := readLengthPrefixed(raw, cursor)
		if err != nil {
			return nil, fmt.Errorf("header name: %w", err)
		}
		cursor = next
		value, next, err := readLengthPrefixed(raw, cursor)
		if err != nil {
			return nil, fmt.Errorf("header %q value: %w", name, err)
		}
		cursor = next
		block = append(block, HeaderField{Name: name, Value: value})
	}
	if uint32(len(block)) != count {
		return nil, fmt.Errorf("header count %d does not match %d pairs read", count, len(block))
	}
	return block, nil
}

func readLengthPrefixed(raw []byte, cursor int) (string, int, error) {
	if cursor+4 > len(raw) {
		return "", 0, fmt.Errorf("truncated length prefix at offset %d", cursor)
	}
	n := binary.BigEndian.Uint32(raw[cursor : cursor+4])
	cursor += 4
	// A single frame payload is capped at 2^24-1 octets, so any larger
	// length is garbage regardless of what follows.
	if n >= 1<<24 {
		return "", 0, fmt.Errorf("declared length %d exceeds frame capacity", n)
	}
	if cursor+int(n) > len(raw) {
		return "", 0, fmt.Errorf("declared length %d overruns block (%d bytes left)", n, len(raw)-cursor)
	}
	return string(raw[cursor : cursor+int(n)]), cursor + int(n), nil
}
