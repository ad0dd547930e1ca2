// Package config holds the explicit construction parameters for a protocol
// engine session, plus optional file loading for hosts that configure
// engines from TOML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TrailingHeaderPolicy selects what to do with a HEADERS frame that arrives
// after DATA has already been processed on the same stream.
type TrailingHeaderPolicy string

const (
	// TrailingHeadersDiscard silently drops late header blocks. This is the
	// default: it prevents a trailing block from being misapplied as a new
	// header set, and is the one intentional discard-without-signaling case
	// in the engine.
	TrailingHeadersDiscard TrailingHeaderPolicy = "discard"
	// TrailingHeadersMerge merges late header blocks into the stream's
	// header set as trailers, still subject to the duplicate-name rule.
	TrailingHeadersMerge TrailingHeaderPolicy = "merge"
)

// Side identifies which endpoint of the session this engine plays. It
// drives stream-id parity: client-initiated streams use odd ids, server
// streams even ids, and ping ids follow the same split.
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

const (
	// DefaultMaxFrameSize bounds a single frame payload. Full 24-bit frames
	// (16MB) are too large for small hosts; every implementation must accept
	// at least 8192 octets, so that is the default cap.
	DefaultMaxFrameSize uint32 = 8192

	// DefaultPriority is the level assigned to streams the caller does not
	// classify. 7 is the lowest level, matching bulk-resource behavior.
	DefaultPriority uint8 = 7

	maxFramePayload = 1<<24 - 1
	numPriorities   = 8
)

// Options are the construction parameters for one engine session.
type Options struct {
	// MaxFrameSize is the largest single frame payload accepted or produced.
	MaxFrameSize uint32 `json:"max_frame_size,omitempty" toml:"max_frame_size,omitempty"`

	// DefaultPriority is assigned to streams not otherwise classified.
	DefaultPriority uint8 `json:"default_priority,omitempty" toml:"default_priority,omitempty"`

	// TrailingHeaders picks the late-HEADERS policy, discard or merge.
	TrailingHeaders TrailingHeaderPolicy `json:"trailing_headers,omitempty" toml:"trailing_headers,omitempty"`

	// Side is the endpoint role, client or server.
	Side Side `json:"side,omitempty" toml:"side,omitempty"`
}

// Default returns the documented default options for a server-side engine.
func Default() Options {
	return Options{
		MaxFrameSize:    DefaultMaxFrameSize,
		DefaultPriority: DefaultPriority,
		TrailingHeaders: TrailingHeadersDiscard,
		Side:            SideServer,
	}
}

// Validate checks the options and fills zero values with defaults. It
// returns an error for values that cannot be defaulted away.
func (o *Options) Validate() error {
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.MaxFrameSize > maxFramePayload {
		return fmt.Errorf("max_frame_size %d exceeds the 24-bit wire limit %d", o.MaxFrameSize, maxFramePayload)
	}
	if o.DefaultPriority >= numPriorities {
		return fmt.Errorf("default_priority %d outside 0..%d", o.DefaultPriority, numPriorities-1)
	}
	switch o.TrailingHeaders {
	case "":
		o.TrailingHeaders = TrailingHeadersDiscard
	case TrailingHeadersDiscard, TrailingHeadersMerge:
	default:
		return fmt.Errorf("trailing_headers %q must be %q or %q", o.TrailingHeaders, TrailingHeadersDiscard, TrailingHeadersMerge)
	}
	switch o.Side {
	case "":
		o.Side = SideServer
	case SideClient, SideServer:
	default:
		return fmt.Errorf("side %q must be %q or %q", o.Side, SideClient, SideServer)
	}
	return nil
}

// Load reads options from a TOML or JSON file, chosen by extension
// (.toml/.json); anything else is tried as TOML first, then JSON. The
// result is validated.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	opts := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &opts)
	case ".json":
		err = json.Unmarshal(data, &opts)
	default:
		if tomlErr := toml.Unmarshal(data, &opts); tomlErr != nil {
			opts = Default()
			if jsonErr := json.Unmarshal(data, &opts); jsonErr != nil {
				err = fmt.Errorf("not valid TOML (%v) nor JSON (%v)", tomlErr, jsonErr)
			}
		}
	}
	if err != nil {
		return Options{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return opts, nil
}
