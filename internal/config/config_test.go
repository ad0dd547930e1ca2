package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	opts := Default()
	assert.Equal(t, DefaultMaxFrameSize, opts.MaxFrameSize)
	assert.Equal(t, DefaultPriority, opts.DefaultPriority)
	assert.Equal(t, TrailingHeadersDiscard, opts.TrailingHeaders)
	assert.Equal(t, SideServer, opts.Side)
	assert.NoError(t, opts.Validate())
}

func TestValidateFillsZeroValues(t *testing.T) {
	var opts Options
	require.NoError(t, opts.Validate())
	assert.Equal(t, DefaultMaxFrameSize, opts.MaxFrameSize)
	assert.Equal(t, TrailingHeadersDiscard, opts.TrailingHeaders)
	assert.Equal(t, SideServer, opts.Side)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"frame size over wire limit", Options{MaxFrameSize: 1 << 24}},
		{"priority out of range", Options{DefaultPriority: 8}},
		{"unknown trailing policy", Options{TrailingHeaders: "buffer"}},
		{"unknown side", Options{Side: "proxy"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.opts.Validate())
		})
	}
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeTempConfig(t, "engine.toml", `
max_frame_size = 4096
default_priority = 2
trailing_headers = "merge"
side = "client"
`)
	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), opts.MaxFrameSize)
	assert.Equal(t, uint8(2), opts.DefaultPriority)
	assert.Equal(t, TrailingHeadersMerge, opts.TrailingHeaders)
	assert.Equal(t, SideClient, opts.Side)
}

func TestLoadJSON(t *testing.T) {
	path := writeTempConfig(t, "engine.json", `{"max_frame_size": 2048, "side": "client"}`)
	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), opts.MaxFrameSize)
	assert.Equal(t, SideClient, opts.Side)
	// Unset fields keep their defaults.
	assert.Equal(t, TrailingHeadersDiscard, opts.TrailingHeaders)
}

func TestLoadUnknownExtensionTriesBoth(t *testing.T) {
	path := writeTempConfig(t, "engine.conf", `{"default_priority": 1}`)
	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), opts.DefaultPriority)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := writeTempConfig(t, "engine.toml", "max_frame_size = {")
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := writeTempConfig(t, "engine.json", `{"side": "proxy"}`)
	_, err = Load(invalid)
	assert.Error(t, err)
}
