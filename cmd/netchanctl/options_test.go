package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/netchannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("example.com:7777")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 7777, port)

	for _, bad := range []string{"example.com", "example.com:http", "example.com:0", "example.com:70000"} {
		_, _, err := splitHostPort(bad)
		assert.Error(t, err, bad)
	}
}

func TestGlobalFlagsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netchannel.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection_key = "from-file"
bind_address = "10.0.0.1"
`), 0o600))

	t.Setenv("NETCHANNEL_KEY", "from-env")

	flags := &globalFlags{configPath: path}
	opts, err := flags.options()
	require.NoError(t, err)
	assert.Equal(t, "from-file", opts.ConnectionKey)
	assert.Equal(t, "10.0.0.1", opts.BindAddress)

	flags = &globalFlags{}
	opts, err = flags.options()
	require.NoError(t, err)
	assert.Equal(t, "from-env", opts.ConnectionKey)

	flags = &globalFlags{configPath: path, key: "from-flag", bind: "127.0.0.1"}
	opts, err = flags.options(func(o *netchannel.Options) { o.Seed = 9 })
	require.NoError(t, err)
	assert.Equal(t, "from-flag", opts.ConnectionKey)
	assert.Equal(t, "127.0.0.1", opts.BindAddress)
	assert.Equal(t, int64(9), opts.Seed)
}

func TestGlobalFlagsMissingConfig(t *testing.T) {
	flags := &globalFlags{configPath: filepath.Join(t.TempDir(), "missing.toml")}
	_, err := flags.options()
	assert.Error(t, err)
}
