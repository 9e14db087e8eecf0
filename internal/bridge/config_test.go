package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adhole/ftlbridge/internal/ftlsock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftlbridge.yaml")
	data := `
listen_addr: "0.0.0.0:8080"
shm_dir: "/tmp/shm"
db_path: ""
verbose: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	conf, err := readConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", conf.ListenAddr)
	assert.Equal(t, "/tmp/shm", conf.ShmDir)
	assert.True(t, conf.Verbose)

	// Unset keys keep their defaults; explicitly empty ones do not.
	assert.Equal(t, ftlsock.DefaultSocketPath, conf.SocketPath)
	assert.Empty(t, conf.DBPath)
}

func TestReadConfig_missing(t *testing.T) {
	conf, err := readConfig(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.NoError(t, err)

	assert.Equal(t, defaultConfig(), conf)
}

func TestReadConfig_invalid(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{{
		name: "bad_yaml",
		data: "listen_addr: [\n",
	}, {
		name: "no_listen_addr",
		data: `listen_addr: ""` + "\n",
	}, {
		name: "no_socket_path",
		data: `socket_path: ""` + "\n",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ftlbridge.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.data), 0o644))

			_, err := readConfig(path)
			assert.Error(t, err)
		})
	}
}
