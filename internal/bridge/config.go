package bridge

import (
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/ftlsock"
	"gopkg.in/yaml.v3"
)

// Default file locations on the appliance.
const (
	defaultListenAddr    = "127.0.0.1:4711"
	defaultDBPath        = "/etc/pihole/pihole-FTL.db"
	defaultSetupVarsPath = "/etc/pihole/setupVars.conf"
)

// config is the bridge's YAML configuration.
type config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// SocketPath is the resolver's control socket.
	SocketPath string `yaml:"socket_path"`

	// ShmDir is the directory holding the resolver's shared-memory
	// segments.
	ShmDir string `yaml:"shm_dir"`

	// DBPath is the resolver's long-term query database.  Empty disables
	// the persisted store.
	DBPath string `yaml:"db_path"`

	// SetupVarsPath is the appliance's key=value settings file.
	SetupVarsPath string `yaml:"setupvars_path"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// defaultConfig returns the configuration used when no file overrides it.
func defaultConfig() (conf *config) {
	return &config{
		ListenAddr:    defaultListenAddr,
		SocketPath:    ftlsock.DefaultSocketPath,
		ShmDir:        ftlmem.DefaultShmDir,
		DBPath:        defaultDBPath,
		SetupVarsPath: defaultSetupVarsPath,
	}
}

// validate returns an error if the configuration cannot be served.
func (conf *config) validate() (err error) {
	switch {
	case conf.ListenAddr == "":
		return errors.Error("no listen_addr")
	case conf.SocketPath == "":
		return errors.Error("no socket_path")
	case conf.ShmDir == "":
		return errors.Error("no shm_dir")
	default:
		return nil
	}
}

// readConfig reads the configuration file at path, if there is one, over the
// defaults.
func readConfig(path string) (conf *config, err error) {
	conf = defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}

		return nil, fmt.Errorf("reading config: %w", err)
	}

	err = yaml.Unmarshal(data, conf)
	if err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	err = conf.validate()
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}

	return conf, nil
}
