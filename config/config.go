/*
Package config reads and writes the yaml file a conduit client is pointed at.
Writes go through a file lock so separate invocations sharing a config do not
tear each other's output.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/conduitcloud/conduit-go/filelock"
)

const DefaultLogLevel = "info"

type Config struct {
	// Host is the service node endpoint to dial
	Host string `yaml:"host"`

	// AuthEndpoint is POSTed to when subscribing to restricted channels
	AuthEndpoint string `yaml:"authEndpoint,omitempty"`

	LogPath  string `yaml:"logPath,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`
}

// Load reads and validates the config at path
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Path: path}
	} else if err != nil {
		return nil, &FileError{Path: path, InnerErr: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, InnerErr: err}
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &ValidationError{InnerErr: err}
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, &ValidationError{InnerErr: err}
	}

	return &config, nil
}

// Validate checks that all required fields are set
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Save writes the config to path under the given file lock
func (c *Config) Save(path string, fileLock *filelock.FileLock) error {
	if fileLock == nil {
		return fmt.Errorf("fileLock must not be nil")
	}

	if err := c.Validate(); err != nil {
		return &ValidationError{InnerErr: err}
	}

	lock, err := fileLock.NewLock()
	if err != nil {
		return fmt.Errorf("failed to create lock: %s", err)
	}

	for {
		if acquiredLock, err := lock.TryLock(); err != nil {
			return fmt.Errorf("failed to acquire lock: %s", err)
		} else if acquiredLock {
			break
		}
	}

	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	// create if not exists, else overwrite entirely
	file, err := os.Create(path)
	if err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	defer file.Close()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if _, err := file.Write(data); err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	return nil
}
