// Package config loads runtime settings from a YAML file.
package config

import (
	"io"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Backend names a device implementation.
type Backend string

// Known backends.
const (
	BackendHost   Backend = "host"
	BackendWebGPU Backend = "webgpu"
	// BackendAuto uses WebGPU when an adapter is available, otherwise the host.
	BackendAuto Backend = "auto"
)

// Config holds the settings of a graph runtime process.
type Config struct {
	Backend    Backend `yaml:"backend"`
	BatchSize  int     `yaml:"batch_size"`
	Sequential bool    `yaml:"sequential"`
	Workers    int     `yaml:"workers"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Backend:   BackendAuto,
		BatchSize: 1,
		Workers:   runtime.GOMAXPROCS(0),
	}
}

// Load reads path and overlays it on Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.WithMessagef(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHost, BackendWebGPU, BackendAuto:
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if c.BatchSize < 1 {
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
