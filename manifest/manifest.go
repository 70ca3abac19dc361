// Package manifest handles keel.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/keelvm/keel/vm"
)

// Manifest represents a keel.toml project configuration.
type Manifest struct {
	Project Project   `toml:"project"`
	JIT     JITConfig `toml:"jit"`

	// Dir is the directory containing the keel.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// JITConfig configures the JIT engine.
type JITConfig struct {
	MinCalls     int  `toml:"min-calls"`
	MaxCacheSize int  `toml:"max-cache-size"`
	Warnings     bool `toml:"warnings"`
	Verbose      int  `toml:"verbose"`
	SaveTemps    bool `toml:"save-temps"`
	Wait         bool `toml:"wait"`

	// WaitTimeoutSecs bounds synchronous waits; 0 means the engine default.
	WaitTimeoutSecs int `toml:"wait-timeout-secs"`

	// Persistence is "", "archive", or "index".
	Persistence     string `toml:"persistence"`
	PersistencePath string `toml:"persistence-path"`
}

// Load parses a keel.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "keel.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a keel.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "keel.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Options translates the JIT table into engine options. Unset numeric
// fields stay zero and take the engine defaults.
func (m *Manifest) Options() (vm.Options, error) {
	opts := vm.Options{
		MinCalls:        m.JIT.MinCalls,
		MaxCacheSize:    m.JIT.MaxCacheSize,
		Warnings:        m.JIT.Warnings,
		Verbose:         m.JIT.Verbose,
		SaveTemps:       m.JIT.SaveTemps,
		Wait:            m.JIT.Wait,
		WaitTimeout:     time.Duration(m.JIT.WaitTimeoutSecs) * time.Second,
		PersistencePath: m.JIT.PersistencePath,
	}

	switch m.JIT.Persistence {
	case "":
		opts.Persistence = vm.PersistenceNone
	case "archive":
		opts.Persistence = vm.PersistenceArchive
	case "index":
		opts.Persistence = vm.PersistenceIndex
	default:
		return opts, fmt.Errorf("unknown persistence mode %q", m.JIT.Persistence)
	}

	if opts.Persistence != vm.PersistenceNone && opts.PersistencePath == "" {
		return opts, fmt.Errorf("persistence mode %q requires persistence-path", m.JIT.Persistence)
	}

	return opts, nil
}
