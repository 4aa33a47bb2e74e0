// Package archiveconfig opens one or more archive backends from
// configuration.
//
// Callers still need to link the backends they want via blank imports.
//
// WritePolicy values:
//   - "first" (default): write only to the first backend; reads fall back in order
//   - "all": write to all backends and require id equality (see archive.Replicating)
//
// Example (YAML):
//
//	write_policy: all
//	backends:
//	  - name: localfs
//	    config: {localfs-dir: /var/lib/xdao/licenses}
//	  - name: grpc
//	    id: central
//	    config: {grpc-target: "archive.internal:7443"}
package archiveconfig

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"xdao.co/license/archive"
	"xdao.co/license/archive/registry"
)

const (
	WriteFirst = "first"
	WriteAll   = "all"
)

type Config struct {
	WritePolicy string          `yaml:"write_policy,omitempty" json:"write_policy,omitempty" validate:"omitempty,oneof=first all"`
	Backends    []BackendConfig `yaml:"backends" json:"backends" validate:"dive"`
}

type BackendConfig struct {
	// Name is the registry backend to open (e.g. "localfs", "grpc").
	Name string `yaml:"name" json:"name" validate:"required"`
	// ID is an optional stable alias used in per-backend id maps.
	// If empty, Name is used.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`
	// Config holds backend options keyed by flag name.
	Config map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}

func (b BackendConfig) key() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

// Enabled reports whether any backend is configured.
func (c Config) Enabled() bool { return len(c.Backends) > 0 }

var validate = validator.New()

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("archiveconfig: at least one backend is required")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("archiveconfig: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if _, ok := seen[b.key()]; ok {
			return fmt.Errorf("archiveconfig: duplicate backend id %q", b.key())
		}
		seen[b.key()] = struct{}{}
	}
	return nil
}

// Open opens an archive per config.
//
// If preferred is non-empty, backends are reordered so the backend with that
// name or id is first (and thus used for writes under the "first" policy).
func (c Config) Open(usage registry.Usage, preferred string) (archive.Store, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferred != "" {
		idx := -1
		for i := range ordered {
			if ordered[i].Name == preferred || ordered[i].ID == preferred {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("archiveconfig: preferred backend %q not found in config", preferred)
		}
		b := ordered[idx]
		copy(ordered[1:idx+1], ordered[0:idx])
		ordered[0] = b
	}

	named := make([]archive.Named, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range ordered {
		st, closeFn, err := registry.OpenWithConfig(b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("archiveconfig: backend %q: %w", b.key(), err)
		}
		named = append(named, archive.Named{Name: b.key(), Store: st})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}
	if c.WritePolicy == WriteAll {
		return archive.Replicating{Backends: named}, closeAll, nil
	}
	stores := make([]archive.Store, 0, len(named))
	for _, n := range named {
		stores = append(stores, n.Store)
	}
	return archive.Multi{Stores: stores}, closeAll, nil
}
