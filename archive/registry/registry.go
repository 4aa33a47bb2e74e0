// Package registry links archive backends into binaries at build time.
//
// Backends register themselves in init():
//
//	registry.MustRegister(registry.Backend{ ... })
//
// and a binary enables a backend by importing its package (often as a blank
// import). Backend options are pflag flags, so the same backend can be opened
// from command-line flags (Open) or from a key/value config (OpenWithConfig).
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/pflag"

	"xdao.co/license/archive"
)

// Backend is a build-time plugin that can open an archive.Store.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// RegisterFlags adds backend-specific flags to fs.
	RegisterFlags func(fs *pflag.FlagSet)

	// Open constructs the store from the flags registered by RegisterFlags.
	// It returns an optional close function.
	Open func(fs *pflag.FlagSet) (archive.Store, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.RegisterFlags == nil {
		return fmt.Errorf("registry: backend %q missing RegisterFlags", b.Name)
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags registers flags for all backends matching usage on fs.
func RegisterFlags(fs *pflag.FlagSet, usage Usage) {
	for _, b := range List(usage) {
		b.RegisterFlags(fs)
	}
}

func lookup(name string, usage Usage) (Backend, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("unknown archive backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return Backend{}, fmt.Errorf("archive backend %q not supported in this binary", name)
	}
	return b, nil
}

// Open opens the named backend using flags already parsed into fs.
// fs must have been passed to RegisterFlags.
func Open(name string, usage Usage, fs *pflag.FlagSet) (archive.Store, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	return b.Open(fs)
}

// OpenWithConfig opens the named backend with options given as flag name to
// value pairs (e.g. {"localfs-dir": "/var/lib/licenses"}). Unknown keys are
// rejected.
func OpenWithConfig(name string, usage Usage, cfg map[string]string) (archive.Store, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	b.RegisterFlags(fs)

	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fs.Lookup(k) == nil {
			return nil, nil, fmt.Errorf("archive backend %q: unknown option %q", name, k)
		}
		if err := fs.Set(k, cfg[k]); err != nil {
			return nil, nil, fmt.Errorf("archive backend %q: option %q: %w", name, k, err)
		}
	}
	return b.Open(fs)
}
