package keys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"xdao.co/license/pubkey"
)

// DefaultKeyPath is where the CLI keeps the issuing key unless configured otherwise.
const DefaultKeyPath = "~/.xdao/license/private_key.pem"

// ErrKeyNotFound is returned by Store.Load when no key file exists.
var ErrKeyNotFound = errors.New("private key not found")

// ErrKeyExists is returned by Store.Save when the key file exists and overwrite is false.
var ErrKeyExists = errors.New("private key already exists")

// Store persists a single private key file.
//
// Files are created with mode 0600 inside a 0700 directory. Existing keys are
// never replaced unless overwrite is requested.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore returns a Store for path on fs. An empty path selects
// DefaultKeyPath; a leading ~ is expanded to the user's home directory.
func NewStore(fs afero.Fs, path string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if path == "" {
		path = DefaultKeyPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand key path %q: %w", path, err)
	}
	return &Store{fs: fs, path: filepath.Clean(expanded)}, nil
}

// Path returns the resolved key file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether the key file is present.
func (s *Store) Exists() (bool, error) {
	return afero.Exists(s.fs, s.path)
}

// Load reads and decodes the key file.
func (s *Store) Load() (*KeyPair, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, s.path)
		}
		return nil, fmt.Errorf("read key %s: %w", s.path, err)
	}
	return ImportPrivate(data)
}

// Save writes kp to the key file.
func (s *Store) Save(kp *KeyPair, overwrite bool) error {
	data, err := ExportPrivate(kp)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := s.fs.OpenFile(s.path, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, s.path)
		}
		return fmt.Errorf("open key %s: %w", s.path, err)
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write key %s: %w", s.path, err)
	}
	return file.Close()
}

// Init generates a new key pair and saves it.
func (s *Store) Init(r io.Reader, scheme pubkey.Scheme, overwrite bool) (*KeyPair, error) {
	if !overwrite {
		exists, err := s.Exists()
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrKeyExists, s.path)
		}
	}
	kp, err := Generate(r, scheme)
	if err != nil {
		return nil, err
	}
	if err := s.Save(kp, overwrite); err != nil {
		return nil, err
	}
	return kp, nil
}
