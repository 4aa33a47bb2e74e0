// Package localfs is a directory-backed license archive.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/spf13/afero"

	"xdao.co/license/archive"
	"xdao.co/license/cidutil"
)

// Store keeps each token in its own read-only file, sharded by the first two
// characters of its license id.
//
// It never uses the network and never depends on wall-clock time.
type Store struct {
	fs   afero.Fs
	root string
}

var _ archive.Store = (*Store)(nil)

// New constructs a store rooted at root on fs (nil selects the OS
// filesystem). The directory is created if needed.
func New(fs afero.Fs, root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{fs: fs, root: root}, nil
}

func (s *Store) Put(ctx context.Context, token []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1RawSHA256CID(token)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, archive.ErrInvalidID
	}

	path := s.pathFor(id)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			existing, rerr := s.Get(ctx, id)
			if rerr != nil {
				// An unreadable or corrupted existing file is an immutability violation.
				return cid.Undef, archive.ErrImmutable
			}
			if !bytes.Equal(existing, token) {
				return cid.Undef, archive.ErrImmutable
			}
			return id, nil
		}
		return cid.Undef, err
	}
	defer f.Close()

	if _, err := f.Write(token); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(path)
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(path)
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(path)
		return cid.Undef, err
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !id.Defined() {
		return nil, archive.ErrInvalidID
	}
	b, err := afero.ReadFile(s.fs, s.pathFor(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, archive.ErrNotFound
		}
		return nil, err
	}
	if !cidutil.Matches(id, b) {
		return nil, archive.ErrIDMismatch
	}
	return b, nil
}

func (s *Store) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !id.Defined() {
		return false, nil
	}
	return afero.Exists(s.fs, s.pathFor(id))
}

func (s *Store) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}
