package archive

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/license/cidutil"
)

// Named associates a Store with a stable backend name.
type Named struct {
	Name  string
	Store Store
}

// Replicating writes to all configured backends.
//
// Reads fall back in order. Writes go to all backends and require every
// returned id to match the id of the token (otherwise ErrIDMismatch).
type Replicating struct {
	Backends []Named
}

var _ Store = Replicating{}

// PutAll writes token to all backends and returns the license id plus the
// id each backend reported.
func (r Replicating) PutAll(ctx context.Context, token []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(token)
	if err != nil {
		return cid.Undef, nil, err
	}
	if !want.Defined() {
		return cid.Undef, nil, ErrInvalidID
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, fmt.Errorf("archive: Replicating has no backends")
	}

	out := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store == nil {
			return cid.Undef, nil, fmt.Errorf("archive: nil store for backend %q", b.Name)
		}
		got, err := b.Store.Put(ctx, token)
		if err != nil {
			return cid.Undef, out, fmt.Errorf("archive: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if !got.Equals(want) {
			return cid.Undef, out, ErrIDMismatch
		}
	}
	return want, out, nil
}

func (r Replicating) Put(ctx context.Context, token []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, token)
	return id, err
}

func (r Replicating) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return r.multi().Get(ctx, id)
}

func (r Replicating) Has(ctx context.Context, id cid.Cid) (bool, error) {
	return r.multi().Has(ctx, id)
}

func (r Replicating) multi() Multi {
	m := Multi{Stores: make([]Store, 0, len(r.Backends))}
	for _, b := range r.Backends {
		if b.Store != nil {
			m.Stores = append(m.Stores, b.Store)
		}
	}
	return m
}
