package archive

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// Multi provides deterministic, ordered fallback across several stores.
//
// Reads try Stores in slice order. Put writes only to the first store.
type Multi struct {
	Stores []Store
}

var _ Store = Multi{}

func (m Multi) Put(ctx context.Context, token []byte) (cid.Cid, error) {
	if len(m.Stores) == 0 {
		return cid.Undef, errors.New("archive: Multi has no stores")
	}
	return m.Stores[0].Put(ctx, token)
}

func (m Multi) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	for _, s := range m.Stores {
		b, err := s.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

// Has reports true if any store has id. Errors from a store are returned
// only when no later store has it.
func (m Multi) Has(ctx context.Context, id cid.Cid) (bool, error) {
	var firstErr error
	for _, s := range m.Stores {
		ok, err := s.Has(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}
