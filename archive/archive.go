// Package archive stores issued license tokens in content-addressed,
// immutable stores.
//
// A license id is the CIDv1 (raw, sha2-256) of the exact token bytes, see
// cidutil. Backends live in subpackages and register themselves with
// archive/registry.
package archive

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Store is a minimal content-addressed license store.
//
// Contract:
//   - Put MUST be idempotent.
//   - Stored tokens MUST be immutable.
//   - ids MUST be derived from the bytes written.
//   - Get MUST return ErrNotFound when the id is absent.
type Store interface {
	Put(ctx context.Context, token []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}
