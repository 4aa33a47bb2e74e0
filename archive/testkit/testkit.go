// Package testkit holds the behavioral tests every archive backend must pass.
package testkit

import (
	"bytes"
	"context"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/license/archive"
	"xdao.co/license/cidutil"
)

// NewStore constructs a fresh, empty store for a test.
// The returned store MUST be isolated from other tests.
type NewStore func(t *testing.T) archive.Store

func RunConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		st := newStore(t)
		want := []byte("eyJtYWNoaW5lX2lkIjoibSJ9fHxzaWc=")

		id, err := st.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.CIDv1RawSHA256CID(want)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}
		if id != wantID {
			t.Fatalf("Put id mismatch: got %s want %s", id, wantID)
		}

		got, err := st.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
		if !cidutil.Matches(id, got) {
			t.Fatalf("Get returned bytes not matching requested id")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		st := newStore(t)
		b := []byte("same token")

		id1, err := st.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := st.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		st := newStore(t)
		b := []byte("missing")
		id, err := cidutil.CIDv1RawSHA256CID(b)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}

		if ok, err := st.Has(ctx, id); err != nil || ok {
			t.Fatalf("Has for missing id: ok=%v err=%v", ok, err)
		}
		if _, err := st.Get(ctx, id); !archive.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if _, err := st.Put(ctx, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if ok, err := st.Has(ctx, id); err != nil || !ok {
			t.Fatalf("Has after Put: ok=%v err=%v", ok, err)
		}
	})

	t.Run("RejectUndefID", func(t *testing.T) {
		st := newStore(t)
		var undef cid.Cid
		if ok, _ := st.Has(ctx, undef); ok {
			t.Fatalf("Has should be false for undefined id")
		}
		if _, err := st.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined id")
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		st := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := st.Put(cctx, []byte("late")); err == nil {
			t.Fatalf("Put should fail with a cancelled context")
		}
	})
}
