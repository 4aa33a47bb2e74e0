package cidutil

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func TestCIDv1RawSHA256_ParsesBack(t *testing.T) {
	token := []byte("eyJtYWNoaW5lX2lkIjoibSJ9fHxzaWc=")
	s := CIDv1RawSHA256(token)
	if s == "" {
		t.Fatalf("expected a cid")
	}
	id, err := ParseLicenseID(s)
	if err != nil {
		t.Fatalf("ParseLicenseID: %v", err)
	}
	if !Matches(id, token) {
		t.Fatalf("expected id to match its token")
	}
	if Matches(id, []byte("other")) {
		t.Fatalf("expected mismatch for different bytes")
	}
}

func TestParseLicenseID_RejectsOtherShapes(t *testing.T) {
	sum, err := multihash.Sum([]byte("x"), multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash.Sum: %v", err)
	}
	if _, err := ParseLicenseID(cid.NewCidV1(cid.DagCBOR, sum).String()); err == nil {
		t.Fatalf("expected error for non-raw codec")
	}
	if _, err := ParseLicenseID(cid.NewCidV0(sum).String()); err == nil {
		t.Fatalf("expected error for CIDv0")
	}
	sha512, err := multihash.Sum([]byte("x"), multihash.SHA2_512, -1)
	if err != nil {
		t.Fatalf("multihash.Sum: %v", err)
	}
	if _, err := ParseLicenseID(cid.NewCidV1(cid.Raw, sha512).String()); err == nil {
		t.Fatalf("expected error for sha2-512")
	}
	if _, err := ParseLicenseID("not-a-cid"); err == nil {
		t.Fatalf("expected decode error")
	}
}
