// Package cidutil derives content identifiers for archived license tokens.
//
// A license id is a CIDv1 with the "raw" multicodec and a sha2-256 multihash
// over the exact token bytes.
package cidutil

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	c, err := CIDv1RawSHA256CID(data)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1 length,
		// this should be unreachable.
		return ""
	}
	return c.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ParseLicenseID decodes s and checks that it has the license id shape.
func ParseLicenseID(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if c.Version() != 1 || c.Type() != cid.Raw {
		return cid.Undef, fmt.Errorf("license id must be a CIDv1 raw, got %s", c)
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return cid.Undef, err
	}
	if decoded.Code != multihash.SHA2_256 {
		return cid.Undef, fmt.Errorf("license id must use sha2-256, got %s", multihash.Codes[decoded.Code])
	}
	return c, nil
}

// Matches reports whether id is the license id of data.
func Matches(id cid.Cid, data []byte) bool {
	got, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return false
	}
	return bytes.Equal(got.Bytes(), id.Bytes())
}
