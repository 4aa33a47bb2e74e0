// Package pubkey decodes, encodes and verifies with license trust anchors.
//
// A trust anchor is the fixed-width hex encoding of a raw public key. The
// signature scheme is implied by its length:
//   - p384:  X‖Y of the uncompressed P-384 point (96 bytes, 192 hex chars)
//   - ed448: the RFC 8032 Ed448 public key (57 bytes, 114 hex chars)
//
// The verifier depends on this package only; it never needs private key material.
package pubkey

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/cloudflare/circl/ecc/goldilocks"
	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/sha3"

	"xdao.co/license/licerr"
)

// Scheme names a supported signature scheme.
type Scheme string

const (
	SchemeP384  Scheme = "p384"
	SchemeEd448 Scheme = "ed448"
)

const (
	// P384CoordinateSize is the byte width of one P-384 field element.
	P384CoordinateSize = 48
	// P384Size is the byte width of a raw P-384 public key (X‖Y).
	P384Size = 2 * P384CoordinateSize
	// P384HexLen is the length of a P-384 trust anchor in hex characters.
	P384HexLen = 2 * P384Size
	// P384SignatureSize is the byte width of a fixed-width r‖s signature.
	P384SignatureSize = 2 * P384CoordinateSize

	// Ed448HexLen is the length of an Ed448 trust anchor in hex characters.
	Ed448HexLen = 2 * ed448.PublicKeySize
)

// ParseScheme maps a user-provided scheme name to a Scheme. Empty selects p384.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "p384", "p-384", "secp384r1":
		return SchemeP384, nil
	case "ed448":
		return SchemeEd448, nil
	default:
		return "", fmt.Errorf("unsupported signature scheme %q (want p384 or ed448)", s)
	}
}

// SignatureSize returns the fixed signature width for the scheme.
func (s Scheme) SignatureSize() int {
	switch s {
	case SchemeEd448:
		return ed448.SignatureSize
	default:
		return P384SignatureSize
	}
}

// PublicKey is an immutable, validated public key.
type PublicKey struct {
	scheme Scheme
	raw    []byte
	ec     *ecdsa.PublicKey
}

// FromECDSA converts a P-384 ECDSA public key.
func FromECDSA(pub *ecdsa.PublicKey) (*PublicKey, error) {
	if pub == nil {
		return nil, licerr.New(licerr.KindInvalidPublicKey, "LIC-PUB-001", "missing public key")
	}
	if pub.Curve != elliptic.P384() {
		return nil, licerr.New(licerr.KindKeyCurveMismatch, "LIC-KEY-101", "public key is not on P-384")
	}
	ek, err := pub.ECDH()
	if err != nil {
		return nil, licerr.Wrap(licerr.KindInvalidPublicKey, "LIC-PUB-004", "public point is not on P-384", err)
	}
	// Uncompressed encoding: 0x04 ‖ X ‖ Y.
	raw := ek.Bytes()[1:]
	return &PublicKey{scheme: SchemeP384, raw: raw, ec: pub}, nil
}

// FromEd448 converts an Ed448 public key.
func FromEd448(pub ed448.PublicKey) (*PublicKey, error) {
	return parseEd448(pub)
}

// ParseHex decodes a trust anchor. Surrounding whitespace and a 0x prefix are ignored.
func ParseHex(s string) (*PublicKey, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, licerr.New(licerr.KindInvalidPublicKey, "LIC-PUB-001", "missing public key")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, licerr.Wrap(licerr.KindInvalidPublicKey, "LIC-PUB-002", "public key is not valid hex", err)
	}
	switch len(raw) {
	case P384Size:
		return parseP384(raw)
	case ed448.PublicKeySize:
		return parseEd448(raw)
	default:
		return nil, licerr.New(licerr.KindInvalidPublicKey, "LIC-PUB-003",
			fmt.Sprintf("public key must be %d or %d hex characters, got %d", P384HexLen, Ed448HexLen, len(s)))
	}
}

func parseP384(raw []byte) (*PublicKey, error) {
	uncompressed := make([]byte, 0, 1+len(raw))
	uncompressed = append(uncompressed, 0x04)
	uncompressed = append(uncompressed, raw...)
	// crypto/ecdh rejects points that are not on the curve (and the identity).
	if _, err := ecdh.P384().NewPublicKey(uncompressed); err != nil {
		return nil, licerr.Wrap(licerr.KindInvalidPublicKey, "LIC-PUB-004", "public point is not on P-384", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P384(),
		X:     new(big.Int).SetBytes(raw[:P384CoordinateSize]),
		Y:     new(big.Int).SetBytes(raw[P384CoordinateSize:]),
	}
	return &PublicKey{scheme: SchemeP384, raw: append([]byte(nil), raw...), ec: pub}, nil
}

func parseEd448(raw []byte) (*PublicKey, error) {
	if len(raw) != ed448.PublicKeySize {
		return nil, licerr.New(licerr.KindInvalidPublicKey, "LIC-PUB-003",
			fmt.Sprintf("ed448 public key must be %d bytes, got %d", ed448.PublicKeySize, len(raw)))
	}
	if _, err := goldilocks.FromBytes(raw); err != nil {
		return nil, licerr.Wrap(licerr.KindInvalidPublicKey, "LIC-PUB-004", "public point is not on edwards448", err)
	}
	return &PublicKey{scheme: SchemeEd448, raw: append([]byte(nil), raw...)}, nil
}

func (p *PublicKey) Scheme() Scheme { return p.scheme }

// Bytes returns a copy of the raw public key.
func (p *PublicKey) Bytes() []byte { return append([]byte(nil), p.raw...) }

// Hex returns the lowercase trust anchor encoding.
func (p *PublicKey) Hex() string { return hex.EncodeToString(p.raw) }

// Fingerprint returns a short identifier for the key: the first 8 bytes of
// SHA3-256 over the raw key, in hex.
func (p *PublicKey) Fingerprint() string {
	sum := sha3.Sum256(p.raw)
	return hex.EncodeToString(sum[:8])
}

// Equal reports whether both keys have the same scheme and bytes.
func (p *PublicKey) Equal(o *PublicKey) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.scheme == o.scheme && string(p.raw) == string(o.raw)
}

// Verify checks sig over msg. Any failure is reported as KindBadSignature.
//
// p384 signatures are ECDSA over SHA-384(msg), encoded as fixed-width r‖s.
// ed448 signatures are pure Ed448 over msg with an empty context.
func (p *PublicKey) Verify(msg, sig []byte) error {
	if len(sig) != p.scheme.SignatureSize() {
		return licerr.New(licerr.KindBadSignature, "LIC-SIG-002",
			fmt.Sprintf("invalid %s signature length %d", p.scheme, len(sig)))
	}
	var ok bool
	switch p.scheme {
	case SchemeP384:
		digest := sha512.Sum384(msg)
		r := new(big.Int).SetBytes(sig[:P384CoordinateSize])
		s := new(big.Int).SetBytes(sig[P384CoordinateSize:])
		ok = ecdsa.Verify(p.ec, digest[:], r, s)
	case SchemeEd448:
		ok = ed448.Verify(ed448.PublicKey(p.raw), msg, sig, "")
	}
	if !ok {
		return licerr.New(licerr.KindBadSignature, "LIC-SIG-001", "signature verification failed")
	}
	return nil
}
