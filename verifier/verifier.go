// Package verifier checks license tokens offline against one or more trust anchors.
//
// Verification is a fixed, short-circuiting pipeline:
//
//  1. decode the trust anchor (InvalidPublicKey)
//  2. decode the container (MalformedContainer)
//  3. check the signature over the payload bytes (BadSignature)
//  4. decode the canonical payload (MalformedPayload)
//  5. check expiry, now >= expires_at (ExpiredLicense)
//  6. optionally check the machine binding (MachineMismatch)
//
// Payload contents are never interpreted before the signature is verified.
// This package depends on pubkey and license only; it never sees private keys.
package verifier

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"xdao.co/license/licerr"
	"xdao.co/license/license"
	"xdao.co/license/pubkey"
)

// EmbeddedTrustAnchor is the trust anchor compiled into the binary, set with
//
//	-ldflags "-X xdao.co/license/verifier.EmbeddedTrustAnchor=<hex>"
//
// Several anchors may be given separated by commas, to accept licenses from
// both the old and the new key during a key rotation.
var EmbeddedTrustAnchor string

// Result is a successful verification.
type Result struct {
	Claims license.Claims
	// Anchor is the trust anchor that accepted the signature.
	Anchor *pubkey.PublicKey
}

// Verifier checks licenses against a fixed set of trust anchors.
type Verifier struct {
	anchorHex []string
	anchors   []*pubkey.PublicKey
	clock     clock.PassiveClock
	machineID string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTrustAnchors adds trust anchors. Each value may hold several
// comma-separated anchors.
func WithTrustAnchors(hex ...string) Option {
	return func(v *Verifier) {
		for _, h := range hex {
			v.anchorHex = append(v.anchorHex, SplitAnchors(h)...)
		}
	}
}

// WithClock sets the time source used by Verify.
func WithClock(c clock.PassiveClock) Option {
	return func(v *Verifier) {
		v.clock = c
	}
}

// WithMachineID requires verified licenses to be bound to id.
func WithMachineID(id string) Option {
	return func(v *Verifier) {
		v.machineID = id
	}
}

// New returns a Verifier. All trust anchors are decoded up front; at least
// one is required.
func New(opts ...Option) (*Verifier, error) {
	v := &Verifier{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(v)
	}
	if len(v.anchorHex) == 0 {
		return nil, licerr.New(licerr.KindInvalidPublicKey, "LIC-PUB-001", "no trust anchor configured")
	}
	for _, h := range v.anchorHex {
		pk, err := pubkey.ParseHex(h)
		if err != nil {
			return nil, err
		}
		v.anchors = append(v.anchors, pk)
	}
	return v, nil
}

// Default returns a Verifier for EmbeddedTrustAnchor.
func Default(opts ...Option) (*Verifier, error) {
	return New(append([]Option{WithTrustAnchors(EmbeddedTrustAnchor)}, opts...)...)
}

// Anchors returns the decoded trust anchors.
func (v *Verifier) Anchors() []*pubkey.PublicKey {
	return append([]*pubkey.PublicKey(nil), v.anchors...)
}

// Verify checks token at the verifier's current time.
func (v *Verifier) Verify(token string) (license.Claims, error) {
	res, err := v.Check(token, v.clock.Now())
	if err != nil {
		return license.Claims{}, err
	}
	return res.Claims, nil
}

// Check verifies token at now and reports which anchor accepted it.
func (v *Verifier) Check(token string, now time.Time) (*Result, error) {
	payload, sig, err := license.DecodeContainer(token)
	if err != nil {
		return nil, err
	}
	anchor, err := v.verifySignature(payload, sig)
	if err != nil {
		return nil, err
	}
	claims, err := license.Decanonicalize(payload)
	if err != nil {
		return nil, err
	}
	if claims.Expired(now) {
		return nil, licerr.New(licerr.KindExpiredLicense, "LIC-EXP-001",
			fmt.Sprintf("license expired at %s", claims.ExpiresAt.Format(license.TimeLayout)))
	}
	if v.machineID != "" && claims.MachineID != v.machineID {
		return nil, licerr.New(licerr.KindMachineMismatch, "LIC-MID-101",
			fmt.Sprintf("license is bound to machine %q", claims.MachineID))
	}
	return &Result{Claims: claims, Anchor: anchor}, nil
}

// Authenticate checks only the container and signature of token and returns
// the accepting anchor. Expiry and payload contents are not examined.
func (v *Verifier) Authenticate(token string) (*pubkey.PublicKey, error) {
	payload, sig, err := license.DecodeContainer(token)
	if err != nil {
		return nil, err
	}
	return v.verifySignature(payload, sig)
}

func (v *Verifier) verifySignature(payload, sig []byte) (*pubkey.PublicKey, error) {
	var firstErr error
	for _, a := range v.anchors {
		err := a.Verify(payload, sig)
		if err == nil {
			return a, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if len(v.anchors) == 1 {
		return nil, firstErr
	}
	return nil, licerr.Wrap(licerr.KindBadSignature, "LIC-SIG-001", "signature does not match any trust anchor", firstErr)
}

// Verify checks token against a single trust anchor at now.
func Verify(token, publicHex string, now time.Time) (license.Claims, error) {
	pk, err := pubkey.ParseHex(publicHex)
	if err != nil {
		return license.Claims{}, err
	}
	v := &Verifier{anchors: []*pubkey.PublicKey{pk}}
	res, err := v.Check(token, now)
	if err != nil {
		return license.Claims{}, err
	}
	return res.Claims, nil
}

// SplitAnchors splits a comma or whitespace separated list of trust anchors.
func SplitAnchors(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}
