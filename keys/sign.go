package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha512"
	"io"

	"github.com/cloudflare/circl/sign/ed448"

	"xdao.co/license/licerr"
	"xdao.co/license/pubkey"
)

// Sign returns a fixed-width signature over msg.
//
// p384 signs SHA-384(msg) with ECDSA using randomness from r (nil selects
// crypto/rand) and encodes the result as r‖s, each left-padded to 48 bytes.
// ed448 is deterministic and ignores r.
func (kp *KeyPair) Sign(r io.Reader, msg []byte) ([]byte, error) {
	switch kp.scheme {
	case pubkey.SchemeP384:
		if r == nil {
			r = rand.Reader
		}
		digest := sha512.Sum384(msg)
		er, es, err := ecdsa.Sign(r, kp.ec, digest[:])
		if err != nil {
			return nil, licerr.Wrap(licerr.KindInternal, "LIC-INT-001", "sign payload", err)
		}
		sig := make([]byte, pubkey.P384SignatureSize)
		er.FillBytes(sig[:pubkey.P384CoordinateSize])
		es.FillBytes(sig[pubkey.P384CoordinateSize:])
		return sig, nil
	case pubkey.SchemeEd448:
		return ed448.Sign(kp.ed, msg, ""), nil
	default:
		return nil, licerr.New(licerr.KindInternal, "LIC-INT-001", "key pair has no signing key")
	}
}

// Deterministic reports whether Sign always returns the same signature for
// the same message.
func (kp *KeyPair) Deterministic() bool { return kp.scheme == pubkey.SchemeEd448 }
