package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/ed448"

	"xdao.co/license/licerr"
	"xdao.co/license/pubkey"
)

// KeyPair is a private signing key together with its derived public key.
//
// The public half is always computed from the private half, never generated
// independently. KeyPair values are immutable and safe for concurrent use.
type KeyPair struct {
	scheme pubkey.Scheme
	ec     *ecdsa.PrivateKey
	ed     ed448.PrivateKey
	pub    *pubkey.PublicKey
}

// Generate creates a fresh key pair for scheme using randomness from r.
// A nil r selects crypto/rand. A failing random source is reported as
// KindKeyGeneration; no weaker fallback is attempted.
func Generate(r io.Reader, scheme pubkey.Scheme) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	switch scheme {
	case pubkey.SchemeP384, "":
		priv, err := ecdsa.GenerateKey(elliptic.P384(), r)
		if err != nil {
			return nil, licerr.Wrap(licerr.KindKeyGeneration, "LIC-KEY-201", "generate p384 key", err)
		}
		return fromECDSA(priv)
	case pubkey.SchemeEd448:
		_, priv, err := ed448.GenerateKey(r)
		if err != nil {
			return nil, licerr.Wrap(licerr.KindKeyGeneration, "LIC-KEY-201", "generate ed448 key", err)
		}
		return fromEd448(priv)
	default:
		return nil, licerr.New(licerr.KindKeyGeneration, "LIC-KEY-202", fmt.Sprintf("unsupported scheme %q", scheme))
	}
}

func fromECDSA(priv *ecdsa.PrivateKey) (*KeyPair, error) {
	pub, err := pubkey.FromECDSA(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{scheme: pubkey.SchemeP384, ec: priv, pub: pub}, nil
}

func fromEd448(priv ed448.PrivateKey) (*KeyPair, error) {
	pub, err := pubkey.FromEd448(priv.Public().(ed448.PublicKey))
	if err != nil {
		return nil, err
	}
	return &KeyPair{scheme: pubkey.SchemeEd448, ed: priv, pub: pub}, nil
}

func (kp *KeyPair) Scheme() pubkey.Scheme { return kp.scheme }

// Public returns the derived public key.
func (kp *KeyPair) Public() *pubkey.PublicKey { return kp.pub }

// PublicHex returns the trust anchor for the key pair: the fixed-width hex of
// the raw public key (192 characters for p384, 114 for ed448).
func (kp *KeyPair) PublicHex() string { return kp.pub.Hex() }
