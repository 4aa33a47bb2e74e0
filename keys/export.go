package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"github.com/cloudflare/circl/sign/ed448"

	"xdao.co/license/licerr"
	"xdao.co/license/pubkey"
)

const (
	pemTypeSEC1     = "EC PRIVATE KEY"
	pemTypePKCS8    = "PRIVATE KEY"
	pemTypeECParams = "EC PARAMETERS"
)

var (
	// RFC 8410 id-Ed448.
	oidEd448       = asn1.ObjectIdentifier{1, 3, 101, 113}
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp384r1   = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
)

// curveNames labels named curves in error messages, including the ones
// crypto/x509 cannot parse.
var curveNames = map[string]string{
	"1.2.840.10045.3.1.7":   "P-256",
	"1.3.132.0.33":          "P-224",
	"1.3.132.0.35":          "P-521",
	"1.3.132.0.10":          "secp256k1",
	"1.3.36.3.3.2.8.1.1.7":  "brainpoolP256r1",
	"1.3.36.3.3.2.8.1.1.11": "brainpoolP384r1",
	"1.3.36.3.3.2.8.1.1.13": "brainpoolP512r1",
}

// ecPrivateKey is the SEC1 ECPrivateKey structure (RFC 5915).
type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

// pkcs8 mirrors the OneAsymmetricKey structure without the optional fields.
type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

// ExportPrivate encodes the private key as PEM.
func ExportPrivate(kp *KeyPair) ([]byte, error) {
	if kp == nil {
		return nil, licerr.New(licerr.KindInternal, "LIC-INT-001", "missing key pair")
	}
	switch kp.scheme {
	case pubkey.SchemeP384:
		der, err := x509.MarshalECPrivateKey(kp.ec)
		if err != nil {
			return nil, licerr.Wrap(licerr.KindInternal, "LIC-INT-001", "marshal p384 key", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: pemTypeSEC1, Bytes: der}), nil
	case pubkey.SchemeEd448:
		inner, err := asn1.Marshal(kp.ed.Seed())
		if err != nil {
			return nil, licerr.Wrap(licerr.KindInternal, "LIC-INT-001", "marshal ed448 seed", err)
		}
		der, err := asn1.Marshal(pkcs8{
			Algo:       pkix.AlgorithmIdentifier{Algorithm: oidEd448},
			PrivateKey: inner,
		})
		if err != nil {
			return nil, licerr.Wrap(licerr.KindInternal, "LIC-INT-001", "marshal ed448 key", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der}), nil
	default:
		return nil, licerr.New(licerr.KindInternal, "LIC-INT-001", "key pair has no signing key")
	}
}

// ImportPrivate decodes a PEM private key produced by ExportPrivate (or by
// common tooling: SEC1 and PKCS#8 are both accepted, and a leading
// "EC PARAMETERS" block is skipped).
//
// Malformed input fails with KindKeyFormat. A well-formed key on another curve
// or for another algorithm fails with KindKeyCurveMismatch.
func ImportPrivate(data []byte) (*KeyPair, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, licerr.New(licerr.KindKeyFormat, "LIC-KEY-001", "no PEM private key block found")
		}
		switch block.Type {
		case pemTypeECParams:
			continue
		case pemTypeSEC1:
			priv, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				if mismatch := curveMismatch(sec1Curve(block.Bytes)); mismatch != nil {
					return nil, mismatch
				}
				return nil, licerr.Wrap(licerr.KindKeyFormat, "LIC-KEY-002", "invalid EC private key", err)
			}
			return fromParsedECDSA(priv)
		case pemTypePKCS8:
			return parsePKCS8(block.Bytes)
		default:
			return nil, licerr.New(licerr.KindKeyFormat, "LIC-KEY-005", fmt.Sprintf("unsupported PEM block type %q", block.Type))
		}
	}
}

func fromParsedECDSA(priv *ecdsa.PrivateKey) (*KeyPair, error) {
	if priv.Curve != elliptic.P384() {
		return nil, licerr.New(licerr.KindKeyCurveMismatch, "LIC-KEY-101",
			fmt.Sprintf("private key is on %s, want P-384", priv.Curve.Params().Name))
	}
	return fromECDSA(priv)
}

// curveMismatch returns a KindKeyCurveMismatch error when curve names a
// curve other than P-384, and nil when curve is P-384 or absent.
func curveMismatch(curve asn1.ObjectIdentifier) error {
	if len(curve) == 0 || curve.Equal(oidSecp384r1) {
		return nil
	}
	name, ok := curveNames[curve.String()]
	if !ok {
		name = "curve " + curve.String()
	}
	return licerr.New(licerr.KindKeyCurveMismatch, "LIC-KEY-101",
		fmt.Sprintf("private key is on %s, want P-384", name))
}

// sec1Curve returns the named curve of a well-formed SEC1 key, or nil.
func sec1Curve(der []byte) asn1.ObjectIdentifier {
	var k ecPrivateKey
	if rest, err := asn1.Unmarshal(der, &k); err != nil || len(rest) != 0 || k.Version != 1 {
		return nil
	}
	return k.NamedCurveOID
}

// pkcs8Curve returns the named curve of a well-formed PKCS#8 EC key, taken
// from the algorithm parameters or else from the inner SEC1 key.
func pkcs8Curve(raw pkcs8) asn1.ObjectIdentifier {
	if !raw.Algo.Algorithm.Equal(oidECPublicKey) {
		return nil
	}
	var curve asn1.ObjectIdentifier
	if rest, err := asn1.Unmarshal(raw.Algo.Parameters.FullBytes, &curve); err == nil && len(rest) == 0 {
		return curve
	}
	return sec1Curve(raw.PrivateKey)
}

func parsePKCS8(der []byte) (*KeyPair, error) {
	var raw pkcs8
	rest, err := asn1.Unmarshal(der, &raw)
	wellFormed := err == nil && len(rest) == 0
	if wellFormed && raw.Algo.Algorithm.Equal(oidEd448) {
		var seed []byte
		if _, err := asn1.Unmarshal(raw.PrivateKey, &seed); err != nil {
			return nil, licerr.Wrap(licerr.KindKeyFormat, "LIC-KEY-004", "invalid ed448 private key", err)
		}
		if len(seed) != ed448.SeedSize {
			return nil, licerr.New(licerr.KindKeyFormat, "LIC-KEY-004",
				fmt.Sprintf("ed448 seed must be %d bytes, got %d", ed448.SeedSize, len(seed)))
		}
		return fromEd448(ed448.NewKeyFromSeed(seed))
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		if wellFormed {
			if mismatch := curveMismatch(pkcs8Curve(raw)); mismatch != nil {
				return nil, mismatch
			}
		}
		return nil, licerr.Wrap(licerr.KindKeyFormat, "LIC-KEY-003", "invalid PKCS#8 private key", err)
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return fromParsedECDSA(k)
	case ed25519.PrivateKey:
		return nil, licerr.New(licerr.KindKeyCurveMismatch, "LIC-KEY-102", "ed25519 keys are not supported, want P-384 or Ed448")
	default:
		return nil, licerr.New(licerr.KindKeyCurveMismatch, "LIC-KEY-102", fmt.Sprintf("unsupported private key type %T", key))
	}
}
