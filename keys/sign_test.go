package keys

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"testing"

	"xdao.co/license/licerr"
	"xdao.co/license/pubkey"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateP384_SignVerifies(t *testing.T) {
	kp, err := Generate(nil, pubkey.SchemeP384)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := len(kp.PublicHex()); got != pubkey.P384HexLen {
		t.Fatalf("public hex length: got %d want %d", got, pubkey.P384HexLen)
	}

	msg := []byte("hello")
	sig, err := kp.Sign(nil, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != pubkey.P384SignatureSize {
		t.Fatalf("unexpected signature size: got %d", len(sig))
	}
	if err := kp.Public().Verify(msg, sig); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
}

func TestGenerateEd448_DeterministicFromReader(t *testing.T) {
	a, err := Generate(&deterministicReader{}, pubkey.SchemeEd448)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(&deterministicReader{}, pubkey.SchemeEd448)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.PublicHex() != b.PublicHex() {
		t.Fatalf("expected same key from same entropy")
	}
	if got := len(a.PublicHex()); got != pubkey.Ed448HexLen {
		t.Fatalf("public hex length: got %d want %d", got, pubkey.Ed448HexLen)
	}

	msg := []byte("hello")
	s1, err := a.Sign(nil, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s2, _ := b.Sign(nil, msg)
	if !bytes.Equal(s1, s2) || !a.Deterministic() {
		t.Fatalf("expected deterministic ed448 signatures")
	}
	if err := a.Public().Verify(msg, s1); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
}

func TestGenerate_RandomSourceFailure(t *testing.T) {
	_, err := Generate(failingReader{}, pubkey.SchemeEd448)
	if !licerr.IsKind(err, licerr.KindKeyGeneration) {
		t.Fatalf("expected KeyGeneration, got %v", err)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	for _, scheme := range []pubkey.Scheme{pubkey.SchemeP384, pubkey.SchemeEd448} {
		t.Run(string(scheme), func(t *testing.T) {
			kp, err := Generate(nil, scheme)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			pemBytes, err := ExportPrivate(kp)
			if err != nil {
				t.Fatalf("ExportPrivate: %v", err)
			}
			got, err := ImportPrivate(pemBytes)
			if err != nil {
				t.Fatalf("ImportPrivate: %v", err)
			}
			if got.Scheme() != scheme || got.PublicHex() != kp.PublicHex() {
				t.Fatalf("imported key differs")
			}

			// The imported key signs for the original public key.
			sig, err := got.Sign(nil, []byte("m"))
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if err := kp.Public().Verify([]byte("m"), sig); err != nil {
				t.Fatalf("Verify: %v", err)
			}
		})
	}
}

func TestImportPrivate_PKCS8AndECParameters(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	params := pem.EncodeToMemory(&pem.Block{Type: "EC PARAMETERS", Bytes: []byte{0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x22}})
	data := append(params, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})...)

	kp, err := ImportPrivate(data)
	if err != nil {
		t.Fatalf("ImportPrivate: %v", err)
	}
	want, _ := pubkey.FromECDSA(&priv.PublicKey)
	if kp.PublicHex() != want.Hex() {
		t.Fatalf("public key mismatch")
	}
}

func TestImportPrivate_Errors(t *testing.T) {
	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	p256DER, err := x509.MarshalECPrivateKey(p256)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	_, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	edDER, err := x509.MarshalPKCS8PrivateKey(edPriv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}

	// crypto/x509 cannot parse secp256k1 or brainpool keys at all.
	secp256k1 := asn1.ObjectIdentifier{1, 3, 132, 0, 10}
	brainpool := asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 11}
	sec1 := func(curve asn1.ObjectIdentifier, scalar []byte) []byte {
		der, err := asn1.Marshal(ecPrivateKey{Version: 1, PrivateKey: scalar, NamedCurveOID: curve})
		if err != nil {
			t.Fatalf("marshal sec1: %v", err)
		}
		return der
	}
	curveDER, err := asn1.Marshal(secp256k1)
	if err != nil {
		t.Fatalf("marshal oid: %v", err)
	}
	k1PKCS8, err := asn1.Marshal(pkcs8{
		Algo:       pkix.AlgorithmIdentifier{Algorithm: oidECPublicKey, Parameters: asn1.RawValue{FullBytes: curveDER}},
		PrivateKey: sec1(nil, bytes.Repeat([]byte{0x11}, 32)),
	})
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}

	cases := []struct {
		name string
		data []byte
		kind licerr.Kind
		rule string
	}{
		{"not pem", []byte("hello"), licerr.KindKeyFormat, "LIC-KEY-001"},
		{"bad sec1", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1, 2, 3}}), licerr.KindKeyFormat, "LIC-KEY-002"},
		{"bad pkcs8", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}}), licerr.KindKeyFormat, "LIC-KEY-003"},
		{"certificate", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}), licerr.KindKeyFormat, "LIC-KEY-005"},
		{"p256", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: p256DER}), licerr.KindKeyCurveMismatch, "LIC-KEY-101"},
		{"ed25519", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: edDER}), licerr.KindKeyCurveMismatch, "LIC-KEY-102"},
		{"secp256k1 sec1", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1(secp256k1, bytes.Repeat([]byte{0x11}, 32))}), licerr.KindKeyCurveMismatch, "LIC-KEY-101"},
		{"brainpool sec1", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1(brainpool, bytes.Repeat([]byte{0x22}, 48))}), licerr.KindKeyCurveMismatch, "LIC-KEY-101"},
		{"secp256k1 pkcs8", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: k1PKCS8}), licerr.KindKeyCurveMismatch, "LIC-KEY-101"},
		{"p384 scalar out of range", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1(oidSecp384r1, bytes.Repeat([]byte{0xff}, 48))}), licerr.KindKeyFormat, "LIC-KEY-002"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ImportPrivate(tc.data)
			if !licerr.IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if got := licerr.RuleID(err); got != tc.rule {
				t.Fatalf("rule: got %q want %q", got, tc.rule)
			}
		})
	}
}
