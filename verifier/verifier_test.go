package verifier

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"xdao.co/license/issuer"
	"xdao.co/license/keys"
	"xdao.co/license/licerr"
	"xdao.co/license/license"
	"xdao.co/license/pubkey"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func issue(t *testing.T, scheme pubkey.Scheme, id string, days int) (*keys.KeyPair, *issuer.License) {
	t.Helper()
	kp, err := keys.Generate(nil, scheme)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	iss, err := issuer.New(kp, issuer.WithClock(clocktesting.NewFakePassiveClock(jan1)))
	if err != nil {
		t.Fatalf("issuer.New: %v", err)
	}
	at := jan1
	for n := 0; n < 8; n++ {
		lic, err := iss.IssueAt(id, days, at)
		if licerr.RuleID(err) == "LIC-INT-002" {
			at = at.Add(time.Second)
			continue
		}
		if err != nil {
			t.Fatalf("IssueAt: %v", err)
		}
		return kp, lic
	}
	t.Fatalf("could not issue license")
	return nil, nil
}

func TestVerify_PipelineOrder(t *testing.T) {
	kp, lic := issue(t, pubkey.SchemeP384, "m", 1)

	// Public key errors come first, even for garbage tokens.
	if _, err := Verify("%%%", "nothex", jan1); !licerr.IsKind(err, licerr.KindInvalidPublicKey) {
		t.Fatalf("expected InvalidPublicKey, got %v", err)
	}
	if _, err := Verify("%%%", kp.PublicHex(), jan1); !licerr.IsKind(err, licerr.KindMalformedContainer) {
		t.Fatalf("expected MalformedContainer, got %v", err)
	}

	// A tampered, expired license reports the signature failure, not expiry.
	payload, sig, err := license.DecodeContainer(lic.Token)
	if err != nil {
		t.Fatalf("DecodeContainer: %v", err)
	}
	tampered := strings.Replace(string(payload), `"m"`, `"n"`, 1)
	later := jan1.AddDate(1, 0, 0)
	if _, err := Verify(license.EncodeContainer([]byte(tampered), sig), kp.PublicHex(), later); !licerr.IsKind(err, licerr.KindBadSignature) {
		t.Fatalf("expected BadSignature, got %v", err)
	}
	if _, err := Verify(lic.Token, kp.PublicHex(), later); !licerr.IsKind(err, licerr.KindExpiredLicense) {
		t.Fatalf("expected ExpiredLicense, got %v", err)
	}
}

func TestVerify_SignedButMalformedPayload(t *testing.T) {
	kp, err := keys.Generate(nil, pubkey.SchemeP384)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	payload := []byte(`{"machine_id":"m"}`)
	var sig []byte
	for {
		sig, err = kp.Sign(nil, payload)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if license.Separable(payload, sig) {
			break
		}
	}
	_, err = Verify(license.EncodeContainer(payload, sig), kp.PublicHex(), jan1)
	if !licerr.IsKind(err, licerr.KindMalformedPayload) {
		t.Fatalf("expected MalformedPayload, got %v", err)
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	kp, lic := issue(t, pubkey.SchemeP384, "m", 30)
	exp := lic.Claims.ExpiresAt
	if _, err := Verify(lic.Token, kp.PublicHex(), exp.Add(-time.Second)); err != nil {
		t.Fatalf("expected valid just before expiry: %v", err)
	}
	if _, err := Verify(lic.Token, kp.PublicHex(), exp); licerr.RuleID(err) != "LIC-EXP-001" {
		t.Fatalf("expected LIC-EXP-001 at expiry, got %v", err)
	}
}

func TestVerify_Ed448(t *testing.T) {
	kp, lic := issue(t, pubkey.SchemeEd448, "auto-AABBCC", 30)
	claims, err := Verify(lic.Token, kp.PublicHex(), jan1.Add(time.Hour))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.MachineID != "auto-AABBCC" {
		t.Fatalf("unexpected machine id %q", claims.MachineID)
	}
}

func TestVerifier_KeyRotation(t *testing.T) {
	oldKP, oldLic := issue(t, pubkey.SchemeP384, "m", 30)
	newKP, newLic := issue(t, pubkey.SchemeEd448, "m", 30)
	_, strangerLic := issue(t, pubkey.SchemeP384, "m", 30)

	v, err := New(
		WithTrustAnchors(oldKP.PublicHex()+","+newKP.PublicHex()),
		WithClock(clocktesting.NewFakePassiveClock(jan1.Add(time.Hour))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(v.Anchors()); got != 2 {
		t.Fatalf("expected 2 anchors, got %d", got)
	}

	res, err := v.Check(oldLic.Token, jan1.Add(time.Hour))
	if err != nil {
		t.Fatalf("old key license: %v", err)
	}
	if !res.Anchor.Equal(oldKP.Public()) {
		t.Fatalf("expected old anchor to match")
	}
	if _, err := v.Verify(newLic.Token); err != nil {
		t.Fatalf("new key license: %v", err)
	}
	if _, err := v.Verify(strangerLic.Token); !licerr.IsKind(err, licerr.KindBadSignature) {
		t.Fatalf("expected BadSignature for unknown key, got %v", err)
	}
}

func TestVerifier_MachineBinding(t *testing.T) {
	kp, lic := issue(t, pubkey.SchemeP384, "host-a", 30)
	clk := clocktesting.NewFakePassiveClock(jan1.Add(time.Hour))

	v, err := New(WithTrustAnchors(kp.PublicHex()), WithClock(clk), WithMachineID("host-a"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := v.Verify(lic.Token); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	v, err = New(WithTrustAnchors(kp.PublicHex()), WithClock(clk), WithMachineID("host-b"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := v.Verify(lic.Token); !licerr.IsKind(err, licerr.KindMachineMismatch) {
		t.Fatalf("expected MachineMismatch, got %v", err)
	}

	// Expiry is reported before the binding check.
	clk.SetTime(lic.Claims.ExpiresAt)
	if _, err := v.Verify(lic.Token); !licerr.IsKind(err, licerr.KindExpiredLicense) {
		t.Fatalf("expected ExpiredLicense, got %v", err)
	}
}

func TestNew_AnchorErrors(t *testing.T) {
	if _, err := New(); licerr.RuleID(err) != "LIC-PUB-001" {
		t.Fatalf("expected LIC-PUB-001 without anchors, got %v", err)
	}
	if _, err := New(WithTrustAnchors("abcd")); !licerr.IsKind(err, licerr.KindInvalidPublicKey) {
		t.Fatalf("expected InvalidPublicKey, got %v", err)
	}
}

func TestDefault_UsesEmbeddedTrustAnchor(t *testing.T) {
	kp, lic := issue(t, pubkey.SchemeP384, "m", 30)

	saved := EmbeddedTrustAnchor
	t.Cleanup(func() { EmbeddedTrustAnchor = saved })

	EmbeddedTrustAnchor = ""
	if _, err := Default(); !licerr.IsKind(err, licerr.KindInvalidPublicKey) {
		t.Fatalf("expected InvalidPublicKey without embedded anchor, got %v", err)
	}

	EmbeddedTrustAnchor = kp.PublicHex()
	v, err := Default(WithClock(clocktesting.NewFakePassiveClock(jan1)))
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if _, err := v.Verify(lic.Token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_UnpaddedToken(t *testing.T) {
	kp, lic := issue(t, pubkey.SchemeP384, "m", 30)
	raw, err := base64.StdEncoding.DecodeString(lic.Token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := Verify(base64.RawStdEncoding.EncodeToString(raw)+"\n", kp.PublicHex(), jan1); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifier_AuthenticateIgnoresExpiry(t *testing.T) {
	kp, lic := issue(t, pubkey.SchemeP384, "m", 1)
	v, err := New(WithTrustAnchors(kp.PublicHex()), WithClock(clocktesting.NewFakePassiveClock(jan1.AddDate(2, 0, 0))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := v.Verify(lic.Token); !licerr.IsKind(err, licerr.KindExpiredLicense) {
		t.Fatalf("expected ExpiredLicense, got %v", err)
	}
	anchor, err := v.Authenticate(lic.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !anchor.Equal(kp.Public()) {
		t.Fatalf("unexpected anchor")
	}
	if _, err := v.Authenticate("bm90IGEgbGljZW5zZQ=="); !licerr.IsKind(err, licerr.KindMalformedContainer) {
		t.Fatalf("expected MalformedContainer, got %v", err)
	}
}
