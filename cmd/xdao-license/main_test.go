package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"xdao.co/license/archive/bundle"
	"xdao.co/license/cidutil"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	a      *app
	out    bytes.Buffer
	errOut bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	h.a = newApp(&h.out, &h.errOut)
	h.a.fs = afero.NewMemMapFs()
	h.a.clock = clocktesting.NewFakePassiveClock(jan1)
	h.a.in = strings.NewReader("")
	return h
}

func (h *harness) run(args ...string) int {
	h.out.Reset()
	h.errOut.Reset()
	return h.a.run(append(args, "--key-file=/keys/key.pem"))
}

func field(t *testing.T, out, key string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, key+": "); ok {
			return v
		}
	}
	t.Fatalf("no %q in output:\n%s", key, out)
	return ""
}

func (h *harness) initKey(t *testing.T) string {
	t.Helper()
	require.Equal(t, 0, h.run("key", "init"), h.errOut.String())
	return field(t, h.out.String(), "public_hex")
}

func TestRun_UsageErrors(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 2, h.run())
	assert.Contains(t, h.errOut.String(), "missing command")

	assert.Equal(t, 2, h.run("bogus"))
	assert.Equal(t, 2, h.run("issue", "--days", "abc"))
	assert.Equal(t, 2, h.run("issue"))
	assert.Contains(t, h.errOut.String(), "--machine-id")
	assert.Equal(t, 2, h.run("verify", "--now", "yesterday", "token"))
	assert.Equal(t, 2, h.run("key", "init", "--scheme", "rsa"))
	assert.Equal(t, 2, h.run("archive", "get"))
}

func TestRun_KeyIssueVerify(t *testing.T) {
	h := newHarness(t)
	pub := h.initKey(t)
	assert.Len(t, pub, 192)

	assert.Equal(t, 1, h.run("key", "init"), "existing key must not be replaced")
	require.Equal(t, 0, h.run("key", "public"))
	assert.Equal(t, pub+"\n", h.out.String())
	require.Equal(t, 0, h.run("key", "fingerprint"))
	assert.Len(t, strings.TrimSpace(h.out.String()), 16)

	require.Equal(t, 0, h.run("issue", "--machine-id", "auto-AABBCC", "--days", "30"), h.errOut.String())
	out := h.out.String()
	assert.Equal(t, "2024-01-01T00:00:00Z", field(t, out, "issued_at"))
	assert.Equal(t, "2024-01-31T00:00:00Z", field(t, out, "expires_at"))
	assert.Equal(t, pub, field(t, out, "public_hex"))
	token := field(t, out, "license")

	require.Equal(t, 0, h.run("verify", token, "--public-hex", pub), h.errOut.String())
	var got verifyOutput
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &got))
	assert.Equal(t, "auto-AABBCC", got.MachineID)
	assert.Equal(t, 30, got.ValidityDays)
	assert.Equal(t, 30, got.RemainingDays)

	assert.Equal(t, 1, h.run("verify", token, "--public-hex", pub, "--now", "2024-02-01T00:00:00Z"))
	assert.Contains(t, h.errOut.String(), "ExpiredLicense [LIC-EXP-001]")

	assert.Equal(t, 1, h.run("verify", token, "--public-hex", pub, "--machine-id", "auto-DDEEFF"))
	assert.Contains(t, h.errOut.String(), "MachineMismatch [LIC-MID-101]")

	assert.Equal(t, 1, h.run("verify", "%%%", "--public-hex", pub))
	assert.Contains(t, h.errOut.String(), "MalformedContainer")

	assert.Equal(t, 1, h.run("verify", token, "--public-hex", "abcd"))
	assert.Contains(t, h.errOut.String(), "InvalidPublicKey")

	h.a.in = strings.NewReader(token + "\n")
	assert.Equal(t, 0, h.run("verify", "--license", "-", "--public-hex", pub), h.errOut.String())

	require.NoError(t, afero.WriteFile(h.a.fs, "/etc/license.yaml", []byte("trust_anchors: [\""+pub+"\"]\n"), 0o644))
	assert.Equal(t, 0, h.run("verify", token, "--config=/etc/license.yaml"), h.errOut.String())
}

func TestRun_Batch(t *testing.T) {
	h := newHarness(t)
	pub := h.initKey(t)

	h.a.in = strings.NewReader("m1\n\nm3\n")
	assert.Equal(t, 1, h.run("batch", "--days", "10", "--out", "/licenses.txt"))
	assert.Equal(t, "2", field(t, h.out.String(), "issued"))
	assert.Contains(t, h.errOut.String(), `#1 ""`)
	assert.Contains(t, h.errOut.String(), "InvalidMachineID")

	b, err := afero.ReadFile(h.a.fs, "/licenses.txt")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "m1: "))
	require.True(t, strings.HasPrefix(lines[1], "m3: "))

	token := strings.TrimPrefix(lines[1], "m3: ")
	require.Equal(t, 0, h.run("verify", token, "--public-hex", pub), h.errOut.String())

	require.NoError(t, afero.WriteFile(h.a.fs, "/ids.txt", []byte(" a\r\n\tb \r\n"), 0o644))
	assert.Equal(t, 0, h.run("batch", "--input", "/ids.txt", "--out", "/ok.txt"), h.errOut.String())
	b, err = afero.ReadFile(h.a.fs, "/ok.txt")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "a: "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "b: "), lines[1])
}

func TestRun_AnchorWrite(t *testing.T) {
	h := newHarness(t)
	pub := h.initKey(t)

	require.Equal(t, 0, h.run("anchor", "write", "--format", "env"))
	assert.Equal(t, "XDAO_LICENSE_TRUST_ANCHORS="+pub+"\n", h.out.String())

	require.Equal(t, 0, h.run("anchor", "write", "--format", "ldflags", "--public-hex", pub))
	assert.Contains(t, h.out.String(), "xdao.co/license/verifier.EmbeddedTrustAnchor="+pub)

	require.Equal(t, 0, h.run("anchor", "write", "--out", "/gen/anchor.go", "--package", "lic"), h.errOut.String())
	b, err := afero.ReadFile(h.a.fs, "/gen/anchor.go")
	require.NoError(t, err)
	assert.Contains(t, string(b), "package lic\n")
	assert.Contains(t, string(b), `const TrustAnchor = "`+pub+`"`)

	assert.Equal(t, 2, h.run("anchor", "write", "--format", "xml"))
	assert.Equal(t, 1, h.run("anchor", "write", "--public-hex", "zz"))
}

func TestRun_Archive(t *testing.T) {
	h := newHarness(t)
	h.initKey(t)
	dir := t.TempDir()
	backend := []string{"--archive-backend", "localfs", "--localfs-dir", dir}

	assert.Equal(t, 2, h.run("archive", "put", "token"))
	assert.Contains(t, h.errOut.String(), "no archive configured")

	require.Equal(t, 0, h.run(append([]string{"issue", "--machine-id", "m", "--archive"}, backend...)...), h.errOut.String())
	token := field(t, h.out.String(), "license")
	id := field(t, h.out.String(), "license_id")
	assert.Equal(t, cidutil.CIDv1RawSHA256([]byte(token)), id)

	require.Equal(t, 0, h.run(append([]string{"archive", "has", id}, backend...)...))
	assert.Equal(t, "true\n", h.out.String())

	require.Equal(t, 0, h.run(append([]string{"archive", "get", id}, backend...)...))
	assert.Equal(t, token+"\n", h.out.String())

	missing := cidutil.CIDv1RawSHA256([]byte("other"))
	assert.Equal(t, 1, h.run(append([]string{"archive", "has", missing}, backend...)...))
	assert.Equal(t, "false\n", h.out.String())
	assert.Equal(t, 1, h.run(append([]string{"archive", "get", missing}, backend...)...))
	assert.Equal(t, 2, h.run(append([]string{"archive", "get", "not-an-id"}, backend...)...))

	h.a.in = strings.NewReader(token + "\n")
	require.Equal(t, 0, h.run(append([]string{"archive", "put"}, backend...)...))
	assert.Equal(t, id+"\n", h.out.String())

	require.Equal(t, 0, h.run("archive", "backends"))
	assert.Contains(t, h.out.String(), "localfs\t")
	assert.Contains(t, h.out.String(), "grpc\t")
}

func TestRun_BatchBundleImportExport(t *testing.T) {
	h := newHarness(t)
	h.initKey(t)
	dir := t.TempDir()
	backend := []string{"--archive-backend", "localfs", "--localfs-dir", dir}

	h.a.in = strings.NewReader("host-a\nhost-b\n")
	require.Equal(t, 0, h.run("batch", "--out", "/licenses.txt", "--bundle", "/licenses.tar"), h.errOut.String())
	assert.Equal(t, "/licenses.tar", field(t, h.out.String(), "bundle"))

	f, err := h.a.fs.Open("/licenses.tar")
	require.NoError(t, err)
	labels, err := bundle.ReadIndex(f)
	f.Close()
	require.NoError(t, err)
	require.Len(t, labels, 2)

	require.Equal(t, 0, h.run(append([]string{"archive", "import", "/licenses.tar"}, backend...)...), h.errOut.String())
	imported := strings.Fields(h.out.String())
	assert.ElementsMatch(t, []string{labels["host-a"].String(), labels["host-b"].String()}, imported)

	require.Equal(t, 0, h.run(append([]string{"archive", "export", "--out", "/again.tar", labels["host-a"].String()}, backend...)...), h.errOut.String())
	ok, err := afero.Exists(h.a.fs, "/again.tar")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, h.run(append([]string{"archive", "export", labels["host-a"].String()}, backend...)...))
}
