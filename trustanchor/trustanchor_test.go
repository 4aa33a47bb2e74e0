package trustanchor

import (
	"bytes"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/license/keys"
	"xdao.co/license/licerr"
	"xdao.co/license/pubkey"
)

func testAnchor(t *testing.T) string {
	t.Helper()
	kp, err := keys.Generate(nil, pubkey.SchemeP384)
	require.NoError(t, err)
	return kp.PublicHex()
}

func TestRender_Go(t *testing.T) {
	hex := testAnchor(t)
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatGo, Anchor{Hex: strings.ToUpper(hex), Package: "hvm", Var: "PublicKeyHex"}))

	src := buf.String()
	assert.Contains(t, src, "package hvm\n")
	assert.Contains(t, src, `const PublicKeyHex = "`+hex+`"`)

	_, err := parser.ParseFile(token.NewFileSet(), "anchor.go", src, parser.AllErrors)
	assert.NoError(t, err)
}

func TestRender_EnvAndLDFlags(t *testing.T) {
	hex := testAnchor(t)

	var env bytes.Buffer
	require.NoError(t, Render(&env, FormatEnv, Anchor{Hex: hex}))
	assert.Equal(t, "XDAO_LICENSE_TRUST_ANCHORS="+hex+"\n", env.String())

	var ld bytes.Buffer
	require.NoError(t, Render(&ld, FormatLDFlags, Anchor{Hex: hex}))
	assert.Equal(t, "-X 'xdao.co/license/verifier.EmbeddedTrustAnchor="+hex+"'\n", ld.String())
}

func TestRender_Rejects(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, FormatEnv, Anchor{Hex: "abc"})
	assert.True(t, licerr.IsKind(err, licerr.KindInvalidPublicKey), "got %v", err)

	err = Render(&buf, FormatGo, Anchor{Hex: testAnchor(t), Var: "not-an-ident"})
	assert.Error(t, err)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
	f, err := ParseFormat(" LDFLAGS ")
	require.NoError(t, err)
	assert.Equal(t, FormatLDFlags, f)
}

func TestWriteFile_ReplacesAtomically(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/src/licensekey/anchor.go"
	require.NoError(t, afero.WriteFile(fs, path, []byte("old"), 0o644))

	hex := testAnchor(t)
	require.NoError(t, WriteFile(fs, path, FormatGo, Anchor{Hex: hex}))

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), hex)

	entries, err := afero.ReadDir(fs, "/src/licensekey")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}
