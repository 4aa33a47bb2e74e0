// Package trustanchor renders a public trust anchor into artifacts that a
// verifying application can be built or deployed with.
package trustanchor

import (
	"bytes"
	"fmt"
	"go/token"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"xdao.co/license/pubkey"
)

// Format selects the rendered artifact.
type Format string

const (
	// FormatGo renders a Go source file declaring the anchor as a constant.
	FormatGo Format = "go"
	// FormatEnv renders an environment file line.
	FormatEnv Format = "env"
	// FormatLDFlags renders a linker flag setting verifier.EmbeddedTrustAnchor.
	FormatLDFlags Format = "ldflags"
)

const (
	DefaultPackage    = "licensekey"
	DefaultVar        = "TrustAnchor"
	DefaultImportPath = "xdao.co/license/verifier"
	DefaultEnvVar     = "XDAO_LICENSE_TRUST_ANCHORS"
)

// ParseFormat maps a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGo, FormatEnv, FormatLDFlags:
		return f, nil
	default:
		return "", fmt.Errorf("unknown trust anchor format %q (want go, env or ldflags)", s)
	}
}

// Anchor describes what to render. Empty fields take their defaults.
type Anchor struct {
	Hex string
	// Package and Var name the Go package and constant for FormatGo.
	Package string
	Var     string
	// ImportPath is the package holding EmbeddedTrustAnchor for FormatLDFlags.
	ImportPath string
	// EnvVar is the variable name for FormatEnv.
	EnvVar string
}

func (a Anchor) withDefaults() Anchor {
	if a.Package == "" {
		a.Package = DefaultPackage
	}
	if a.Var == "" {
		a.Var = DefaultVar
	}
	if a.ImportPath == "" {
		a.ImportPath = DefaultImportPath
	}
	if a.EnvVar == "" {
		a.EnvVar = DefaultEnvVar
	}
	return a
}

// Render writes the artifact for a to w. The anchor is validated and
// normalized to lower case hex first.
func Render(w io.Writer, f Format, a Anchor) error {
	pk, err := pubkey.ParseHex(a.Hex)
	if err != nil {
		return err
	}
	a = a.withDefaults()
	switch f {
	case FormatGo:
		if !token.IsIdentifier(a.Package) {
			return fmt.Errorf("invalid Go package name %q", a.Package)
		}
		if !token.IsIdentifier(a.Var) {
			return fmt.Errorf("invalid Go identifier %q", a.Var)
		}
		_, err = fmt.Fprintf(w, "// Code generated by xdao-license anchor write. DO NOT EDIT.\n\n"+
			"package %s\n\n"+
			"// %s is the license trust anchor (%s, fingerprint %s).\n"+
			"const %s = %q\n",
			a.Package, a.Var, pk.Scheme(), pk.Fingerprint(), a.Var, pk.Hex())
	case FormatEnv:
		_, err = fmt.Fprintf(w, "%s=%s\n", a.EnvVar, pk.Hex())
	case FormatLDFlags:
		_, err = fmt.Fprintf(w, "-X '%s.EmbeddedTrustAnchor=%s'\n", a.ImportPath, pk.Hex())
	default:
		return fmt.Errorf("unknown trust anchor format %q", f)
	}
	return err
}

// WriteFile renders a to path on fs. The file is written to a temporary file
// in the same directory and renamed into place.
func WriteFile(fs afero.Fs, path string, f Format, a Anchor) error {
	var buf bytes.Buffer
	if err := Render(&buf, f, a); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := fs.Chmod(tmpName, 0o644); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
