package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/license/trustanchor"
)

func (a *app) anchorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "Distribute the trust anchor to verifying applications",
	}
	cmd.AddCommand(a.anchorWriteCmd())
	return cmd
}

func (a *app) anchorWriteCmd() *cobra.Command {
	var format, out, publicHex string
	var anchor trustanchor.Anchor
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Render the trust anchor as Go source, an env file line or linker flags",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			f, err := trustanchor.ParseFormat(format)
			if err != nil {
				return usageError{err}
			}
			anchor.Hex = publicHex
			if anchor.Hex == "" {
				kp, err := a.loadKey()
				if err != nil {
					return err
				}
				anchor.Hex = kp.PublicHex()
			}
			if out == "" || out == "-" {
				return trustanchor.Render(a.out, f, anchor)
			}
			if err := trustanchor.WriteFile(a.fs, out, f, anchor); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s\n", out)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&format, "format", string(trustanchor.FormatGo), "Output format: go, env or ldflags")
	fl.StringVar(&out, "out", "", "Output file (default stdout)")
	fl.StringVar(&publicHex, "public-hex", "", "Trust anchor to render (default the stored key's)")
	fl.StringVar(&anchor.Package, "package", trustanchor.DefaultPackage, "Go package name (go format)")
	fl.StringVar(&anchor.Var, "var", trustanchor.DefaultVar, "Go constant name (go format)")
	fl.StringVar(&anchor.ImportPath, "import-path", trustanchor.DefaultImportPath, "Package holding EmbeddedTrustAnchor (ldflags format)")
	fl.StringVar(&anchor.EnvVar, "env-var", trustanchor.DefaultEnvVar, "Variable name (env format)")
	return cmd
}
