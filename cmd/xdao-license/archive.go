package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"xdao.co/license/archive"
	"xdao.co/license/archive/bundle"
	"xdao.co/license/archive/localfs"
	"xdao.co/license/archive/registry"
	"xdao.co/license/cidutil"
	"xdao.co/license/issuer"
)

func (a *app) archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Store and fetch issued licenses by license id",
	}
	cmd.AddCommand(
		a.archivePutCmd(),
		a.archiveGetCmd(),
		a.archiveHasCmd(),
		a.archiveExportCmd(),
		a.archiveImportCmd(),
		a.archiveBackendsCmd(),
	)
	return cmd
}

func (a *app) archivePutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put [license]",
		Short: "Store a license token and print its license id",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 && args[0] != "-" {
				token = args[0]
			} else {
				b, err := io.ReadAll(a.in)
				if err != nil {
					return fmt.Errorf("read license: %w", err)
				}
				token = string(b)
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return usagef("empty license token")
			}
			st, closeFn, err := a.openArchive()
			if err != nil {
				return err
			}
			defer closeFn()
			id, err := st.Put(cmd.Context(), []byte(token))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
}

func (a *app) archiveGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <license-id>",
		Short: "Print the license token stored under a license id",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cidutil.ParseLicenseID(args[0])
			if err != nil {
				return usageError{err}
			}
			st, closeFn, err := a.openArchive()
			if err != nil {
				return err
			}
			defer closeFn()
			b, err := st.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, string(b))
			return nil
		},
	}
}

func (a *app) archiveHasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has <license-id>",
		Short: "Report whether a license id is stored; exit status 1 if not",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cidutil.ParseLicenseID(args[0])
			if err != nil {
				return usageError{err}
			}
			st, closeFn, err := a.openArchive()
			if err != nil {
				return err
			}
			defer closeFn()
			ok, err := st.Has(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, ok)
			if !ok {
				return archive.ErrNotFound
			}
			return nil
		},
	}
}

func (a *app) archiveExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <license-id>...",
		Short: "Write archived licenses to a bundle file",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return usagef("missing --out")
			}
			ids := make([]cid.Cid, 0, len(args))
			for _, s := range args {
				id, err := cidutil.ParseLicenseID(s)
				if err != nil {
					return usageError{err}
				}
				ids = append(ids, id)
			}
			st, closeFn, err := a.openArchive()
			if err != nil {
				return err
			}
			defer closeFn()
			return a.writeBundle(cmd.Context(), out, st, ids, nil)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Bundle file to write")
	return cmd
}

func (a *app) archiveImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle>",
		Short: "Store every license from a bundle file and print their license ids",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.fs.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()
			st, closeFn, err := a.openArchive()
			if err != nil {
				return err
			}
			defer closeFn()
			ids, err := bundle.Import(cmd.Context(), f, st, bundle.ImportOptions{})
			for _, id := range ids {
				fmt.Fprintln(a.out, id)
			}
			return err
		},
	}
}

func (a *app) writeBundle(ctx context.Context, path string, st archive.Store, ids []cid.Cid, labels map[string]cid.Cid) error {
	f, err := a.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := bundle.Export(ctx, f, st, ids, bundle.ExportOptions{IncludeIndex: true, Labels: labels}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// bundleBatch writes every license of res to a bundle labelled by machine id,
// staging them in memory so no archive needs to be configured.
func (a *app) bundleBatch(ctx context.Context, path string, res *issuer.BatchResult) error {
	st, err := localfs.New(afero.NewMemMapFs(), "/")
	if err != nil {
		return err
	}
	ids := make([]cid.Cid, 0, len(res.Order))
	labels := make(map[string]cid.Cid, len(res.Order))
	for _, machineID := range res.Order {
		id, err := st.Put(ctx, []byte(res.Licenses[machineID].Token))
		if err != nil {
			return err
		}
		ids = append(ids, id)
		labels[machineID] = id
	}
	return a.writeBundle(ctx, path, st, ids, labels)
}

func (a *app) archiveBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the archive backends linked into this binary",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, b := range registry.List(registry.UsageCLI) {
				fmt.Fprintf(a.out, "%s\t%s\n", b.Name, b.Description)
			}
			return nil
		},
	}
}

var errNoArchive = errors.New("no archive configured (set --archive-backend or the archive section of --config)")

// openArchive opens the backend named by --archive-backend, or else the
// archive section of the config. The returned close function is never nil.
func (a *app) openArchive() (archive.Store, func() error, error) {
	var (
		st      archive.Store
		closeFn func() error
		err     error
	)
	switch {
	case a.archiveBackend != "":
		st, closeFn, err = registry.Open(a.archiveBackend, registry.UsageCLI, a.archiveFlags)
		if err != nil {
			err = usageError{err}
		}
	case a.cfg.Archive.Enabled():
		st, closeFn, err = a.cfg.Archive.Open(registry.UsageCLI, "")
	default:
		err = usageError{errNoArchive}
	}
	if err != nil {
		return nil, nil, err
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return st, closeFn, nil
}
