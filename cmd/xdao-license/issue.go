package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"xdao.co/license/issuer"
	"xdao.co/license/license"
	"xdao.co/license/machineid"
	"xdao.co/license/verifier"
)

func (a *app) issueCmd() *cobra.Command {
	var machineID string
	var days int
	var store bool
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a license for one machine",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if machineID == "" {
				return usagef("missing --machine-id")
			}
			if days == 0 {
				days = a.cfg.DefaultDays
			}
			id, err := machineid.Resolve(machineID)
			if err != nil {
				return err
			}
			iss, err := a.issuer()
			if err != nil {
				return err
			}
			lic, err := iss.Issue(id, days)
			if err != nil {
				return err
			}
			// Check the token against the derived trust anchor before handing it out.
			if _, err := verifier.Verify(lic.Token, lic.PublicHex, lic.Claims.IssuedAt); err != nil {
				return fmt.Errorf("issued license failed verification: %w", err)
			}

			printLicense(a.out, lic)
			if store {
				st, closeFn, err := a.openArchive()
				if err != nil {
					return err
				}
				defer closeFn()
				lid, err := st.Put(cmd.Context(), []byte(lic.Token))
				if err != nil {
					return fmt.Errorf("archive license: %w", err)
				}
				fmt.Fprintf(a.out, "license_id: %s\n", lid)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&machineID, "machine-id", "", `Machine id, or "auto" for this host`)
	cmd.Flags().IntVar(&days, "days", 0, "Validity in days (default from config)")
	cmd.Flags().BoolVar(&store, "archive", false, "Store the license in the configured archive")
	return cmd
}

func printLicense(w io.Writer, lic *issuer.License) {
	fmt.Fprintf(w, "machine_id: %s\n", lic.Claims.MachineID)
	fmt.Fprintf(w, "issued_at: %s\n", lic.Claims.IssuedAt.Format(license.TimeLayout))
	fmt.Fprintf(w, "expires_at: %s\n", lic.Claims.ExpiresAt.Format(license.TimeLayout))
	fmt.Fprintf(w, "public_hex: %s\n", lic.PublicHex)
	fmt.Fprintf(w, "license: %s\n", lic.Token)
}

func (a *app) batchCmd() *cobra.Command {
	var input, output, bundlePath string
	var days int
	var store bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Issue licenses for a list of machine ids, one per line",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days == 0 {
				days = a.cfg.DefaultDays
			}
			if output == "" {
				output = a.cfg.BatchOutput
			}
			ids, err := a.readIDs(input)
			if err != nil {
				return err
			}
			iss, err := a.issuer()
			if err != nil {
				return err
			}
			res, err := iss.IssueBatch(cmd.Context(), ids, days)
			if err != nil {
				return err
			}

			f, err := a.fs.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if _, err := res.WriteTo(f); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", output, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", output, err)
			}

			if store {
				if err := a.archiveBatch(cmd.Context(), res); err != nil {
					return err
				}
			}
			if bundlePath != "" {
				if err := a.bundleBatch(cmd.Context(), bundlePath, res); err != nil {
					return fmt.Errorf("write bundle: %w", err)
				}
				fmt.Fprintf(a.out, "bundle: %s\n", bundlePath)
			}

			fmt.Fprintf(a.out, "batch: %s\n", res.ID)
			fmt.Fprintf(a.out, "issued: %d\n", len(res.Order))
			fmt.Fprintf(a.out, "output: %s\n", output)
			for _, fail := range res.Failures {
				printError(a.errOut, fail)
			}
			if len(res.Failures) > 0 {
				return fmt.Errorf("%d of %d machine ids failed", len(res.Failures), len(ids))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "-", `File with one machine id per line ("-" for stdin)`)
	cmd.Flags().StringVar(&output, "out", "", "Batch output file (default from config)")
	cmd.Flags().IntVar(&days, "days", 0, "Validity in days (default from config)")
	cmd.Flags().BoolVar(&store, "archive", false, "Store every license in the configured archive")
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "Also write the licenses to this bundle file, labelled by machine id")
	return cmd
}

func (a *app) archiveBatch(ctx context.Context, res *issuer.BatchResult) error {
	st, closeFn, err := a.openArchive()
	if err != nil {
		return err
	}
	defer closeFn()
	for _, id := range res.Order {
		if _, err := st.Put(ctx, []byte(res.Licenses[id].Token)); err != nil {
			return fmt.Errorf("archive license for %q: %w", id, err)
		}
	}
	return nil
}

// readIDs reads one machine id per line, trimmed. Blank lines are kept so
// they are reported as failures with their position.
func (a *app) readIDs(path string) ([]string, error) {
	var r io.Reader = a.in
	if path != "-" {
		f, err := a.fs.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ids = append(ids, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read machine ids: %w", err)
	}
	return ids, nil
}

func (a *app) issuer() (*issuer.Issuer, error) {
	kp, err := a.loadKey()
	if err != nil {
		return nil, err
	}
	return issuer.New(kp,
		issuer.WithClock(a.clock),
		issuer.WithLogger(a.log),
		issuer.WithConcurrency(a.cfg.Concurrency),
	)
}

